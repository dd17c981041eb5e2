package core

import (
	"errors"
	"fmt"
	"strings"
)

// Class is the coarse failure category a caller branches on.
type Class uint8

const (
	ClassValidation Class = iota + 1
	ClassNotFound
	ClassAuthorization
	ClassInsufficientFunds
	ClassConflict
	ClassPersistence
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassNotFound:
		return "not_found"
	case ClassAuthorization:
		return "authorization"
	case ClassInsufficientFunds:
		return "insufficient_funds"
	case ClassConflict:
		return "conflict"
	case ClassPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Code is a machine-readable reason inside a Class.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidAmount      Code = "INVALID_AMOUNT"
	CodeInvalidOperation   Code = "INVALID_OPERATION"
	CodeInvalidKind        Code = "INVALID_TRANSACTION_KIND"
	CodeInvalidAccountType Code = "INVALID_ACCOUNT_TYPE"
	CodeInvalidDate        Code = "INVALID_DATE"
	CodeDueDateInPast      Code = "DUE_DATE_IN_PAST"
	CodeInvalidDuration    Code = "INVALID_DURATION"
	CodeEmptyName          Code = "EMPTY_NAME"
	CodeDescriptionTooLong Code = "DESCRIPTION_TOO_LONG"
	CodeEmptyPatch         Code = "EMPTY_PATCH"

	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeDestinationNotFound Code = "DESTINATION_ACCOUNT_NOT_FOUND"
	CodeCategoryNotFound    Code = "CATEGORY_NOT_FOUND"
	CodeBillNotFound        Code = "BILL_NOT_FOUND"
	CodeBudgetNotFound      Code = "BUDGET_NOT_FOUND"

	CodeNotOwner Code = "NOT_OWNER"

	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	CodeMainAccountExists      Code = "MAIN_ACCOUNT_EXISTS"
	CodeMainAccountUndeletable Code = "MAIN_ACCOUNT_UNDELETABLE"
	CodeAccountInUse           Code = "ACCOUNT_IN_USE"
	CodeAccountNumberTaken     Code = "ACCOUNT_NUMBER_TAKEN"
	CodeBillAlreadyPaid        Code = "BILL_ALREADY_PAID"
	CodeBillAlreadyCancelled   Code = "BILL_ALREADY_CANCELLED"
	CodeActiveBudgetExists     Code = "ACTIVE_BUDGET_EXISTS"

	CodeStorage Code = "STORAGE_FAILURE"
)

// Error is the structured failure surfaced by the ledger core. It carries no
// user-facing text; the request layer owns wording.
type Error struct {
	Class   Class
	Code    Code
	Op      string
	Field   string
	Details map[string]string
	Err     error
}

// Sentinels for errors.Is matching by class.
var (
	ErrValidation        = &Error{Class: ClassValidation}
	ErrNotFound          = &Error{Class: ClassNotFound}
	ErrAuthorization     = &Error{Class: ClassAuthorization}
	ErrInsufficientFunds = &Error{Class: ClassInsufficientFunds}
	ErrConflict          = &Error{Class: ClassConflict}
	ErrPersistence       = &Error{Class: ClassPersistence}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Class.String())
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(string(e.Code))
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code when the target has one, by class otherwise.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return t.Code == e.Code
	}
	return t.Class == e.Class
}

// ClassOf returns the class of the first *Error in err's chain, or 0.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return 0
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the failure came from the storage layer.
func IsRetryable(err error) bool {
	return ClassOf(err) == ClassPersistence
}

func NewValidation(op string, code Code, field string) *Error {
	return &Error{Class: ClassValidation, Code: code, Op: op, Field: field}
}

func NewNotFound(op string, code Code) *Error {
	return &Error{Class: ClassNotFound, Code: code, Op: op}
}

func NewAuthorization(op string) *Error {
	return &Error{Class: ClassAuthorization, Code: CodeNotOwner, Op: op}
}

func NewConflict(op string, code Code) *Error {
	return &Error{Class: ClassConflict, Code: code, Op: op}
}

// NewInsufficientFunds records the shortfall against a specific account.
func NewInsufficientFunds(op, accountNumber string, balance, required Money) *Error {
	return &Error{
		Class: ClassInsufficientFunds,
		Code:  CodeInsufficientFunds,
		Op:    op,
		Details: map[string]string{
			"account_number":  accountNumber,
			"current_balance": balance.String(),
			"required_amount": required.String(),
		},
	}
}

// NewPersistence wraps a storage failure. Already-classified errors pass through.
func NewPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Class: ClassPersistence, Code: CodeStorage, Op: op, Err: err}
}
