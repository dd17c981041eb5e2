// Package http exposes the ledger as a JSON API.
//
// This file maps results and core errors onto JSON responses.

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Field   string            `json:"field,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// HTTP-layer codes for failures that never reach the core.
const (
	codeUnauthenticated = "UNAUTHENTICATED"
	codeInvalidJSON     = "INVALID_JSON"
	codeInvalidID       = "INVALID_ID"
	codeRateLimited     = "RATE_LIMITED"
	codeNotReady        = "NOT_READY"
	codeInternal        = "INTERNAL_ERROR"
)

// retryAfterSeconds is advertised on retryable storage failures.
const retryAfterSeconds = 1

var messages = map[core.Code]string{
	core.CodeInvalidInput:           "The request is missing a required field or has an invalid value.",
	core.CodeInvalidAmount:          "Amount must be a positive number with at most two decimal places.",
	core.CodeInvalidOperation:       "This operation is not allowed for the given transaction type or accounts.",
	core.CodeInvalidKind:            "Unknown transaction type.",
	core.CodeInvalidAccountType:     "Account type must be 'savings' or 'checking'.",
	core.CodeInvalidDate:            "Dates must use the YYYY-MM-DD format.",
	core.CodeDueDateInPast:          "The due date cannot be in the past.",
	core.CodeInvalidDuration:        "Duration must be at least one minute.",
	core.CodeEmptyName:              "Name cannot be empty.",
	core.CodeDescriptionTooLong:     "Description cannot be longer than 255 characters.",
	core.CodeEmptyPatch:             "The update does not change any field.",
	core.CodeAccountNotFound:        "Account not found.",
	core.CodeDestinationNotFound:    "Destination account not found.",
	core.CodeCategoryNotFound:       "Category not found.",
	core.CodeBillNotFound:           "Bill not found.",
	core.CodeBudgetNotFound:         "Budget not found.",
	core.CodeNotOwner:               "You do not have access to this resource.",
	core.CodeInsufficientFunds:      "Insufficient funds in the account.",
	core.CodeMainAccountExists:      "A main account already exists for this user.",
	core.CodeMainAccountUndeletable: "The main account cannot be deleted.",
	core.CodeAccountInUse:           "The account is referenced by bills or transactions.",
	core.CodeAccountNumberTaken:     "Could not allocate a unique account number.",
	core.CodeBillAlreadyPaid:        "The bill has already been paid.",
	core.CodeBillAlreadyCancelled:   "The bill has been cancelled.",
	core.CodeActiveBudgetExists:     "An active budget already exists for this category.",
	core.CodeStorage:                "The service is temporarily unavailable. Please retry.",
}

// StatusFor maps a core error class to an HTTP status.
func StatusFor(class core.Class) int {
	switch class {
	case core.ClassValidation:
		return http.StatusBadRequest
	case core.ClassNotFound:
		return http.StatusNotFound
	case core.ClassAuthorization:
		return http.StatusForbidden
	case core.ClassInsufficientFunds:
		return http.StatusUnprocessableEntity
	case core.ClassConflict:
		return http.StatusConflict
	case core.ClassPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(code core.Code) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return "The request could not be completed."
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorBody writes an error response for failures raised by the HTTP
// layer itself.
func WriteErrorBody(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Error: code, Message: message})
}

// WriteError maps err onto a status and body. Errors outside the core are
// logged and reported as 500 without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		log.LogError(r.Context(), "Unhandled request error", err, r.Method+" "+r.URL.Path, nil)
		WriteErrorBody(w, http.StatusInternalServerError, codeInternal, "Internal server error.")
		return
	}

	status := StatusFor(e.Class)
	if e.Class == core.ClassPersistence {
		log.LogError(r.Context(), "Storage failure", err, e.Op, log.NewFields().WithErrorCode(string(e.Code)))
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	WriteJSON(w, status, ErrorBody{
		Error:   string(e.Code),
		Message: messageFor(e.Code),
		Field:   e.Field,
		Details: e.Details,
	})
}
