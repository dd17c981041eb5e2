package core

import (
	"strings"
	"time"
)

type BillStatus string

const (
	BillPending   BillStatus = "pending"
	BillPaid      BillStatus = "paid"
	BillCancelled BillStatus = "cancelled"
)

// CanTransitionTo reports whether the lifecycle allows moving to next.
// Paid and cancelled are terminal.
func (s BillStatus) CanTransitionTo(next BillStatus) bool {
	if s != BillPending {
		return false
	}
	return next == BillPaid || next == BillCancelled
}

type Bill struct {
	ID         int64      `json:"id"`
	BillerName string     `json:"biller_name"`
	DueDate    Date       `json:"due_date"`
	Amount     Money      `json:"amount"`
	OwnerID    int64      `json:"user_id"`
	AccountID  int64      `json:"account_id"`
	CategoryID int64      `json:"category_id"`
	Status     BillStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// BillInput carries raw create parameters.
type BillInput struct {
	BillerName string
	Amount     string
	DueDate    string
	AccountID  int64
	CategoryID int64
}

// NewBill validates the self-contained fields of in against today. Account and
// category lookups are left to the caller.
func NewBill(owner int64, in BillInput, today Date) (Bill, error) {
	b := Bill{OwnerID: owner, Status: BillPending, AccountID: in.AccountID, CategoryID: in.CategoryID}
	if err := b.SetBillerName(in.BillerName); err != nil {
		return Bill{}, err
	}
	if err := b.SetAmount(in.Amount); err != nil {
		return Bill{}, err
	}
	if err := b.SetDueDate(in.DueDate, today); err != nil {
		return Bill{}, err
	}
	return b, nil
}

func (b *Bill) SetBillerName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return NewValidation("core.Bill.SetBillerName", CodeEmptyName, "biller_name")
	}
	b.BillerName = name
	return nil
}

func (b *Bill) SetAmount(raw string) error {
	m, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	b.Amount = m
	return nil
}

// SetDueDate rejects malformed dates and days before today. Today itself is allowed.
func (b *Bill) SetDueDate(raw string, today Date) error {
	d, err := ParseDate(raw)
	if err != nil {
		return err
	}
	if d.Before(today) {
		return NewValidation("core.Bill.SetDueDate", CodeDueDateInPast, "due_date")
	}
	b.DueDate = d
	return nil
}

func (b *Bill) SetAccount(id int64)  { b.AccountID = id }
func (b *Bill) SetCategory(id int64) { b.CategoryID = id }

// BillPatch is a partial update. Nil fields are left untouched.
type BillPatch struct {
	BillerName *string
	Amount     *string
	DueDate    *string
	AccountID  *int64
	CategoryID *int64
}

func (p BillPatch) IsEmpty() bool {
	return p.BillerName == nil && p.Amount == nil && p.DueDate == nil &&
		p.AccountID == nil && p.CategoryID == nil
}

// Apply runs the setter for every present field. On error b may be partially
// modified; callers work on a copy.
func (p BillPatch) Apply(b *Bill, today Date) error {
	if p.BillerName != nil {
		if err := b.SetBillerName(*p.BillerName); err != nil {
			return err
		}
	}
	if p.Amount != nil {
		if err := b.SetAmount(*p.Amount); err != nil {
			return err
		}
	}
	if p.DueDate != nil {
		if err := b.SetDueDate(*p.DueDate, today); err != nil {
			return err
		}
	}
	if p.AccountID != nil {
		b.SetAccount(*p.AccountID)
	}
	if p.CategoryID != nil {
		b.SetCategory(*p.CategoryID)
	}
	return nil
}
