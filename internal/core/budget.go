package core

import (
	"strings"
	"time"
)

type Budget struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Amount     Money     `json:"amount"`
	Remaining  Money     `json:"remaining_amount"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	OwnerID    int64     `json:"user_id"`
	CategoryID int64     `json:"category_id"`
}

// BudgetInput carries raw create parameters.
type BudgetInput struct {
	Name            string
	Amount          string
	CategoryID      int64
	DurationMinutes int
}

// NewBudget builds a budget starting at now. remaining starts equal to amount.
func NewBudget(owner int64, in BudgetInput, now time.Time) (Budget, error) {
	b := Budget{OwnerID: owner, CategoryID: in.CategoryID}
	if err := b.SetName(in.Name); err != nil {
		return Budget{}, err
	}
	if err := b.SetWindow(in.DurationMinutes, now); err != nil {
		return Budget{}, err
	}
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return Budget{}, err
	}
	b.Amount = amount
	b.Remaining = amount
	return b, nil
}

// Active reports whether now falls before the exclusive end of the window.
func (b Budget) Active(now time.Time) bool {
	return now.Before(b.EndDate)
}

func (b *Budget) SetName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return NewValidation("core.Budget.SetName", CodeEmptyName, "name")
	}
	b.Name = name
	return nil
}

// SetWindow restarts the budget at now for the given number of minutes.
func (b *Budget) SetWindow(minutes int, now time.Time) error {
	if minutes < 1 {
		return NewValidation("core.Budget.SetWindow", CodeInvalidDuration, "duration")
	}
	now = now.UTC()
	b.StartDate = now
	b.EndDate = now.Add(time.Duration(minutes) * time.Minute)
	return nil
}

// SetAmount replaces the allowance and rescales remaining proportionally,
// rounded to cents.
func (b *Budget) SetAmount(amount Money) {
	if b.Amount.IsPositive() {
		b.Remaining = b.Remaining.Scale(amount, b.Amount)
	} else {
		b.Remaining = amount
	}
	b.Amount = amount
}

func (b *Budget) SetCategory(id int64) { b.CategoryID = id }

// Spend decrements remaining. It may go negative.
func (b *Budget) Spend(amount Money) {
	b.Remaining = b.Remaining.Sub(amount)
}

// BudgetPatch is a partial update. Nil fields are left untouched.
type BudgetPatch struct {
	Name            *string
	Amount          *string
	CategoryID      *int64
	DurationMinutes *int
}

func (p BudgetPatch) IsEmpty() bool {
	return p.Name == nil && p.Amount == nil && p.CategoryID == nil && p.DurationMinutes == nil
}

// Apply runs the setter for every present field against now.
func (p BudgetPatch) Apply(b *Budget, now time.Time) error {
	if p.Name != nil {
		if err := b.SetName(*p.Name); err != nil {
			return err
		}
	}
	if p.DurationMinutes != nil {
		if err := b.SetWindow(*p.DurationMinutes, now); err != nil {
			return err
		}
	}
	if p.Amount != nil {
		amount, err := ParseAmount(*p.Amount)
		if err != nil {
			return err
		}
		b.SetAmount(amount)
	}
	if p.CategoryID != nil {
		b.SetCategory(*p.CategoryID)
	}
	return nil
}
