package core

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// MaxDescriptionLen bounds transaction descriptions.
const MaxDescriptionLen = 255

type AccountType string

const (
	Savings  AccountType = "savings"
	Checking AccountType = "checking"
)

// ParseAccountType accepts the lower-case names, ignoring surrounding space and case.
func ParseAccountType(s string) (AccountType, error) {
	switch t := AccountType(strings.ToLower(strings.TrimSpace(s))); t {
	case Savings, Checking:
		return t, nil
	default:
		return "", NewValidation("core.ParseAccountType", CodeInvalidAccountType, "account_type")
	}
}

// Kind classifies a ledger movement. The set is closed.
type Kind string

const (
	Deposit     Kind = "DEPOSIT"
	Withdrawal  Kind = "WITHDRAWAL"
	Transfer    Kind = "TRANSFER"
	Payment     Kind = "PAYMENT"
	BillPayment Kind = "BILL_PAYMENT"
)

// Kinds lists every transaction kind.
var Kinds = []Kind{Deposit, Withdrawal, Transfer, Payment, BillPayment}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", NewValidation("core.ParseKind", CodeInvalidKind, "transaction_type")
	}
	return k, nil
}

func (k Kind) Valid() bool {
	switch k {
	case Deposit, Withdrawal, Transfer, Payment, BillPayment:
		return true
	}
	return false
}

// Debits reports whether the kind removes money from the source account.
func (k Kind) Debits() bool {
	return k.Valid() && k != Deposit
}

// Categorized reports whether the kind requires a category.
func (k Kind) Categorized() bool {
	return k == Payment || k == BillPayment
}

type (
	Account struct {
		ID        int64       `json:"id"`
		Number    string      `json:"account_number"`
		Type      AccountType `json:"account_type"`
		Balance   Money       `json:"balance"`
		OwnerID   int64       `json:"user_id"`
		IsMain    bool        `json:"is_main"`
		CreatedAt time.Time   `json:"created_at"`
		UpdatedAt time.Time   `json:"updated_at"`
	}

	Transaction struct {
		ID                int64     `json:"id"`
		Amount            Money     `json:"amount"`
		Kind              Kind      `json:"transaction_type"`
		Description       string    `json:"description,omitempty"`
		FromAccountID     int64     `json:"from_account_id"`
		FromAccountNumber string    `json:"from_account_number,omitempty"`
		ToAccountID       *int64    `json:"to_account_id,omitempty"`
		ToAccountNumber   string    `json:"to_account_number,omitempty"`
		CategoryID        *int64    `json:"category_id,omitempty"`
		CreatedAt         time.Time `json:"created_at"`
	}

	Category struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
)

// PostRequest is the input of a ledger posting. Amount stays raw so that
// parsing is the first validation step.
type PostRequest struct {
	Kind            Kind
	Amount          string
	FromAccountID   int64
	ToAccountNumber string
	CategoryID      *int64
	Description     string
}

// CheckShape verifies that destination and category are present exactly for
// the kinds that use them. Amount parsing and lookups happen in the ledger.
func (r PostRequest) CheckShape() error {
	const op = "core.PostRequest.CheckShape"
	if !r.Kind.Valid() {
		return NewValidation(op, CodeInvalidKind, "transaction_type")
	}
	hasDest := strings.TrimSpace(r.ToAccountNumber) != ""
	if r.Kind == Transfer && !hasDest {
		return NewValidation(op, CodeInvalidInput, "to_account_number")
	}
	if r.Kind != Transfer && hasDest {
		return NewValidation(op, CodeInvalidOperation, "to_account_number")
	}
	if r.Kind.Categorized() && r.CategoryID == nil {
		return NewValidation(op, CodeInvalidInput, "category_id")
	}
	if !r.Kind.Categorized() && r.CategoryID != nil {
		return NewValidation(op, CodeInvalidOperation, "category_id")
	}
	if len([]rune(r.Description)) > MaxDescriptionLen {
		return NewValidation(op, CodeDescriptionTooLong, "description")
	}
	return nil
}

// Date is a calendar day in UTC.
type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD only.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, NewValidation("core.ParseDate", CodeInvalidDate, "due_date")
	}
	return Date{Time: t}, nil
}

func (d Date) String() string { return d.Format(DateLayout) }

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDate(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
