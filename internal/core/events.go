package core

import "time"

// Event types written to the outbox.
const (
	EventTransactionPosted = "transaction.posted"
	EventBillPaid          = "bill.paid"
	EventBillCancelled     = "bill.cancelled"
)

// TransactionPosted is emitted for every committed ledger posting.
type TransactionPosted struct {
	TransactionID     int64     `json:"transaction_id"`
	OwnerID           int64     `json:"user_id"`
	Kind              Kind      `json:"transaction_type"`
	Amount            Money     `json:"amount"`
	Description       string    `json:"description,omitempty"`
	FromAccountID     int64     `json:"from_account_id"`
	FromAccountNumber string    `json:"from_account_number"`
	ToAccountID       *int64    `json:"to_account_id,omitempty"`
	ToAccountNumber   string    `json:"to_account_number,omitempty"`
	CategoryID        *int64    `json:"category_id,omitempty"`
	PostedAt          time.Time `json:"posted_at"`
}

func NewTransactionPosted(owner int64, t Transaction) TransactionPosted {
	return TransactionPosted{
		TransactionID:     t.ID,
		OwnerID:           owner,
		Kind:              t.Kind,
		Amount:            t.Amount,
		Description:       t.Description,
		FromAccountID:     t.FromAccountID,
		FromAccountNumber: t.FromAccountNumber,
		ToAccountID:       t.ToAccountID,
		ToAccountNumber:   t.ToAccountNumber,
		CategoryID:        t.CategoryID,
		PostedAt:          t.CreatedAt,
	}
}

type BillPaidEvent struct {
	BillID        int64     `json:"bill_id"`
	TransactionID int64     `json:"transaction_id"`
	OwnerID       int64     `json:"user_id"`
	AccountID     int64     `json:"account_id"`
	Amount        Money     `json:"amount"`
	PaidAt        time.Time `json:"paid_at"`
}

type BillCancelledEvent struct {
	BillID      int64     `json:"bill_id"`
	OwnerID     int64     `json:"user_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}
