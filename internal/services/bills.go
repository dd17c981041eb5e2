package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"fintrack/internal/core"
	"fintrack/internal/storage"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BillService schedules and settles bills. Payment goes through the ledger.
type BillService struct {
	repo   *storage.SQLiteRepository
	ledger *Ledger
	clock  core.Clock
}

func NewBillService(repo *storage.SQLiteRepository, ledger *Ledger, clock core.Clock) *BillService {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &BillService{repo: repo, ledger: ledger, clock: clock}
}

// Create schedules a bill. The paying account must hold the amount today.
func (s *BillService) Create(ctx context.Context, owner int64, in core.BillInput) (core.Bill, error) {
	const op = "services.BillService.Create"

	now := s.clock.Now()
	bill, err := core.NewBill(owner, in, core.DateOf(now))
	if err != nil {
		return core.Bill{}, err
	}

	var created core.Bill
	err = s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		acc, err := ownedAccount(ctx, tx, op, bill.AccountID, owner)
		if err != nil {
			return err
		}
		if acc.Balance.LessThan(bill.Amount) {
			return core.NewInsufficientFunds(op, acc.Number, acc.Balance, bill.Amount)
		}
		if _, err := tx.Category(ctx, bill.CategoryID); err != nil {
			return err
		}
		created, err = tx.CreateBill(ctx, bill, now)
		return err
	})
	if err != nil {
		return core.Bill{}, err
	}

	slog.InfoContext(ctx, "Bill scheduled",
		"bill_id", created.ID,
		"due_date", created.DueDate.String(),
		"amount", created.Amount.String(),
		"account_id", created.AccountID,
		"user_id", owner)
	return created, nil
}

// Update applies patch to a pending bill.
func (s *BillService) Update(ctx context.Context, owner, billID int64, patch core.BillPatch) (core.Bill, error) {
	const op = "services.BillService.Update"
	if patch.IsEmpty() {
		return core.Bill{}, core.NewValidation(op, core.CodeEmptyPatch, "")
	}

	now := s.clock.Now()
	var updated core.Bill
	err := s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		current, err := ownedBill(ctx, tx, op, billID, owner)
		if err != nil {
			return err
		}
		if err := requirePending(op, current); err != nil {
			return err
		}

		next := current
		if err := patch.Apply(&next, core.DateOf(now)); err != nil {
			return err
		}

		switch {
		case next.AccountID != current.AccountID:
			acc, err := ownedAccount(ctx, tx, op, next.AccountID, owner)
			if err != nil {
				return err
			}
			if acc.Balance.LessThan(next.Amount) {
				return core.NewInsufficientFunds(op, acc.Number, acc.Balance, next.Amount)
			}
		case next.Amount.GreaterThan(current.Amount):
			acc, err := tx.Account(ctx, current.AccountID)
			if err != nil {
				return err
			}
			if acc.Balance.LessThan(next.Amount) {
				return core.NewInsufficientFunds(op, acc.Number, acc.Balance, next.Amount)
			}
		}
		if next.CategoryID != current.CategoryID {
			if _, err := tx.Category(ctx, next.CategoryID); err != nil {
				return err
			}
		}

		updated, err = tx.UpdateBill(ctx, next, now)
		return err
	})
	if err != nil {
		return core.Bill{}, err
	}

	slog.InfoContext(ctx, "Bill updated", "bill_id", billID, "user_id", owner)
	return updated, nil
}

// Cancel moves a pending bill to cancelled.
func (s *BillService) Cancel(ctx context.Context, owner, billID int64) (core.Bill, error) {
	const op = "services.BillService.Cancel"

	now := s.clock.Now()
	var cancelled core.Bill
	err := s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		bill, err := ownedBill(ctx, tx, op, billID, owner)
		if err != nil {
			return err
		}
		if err := requirePending(op, bill); err != nil {
			return err
		}
		bill.Status = core.BillCancelled
		if cancelled, err = tx.UpdateBill(ctx, bill, now); err != nil {
			return err
		}
		_, err = tx.Enqueue(ctx, core.EventBillCancelled, strconv.FormatInt(bill.ID, 10), core.BillCancelledEvent{
			BillID:      bill.ID,
			OwnerID:     owner,
			CancelledAt: now,
		}, now)
		return err
	})
	if err != nil {
		return core.Bill{}, err
	}

	slog.InfoContext(ctx, "Bill cancelled", "bill_id", billID, "user_id", owner)
	return cancelled, nil
}

// Delete removes a bill that has not been paid.
func (s *BillService) Delete(ctx context.Context, owner, billID int64) error {
	const op = "services.BillService.Delete"

	err := s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		bill, err := ownedBill(ctx, tx, op, billID, owner)
		if err != nil {
			return err
		}
		if bill.Status == core.BillPaid {
			return core.NewConflict(op, core.CodeBillAlreadyPaid)
		}
		return tx.DeleteBill(ctx, billID)
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Bill deleted", "bill_id", billID, "user_id", owner)
	return nil
}

// Pay settles a pending bill. The BILL_PAYMENT posting and the status change
// commit in the same unit of work.
func (s *BillService) Pay(ctx context.Context, owner, billID int64) (core.Bill, core.Transaction, error) {
	const op = "services.BillService.Pay"

	ctx, span := tracer.Start(ctx, "BillService.Pay", trace.WithAttributes(attribute.Int64("bill.id", billID)))
	defer span.End()

	var (
		paid   core.Bill
		posted core.Transaction
	)
	err := s.repo.WithTx(ctx, func(tx *storage.Tx) error {
		bill, err := ownedBill(ctx, tx, op, billID, owner)
		if err != nil {
			return err
		}
		if err := requirePending(op, bill); err != nil {
			return err
		}

		categoryID := bill.CategoryID
		posted, err = s.ledger.postInTx(ctx, tx, owner, core.PostRequest{
			Kind:          core.BillPayment,
			Amount:        bill.Amount.String(),
			FromAccountID: bill.AccountID,
			CategoryID:    &categoryID,
			Description:   billPaymentDescription(bill),
		}, bill.Amount)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		bill.Status = core.BillPaid
		if paid, err = tx.UpdateBill(ctx, bill, now); err != nil {
			return err
		}
		_, err = tx.Enqueue(ctx, core.EventBillPaid, strconv.FormatInt(bill.ID, 10), core.BillPaidEvent{
			BillID:        bill.ID,
			TransactionID: posted.ID,
			OwnerID:       owner,
			AccountID:     bill.AccountID,
			Amount:        bill.Amount,
			PaidAt:        now,
		}, now)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "Bill payment rejected", "bill_id", billID, "user_id", owner, "error", err)
		return core.Bill{}, core.Transaction{}, endSpan(span, err)
	}

	slog.InfoContext(ctx, "Bill paid",
		"bill_id", paid.ID,
		"transaction_id", posted.ID,
		"amount", paid.Amount.String(),
		"user_id", owner)
	return paid, posted, nil
}

// Get returns one bill owned by owner.
func (s *BillService) Get(ctx context.Context, owner, billID int64) (core.Bill, error) {
	bill, err := s.repo.Bill(ctx, billID)
	if err != nil {
		return core.Bill{}, err
	}
	if bill.OwnerID != owner {
		return core.Bill{}, core.NewAuthorization("services.BillService.Get")
	}
	return bill, nil
}

// List returns the owner's bills, nearest due date first.
func (s *BillService) List(ctx context.Context, owner int64) ([]core.Bill, error) {
	return s.repo.ListBills(ctx, owner)
}

func ownedAccount(ctx context.Context, tx *storage.Tx, op string, accountID, owner int64) (core.Account, error) {
	acc, err := tx.Account(ctx, accountID)
	if err != nil {
		return core.Account{}, err
	}
	if acc.OwnerID != owner {
		return core.Account{}, core.NewAuthorization(op)
	}
	return acc, nil
}

func ownedBill(ctx context.Context, tx *storage.Tx, op string, billID, owner int64) (core.Bill, error) {
	bill, err := tx.Bill(ctx, billID)
	if err != nil {
		return core.Bill{}, err
	}
	if bill.OwnerID != owner {
		return core.Bill{}, core.NewAuthorization(op)
	}
	return bill, nil
}

func billPaymentDescription(bill core.Bill) string {
	d := []rune(fmt.Sprintf("Bill payment: %s", bill.BillerName))
	if len(d) > core.MaxDescriptionLen {
		d = d[:core.MaxDescriptionLen]
	}
	return string(d)
}

// requirePending rejects bills that already reached a terminal state.
func requirePending(op string, bill core.Bill) error {
	switch bill.Status {
	case core.BillPending:
		return nil
	case core.BillPaid:
		return core.NewConflict(op, core.CodeBillAlreadyPaid)
	default:
		return core.NewConflict(op, core.CodeBillAlreadyCancelled)
	}
}
