package services

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fintrack/internal/services")

// Ledger validates and applies money movements. Every posting runs in one
// unit of work together with its budget decrement and outbox event.
type Ledger struct {
	repo  *storage.SQLiteRepository
	clock core.Clock
}

func NewLedger(repo *storage.SQLiteRepository, clock core.Clock) *Ledger {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Ledger{repo: repo, clock: clock}
}

// Post applies req on behalf of principal.
//
// Checks run in a fixed order: amount, source account, destination or
// category, then sufficiency. Nothing is written unless every check passes.
func (l *Ledger) Post(ctx context.Context, principal int64, req core.PostRequest) (core.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Ledger.Post", trace.WithAttributes(
		attribute.String("transaction.kind", string(req.Kind)),
		attribute.Int64("account.id", req.FromAccountID),
	))
	defer span.End()

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, endSpan(span, err)
	}

	var posted core.Transaction
	err = l.repo.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		posted, err = l.postInTx(ctx, tx, principal, req, amount)
		return err
	})
	if err != nil {
		slog.WarnContext(ctx, "Transaction rejected",
			"kind", req.Kind,
			"account_id", req.FromAccountID,
			"user_id", principal,
			"error", err)
		return core.Transaction{}, endSpan(span, err)
	}

	span.SetAttributes(attribute.Int64("transaction.id", posted.ID))
	slog.InfoContext(ctx, "Transaction posted",
		"transaction_id", posted.ID,
		"kind", posted.Kind,
		"amount", posted.Amount.String(),
		"account_id", posted.FromAccountID,
		"user_id", principal)
	return posted, nil
}

// postInTx runs the posting inside an open unit of work. PayBill reuses it so
// that the payment and the status flip commit together.
func (l *Ledger) postInTx(ctx context.Context, tx *storage.Tx, principal int64, req core.PostRequest, amount core.Money) (core.Transaction, error) {
	const op = "services.Ledger.Post"

	from, err := tx.Account(ctx, req.FromAccountID)
	if err != nil {
		return core.Transaction{}, err
	}
	if from.OwnerID != principal {
		return core.Transaction{}, core.NewAuthorization(op)
	}
	if err := req.CheckShape(); err != nil {
		return core.Transaction{}, err
	}

	var to *core.Account
	var categoryID *int64
	switch req.Kind {
	case core.Transfer:
		dest, err := tx.AccountByNumber(ctx, strings.TrimSpace(req.ToAccountNumber))
		if core.ClassOf(err) == core.ClassNotFound {
			return core.Transaction{}, core.NewNotFound(op, core.CodeDestinationNotFound)
		}
		if err != nil {
			return core.Transaction{}, err
		}
		if dest.ID == from.ID {
			return core.Transaction{}, core.NewValidation(op, core.CodeInvalidOperation, "to_account_number")
		}
		to = &dest
	case core.Payment, core.BillPayment:
		if _, err := tx.Category(ctx, *req.CategoryID); err != nil {
			return core.Transaction{}, err
		}
		id := *req.CategoryID
		categoryID = &id
	}

	if req.Kind.Debits() && from.Balance.LessThan(amount) {
		return core.Transaction{}, core.NewInsufficientFunds(op, from.Number, from.Balance, amount)
	}

	now := l.clock.Now()
	if err := applyMovement(ctx, tx, op, req.Kind, from, to, amount, now); err != nil {
		return core.Transaction{}, err
	}

	t := core.Transaction{
		Amount:            amount,
		Kind:              req.Kind,
		Description:       strings.TrimSpace(req.Description),
		FromAccountID:     from.ID,
		FromAccountNumber: from.Number,
		CategoryID:        categoryID,
		CreatedAt:         now,
	}
	if to != nil {
		id := to.ID
		t.ToAccountID = &id
		t.ToAccountNumber = to.Number
	}
	if t.ID, err = tx.InsertTransaction(ctx, t); err != nil {
		return core.Transaction{}, err
	}

	if categoryID != nil {
		budget, ok, err := tx.ActiveBudget(ctx, from.OwnerID, *categoryID, now, 0)
		if err != nil {
			return core.Transaction{}, err
		}
		if ok {
			if err := tx.SpendBudget(ctx, budget.ID, amount); err != nil {
				return core.Transaction{}, err
			}
		}
	}

	if _, err := tx.Enqueue(ctx, core.EventTransactionPosted, strconv.FormatInt(t.ID, 10),
		core.NewTransactionPosted(principal, t), now); err != nil {
		return core.Transaction{}, err
	}
	return t, nil
}

// applyMovement changes balances for kind. Debits go through the guarded
// update so a concurrent writer can never drive a balance negative.
func applyMovement(ctx context.Context, tx *storage.Tx, op string, kind core.Kind, from core.Account, to *core.Account, amount core.Money, now time.Time) error {
	switch kind {
	case core.Deposit:
		return tx.Credit(ctx, from.ID, amount, now)
	case core.Withdrawal, core.Payment, core.BillPayment:
		return debit(ctx, tx, op, from, amount, now)
	case core.Transfer:
		if err := debit(ctx, tx, op, from, amount, now); err != nil {
			return err
		}
		return tx.Credit(ctx, to.ID, amount, now)
	default:
		return core.NewValidation(op, core.CodeInvalidKind, "transaction_type")
	}
}

func debit(ctx context.Context, tx *storage.Tx, op string, acc core.Account, amount core.Money, now time.Time) error {
	ok, err := tx.Debit(ctx, acc.ID, amount, now)
	if err != nil {
		return err
	}
	if !ok {
		current, err := tx.Account(ctx, acc.ID)
		if err != nil {
			return err
		}
		return core.NewInsufficientFunds(op, current.Number, current.Balance, amount)
	}
	return nil
}

// ListTransactions returns every transaction touching an account userID owns,
// newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error) {
	return l.repo.ListTransactions(ctx, userID)
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, core.ClassOf(err).String())
	return err
}
