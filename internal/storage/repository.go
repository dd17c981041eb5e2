package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fintrack/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultBusyTimeout = 5 * time.Second

// DSN builds the modernc connection string. Every transaction starts with
// BEGIN IMMEDIATE so the write lock is taken before the first read.
func DSN(dbPath string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds())
}

type SQLiteRepository struct {
	db *sql.DB
	store
}

// store holds the read side shared by the repository and open units of work.
type store struct {
	q *Queries
}

// Tx is an open unit of work. It is only valid inside the WithTx callback.
type Tx struct {
	store
}

func NewSQLiteRepository(dbPath string, busyTimeout time.Duration) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(8)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, store: store{q: New(db)}}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return core.NewPersistence("storage.Ping", err)
	}
	return nil
}

// WithTx runs fn inside one database transaction. The transaction commits when
// fn returns nil and rolls back otherwise, exactly once either way. Errors that
// are not already domain errors come back as Persistence failures.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(*Tx) error) error {
	const op = "storage.WithTx"

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.NewPersistence(op, fmt.Errorf("begin: %w", err))
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Transaction rollback failed", "error", rbErr)
		}
	}()

	if err := fn(&Tx{store: store{q: r.q.WithTx(sqlTx)}}); err != nil {
		return core.NewPersistence(op, err)
	}

	done = true
	if err := sqlTx.Commit(); err != nil {
		return core.NewPersistence(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Fall back to RFC3339 for rows written by hand.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// classify converts a driver error into a domain error for op.
// sql.ErrNoRows becomes NotFound with notFound as its code.
func classify(op string, notFound core.Code, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && notFound != "" {
		return core.NewNotFound(op, notFound)
	}
	return core.NewPersistence(op, err)
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toAccount(a Account) core.Account {
	return core.Account{
		ID:        a.ID,
		Number:    a.AccountNumber,
		Type:      core.AccountType(a.AccountType),
		Balance:   core.MoneyFromCents(a.BalanceCents),
		OwnerID:   a.OwnerID,
		IsMain:    a.IsMain,
		CreatedAt: parseTime(a.CreatedAt),
		UpdatedAt: parseTime(a.UpdatedAt),
	}
}

func toTransaction(t Transaction) core.Transaction {
	out := core.Transaction{
		ID:                t.ID,
		Amount:            core.MoneyFromCents(t.AmountCents),
		Kind:              core.Kind(t.Kind),
		Description:       t.Description,
		FromAccountID:     t.FromAccountID,
		FromAccountNumber: t.FromAccountNumber,
		CreatedAt:         parseTime(t.CreatedAt),
	}
	if t.ToAccountID.Valid {
		id := t.ToAccountID.Int64
		out.ToAccountID = &id
		out.ToAccountNumber = t.ToAccountNumber.String
	}
	if t.CategoryID.Valid {
		id := t.CategoryID.Int64
		out.CategoryID = &id
	}
	return out
}

func toBill(b Bill) core.Bill {
	due, _ := time.Parse(core.DateLayout, b.DueDate)
	return core.Bill{
		ID:         b.ID,
		BillerName: b.BillerName,
		DueDate:    core.Date{Time: due},
		Amount:     core.MoneyFromCents(b.AmountCents),
		OwnerID:    b.OwnerID,
		AccountID:  b.AccountID,
		CategoryID: b.CategoryID,
		Status:     core.BillStatus(b.Status),
		CreatedAt:  parseTime(b.CreatedAt),
		UpdatedAt:  parseTime(b.UpdatedAt),
	}
}

func toBudget(b Budget) core.Budget {
	return core.Budget{
		ID:         b.ID,
		Name:       b.Name,
		Amount:     core.MoneyFromCents(b.AmountCents),
		Remaining:  core.MoneyFromCents(b.RemainingCents),
		StartDate:  parseTime(b.StartDate),
		EndDate:    parseTime(b.EndDate),
		OwnerID:    b.OwnerID,
		CategoryID: b.CategoryID,
	}
}

// Read side.

func (s store) Account(ctx context.Context, id int64) (core.Account, error) {
	a, err := s.q.GetAccount(ctx, id)
	if err != nil {
		return core.Account{}, classify("storage.Account", core.CodeAccountNotFound, err)
	}
	return toAccount(a), nil
}

func (s store) AccountByNumber(ctx context.Context, number string) (core.Account, error) {
	a, err := s.q.GetAccountByNumber(ctx, number)
	if err != nil {
		return core.Account{}, classify("storage.AccountByNumber", core.CodeAccountNotFound, err)
	}
	return toAccount(a), nil
}

func (s store) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	ok, err := s.q.AccountNumberExists(ctx, number)
	if err != nil {
		return false, classify("storage.AccountNumberExists", "", err)
	}
	return ok, nil
}

func (s store) HasMainAccount(ctx context.Context, ownerID int64) (bool, error) {
	ok, err := s.q.HasMainAccount(ctx, ownerID)
	if err != nil {
		return false, classify("storage.HasMainAccount", "", err)
	}
	return ok, nil
}

func (s store) AccountReferences(ctx context.Context, id int64) (int64, error) {
	n, err := s.q.CountAccountReferences(ctx, id)
	if err != nil {
		return 0, classify("storage.AccountReferences", "", err)
	}
	return n, nil
}

func (s store) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	rows, err := s.q.ListAccountsByOwner(ctx, ownerID)
	if err != nil {
		return nil, classify("storage.ListAccounts", "", err)
	}
	out := make([]core.Account, 0, len(rows))
	for _, a := range rows {
		out = append(out, toAccount(a))
	}
	return out, nil
}

func (s store) ListTransactions(ctx context.Context, ownerID int64) ([]core.Transaction, error) {
	rows, err := s.q.ListTransactionsForOwner(ctx, ownerID)
	if err != nil {
		return nil, classify("storage.ListTransactions", "", err)
	}
	out := make([]core.Transaction, 0, len(rows))
	for _, t := range rows {
		out = append(out, toTransaction(t))
	}
	return out, nil
}

func (s store) Category(ctx context.Context, id int64) (core.Category, error) {
	c, err := s.q.GetCategory(ctx, id)
	if err != nil {
		return core.Category{}, classify("storage.Category", core.CodeCategoryNotFound, err)
	}
	return core.Category{ID: c.ID, Name: c.Name, Description: c.Description}, nil
}

func (s store) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.q.ListCategories(ctx)
	if err != nil {
		return nil, classify("storage.ListCategories", "", err)
	}
	out := make([]core.Category, 0, len(rows))
	for _, c := range rows {
		out = append(out, core.Category{ID: c.ID, Name: c.Name, Description: c.Description})
	}
	return out, nil
}

func (s store) Bill(ctx context.Context, id int64) (core.Bill, error) {
	b, err := s.q.GetBill(ctx, id)
	if err != nil {
		return core.Bill{}, classify("storage.Bill", core.CodeBillNotFound, err)
	}
	return toBill(b), nil
}

func (s store) ListBills(ctx context.Context, ownerID int64) ([]core.Bill, error) {
	rows, err := s.q.ListBillsByOwner(ctx, ownerID)
	if err != nil {
		return nil, classify("storage.ListBills", "", err)
	}
	out := make([]core.Bill, 0, len(rows))
	for _, b := range rows {
		out = append(out, toBill(b))
	}
	return out, nil
}

func (s store) Budget(ctx context.Context, id int64) (core.Budget, error) {
	b, err := s.q.GetBudget(ctx, id)
	if err != nil {
		return core.Budget{}, classify("storage.Budget", core.CodeBudgetNotFound, err)
	}
	return toBudget(b), nil
}

func (s store) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	rows, err := s.q.ListBudgetsByOwner(ctx, ownerID)
	if err != nil {
		return nil, classify("storage.ListBudgets", "", err)
	}
	out := make([]core.Budget, 0, len(rows))
	for _, b := range rows {
		out = append(out, toBudget(b))
	}
	return out, nil
}

// ActiveBudget returns the owner's budget for category that is still open at
// now, ignoring excludeID. ok is false when there is none.
func (s store) ActiveBudget(ctx context.Context, ownerID, categoryID int64, now time.Time, excludeID int64) (core.Budget, bool, error) {
	b, err := s.q.FindActiveBudget(ctx, FindActiveBudgetParams{
		OwnerID:    ownerID,
		CategoryID: categoryID,
		Now:        formatTime(now),
		ExcludeID:  excludeID,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, false, nil
	}
	if err != nil {
		return core.Budget{}, false, classify("storage.ActiveBudget", "", err)
	}
	return toBudget(b), true, nil
}

// Write side. Only reachable through WithTx.

func (t *Tx) CreateAccount(ctx context.Context, a core.Account, now time.Time) (core.Account, error) {
	const op = "storage.CreateAccount"
	row, err := t.q.CreateAccount(ctx, CreateAccountParams{
		AccountNumber: a.Number,
		AccountType:   string(a.Type),
		OwnerID:       a.OwnerID,
		IsMain:        a.IsMain,
		CreatedAt:     formatTime(now),
	})
	if isUniqueViolation(err) {
		if a.IsMain {
			return core.Account{}, core.NewConflict(op, core.CodeMainAccountExists)
		}
		return core.Account{}, core.NewConflict(op, core.CodeAccountNumberTaken)
	}
	if err != nil {
		return core.Account{}, classify(op, "", err)
	}
	return toAccount(row), nil
}

func (t *Tx) DeleteAccount(ctx context.Context, id int64) error {
	return classify("storage.DeleteAccount", "", t.q.DeleteAccount(ctx, id))
}

// Credit adds amount to the account balance.
func (t *Tx) Credit(ctx context.Context, accountID int64, amount core.Money, now time.Time) error {
	const op = "storage.Credit"
	n, err := t.q.CreditAccount(ctx, accountID, amount.Cents(), formatTime(now))
	if err != nil {
		return classify(op, "", err)
	}
	if n == 0 {
		return core.NewNotFound(op, core.CodeAccountNotFound)
	}
	return nil
}

// Debit subtracts amount from the account balance. ok is false, with no change
// made, when the balance does not cover amount.
func (t *Tx) Debit(ctx context.Context, accountID int64, amount core.Money, now time.Time) (ok bool, err error) {
	n, err := t.q.DebitAccount(ctx, accountID, amount.Cents(), formatTime(now))
	if err != nil {
		return false, classify("storage.Debit", "", err)
	}
	return n == 1, nil
}

func (t *Tx) InsertTransaction(ctx context.Context, tr core.Transaction) (int64, error) {
	params := CreateTransactionParams{
		AmountCents:   tr.Amount.Cents(),
		Kind:          string(tr.Kind),
		Description:   tr.Description,
		FromAccountID: tr.FromAccountID,
		CreatedAt:     formatTime(tr.CreatedAt),
	}
	if tr.ToAccountID != nil {
		params.ToAccountID = sql.NullInt64{Int64: *tr.ToAccountID, Valid: true}
	}
	if tr.CategoryID != nil {
		params.CategoryID = sql.NullInt64{Int64: *tr.CategoryID, Valid: true}
	}
	id, err := t.q.CreateTransaction(ctx, params)
	if err != nil {
		return 0, classify("storage.InsertTransaction", "", err)
	}
	return id, nil
}

func (t *Tx) CreateBill(ctx context.Context, b core.Bill, now time.Time) (core.Bill, error) {
	row, err := t.q.CreateBill(ctx, CreateBillParams{
		BillerName:  b.BillerName,
		DueDate:     b.DueDate.String(),
		AmountCents: b.Amount.Cents(),
		OwnerID:     b.OwnerID,
		AccountID:   b.AccountID,
		CategoryID:  b.CategoryID,
		Status:      string(b.Status),
		CreatedAt:   formatTime(now),
	})
	if err != nil {
		return core.Bill{}, classify("storage.CreateBill", "", err)
	}
	return toBill(row), nil
}

func (t *Tx) UpdateBill(ctx context.Context, b core.Bill, now time.Time) (core.Bill, error) {
	row, err := t.q.UpdateBill(ctx, UpdateBillParams{
		ID:          b.ID,
		BillerName:  b.BillerName,
		DueDate:     b.DueDate.String(),
		AmountCents: b.Amount.Cents(),
		AccountID:   b.AccountID,
		CategoryID:  b.CategoryID,
		Status:      string(b.Status),
		UpdatedAt:   formatTime(now),
	})
	if err != nil {
		return core.Bill{}, classify("storage.UpdateBill", core.CodeBillNotFound, err)
	}
	return toBill(row), nil
}

func (t *Tx) DeleteBill(ctx context.Context, id int64) error {
	return classify("storage.DeleteBill", "", t.q.DeleteBill(ctx, id))
}

func (t *Tx) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	row, err := t.q.CreateBudget(ctx, CreateBudgetParams{
		Name:           b.Name,
		AmountCents:    b.Amount.Cents(),
		RemainingCents: b.Remaining.Cents(),
		StartDate:      formatTime(b.StartDate),
		EndDate:        formatTime(b.EndDate),
		OwnerID:        b.OwnerID,
		CategoryID:     b.CategoryID,
	})
	if err != nil {
		return core.Budget{}, classify("storage.CreateBudget", "", err)
	}
	return toBudget(row), nil
}

func (t *Tx) UpdateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	row, err := t.q.UpdateBudget(ctx, UpdateBudgetParams{
		ID:             b.ID,
		Name:           b.Name,
		AmountCents:    b.Amount.Cents(),
		RemainingCents: b.Remaining.Cents(),
		StartDate:      formatTime(b.StartDate),
		EndDate:        formatTime(b.EndDate),
		CategoryID:     b.CategoryID,
	})
	if err != nil {
		return core.Budget{}, classify("storage.UpdateBudget", core.CodeBudgetNotFound, err)
	}
	return toBudget(row), nil
}

// SpendBudget lowers the remaining allowance. Remaining may become negative.
func (t *Tx) SpendBudget(ctx context.Context, budgetID int64, amount core.Money) error {
	return classify("storage.SpendBudget", "", t.q.DecrementBudget(ctx, budgetID, amount.Cents()))
}
