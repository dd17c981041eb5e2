package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Account struct {
	ID            int64
	AccountNumber string
	AccountType   string
	BalanceCents  int64
	OwnerID       int64
	IsMain        bool
	CreatedAt     string
	UpdatedAt     string
}

type Transaction struct {
	ID                int64
	AmountCents       int64
	Kind              string
	Description       string
	FromAccountID     int64
	FromAccountNumber string
	ToAccountID       sql.NullInt64
	ToAccountNumber   sql.NullString
	CategoryID        sql.NullInt64
	CreatedAt         string
}

type Category struct {
	ID          int64
	Name        string
	Description string
}

type Bill struct {
	ID          int64
	BillerName  string
	DueDate     string
	AmountCents int64
	OwnerID     int64
	AccountID   int64
	CategoryID  int64
	Status      string
	CreatedAt   string
	UpdatedAt   string
}

type Budget struct {
	ID             int64
	Name           string
	AmountCents    int64
	RemainingCents int64
	StartDate      string
	EndDate        string
	OwnerID        int64
	CategoryID     int64
}

type OutboxEvent struct {
	ID          string
	EventType   string
	AggregateID string
	Payload     string
	Status      string
	Attempts    int64
	LastError   sql.NullString
	CreatedAt   string
	UpdatedAt   string
	PublishedAt sql.NullString
}

const accountColumns = `id, account_number, account_type, balance_cents, owner_id, is_main, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.AccountNumber, &a.AccountType, &a.BalanceCents, &a.OwnerID, &a.IsMain, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

type CreateAccountParams struct {
	AccountNumber string
	AccountType   string
	OwnerID       int64
	IsMain        bool
	CreatedAt     string
}

const createAccount = `
INSERT INTO accounts (account_number, account_type, balance_cents, owner_id, is_main, created_at, updated_at)
VALUES (?, ?, 0, ?, ?, ?, ?)
RETURNING ` + accountColumns

func (q *Queries) CreateAccount(ctx context.Context, arg CreateAccountParams) (Account, error) {
	row := q.db.QueryRowContext(ctx, createAccount, arg.AccountNumber, arg.AccountType, arg.OwnerID, arg.IsMain, arg.CreatedAt, arg.CreatedAt)
	return scanAccount(row)
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`

func (q *Queries) GetAccount(ctx context.Context, id int64) (Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getAccount, id))
}

const getAccountByNumber = `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = ?`

func (q *Queries) GetAccountByNumber(ctx context.Context, number string) (Account, error) {
	return scanAccount(q.db.QueryRowContext(ctx, getAccountByNumber, number))
}

const accountNumberExists = `SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = ?)`

func (q *Queries) AccountNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, accountNumberExists, number).Scan(&exists)
	return exists, err
}

const hasMainAccount = `SELECT EXISTS(SELECT 1 FROM accounts WHERE owner_id = ? AND is_main = 1)`

func (q *Queries) HasMainAccount(ctx context.Context, ownerID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, hasMainAccount, ownerID).Scan(&exists)
	return exists, err
}

const listAccountsByOwner = `SELECT ` + accountColumns + ` FROM accounts WHERE owner_id = ? ORDER BY is_main DESC, id ASC`

func (q *Queries) ListAccountsByOwner(ctx context.Context, ownerID int64) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, listAccountsByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const countAccountReferences = `
SELECT
    (SELECT COUNT(*) FROM bills WHERE account_id = ?1) +
    (SELECT COUNT(*) FROM transactions WHERE from_account_id = ?1 OR to_account_id = ?1)`

func (q *Queries) CountAccountReferences(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countAccountReferences, id).Scan(&n)
	return n, err
}

const deleteAccount = `DELETE FROM accounts WHERE id = ?`

func (q *Queries) DeleteAccount(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteAccount, id)
	return err
}

const creditAccount = `UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ?`

func (q *Queries) CreditAccount(ctx context.Context, id, cents int64, updatedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, creditAccount, cents, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// debitAccount only matches while the balance covers the amount.
const debitAccount = `UPDATE accounts SET balance_cents = balance_cents - ?1, updated_at = ?2 WHERE id = ?3 AND balance_cents >= ?1`

func (q *Queries) DebitAccount(ctx context.Context, id, cents int64, updatedAt string) (int64, error) {
	res, err := q.db.ExecContext(ctx, debitAccount, cents, updatedAt, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type CreateTransactionParams struct {
	AmountCents   int64
	Kind          string
	Description   string
	FromAccountID int64
	ToAccountID   sql.NullInt64
	CategoryID    sql.NullInt64
	CreatedAt     string
}

const createTransaction = `
INSERT INTO transactions (amount_cents, kind, description, from_account_id, to_account_id, category_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING id`

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, createTransaction,
		arg.AmountCents, arg.Kind, arg.Description, arg.FromAccountID, arg.ToAccountID, arg.CategoryID, arg.CreatedAt,
	).Scan(&id)
	return id, err
}

const listTransactionsForOwner = `
SELECT t.id, t.amount_cents, t.kind, t.description, t.from_account_id, fa.account_number,
       t.to_account_id, ta.account_number, t.category_id, t.created_at
FROM transactions t
JOIN accounts fa ON fa.id = t.from_account_id
LEFT JOIN accounts ta ON ta.id = t.to_account_id
WHERE fa.owner_id = ?1 OR ta.owner_id = ?1
ORDER BY t.created_at DESC, t.id DESC`

func (q *Queries) ListTransactionsForOwner(ctx context.Context, ownerID int64) ([]Transaction, error) {
	rows, err := q.db.QueryContext(ctx, listTransactionsForOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AmountCents, &t.Kind, &t.Description, &t.FromAccountID, &t.FromAccountNumber,
			&t.ToAccountID, &t.ToAccountNumber, &t.CategoryID, &t.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const listCategories = `SELECT id, name, description FROM categories ORDER BY id`

func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const getCategory = `SELECT id, name, description FROM categories WHERE id = ?`

func (q *Queries) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := q.db.QueryRowContext(ctx, getCategory, id).Scan(&c.ID, &c.Name, &c.Description)
	return c, err
}

const billColumns = `id, biller_name, due_date, amount_cents, owner_id, account_id, category_id, status, created_at, updated_at`

func scanBill(row interface{ Scan(...any) error }) (Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.BillerName, &b.DueDate, &b.AmountCents, &b.OwnerID, &b.AccountID, &b.CategoryID, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

type CreateBillParams struct {
	BillerName  string
	DueDate     string
	AmountCents int64
	OwnerID     int64
	AccountID   int64
	CategoryID  int64
	Status      string
	CreatedAt   string
}

const createBill = `
INSERT INTO bills (biller_name, due_date, amount_cents, owner_id, account_id, category_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + billColumns

func (q *Queries) CreateBill(ctx context.Context, arg CreateBillParams) (Bill, error) {
	row := q.db.QueryRowContext(ctx, createBill,
		arg.BillerName, arg.DueDate, arg.AmountCents, arg.OwnerID, arg.AccountID, arg.CategoryID, arg.Status, arg.CreatedAt, arg.CreatedAt)
	return scanBill(row)
}

const getBill = `SELECT ` + billColumns + ` FROM bills WHERE id = ?`

func (q *Queries) GetBill(ctx context.Context, id int64) (Bill, error) {
	return scanBill(q.db.QueryRowContext(ctx, getBill, id))
}

const listBillsByOwner = `SELECT ` + billColumns + ` FROM bills WHERE owner_id = ? ORDER BY due_date ASC, id ASC`

func (q *Queries) ListBillsByOwner(ctx context.Context, ownerID int64) ([]Bill, error) {
	rows, err := q.db.QueryContext(ctx, listBillsByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

type UpdateBillParams struct {
	ID          int64
	BillerName  string
	DueDate     string
	AmountCents int64
	AccountID   int64
	CategoryID  int64
	Status      string
	UpdatedAt   string
}

const updateBill = `
UPDATE bills
SET biller_name = ?, due_date = ?, amount_cents = ?, account_id = ?, category_id = ?, status = ?, updated_at = ?
WHERE id = ?
RETURNING ` + billColumns

func (q *Queries) UpdateBill(ctx context.Context, arg UpdateBillParams) (Bill, error) {
	row := q.db.QueryRowContext(ctx, updateBill,
		arg.BillerName, arg.DueDate, arg.AmountCents, arg.AccountID, arg.CategoryID, arg.Status, arg.UpdatedAt, arg.ID)
	return scanBill(row)
}

const deleteBill = `DELETE FROM bills WHERE id = ?`

func (q *Queries) DeleteBill(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteBill, id)
	return err
}

const budgetColumns = `id, name, amount_cents, remaining_cents, start_date, end_date, owner_id, category_id`

func scanBudget(row interface{ Scan(...any) error }) (Budget, error) {
	var b Budget
	err := row.Scan(&b.ID, &b.Name, &b.AmountCents, &b.RemainingCents, &b.StartDate, &b.EndDate, &b.OwnerID, &b.CategoryID)
	return b, err
}

type CreateBudgetParams struct {
	Name           string
	AmountCents    int64
	RemainingCents int64
	StartDate      string
	EndDate        string
	OwnerID        int64
	CategoryID     int64
}

const createBudget = `
INSERT INTO budgets (name, amount_cents, remaining_cents, start_date, end_date, owner_id, category_id)
VALUES (?, ?, ?, ?, ?, ?, ?)
RETURNING ` + budgetColumns

func (q *Queries) CreateBudget(ctx context.Context, arg CreateBudgetParams) (Budget, error) {
	row := q.db.QueryRowContext(ctx, createBudget,
		arg.Name, arg.AmountCents, arg.RemainingCents, arg.StartDate, arg.EndDate, arg.OwnerID, arg.CategoryID)
	return scanBudget(row)
}

const getBudget = `SELECT ` + budgetColumns + ` FROM budgets WHERE id = ?`

func (q *Queries) GetBudget(ctx context.Context, id int64) (Budget, error) {
	return scanBudget(q.db.QueryRowContext(ctx, getBudget, id))
}

const listBudgetsByOwner = `SELECT ` + budgetColumns + ` FROM budgets WHERE owner_id = ? ORDER BY end_date DESC, id DESC`

func (q *Queries) ListBudgetsByOwner(ctx context.Context, ownerID int64) ([]Budget, error) {
	rows, err := q.db.QueryContext(ctx, listBudgetsByOwner, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

type FindActiveBudgetParams struct {
	OwnerID    int64
	CategoryID int64
	Now        string
	ExcludeID  int64
}

const findActiveBudget = `
SELECT ` + budgetColumns + `
FROM budgets
WHERE owner_id = ? AND category_id = ? AND end_date > ? AND id != ?
ORDER BY end_date DESC, id DESC
LIMIT 1`

func (q *Queries) FindActiveBudget(ctx context.Context, arg FindActiveBudgetParams) (Budget, error) {
	return scanBudget(q.db.QueryRowContext(ctx, findActiveBudget, arg.OwnerID, arg.CategoryID, arg.Now, arg.ExcludeID))
}

type UpdateBudgetParams struct {
	ID             int64
	Name           string
	AmountCents    int64
	RemainingCents int64
	StartDate      string
	EndDate        string
	CategoryID     int64
}

const updateBudget = `
UPDATE budgets
SET name = ?, amount_cents = ?, remaining_cents = ?, start_date = ?, end_date = ?, category_id = ?
WHERE id = ?
RETURNING ` + budgetColumns

func (q *Queries) UpdateBudget(ctx context.Context, arg UpdateBudgetParams) (Budget, error) {
	row := q.db.QueryRowContext(ctx, updateBudget,
		arg.Name, arg.AmountCents, arg.RemainingCents, arg.StartDate, arg.EndDate, arg.CategoryID, arg.ID)
	return scanBudget(row)
}

const decrementBudget = `UPDATE budgets SET remaining_cents = remaining_cents - ? WHERE id = ?`

func (q *Queries) DecrementBudget(ctx context.Context, id, cents int64) error {
	_, err := q.db.ExecContext(ctx, decrementBudget, cents, id)
	return err
}

type InsertOutboxEventParams struct {
	ID          string
	EventType   string
	AggregateID string
	Payload     string
	CreatedAt   string
}

const insertOutboxEvent = `
INSERT INTO outbox_events (id, event_type, aggregate_id, payload, status, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, 'PENDING', 0, ?, ?)`

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) error {
	_, err := q.db.ExecContext(ctx, insertOutboxEvent, arg.ID, arg.EventType, arg.AggregateID, arg.Payload, arg.CreatedAt, arg.CreatedAt)
	return err
}

const outboxColumns = `id, event_type, aggregate_id, payload, status, attempts, last_error, created_at, updated_at, published_at`

func scanOutboxEvent(row interface{ Scan(...any) error }) (OutboxEvent, error) {
	var e OutboxEvent
	err := row.Scan(&e.ID, &e.EventType, &e.AggregateID, &e.Payload, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt, &e.PublishedAt)
	return e, err
}

// claimOutboxEvents moves a batch of publishable rows to PROCESSING.
const claimOutboxEvents = `
UPDATE outbox_events
SET status = 'PROCESSING', updated_at = ?1
WHERE id IN (
    SELECT id FROM outbox_events
    WHERE status IN ('PENDING', 'FAILED')
    ORDER BY created_at ASC, id ASC
    LIMIT ?2
)
RETURNING ` + outboxColumns

func (q *Queries) ClaimOutboxEvents(ctx context.Context, updatedAt string, limit int64) ([]OutboxEvent, error) {
	rows, err := q.db.QueryContext(ctx, claimOutboxEvents, updatedAt, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OutboxEvent
	for rows.Next() {
		e, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

const getOutboxEvent = `SELECT ` + outboxColumns + ` FROM outbox_events WHERE id = ?`

func (q *Queries) GetOutboxEvent(ctx context.Context, id string) (OutboxEvent, error) {
	return scanOutboxEvent(q.db.QueryRowContext(ctx, getOutboxEvent, id))
}

const markOutboxPublished = `
UPDATE outbox_events
SET status = 'PUBLISHED', updated_at = ?1, published_at = ?1
WHERE id = ?2 AND status = 'PROCESSING'`

func (q *Queries) MarkOutboxPublished(ctx context.Context, id, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx, markOutboxPublished, now, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type MarkOutboxFailedParams struct {
	ID          string
	LastError   string
	MaxAttempts int64
	UpdatedAt   string
}

const markOutboxFailed = `
UPDATE outbox_events
SET attempts = attempts + 1,
    last_error = ?1,
    status = CASE WHEN attempts + 1 >= ?2 THEN 'INVALID' ELSE 'FAILED' END,
    updated_at = ?3
WHERE id = ?4 AND status = 'PROCESSING'`

func (q *Queries) MarkOutboxFailed(ctx context.Context, arg MarkOutboxFailedParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, markOutboxFailed, arg.LastError, arg.MaxAttempts, arg.UpdatedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const resetStaleOutboxEvents = `
UPDATE outbox_events
SET status = 'PENDING', updated_at = ?1
WHERE status = 'PROCESSING' AND updated_at < ?2`

func (q *Queries) ResetStaleOutboxEvents(ctx context.Context, now, before string) (int64, error) {
	res, err := q.db.ExecContext(ctx, resetStaleOutboxEvents, now, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const releaseOutboxEvent = `
UPDATE outbox_events
SET status = 'PENDING', updated_at = ?2
WHERE id = ?1 AND status = 'PROCESSING'`

func (q *Queries) ReleaseOutboxEvent(ctx context.Context, id, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx, releaseOutboxEvent, id, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deletePublishedOutboxEvents = `
DELETE FROM outbox_events
WHERE status = 'PUBLISHED' AND published_at < ?1`

func (q *Queries) DeletePublishedOutboxEvents(ctx context.Context, before string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deletePublishedOutboxEvents, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countOutboxByStatus = `SELECT status, COUNT(*) FROM outbox_events GROUP BY status`

func (q *Queries) CountOutboxByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := q.db.QueryContext(ctx, countOutboxByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
