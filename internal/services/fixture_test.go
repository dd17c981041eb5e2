package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/storage"

	"github.com/stretchr/testify/require"
)

const (
	essential     int64 = 1
	discretionary int64 = 2
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo       *storage.SQLiteRepository
	clock      *testClock
	accounts   *AccountService
	ledger     *Ledger
	bills      *BillService
	budgets    *BudgetService
	categories *CategoryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	ledger := NewLedger(repo, clock)
	return &fixture{
		repo:       repo,
		clock:      clock,
		accounts:   NewAccountService(repo, clock),
		ledger:     ledger,
		bills:      NewBillService(repo, ledger, clock),
		budgets:    NewBudgetService(repo, clock),
		categories: NewCategoryService(repo),
	}
}

func (f *fixture) account(t *testing.T, owner int64, isMain bool) core.Account {
	t.Helper()
	acc, err := f.accounts.Create(context.Background(), owner, "checking", isMain)
	require.NoError(t, err)
	return acc
}

func (f *fixture) post(owner int64, req core.PostRequest) (core.Transaction, error) {
	return f.ledger.Post(context.Background(), owner, req)
}

func (f *fixture) deposit(t *testing.T, owner int64, acc core.Account, amount string) {
	t.Helper()
	_, err := f.post(owner, core.PostRequest{Kind: core.Deposit, Amount: amount, FromAccountID: acc.ID})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, acc core.Account) string {
	t.Helper()
	got, err := f.repo.Account(context.Background(), acc.ID)
	require.NoError(t, err)
	return got.Balance.String()
}

func (f *fixture) tomorrow() string {
	return core.DateOf(f.clock.Now().AddDate(0, 0, 1)).String()
}

func jsonField(t *testing.T, raw []byte, key string) string {
	t.Helper()
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	return string(fields[key])
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }
