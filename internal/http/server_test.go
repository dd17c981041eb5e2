package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	t       *testing.T
	handler http.Handler
	repo    *storage.SQLiteRepository
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	clock := core.FixedClock(testNow)
	ledger := services.NewLedger(repo, clock)
	if opts.Logger == nil {
		opts.Logger = log.New(log.Config{Output: io.Discard})
	}
	srv := NewServer(":0", Services{
		Accounts:   services.NewAccountService(repo, clock),
		Ledger:     ledger,
		Bills:      services.NewBillService(repo, ledger, clock),
		Budgets:    services.NewBudgetService(repo, clock),
		Categories: services.NewCategoryService(repo),
		DB:         repo,
	}, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testAPI{t: t, handler: srv.Handler, repo: repo}
}

func (a *testAPI) do(method, path string, user int64, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != 0 {
		req.Header.Set(HeaderUserID, strconv.FormatInt(user, 10))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) ErrorBody {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	body := decode[ErrorBody](t, rec)
	assert.Equal(t, code, body.Error)
	assert.NotEmpty(t, body.Message)
	return body
}

func (a *testAPI) createAccount(user int64, isMain bool) core.Account {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/accounts", user, `{"account_type":"checking","is_main":`+strconv.FormatBool(isMain)+`}`)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[core.Account](a.t, rec)
}

func (a *testAPI) deposit(user, accountID int64, amount string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/transactions", user,
		`{"transaction_type":"DEPOSIT","amount":`+amount+`,"from_account_id":`+strconv.FormatInt(accountID, 10)+`}`)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, Options{})

	rec := api.do(http.MethodGet, "/healthz", 0, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = api.do(http.MethodGet, "/readyz", 0, "")
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(":0", Services{DB: failingPinger{}}, Options{Logger: log.New(log.Config{Output: io.Discard})})
	defer down.Shutdown(context.Background())
	rec = httptest.NewRecorder()
	down.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	requireError(t, rec, http.StatusServiceUnavailable, codeNotReady)
}

func TestPrincipalRequired(t *testing.T) {
	api := newTestAPI(t, Options{})

	requireError(t, api.do(http.MethodGet, "/accounts", 0, ""), http.StatusUnauthorized, codeUnauthenticated)

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.Header.Set(HeaderUserID, "abc")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	requireError(t, rec, http.StatusUnauthorized, codeUnauthenticated)
}

func TestAccountsAPI(t *testing.T) {
	api := newTestAPI(t, Options{})

	main := api.createAccount(1, true)
	assert.True(t, main.IsMain)
	assert.Len(t, main.Number, 16)
	assert.True(t, main.Balance.IsZero())

	requireError(t, api.do(http.MethodPost, "/accounts", 1, `{"account_type":"checking","is_main":true}`),
		http.StatusConflict, string(core.CodeMainAccountExists))
	body := requireError(t, api.do(http.MethodPost, "/accounts", 1, `{"account_type":"brokerage"}`),
		http.StatusBadRequest, string(core.CodeInvalidAccountType))
	assert.Equal(t, "account_type", body.Field)

	second := api.createAccount(1, false)
	rec := api.do(http.MethodGet, "/accounts", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]core.Account](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, main.ID, list[0].ID, "main account is listed first")

	path := "/accounts/" + strconv.FormatInt(second.ID, 10)
	requireError(t, api.do(http.MethodGet, path, 2, ""), http.StatusForbidden, string(core.CodeNotOwner))
	requireError(t, api.do(http.MethodGet, "/accounts/999", 1, ""), http.StatusNotFound, string(core.CodeAccountNotFound))
	requireError(t, api.do(http.MethodGet, "/accounts/abc", 1, ""), http.StatusBadRequest, codeInvalidID)

	requireError(t, api.do(http.MethodDelete, "/accounts/"+strconv.FormatInt(main.ID, 10), 1, ""),
		http.StatusConflict, string(core.CodeMainAccountUndeletable))
	rec = api.do(http.MethodDelete, path, 1, "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	requireError(t, api.do(http.MethodGet, path, 1, ""), http.StatusNotFound, string(core.CodeAccountNotFound))
}

func TestTransactionsAPI(t *testing.T) {
	api := newTestAPI(t, Options{})
	a := api.createAccount(1, true)
	b := api.createAccount(2, true)

	api.deposit(1, a.ID, `100`)

	body := requireError(t, api.do(http.MethodPost, "/transactions", 1,
		`{"transaction_type":"WITHDRAWAL","amount":"150.00","from_account_id":`+strconv.FormatInt(a.ID, 10)+`}`),
		http.StatusUnprocessableEntity, string(core.CodeInsufficientFunds))
	assert.Equal(t, "100.00", body.Details["current_balance"])
	assert.Equal(t, "150.00", body.Details["required_amount"])

	rec := api.do(http.MethodPost, "/transactions", 1,
		`{"transaction_type":"transfer","amount":"30.50","from_account_id":`+strconv.FormatInt(a.ID, 10)+`,"to_account_number":"`+b.Number+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decode[core.Transaction](t, rec)
	assert.Equal(t, core.Transfer, tx.Kind)
	assert.Equal(t, "30.50", tx.Amount.String())

	requireError(t, api.do(http.MethodPost, "/transactions", 1,
		`{"transaction_type":"DEPOSIT","amount":"1.001","from_account_id":`+strconv.FormatInt(a.ID, 10)+`}`),
		http.StatusBadRequest, string(core.CodeInvalidAmount))
	requireError(t, api.do(http.MethodPost, "/transactions", 1,
		`{"transaction_type":"REFUND","amount":"1","from_account_id":`+strconv.FormatInt(a.ID, 10)+`}`),
		http.StatusBadRequest, string(core.CodeInvalidKind))
	requireError(t, api.do(http.MethodPost, "/transactions", 2,
		`{"transaction_type":"WITHDRAWAL","amount":"1","from_account_id":`+strconv.FormatInt(a.ID, 10)+`}`),
		http.StatusForbidden, string(core.CodeNotOwner))
	requireError(t, api.do(http.MethodPost, "/transactions", 1, `{"transaction_type":`),
		http.StatusBadRequest, codeInvalidJSON)

	rec = api.do(http.MethodGet, "/accounts/"+strconv.FormatInt(b.ID, 10), 2, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "30.50", decode[core.Account](t, rec).Balance.String())

	rec = api.do(http.MethodGet, "/transactions", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decode[[]core.Transaction](t, rec)
	require.Len(t, txs, 2)
	assert.Equal(t, core.Transfer, txs[0].Kind, "newest first")

	requireError(t, api.do(http.MethodDelete, "/accounts/"+strconv.FormatInt(a.ID, 10), 1, ""),
		http.StatusConflict, string(core.CodeMainAccountUndeletable))
}

func TestBillsAPI(t *testing.T) {
	api := newTestAPI(t, Options{})
	acc := api.createAccount(1, true)
	api.deposit(1, acc.ID, `"200.00"`)
	accID := strconv.FormatInt(acc.ID, 10)

	requireError(t, api.do(http.MethodPost, "/bills", 1,
		`{"biller_name":"Power","amount":"50","due_date":"2025-06-09","account_id":`+accID+`,"category_id":1}`),
		http.StatusBadRequest, string(core.CodeDueDateInPast))
	requireError(t, api.do(http.MethodPost, "/bills", 1,
		`{"biller_name":"Power","amount":"500","due_date":"2025-06-11","account_id":`+accID+`,"category_id":1}`),
		http.StatusUnprocessableEntity, string(core.CodeInsufficientFunds))

	rec := api.do(http.MethodPost, "/bills", 1,
		`{"biller_name":"Power","amount":50,"due_date":"2025-06-11","account_id":`+accID+`,"category_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bill := decode[core.Bill](t, rec)
	assert.Equal(t, core.BillPending, bill.Status)
	billPath := "/bills/" + strconv.FormatInt(bill.ID, 10)

	rec = api.do(http.MethodPatch, billPath, 1, `{"amount":"60.00","biller_name":"Power Co"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[core.Bill](t, rec)
	assert.Equal(t, "60.00", updated.Amount.String())
	assert.Equal(t, "Power Co", updated.BillerName)

	requireError(t, api.do(http.MethodPatch, billPath, 1, `{}`), http.StatusBadRequest, string(core.CodeEmptyPatch))
	requireError(t, api.do(http.MethodGet, billPath, 2, ""), http.StatusForbidden, string(core.CodeNotOwner))

	rec = api.do(http.MethodPost, billPath+"/pay", 1, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decode[payBillResponse](t, rec)
	assert.Equal(t, core.BillPaid, paid.Bill.Status)
	assert.Equal(t, core.BillPayment, paid.Transaction.Kind)
	assert.Equal(t, "60.00", paid.Transaction.Amount.String())

	requireError(t, api.do(http.MethodPost, billPath+"/pay", 1, ""), http.StatusConflict, string(core.CodeBillAlreadyPaid))
	requireError(t, api.do(http.MethodPost, billPath+"/cancel", 1, ""), http.StatusConflict, string(core.CodeBillAlreadyPaid))
	requireError(t, api.do(http.MethodDelete, billPath, 1, ""), http.StatusConflict, string(core.CodeBillAlreadyPaid))

	rec = api.do(http.MethodPost, "/bills", 1,
		`{"biller_name":"Water","amount":"10","due_date":"2025-06-10","account_id":`+accID+`,"category_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	water := decode[core.Bill](t, rec)
	waterPath := "/bills/" + strconv.FormatInt(water.ID, 10)

	rec = api.do(http.MethodPost, waterPath+"/cancel", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.BillCancelled, decode[core.Bill](t, rec).Status)
	requireError(t, api.do(http.MethodPost, waterPath+"/cancel", 1, ""), http.StatusConflict, string(core.CodeBillAlreadyCancelled))

	rec = api.do(http.MethodGet, "/bills", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	bills := decode[[]core.Bill](t, rec)
	require.Len(t, bills, 2)
	assert.Equal(t, water.ID, bills[0].ID, "nearest due date first")

	rec = api.do(http.MethodDelete, waterPath, 1, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	requireError(t, api.do(http.MethodGet, waterPath, 1, ""), http.StatusNotFound, string(core.CodeBillNotFound))
}

func TestBudgetsAPI(t *testing.T) {
	api := newTestAPI(t, Options{})

	requireError(t, api.do(http.MethodPost, "/budgets", 1, `{"name":"Food","amount":"100","category_id":1,"duration_minutes":0}`),
		http.StatusBadRequest, string(core.CodeInvalidDuration))

	rec := api.do(http.MethodPost, "/budgets", 1, `{"name":"Food","amount":"100","category_id":1,"duration_minutes":60}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	budget := decode[core.Budget](t, rec)
	assert.Equal(t, "100.00", budget.Remaining.String())
	path := "/budgets/" + strconv.FormatInt(budget.ID, 10)

	requireError(t, api.do(http.MethodPost, "/budgets", 1, `{"name":"Food 2","amount":"50","category_id":1,"duration_minutes":60}`),
		http.StatusConflict, string(core.CodeActiveBudgetExists))
	requireError(t, api.do(http.MethodPost, "/budgets", 1, `{"name":"Other","amount":"50","category_id":99,"duration_minutes":60}`),
		http.StatusNotFound, string(core.CodeCategoryNotFound))

	rec = api.do(http.MethodPatch, path, 1, `{"amount":250}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "250.00", decode[core.Budget](t, rec).Remaining.String())

	requireError(t, api.do(http.MethodGet, path, 2, ""), http.StatusForbidden, string(core.CodeNotOwner))

	rec = api.do(http.MethodGet, "/budgets", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.Budget](t, rec), 1)
}

func TestCategoriesAPI(t *testing.T) {
	api := newTestAPI(t, Options{})

	rec := api.do(http.MethodGet, "/categories", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decode[[]core.Category](t, rec)
	require.Len(t, cats, 3)
	assert.Equal(t, "Essential", cats[0].Name)

	rec = api.do(http.MethodGet, "/categories/3", 1, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Financial", decode[core.Category](t, rec).Name)

	requireError(t, api.do(http.MethodGet, "/categories/42", 1, ""), http.StatusNotFound, string(core.CodeCategoryNotFound))
}

func TestRateLimitPerPrincipal(t *testing.T) {
	api := newTestAPI(t, Options{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/categories", 1, "").Code)
	}
	rec := api.do(http.MethodGet, "/categories", 1, "")
	requireError(t, rec, http.StatusTooManyRequests, codeRateLimited)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/categories", 2, "").Code, "other principals keep their own budget")
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", 0, "").Code, "probes are not limited")
}
