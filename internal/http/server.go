package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/middleware/security"
	"fintrack/internal/middleware/trace"
)

// AccountRegistry is the account surface used by the handlers.
type AccountRegistry interface {
	Create(ctx context.Context, owner int64, accountType string, isMain bool) (core.Account, error)
	Delete(ctx context.Context, accountID, requester int64) error
	Get(ctx context.Context, accountID, requester int64) (core.Account, error)
	List(ctx context.Context, owner int64) ([]core.Account, error)
}

type TransactionLedger interface {
	Post(ctx context.Context, principal int64, req core.PostRequest) (core.Transaction, error)
	ListTransactions(ctx context.Context, userID int64) ([]core.Transaction, error)
}

type BillScheduler interface {
	Create(ctx context.Context, owner int64, in core.BillInput) (core.Bill, error)
	Update(ctx context.Context, owner, billID int64, patch core.BillPatch) (core.Bill, error)
	Cancel(ctx context.Context, owner, billID int64) (core.Bill, error)
	Delete(ctx context.Context, owner, billID int64) error
	Pay(ctx context.Context, owner, billID int64) (core.Bill, core.Transaction, error)
	Get(ctx context.Context, owner, billID int64) (core.Bill, error)
	List(ctx context.Context, owner int64) ([]core.Bill, error)
}

type BudgetTracker interface {
	Create(ctx context.Context, owner int64, in core.BudgetInput) (core.Budget, error)
	Update(ctx context.Context, owner, budgetID int64, patch core.BudgetPatch) (core.Budget, error)
	Get(ctx context.Context, owner, budgetID int64) (core.Budget, error)
	List(ctx context.Context, owner int64) ([]core.Budget, error)
}

type CategoryCatalog interface {
	List(ctx context.Context) ([]core.Category, error)
	Get(ctx context.Context, id int64) (core.Category, error)
}

// Pinger reports database reachability for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the collaborators the API needs.
type Services struct {
	Accounts   AccountRegistry
	Ledger     TransactionLedger
	Bills      BillScheduler
	Budgets    BudgetTracker
	Categories CategoryCatalog
	DB         Pinger
}

// Options tunes the server. Zero values fall back to defaults.
type Options struct {
	RequestTimeout    time.Duration
	RequestsPerMinute int
	Logger            *log.Logger
}

type Server struct {
	http.Server
	svc          Services
	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	clientIP     *security.ClientIP
	timeout      time.Duration
	logger       *log.Logger
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc Services, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		svc:      svc,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute}),
		tracer:   trace.NewMiddleware(principalOrZero),
		clientIP: security.NewClientIP(),
		timeout:  opts.RequestTimeout,
		logger:   opts.Logger.WithComponent(log.ComponentHTTP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("GET /categories", s.api(s.handleListCategories))
	mux.Handle("GET /categories/{id}", s.api(s.handleGetCategory))

	mux.Handle("GET /accounts", s.api(s.handleListAccounts))
	mux.Handle("POST /accounts", s.api(s.handleCreateAccount))
	mux.Handle("GET /accounts/{id}", s.api(s.handleGetAccount))
	mux.Handle("DELETE /accounts/{id}", s.api(s.handleDeleteAccount))

	mux.Handle("GET /transactions", s.api(s.handleListTransactions))
	mux.Handle("POST /transactions", s.api(s.handlePostTransaction))

	mux.Handle("GET /bills", s.api(s.handleListBills))
	mux.Handle("POST /bills", s.api(s.handleCreateBill))
	mux.Handle("GET /bills/{id}", s.api(s.handleGetBill))
	mux.Handle("PATCH /bills/{id}", s.api(s.handleUpdateBill))
	mux.Handle("DELETE /bills/{id}", s.api(s.handleDeleteBill))
	mux.Handle("POST /bills/{id}/cancel", s.api(s.handleCancelBill))
	mux.Handle("POST /bills/{id}/pay", s.api(s.handlePayBill))

	mux.Handle("GET /budgets", s.api(s.handleListBudgets))
	mux.Handle("POST /budgets", s.api(s.handleCreateBudget))
	mux.Handle("GET /budgets/{id}", s.api(s.handleGetBudget))
	mux.Handle("PATCH /budgets/{id}", s.api(s.handleUpdateBudget))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = mux
	handler = headers.Middleware(handler)
	handler = s.tracer.Middleware(handler)
	handler = log.Middleware(s.logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// authedHandler receives the resolved principal.
type authedHandler func(w http.ResponseWriter, r *http.Request, principal int64)

// api wraps h with the rate limiter, principal extraction and the request
// deadline.
func (s *Server) api(h authedHandler) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := ParsePrincipal(r)
		if err != nil {
			WriteErrorBody(w, http.StatusUnauthorized, codeUnauthenticated, "A valid "+HeaderUserID+" header is required.")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		h(w, r.WithContext(ctx), principal)
	})
	return s.limiter.Middleware(s.rateLimitKey, s.onRateLimited)(inner)
}

func (s *Server) rateLimitKey(r *http.Request) string {
	if id := principalOrZero(r); id != 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return "ip:" + s.clientIP.Extract(r)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request, retry int) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldPath, r.URL.Path,
		log.FieldUserID, principalOrZero(r),
		log.FieldClientIP, s.clientIP.Extract(r))
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	WriteErrorBody(w, http.StatusTooManyRequests, codeRateLimited, "Rate limit exceeded. Please try again later.")
}

// Metrics exposes the tracing counters.
func (s *Server) Metrics() trace.Metrics {
	return s.tracer.GetMetrics()
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.tracer.GetMetrics()
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"requests":      m.TotalRequests,
		"server_errors": m.ServerErrors,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.svc.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.DB.Ping(ctx); err != nil {
			log.LogError(r.Context(), "Readiness check failed", err, "readyz", nil)
			WriteErrorBody(w, http.StatusServiceUnavailable, codeNotReady, "Database is not reachable.")
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
