package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stakeledger/native/staking"
	"stakeledger/observability/metrics"
	"stakeledger/services/stakingd/journal"
)

// Ledger is the staking engine surface served over HTTP.
type Ledger interface {
	AddPool(caller common.Address, params staking.PoolParams) (uint64, error)
	AddPoolReward(caller common.Address, poolID uint64, amount *uint256.Int) error
	StopReward(caller common.Address, poolID uint64) error
	SetPoolStakeLimit(caller common.Address, poolID uint64, limit *uint256.Int) error
	UpdateAccrual(poolID uint64) error
	Deposit(caller common.Address, amount *uint256.Int, poolID uint64) (*uint256.Int, error)
	Withdraw(caller common.Address, amount *uint256.Int, poolID uint64) (*uint256.Int, error)
	ClaimReward(caller common.Address, poolID uint64) (*uint256.Int, error)
	EmergencyWithdraw(caller common.Address, poolID uint64) (*uint256.Int, error)
	PreviewPendingReward(user common.Address, poolID uint64) (*uint256.Int, error)
	GetUserPosition(user common.Address, poolID uint64) (*staking.PositionView, error)
	PoolCount() (uint64, error)
	GetPool(poolID uint64) (*staking.Pool, error)
	ListPools() ([]*staking.Pool, error)
	Meta() (*staking.Meta, error)
	SetVersionTag(caller common.Address, tag uint64) error
	SweepStrandedAsset(caller common.Address, asset string, amount *uint256.Int, recipient common.Address) error
}

// Bank exposes balances and, in development, minting.
type Bank interface {
	Balance(asset string, account common.Address) (*uint256.Int, error)
	Mint(asset string, account common.Address, amount *uint256.Int) error
}

// EventSource lists journaled events.
type EventSource interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Record, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger    Ledger
	Bank      Bank
	Events    EventSource
	Auth      *Authenticator
	RateLimit *RateLimiter
	Admins    staking.AdminAuthority
	// Faucet mounts the development minting endpoint.
	Faucet bool
	Logger *slog.Logger
	// Ready reports storage health for /healthz.
	Ready func(ctx context.Context) error
	// Metrics defaults to the process-wide API metrics.
	Metrics *metrics.HTTPMetrics
}

// Server serves the staking ledger over HTTP. Mutations are serialised so
// concurrent requests never trip the engine's reentrancy guard.
type Server struct {
	ledger  Ledger
	bank    Bank
	events  EventSource
	auth    *Authenticator
	limiter *RateLimiter
	admins  staking.AdminAuthority
	faucet  bool
	logger  *slog.Logger
	ready   func(ctx context.Context) error
	mu      sync.RWMutex
	metrics *metrics.HTTPMetrics
	router  http.Handler
}

// New constructs the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth := cfg.Auth
	if auth == nil {
		auth = NewAuthenticator(AuthConfig{})
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.HTTP()
	}
	s := &Server{
		ledger:  cfg.Ledger,
		bank:    cfg.Bank,
		events:  cfg.Events,
		auth:    auth,
		limiter: cfg.RateLimit,
		admins:  cfg.Admins,
		faucet:  cfg.Faucet && cfg.Bank != nil,
		logger:  logger.With("component", "stakingd.http"),
		ready:   cfg.Ready,
		metrics: m,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router wrapped in tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "stakingd")
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestContext(s.logger))
	r.Use(chimw.RealIP)
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/pools", s.handleListPools)
			public.Get("/pools/count", s.handlePoolCount)
			public.Get("/pools/{id}", s.handleGetPool)
			public.Get("/pools/{id}/positions/{addr}", s.handleGetPosition)
			public.Get("/pools/{id}/pending/{addr}", s.handlePending)
			public.Get("/meta", s.handleMeta)
			if s.events != nil {
				public.Get("/events", s.handleEvents)
			}
			if s.bank != nil {
				public.Get("/balances/{asset}/{addr}", s.handleBalance)
			}
		})

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware)
			protected.Post("/pools", s.handleAddPool)
			protected.Post("/pools/{id}/rewards", s.handleAddReward)
			protected.Post("/pools/{id}/stop", s.handleStop)
			protected.Post("/pools/{id}/stake-limit", s.handleStakeLimit)
			protected.Post("/pools/{id}/deposit", s.handleDeposit)
			protected.Post("/pools/{id}/withdraw", s.handleWithdraw)
			protected.Post("/pools/{id}/claim", s.handleClaim)
			protected.Post("/pools/{id}/emergency-withdraw", s.handleEmergencyWithdraw)
			protected.Post("/pools/{id}/accrue", s.handleAccrue)
			protected.Post("/admin/sweep", s.handleSweep)
			protected.Post("/admin/version-tag", s.handleVersionTag)
			if s.faucet {
				protected.Post("/admin/faucet", s.handleFaucet)
			}
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, r, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mutate runs fn under the write lock.
func (s *Server) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// read runs fn under the read lock.
func (s *Server) read(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn()
}
