package rpc

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"subledger/native/subscription"
	"subledger/rpc/middleware"
	"subledger/storage/journal"
)

// Ledger is the transactional surface the API drives.
type Ledger interface {
	// Do runs fn atomically and commits its effects.
	Do(ctx context.Context, op string, fn func(*subscription.Engine) error) error
	// View runs read-only calls against the engine.
	View(fn func(*subscription.Engine) error) error
	// Attach builds the call context for caller with amount as attached value
	// where the asset requires it.
	Attach(caller [20]byte, amount *big.Int) subscription.Call
	Asset() string
	Custody() [20]byte
	WalletBalance(account [20]byte) (*big.Int, error)
	Approve(ctx context.Context, owner [20]byte, amount *big.Int) error
	RecordOwner(id uint64) ([20]byte, bool, error)
}

// EntrySource serves journal backlog to stream subscribers.
type EntrySource interface {
	List(ctx context.Context, after uint64, limit int) ([]journal.Entry, error)
}

type Config struct {
	ServiceName string
	Auth        middleware.AuthConfig
	RateLimit   middleware.RateLimit
}

// Server exposes the ledger over HTTP.
type Server struct {
	ledger Ledger
	hub    *Hub
	logger *slog.Logger
	router chi.Router
}

func NewServer(cfg Config, ledger Ledger, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "subledgerd"
	}
	s := &Server{ledger: ledger, hub: hub, logger: logger}

	auth := middleware.NewAuthenticator(cfg.Auth, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{"api": cfg.RateLimit}, logger)
	obs := middleware.NewObservability(cfg.ServiceName, logger)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Use(obs.Middleware("api"))
		v.Use(limiter.Middleware("api"))

		v.Get("/ledger", s.handleLedger)
		v.Get("/subscriptions/{account}", s.handleSubscription)
		v.Get("/rewards/{account}", s.handleRewardBalance)
		v.Get("/referral-codes/{code}", s.handleReferralCode)
		v.Get("/records/{id}", s.handleRecordOwner)
		v.Get("/balances/{account}", s.handleWalletBalance)
		v.Get("/events/ws", s.handleEventsWS)

		v.Group(func(m chi.Router) {
			m.Use(auth.Middleware())
			m.Post("/purchase", s.handlePurchase)
			m.Post("/grant", s.handleGrant)
			m.Post("/refund", s.handleRefund)
			m.Post("/withdraw", s.handleWithdraw)
			m.Post("/transfer-balances", s.handleTransferBalances)
			m.Post("/fees/transfer", s.handleTransferFees)
			m.Post("/rewards/withdraw", s.handleWithdrawRewards)
			m.Post("/rewards/slash", s.handleSlash)
			m.Post("/records/transfer", s.handleRecordTransfer)
			m.Post("/token/approve", s.handleApprove)

			m.Route("/admin", func(a chi.Router) {
				a.Post("/pause", s.handlePause)
				a.Post("/unpause", s.handleUnpause)
				a.Post("/supply-cap", s.handleSupplyCap)
				a.Post("/transfer-recipient", s.handleTransferRecipient)
				a.Post("/metadata", s.handleMetadata)
				a.Post("/referral-codes", s.handleCreateReferralCode)
				a.Post("/referral-codes/delete", s.handleDestroyReferralCode)
				a.Post("/owner", s.handleTransferOwnership)
				a.Post("/fee-recipient", s.handleFeeRecipient)
				a.Post("/fees/renounce", s.handleRenounceFees)
			})
		})
	})
	s.router = r
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "subledger.api")
}

// ServeHTTP implements http.Handler without the otelhttp wrapper.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
