package server

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"humanebanque/core/events"
	"humanebanque/crypto"
	"humanebanque/native/lending"
	"humanebanque/services/lendingd/indexer"
)

// PriceObserver accepts operator price observations.
type PriceObserver interface {
	Observe(ctx context.Context, asset crypto.Address, value *big.Int, source string, at time.Time) error
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    *lending.Engine
	Indexer   *indexer.Indexer
	Events    *events.Broadcaster
	Prices    PriceObserver
	Auth      AuthConfig
	RateLimit RateLimit
	ExportDir string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Server exposes the lending engine over HTTP.
type Server struct {
	engine    *lending.Engine
	indexer   *indexer.Indexer
	events    *events.Broadcaster
	prices    PriceObserver
	exportDir string
	logger    *slog.Logger
	now       func() time.Time
	auth      *authenticator
	limiter   *rateLimiter

	router http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ExportDir == "" {
		cfg.ExportDir = "exports"
	}
	srv := &Server{
		engine:    cfg.Engine,
		indexer:   cfg.Indexer,
		events:    cfg.Events,
		prices:    cfg.Prices,
		exportDir: cfg.ExportDir,
		logger:    cfg.Logger,
		now:       cfg.Now,
		auth:      newAuthenticator(cfg.Auth, cfg.Now),
		limiter:   newRateLimiter(cfg.RateLimit, cfg.Now),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(instrument(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.With(s.limiter.middleware).Post("/api/verify", s.verifyProof)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.limiter.middleware)

		api.Get("/protocol", s.getProtocol)
		api.Get("/markets", s.listMarkets)
		api.Get("/markets/{maturity}", s.getMarket)
		api.Get("/markets/{maturity}/orderbook", s.getOrderBook)
		api.Get("/markets/{maturity}/loans", s.listLoans)
		api.Post("/markets/{maturity}/auction", s.runAuction)
		api.Post("/markets/{maturity}/sweep", s.sweepDefaults)
		api.Get("/offers/{id}", s.getOffer)
		api.Get("/requests/{id}", s.getRequest)
		api.Get("/loans/{id}", s.getLoan)
		api.Post("/loans/{id}/liquidate", s.liquidate)
		api.Get("/blacklist/{nullifier}", s.getBlacklisted)
		api.Get("/balances/{asset}/{owner}", s.getBalance)
		api.Get("/portfolio/{address}", s.getPortfolio)
		api.Get("/events", s.listEvents)
		api.Get("/events/ws", s.streamEvents)

		api.Group(func(user chi.Router) {
			user.Use(s.auth.requireUser)
			user.Post("/offers", s.submitOffer)
			user.Post("/requests", s.submitRequest)
			user.Post("/approvals", s.approve)
			user.Post("/loans/{id}/claim", s.claimLoan)
			user.Post("/loans/{id}/repay", s.repayLoan)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.requireSigner)
			admin.Post("/markets", s.addMarket)
			admin.Post("/collateral", s.setCollateral)
			admin.Post("/ltv", s.setLTV)
			admin.Post("/blacklist", s.setBlacklisted)
			admin.Post("/pause", s.setPaused)
			admin.Post("/mint", s.mint)
			admin.Post("/prices", s.observePrice)
			admin.Post("/loans/{id}/default", s.markDefault)
			admin.Post("/pool/initialize", s.initializePool)
			admin.Post("/exports", s.exportLoans)
		})
	})
	return r
}
