package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	protocol "humanebanque/config"
	"humanebanque/core/events"
	"humanebanque/core/pricing"
	"humanebanque/core/state"
	"humanebanque/native/lending"
	"humanebanque/observability"
	"humanebanque/observability/logging"
	telemetry "humanebanque/observability/otel"
	"humanebanque/services/identity"
	"humanebanque/services/lendingd/config"
	"humanebanque/services/lendingd/indexer"
	"humanebanque/services/lendingd/keeper"
	"humanebanque/services/lendingd/server"
	"humanebanque/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("HUMANEBANQUE_ENV"))
	logger := logging.SetupWithOptions("lendingd", env, logging.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	})

	endpoint := cfg.Telemetry.Endpoint
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	proto, err := protocol.Load(cfg.ProtocolPath)
	if err != nil {
		log.Fatalf("load protocol: %v", err)
	}
	settings, err := proto.Settings()
	if err != nil {
		log.Fatalf("protocol settings: %v", err)
	}
	engine, err := lending.NewEngine(settings)
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	db, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	manager := state.NewManager(db)
	defer manager.Close()
	engine.SetState(manager)

	verifier, err := identity.NewClient(identity.Config{
		BaseURL:   cfg.Identity.BaseURL,
		AppID:     cfg.Identity.AppID,
		UserAgent: "lendingd",
		Timeout:   cfg.Identity.Timeout,
	})
	if err != nil {
		log.Fatalf("identity client: %v", err)
	}
	engine.SetIdentityOracle(verifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed := proto.TWAPFeed()
	if dsn := strings.TrimSpace(proto.Pricing.SampleDSN); dsn != "" {
		store, err := pricing.OpenSQLStore(dsn)
		if err != nil {
			log.Fatalf("open price store: %v", err)
		}
		defer store.Close()
		feed.SetStore(store)
		if err := feed.Restore(ctx); err != nil {
			log.Fatalf("restore price samples: %v", err)
		}
	}
	engine.SetPriceFeed(feed)

	indexDB, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN)
	if err != nil {
		log.Fatalf("open indexer: %v", err)
	}
	idx := indexer.New(indexDB, logger, 1024)
	go idx.Run(ctx)

	broadcaster := events.NewBroadcaster(64)
	engine.SetEmitter(events.Multi{broadcaster, observability.Lending(), idx})

	if err := proto.Bootstrap(ctx, engine, feed, time.Now(), logger); err != nil {
		log.Fatalf("bootstrap protocol: %v", err)
	}

	if cfg.Keeper.Enabled {
		k := keeper.New(engine, cfg.Keeper.Interval, logger)
		go k.Run(ctx)
	}

	srv := server.New(server.Config{
		Engine:  engine,
		Indexer: idx,
		Events:  broadcaster,
		Prices:  feed,
		Auth: server.AuthConfig{
			Secret:       cfg.Auth.Secret(),
			Issuer:       cfg.Auth.Issuer,
			Audience:     cfg.Auth.Audience,
			ClockSkew:    cfg.Auth.ClockSkew,
			SignatureTTL: cfg.Auth.AdminSignatureTTL,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		ExportDir: cfg.Indexer.ExportDir,
		Logger:    logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Handler(), "lendingd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", slog.String("addr", cfg.ListenAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "leveldb":
		return storage.NewLevelDB(cfg.Path)
	case "bolt":
		return storage.NewBoltDB(cfg.Path)
	default:
		return storage.NewMemDB(), nil
	}
}
