package ledgerd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"subledger/config"
	"subledger/core/events"
	"subledger/observability/logging"
	telemetry "subledger/observability/otel"
	"subledger/rpc"
	"subledger/rpc/middleware"
	"subledger/storage"
	"subledger/storage/journal"
)

// Main initialises and runs the ledger daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/ledgerd/config.yaml", "path to ledgerd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("SUBLEDGER_ENV"))
	}
	logger := logging.Setup("ledgerd", env, logging.File{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ledgerCfg, err := config.Load(cfg.LedgerConfig)
	if err != nil {
		return fmt.Errorf("load ledger config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	j, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()
	if err := j.Verify(context.Background()); err != nil {
		return fmt.Errorf("verify journal: %w", err)
	}
	logger.Info("journal opened", "driver", cfg.Journal.Driver, logging.MaskField("dsn", cfg.Journal.DSN))

	hub := rpc.NewHub(j)
	journalEmitter := journal.NewEmitter(j, logger)
	journalEmitter.OnAppend = hub.Publish

	svc, err := New(Options{
		DB:     db,
		Ledger: ledgerCfg,
		Sink:   events.NewFanout(journalEmitter),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	server := rpc.NewServer(rpc.Config{
		ServiceName: "ledgerd",
		Auth: middleware.AuthConfig{
			Enabled:    !cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
		},
	}, svc, hub, logger)

	// No WriteTimeout: the event stream holds its connection open.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", "addr", cfg.ListenAddress, "asset", svc.Asset())
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		logger.Info("ledgerd stopped")
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
