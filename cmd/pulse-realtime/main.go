// pulse-realtime serves realtime broker sessions over HTTP.
// Usage: go run ./cmd/pulse-realtime --config configs/realtime.example.yaml
//
// Without --config the built-in defaults are used and no broker credential
// is configured.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/broker"
	"github.com/solvys-technologies/pulse-sub000/internal/config"
	"github.com/solvys-technologies/pulse-sub000/internal/contract"
	"github.com/solvys-technologies/pulse-sub000/internal/database"
	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/server"
	"github.com/solvys-technologies/pulse-sub000/internal/session"
	"github.com/solvys-technologies/pulse-sub000/internal/telemetry"
	"github.com/solvys-technologies/pulse-sub000/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	envErr := godotenv.Load(*envPath)

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		slog.Error("invalid log config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting pulse-realtime",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)
	if envErr != nil && !os.IsNotExist(envErr) {
		logger.Warn("failed to load env file", "path", *envPath, "error", envErr)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("pulse-realtime failed", "error", err)
		os.Exit(1)
	}
	logger.Info("pulse-realtime stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := telemetry.Init(telemetryConfig(cfg)); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	m := metrics.New(cfg.Metrics.Namespace)

	creds, err := credentials(cfg.Broker)
	if err != nil {
		return err
	}
	if creds.Default.Empty() && len(creds.Users) == 0 {
		logger.Warn("no broker credentials configured; session starts will fail")
	}

	// Broker REST client and token cache
	brokerClient := broker.NewClient(cfg.Broker.RestURL,
		broker.WithTimeout(cfg.Broker.Timeout),
		broker.WithRetryPolicy(retryPolicy(cfg.Retry)),
		broker.WithLogger(logger),
		broker.WithMetrics(m),
	)
	tokens := auth.NewTokenCache(auth.CacheConfig{Validity: cfg.Token.Validity}, brokerClient, logger, m)
	resolver := contract.NewResolver(contractConfig(cfg), brokerClient, tokens, logger, m)

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithVerifier(session.BrokerVerifier{Accounts: brokerClient, Tokens: tokens}),
	}

	// Optional session journal
	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db)
		if err != nil {
			return err
		}
		defer pool.Close()

		journal := database.NewJournal(pool, logger)
		if err := journal.EnsureSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, session.WithJournal(journal))
		logger.Info("journal database connected")
	}

	registry := session.NewRegistry(sessionConfig(cfg), creds, tokens, opts...)

	janitor := session.NewJanitor(session.JanitorConfig{Interval: cfg.Sessions.JanitorInterval}, registry, logger)
	if err := janitor.Start(ctx); err != nil {
		return err
	}

	srv := server.New(serverConfig(cfg), registry, resolver, creds, m, logger)
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.ListenAndServe()
	}()

	logger.Info("pulse-realtime running",
		"addr", cfg.Server.Addr,
		"market_hub", cfg.Broker.MarketHubURL,
		"user_hub", cfg.Broker.UserHubURL,
		"journal", cfg.Journal.Enabled,
		"tracing", cfg.Telemetry.TracingEnabled,
	)

	// Wait for shutdown
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		if runErr != nil {
			logger.Error("http server error", "error", runErr)
		}
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", "error", err)
	}
	if err := janitor.Stop(shutdownCtx); err != nil {
		logger.Warn("janitor stop failed", "error", err)
	}
	registry.Clear(shutdownCtx)
	tokens.Clear()
	resolver.Clear()

	return runErr
}
