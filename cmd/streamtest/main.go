// streamtest resolves a futures symbol, opens a market hub stream and
// prints the decoded events to the console.
// Usage: go run ./cmd/streamtest --config configs/realtime.example.yaml --symbol ES
//
// Required environment variables (referenced by the example config):
//
//	PULSE_BROKER_USERNAME - Broker user name
//	PULSE_BROKER_API_KEY  - Broker API key
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/broker"
	"github.com/solvys-technologies/pulse-sub000/internal/config"
	"github.com/solvys-technologies/pulse-sub000/internal/connection"
	"github.com/solvys-technologies/pulse-sub000/internal/contract"
	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
	"github.com/solvys-technologies/pulse-sub000/internal/retry"
)

func main() {
	configPath := flag.String("config", "configs/realtime.example.yaml", "path to config file")
	symbol := flag.String("symbol", "ES", "futures symbol to stream")
	live := flag.Bool("live", false, "resolve against live contracts")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	_ = godotenv.Load()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.Resolve(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	cred, err := auth.NewCredential(cfg.Broker.Username, cfg.Broker.APIKey)
	if err != nil {
		logger.Error("broker credential required",
			"username_set", cfg.Broker.Username != "",
			"api_key_set", cfg.Broker.APIKey != "",
		)
		logger.Info("Set environment variables: PULSE_BROKER_USERNAME and PULSE_BROKER_API_KEY")
		os.Exit(1)
	}
	logger.Info("using broker credential", "credential", cred)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	m := metrics.New(cfg.Metrics.Namespace)
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.InitialDelay = cfg.Retry.InitialDelay
	policy.MaxDelay = cfg.Retry.MaxDelay
	policy.Multiplier = cfg.Retry.Multiplier

	brokerClient := broker.NewClient(cfg.Broker.RestURL,
		broker.WithTimeout(cfg.Broker.Timeout),
		broker.WithRetryPolicy(policy),
		broker.WithLogger(logger),
		broker.WithMetrics(m),
	)
	tokens := auth.NewTokenCache(auth.CacheConfig{Validity: cfg.Token.Validity}, brokerClient, logger, m)
	resolver := contract.NewResolver(contract.Config{TTL: cfg.Contracts.TTL, Symbols: cfg.Contracts.Symbols}, brokerClient, tokens, logger, m)

	// Resolve the front-month contract
	ct, err := resolver.Resolve(ctx, *symbol, *live, cred)
	if err != nil {
		logger.Error("failed to resolve contract", "symbol", *symbol, "error", err)
		os.Exit(1)
	}
	logger.Info("contract resolved",
		"symbol", *symbol,
		"contract", ct.ID,
		"name", ct.Name,
		"tick_size", ct.TickSize,
		"tick_value", ct.TickValue,
	)

	// Open the market stream
	streamCfg := connection.DefaultStreamConfig(connection.HubMarket, cfg.Broker.MarketHubURL)
	streamCfg.ReconnectBaseWait = cfg.Streams.ReconnectBaseDelay
	streamCfg.ReconnectMaxWait = cfg.Streams.ReconnectMaxDelay
	streamCfg.MaxReconnectAttempts = cfg.Streams.MaxReconnectAttempts
	streamCfg.Retry = policy

	stream := connection.NewStream(streamCfg, tokens.Bind(cred),
		connection.WithLogger(logger),
		connection.WithMetrics(m),
		connection.WithStateObserver(func(from, to connection.State) {
			fmt.Printf("[STATE] %s -> %s\n", from, to)
		}),
		connection.WithTerminalHandler(func(err error) {
			logger.Error("market stream terminated", "error", err)
			cancel()
		}),
	)

	logger.Info("connecting to market hub", "url", cfg.Broker.MarketHubURL)
	if err := stream.Connect(ctx); err != nil {
		logger.Error("failed to connect market hub", "error", err)
		os.Exit(1)
	}
	if err := stream.Subscribe(ctx, connection.ContractTopics(ct.ID)...); err != nil {
		logger.Warn("subscription incomplete", "error", err)
	}

	// Stats printer
	counts := make(map[model.EventKind]int)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logger.Info("streaming started - press Ctrl+C to stop")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-stream.Events():
			counts[ev.Kind]++
			printEvent(ev, *verbose)
		case <-ticker.C:
			st := stream.Status()
			logger.Info("stats",
				"state", st.State,
				"topics", len(st.Topics),
				"dropped", st.DroppedEvents,
				"quotes", counts[model.KindQuote],
				"trades", counts[model.KindTrade],
				"depth", counts[model.KindDepth],
			)
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	if err := stream.Disconnect(shutdownCtx); err != nil {
		logger.Warn("disconnect failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func printEvent(ev model.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev.Payload, "", "  ")
		fmt.Printf("[%s] %s %s\n", ev.Kind, ev.ContractID, data)
		return
	}

	switch p := ev.Payload.(type) {
	case model.Quote:
		fmt.Printf("[QUOTE] %s last=%s bid=%s ask=%s vol=%d\n",
			ev.ContractID, p.LastPrice, p.BestBid, p.BestAsk, p.Volume)
	case model.TradeBatch:
		for _, t := range p.Trades {
			side := "BUY"
			if t.Type == 1 {
				side = "SELL"
			}
			fmt.Printf("[TRADE] %s %s %d @ %s\n", ev.ContractID, side, t.Volume, t.Price)
		}
	case model.DepthUpdate:
		fmt.Printf("[DEPTH] %s levels=%d\n", ev.ContractID, len(p.Levels))
	default:
		fmt.Printf("[%s] %s\n", ev.Kind, ev.ContractID)
	}
}
