package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/config"
	"github.com/solvys-technologies/pulse-sub000/internal/connection"
	"github.com/solvys-technologies/pulse-sub000/internal/contract"
	"github.com/solvys-technologies/pulse-sub000/internal/retry"
	"github.com/solvys-technologies/pulse-sub000/internal/server"
	"github.com/solvys-technologies/pulse-sub000/internal/session"
	"github.com/solvys-technologies/pulse-sub000/internal/telemetry"
	"github.com/solvys-technologies/pulse-sub000/internal/version"
)

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = cfg.MaxAttempts
	p.InitialDelay = cfg.InitialDelay
	p.MaxDelay = cfg.MaxDelay
	p.Multiplier = cfg.Multiplier
	return p
}

func streamConfig(kind connection.HubKind, url string, cfg *config.Config) connection.StreamConfig {
	sc := connection.DefaultStreamConfig(kind, url)
	sc.ReconnectBaseWait = cfg.Streams.ReconnectBaseDelay
	sc.ReconnectMaxWait = cfg.Streams.ReconnectMaxDelay
	sc.MaxReconnectAttempts = cfg.Streams.MaxReconnectAttempts
	sc.EventBufferSize = cfg.Streams.EventBufferSize
	sc.Retry = retryPolicy(cfg.Retry)

	sc.Client.HandshakeTimeout = cfg.Streams.HandshakeTimeout
	sc.Client.InvokeTimeout = cfg.Streams.InvokeTimeout
	sc.Client.PingInterval = cfg.Streams.PingInterval
	sc.Client.PingTimeout = cfg.Streams.PingTimeout
	sc.Client.WriteTimeout = cfg.Streams.WriteTimeout
	sc.Client.BufferSize = cfg.Streams.EventBufferSize
	return sc
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Market:        streamConfig(connection.HubMarket, cfg.Broker.MarketHubURL, cfg),
		User:          streamConfig(connection.HubUser, cfg.Broker.UserHubURL, cfg),
		QueueCapacity: cfg.Sessions.QueueCapacity,
		IdleTimeout:   cfg.Sessions.IdleTimeout,
		StartTimeout:  cfg.Sessions.StartTimeout,
		VerifyAccount: cfg.Sessions.VerifyAccount,
	}
}

func contractConfig(cfg *config.Config) contract.Config {
	return contract.Config{
		TTL:     cfg.Contracts.TTL,
		Symbols: cfg.Contracts.Symbols,
	}
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Addr:             cfg.Server.Addr,
		DefaultUser:      cfg.Server.DefaultUser,
		DefaultPollLimit: cfg.Sessions.DefaultPollLimit,
		MaxPollLimit:     cfg.Sessions.MaxPollLimit,
		MetricsPath:      cfg.Metrics.Path,
		LiveContracts:    cfg.Contracts.Live,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		Debug:            strings.EqualFold(cfg.Log.Level, "debug"),
	}
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.Telemetry.TracingEnabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version,
		PrettyPrint:    cfg.Telemetry.PrettyPrint,
	}
}

// credentials builds the credential table. A broker section without a
// user name leaves the default user without a credential.
func credentials(cfg config.BrokerConfig) (session.StaticCredentials, error) {
	creds := session.StaticCredentials{Users: make(map[string]auth.Credential, len(cfg.Users))}

	if cfg.Username != "" || cfg.APIKey != "" {
		cred, err := auth.NewCredential(cfg.Username, cfg.APIKey)
		if err != nil {
			return session.StaticCredentials{}, fmt.Errorf("default credential: %w", err)
		}
		creds.Default = cred
	}

	for user, uc := range cfg.Users {
		cred, err := auth.NewCredential(uc.Username, uc.APIKey)
		if err != nil {
			return session.StaticCredentials{}, fmt.Errorf("credential for user %q: %w", user, err)
		}
		creds.Users[user] = cred
	}
	return creds, nil
}
