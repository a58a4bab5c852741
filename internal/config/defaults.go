package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServerAddr           = ":8080"
	DefaultUser                 = "default"
	DefaultReadTimeout          = 15 * time.Second
	DefaultWriteTimeout         = 15 * time.Second
	DefaultShutdownTimeout      = 30 * time.Second
	DefaultRestURL              = "https://api.topstepx.com"
	DefaultMarketHubURL         = "https://rtc.topstepx.com/hubs/market"
	DefaultUserHubURL           = "https://rtc.topstepx.com/hubs/user"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxAttempts          = 3
	DefaultInitialDelay         = 1 * time.Second
	DefaultMaxDelay             = 30 * time.Second
	DefaultMultiplier           = 2.0
	DefaultTokenValidity        = 23 * time.Hour
	DefaultContractTTL          = 1 * time.Hour
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 60 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultInvokeTimeout        = 10 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultHubWriteTimeout      = 5 * time.Second
	DefaultEventBufferSize      = 1000
	DefaultQueueCapacity        = 100
	DefaultIdleTimeout          = 30 * time.Minute
	DefaultStartTimeout         = 30 * time.Second
	DefaultJanitorInterval      = 10 * time.Minute
	DefaultPollLimit            = 50
	DefaultMaxPollLimit         = 500
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultServiceName          = "pulse-realtime"
	DefaultMetricsPath          = "/metrics"
	DefaultMetricsNamespace     = "pulse_realtime"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.DefaultUser == "" {
		c.Server.DefaultUser = DefaultUser
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Broker defaults
	if c.Broker.RestURL == "" {
		c.Broker.RestURL = DefaultRestURL
	}
	if c.Broker.MarketHubURL == "" {
		c.Broker.MarketHubURL = DefaultMarketHubURL
	}
	if c.Broker.UserHubURL == "" {
		c.Broker.UserHubURL = DefaultUserHubURL
	}
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = DefaultAPITimeout
	}

	// Retry defaults
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if c.Retry.InitialDelay == 0 {
		c.Retry.InitialDelay = DefaultInitialDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = DefaultMultiplier
	}

	if c.Token.Validity == 0 {
		c.Token.Validity = DefaultTokenValidity
	}
	if c.Contracts.TTL == 0 {
		c.Contracts.TTL = DefaultContractTTL
	}

	// Streams defaults
	if c.Streams.ReconnectBaseDelay == 0 {
		c.Streams.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Streams.ReconnectMaxDelay == 0 {
		c.Streams.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Streams.MaxReconnectAttempts == 0 {
		c.Streams.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Streams.HandshakeTimeout == 0 {
		c.Streams.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Streams.InvokeTimeout == 0 {
		c.Streams.InvokeTimeout = DefaultInvokeTimeout
	}
	if c.Streams.PingInterval == 0 {
		c.Streams.PingInterval = DefaultPingInterval
	}
	if c.Streams.PingTimeout == 0 {
		c.Streams.PingTimeout = DefaultPingTimeout
	}
	if c.Streams.WriteTimeout == 0 {
		c.Streams.WriteTimeout = DefaultHubWriteTimeout
	}
	if c.Streams.EventBufferSize == 0 {
		c.Streams.EventBufferSize = DefaultEventBufferSize
	}

	// Sessions defaults
	if c.Sessions.QueueCapacity == 0 {
		c.Sessions.QueueCapacity = DefaultQueueCapacity
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = DefaultIdleTimeout
	}
	if c.Sessions.StartTimeout == 0 {
		c.Sessions.StartTimeout = DefaultStartTimeout
	}
	if c.Sessions.JanitorInterval == 0 {
		c.Sessions.JanitorInterval = DefaultJanitorInterval
	}
	if c.Sessions.DefaultPollLimit == 0 {
		c.Sessions.DefaultPollLimit = DefaultPollLimit
	}
	if c.Sessions.MaxPollLimit == 0 {
		c.Sessions.MaxPollLimit = DefaultMaxPollLimit
	}

	// Journal defaults
	applyDBDefaults(&c.Journal.Database)

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
