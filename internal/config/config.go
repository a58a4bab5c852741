// Package config loads the realtime service configuration.
package config

import "time"

// Config is the root configuration for the realtime service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Broker    BrokerConfig    `yaml:"broker"`
	Retry     RetryConfig     `yaml:"retry"`
	Token     TokenConfig     `yaml:"token"`
	Contracts ContractsConfig `yaml:"contracts"`
	Streams   StreamsConfig   `yaml:"streams"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Journal   JournalConfig   `yaml:"journal"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds the HTTP control surface settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	DefaultUser     string        `yaml:"default_user"` // Used when X-User-ID is absent
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BrokerConfig holds gateway endpoints and credentials.
type BrokerConfig struct {
	RestURL      string                      `yaml:"rest_url"`
	MarketHubURL string                      `yaml:"market_hub_url"`
	UserHubURL   string                      `yaml:"user_hub_url"`
	Username     string                      `yaml:"username"` // Default credential
	APIKey       string                      `yaml:"api_key"`
	Timeout      time.Duration               `yaml:"timeout"`
	Users        map[string]CredentialConfig `yaml:"users"` // Per-user overrides keyed by user id
}

// CredentialConfig is one broker login.
type CredentialConfig struct {
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
}

// RetryConfig holds the retry policy for remote calls.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// TokenConfig holds token cache settings.
type TokenConfig struct {
	Validity time.Duration `yaml:"validity"`
}

// ContractsConfig holds contract resolver settings.
type ContractsConfig struct {
	TTL     time.Duration     `yaml:"ttl"`
	Live    bool              `yaml:"live"`    // Default for requests that do not say
	Symbols map[string]string `yaml:"symbols"` // Symbol -> symbol id; empty uses built-in table
}

// StreamsConfig holds hub connection settings shared by both hubs.
type StreamsConfig struct {
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	InvokeTimeout        time.Duration `yaml:"invoke_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	EventBufferSize      int           `yaml:"event_buffer_size"`
}

// SessionsConfig holds session registry and janitor settings.
type SessionsConfig struct {
	QueueCapacity    int           `yaml:"queue_capacity"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	StartTimeout     time.Duration `yaml:"start_timeout"`
	JanitorInterval  time.Duration `yaml:"janitor_interval"`
	DefaultPollLimit int           `yaml:"default_poll_limit"`
	MaxPollLimit     int           `yaml:"max_poll_limit"`
	VerifyAccount    bool          `yaml:"verify_account"`
}

// JournalConfig holds the optional session journal.
type JournalConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Database DBConfig `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled"`
	ServiceName    string `yaml:"service_name"`
	PrettyPrint    bool   `yaml:"pretty_print"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
