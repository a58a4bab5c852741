package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.DefaultUser == "" {
		return errors.New("server.default_user is required")
	}

	if err := validateURL("broker.rest_url", c.Broker.RestURL); err != nil {
		return err
	}
	if err := validateURL("broker.market_hub_url", c.Broker.MarketHubURL); err != nil {
		return err
	}
	if err := validateURL("broker.user_hub_url", c.Broker.UserHubURL); err != nil {
		return err
	}
	if (c.Broker.Username == "") != (c.Broker.APIKey == "") {
		return errors.New("broker.username and broker.api_key must be set together")
	}
	for user, cred := range c.Broker.Users {
		if cred.Username == "" || cred.APIKey == "" {
			return fmt.Errorf("broker.users.%s requires username and api_key", user)
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return errors.New("retry.max_delay cannot be less than retry.initial_delay")
	}

	if c.Token.Validity <= 0 {
		return errors.New("token.validity must be positive")
	}
	if c.Contracts.TTL <= 0 {
		return errors.New("contracts.ttl must be positive")
	}

	if c.Streams.MaxReconnectAttempts < 1 {
		return errors.New("streams.max_reconnect_attempts must be >= 1")
	}
	if c.Streams.ReconnectMaxDelay < c.Streams.ReconnectBaseDelay {
		return errors.New("streams.reconnect_max_delay cannot be less than streams.reconnect_base_delay")
	}
	if c.Streams.PingTimeout <= c.Streams.PingInterval {
		return errors.New("streams.ping_timeout must exceed streams.ping_interval")
	}

	if c.Sessions.QueueCapacity < 1 {
		return errors.New("sessions.queue_capacity must be >= 1")
	}
	if c.Sessions.DefaultPollLimit < 1 {
		return errors.New("sessions.default_poll_limit must be >= 1")
	}
	if c.Sessions.MaxPollLimit < c.Sessions.DefaultPollLimit {
		return fmt.Errorf("sessions.max_poll_limit (%d) cannot be less than default_poll_limit (%d)",
			c.Sessions.MaxPollLimit, c.Sessions.DefaultPollLimit)
	}

	if c.Journal.Enabled {
		if err := c.Journal.Database.validate("journal.database"); err != nil {
			return err
		}
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json; got %q", c.Log.Format)
	}

	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("%s has unsupported scheme %q", name, u.Scheme)
	}
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
