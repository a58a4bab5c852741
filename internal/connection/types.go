package connection

import (
	"errors"
	"time"

	"github.com/solvys-technologies/pulse-sub000/internal/retry"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrStaleConnection    = errors.New("connection stale (no traffic)")
	ErrTimeout            = errors.New("operation timeout")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrUnauthorized       = errors.New("hub rejected token")
	ErrHandshakeRejected  = errors.New("hub handshake rejected")
	ErrHubClosed          = errors.New("hub closed connection")
	ErrInvocationFailed   = errors.New("hub invocation failed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrDisconnected       = errors.New("stream disconnected")
)

// HubKind identifies which broker hub a stream is attached to.
type HubKind string

const (
	HubMarket HubKind = "market"
	HubUser   HubKind = "user"
)

// State is the lifecycle state of a Stream.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateTerminated   State = "terminated"
)

// ClientConfig configures a hub client.
type ClientConfig struct {
	URL              string        // Hub URL (e.g., wss://rtc.topstepx.com/hubs/market)
	Token            string        // Bearer token, sent as access_token and Authorization
	HandshakeTimeout time.Duration // Dial plus SignalR handshake
	InvokeTimeout    time.Duration // Wait for an invocation completion
	PingInterval     time.Duration // Keepalive ping cadence
	PingTimeout      time.Duration // Max time without inbound traffic before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Event channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		InvokeTimeout:    10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	Kind                 HubKind
	URL                  string
	Client               ClientConfig
	ReconnectBaseWait    time.Duration // Base for the reconnect delay schedule
	ReconnectMaxWait     time.Duration // Cap for any single reconnect delay
	MaxReconnectAttempts int           // Attempts before the stream terminates
	EventBufferSize      int           // Buffer size for the output event channel
	Retry                retry.Policy  // Applied to the initial Connect dial
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig(kind HubKind, url string) StreamConfig {
	return StreamConfig{
		Kind:                 kind,
		URL:                  url,
		Client:               DefaultClientConfig(),
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     60 * time.Second,
		MaxReconnectAttempts: 10,
		EventBufferSize:      1000,
		Retry:                retry.DefaultPolicy(),
	}
}

// StreamStatus is a point-in-time snapshot of a Stream.
type StreamStatus struct {
	Kind           HubKind    `json:"kind"`
	State          State      `json:"state"`
	Attempt        int        `json:"attempt"`
	LastError      string     `json:"lastError,omitempty"`
	ConnectedSince *time.Time `json:"connectedSince,omitempty"`
	Topics         []Topic    `json:"topics"`
	DroppedEvents  int64      `json:"droppedEvents"`
}

// ReconnectDelay returns the wait before reconnect attempt n (1-based):
// zero for the first attempt, then min(base*2^(n-1), maxWait).
func ReconnectDelay(attempt int, base, maxWait time.Duration) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxWait || delay <= 0 {
			return maxWait
		}
	}
	return delay
}
