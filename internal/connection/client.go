package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
	"github.com/solvys-technologies/pulse-sub000/internal/retry"
)

// Client represents a single SignalR hub connection.
type Client interface {
	// Connect dials the hub and completes the SignalR handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Invoke calls a hub method and waits for its completion.
	Invoke(ctx context.Context, target string, args ...any) error

	// Events returns decoded hub events.
	Events() <-chan model.Event

	// Errors returns connection-level failures. At most one is delivered.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn *websocket.Conn

	// Output channels
	events chan model.Event
	errors chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// Invocation correlation
	invocationID int64
	pendingMu    sync.Mutex
	pending      map[string]chan error

	// State
	mu         sync.RWMutex
	connected  bool
	lastSeenAt time.Time
	closed     bool
}

// NewClient creates a new hub client.
func NewClient(cfg ClientConfig, logger *slog.Logger, m *metrics.Metrics) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New("")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}

	return &client{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		events:  make(chan model.Event, cfg.BufferSize),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
		pending: make(map[string]chan error),
	}
}

// Connect dials the hub and completes the SignalR handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	target, err := hubURL(c.cfg.URL, c.cfg.Token)
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return classifyDialError(resp, err)
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastSeenAt = time.Now()
	c.mu.Unlock()

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("hub connected", "url", c.cfg.URL)

	return nil
}

// handshake sends the protocol selection and waits for the empty reply.
func (c *client) handshake(conn *websocket.Conn) error {
	req, err := encodeRecord(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("send handshake: %w", errors.Join(retry.ErrTransient, err))
	}

	conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", errors.Join(retry.ErrTransient, err))
	}
	conn.SetReadDeadline(time.Time{})

	// Records trailing the handshake reply in the same frame are not expected
	// before any subscription exists, so they are discarded.
	if _, err := decodeHandshake(data); err != nil {
		return err
	}
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	c.failPending(ErrNotConnected)

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		return conn.Close()
	}

	return nil
}

// Invoke calls a hub method and waits for its completion.
func (c *client) Invoke(ctx context.Context, target string, args ...any) error {
	if args == nil {
		args = []any{}
	}

	id := strconv.FormatInt(atomic.AddInt64(&c.invocationID, 1), 10)
	respCh := make(chan error, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := encodeRecord(outboundInvocation{
		Type:         msgInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    args,
	})
	if err != nil {
		return err
	}

	if err := c.send(data); err != nil {
		c.metrics.Invocations.WithLabelValues(target, "error").Inc()
		return fmt.Errorf("invoke %s: %w", target, err)
	}

	timer := time.NewTimer(c.cfg.InvokeTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		c.metrics.Invocations.WithLabelValues(target, "timeout").Inc()
		return fmt.Errorf("invoke %s: %w", target, ErrTimeout)
	case err := <-respCh:
		if err != nil {
			c.metrics.Invocations.WithLabelValues(target, "error").Inc()
			return fmt.Errorf("invoke %s: %w", target, err)
		}
		c.metrics.Invocations.WithLabelValues(target, "ok").Inc()
		return nil
	}
}

func (c *client) send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Events returns the events channel.
func (c *client) Events() <-chan model.Event {
	return c.events
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames, resolves completions and publishes decoded events.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.failPending(ErrNotConnected)
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				c.reportError(err)
				return
			}
		}

		c.mu.Lock()
		c.lastSeenAt = receivedAt
		c.mu.Unlock()

		for _, record := range splitRecords(data) {
			if stop := c.handleRecord(record, receivedAt); stop {
				return
			}
		}
	}
}

// handleRecord processes one SignalR record. Returns true when the server
// closed the connection.
func (c *client) handleRecord(record []byte, receivedAt time.Time) bool {
	var msg hubMessage
	if err := json.Unmarshal(record, &msg); err != nil {
		c.logger.Warn("malformed hub record", "error", err)
		c.metrics.DecodeErrors.WithLabelValues("record").Inc()
		return false
	}

	switch msg.Type {
	case msgInvocation:
		if msg.InvocationID != "" {
			// Server-to-client invocations expecting a result are not supported.
			c.logger.Debug("ignoring blocking hub invocation", "target", msg.Target)
			return false
		}
		ev, err := decodeEvent(msg.Target, msg.Arguments, receivedAt)
		if err != nil {
			c.logger.Warn("failed to decode hub event", "target", msg.Target, "error", err)
			c.metrics.DecodeErrors.WithLabelValues(msg.Target).Inc()
			return false
		}
		c.metrics.EventsDecoded.WithLabelValues(string(ev.Kind)).Inc()

		select {
		case c.events <- ev:
		case <-c.done:
			return true
		default:
			c.logger.Warn("event buffer full, dropping event", "kind", ev.Kind)
			c.metrics.MessagesDropped.WithLabelValues("hub").Inc()
		}

	case msgCompletion:
		var err error
		if msg.Error != "" {
			err = fmt.Errorf("%w: %s", ErrInvocationFailed, msg.Error)
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.InvocationID]
		c.pendingMu.Unlock()
		if ok {
			select {
			case ch <- err:
			default:
			}
		}

	case msgPing, msgStreamItem:
		// lastSeenAt already refreshed

	case msgClose:
		if msg.Error != "" {
			c.reportError(fmt.Errorf("%w: %s", ErrHubClosed, msg.Error))
		} else {
			c.reportError(ErrHubClosed)
		}
		return true

	default:
		c.logger.Debug("unhandled hub message type", "type", msg.Type)
	}
	return false
}

// heartbeatLoop sends keepalive pings and detects stale connections.
func (c *client) heartbeatLoop() {
	interval := c.cfg.PingInterval
	if interval <= 0 {
		interval = DefaultClientConfig().PingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ping, _ := encodeRecord(hubMessage{Type: msgPing})

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.send(ping); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			c.mu.RLock()
			lastSeen := c.lastSeenAt
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastSeen) > c.cfg.PingTimeout {
				c.logger.Warn("no hub traffic, connection stale",
					"last_seen", lastSeen,
					"timeout", c.cfg.PingTimeout,
				)
				c.reportError(ErrStaleConnection)
				return
			}
		}
	}
}

func (c *client) reportError(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

func (c *client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for _, ch := range c.pending {
		select {
		case ch <- err:
		default:
		}
	}
}

// hubURL appends the access token as a query parameter.
func hubURL(raw, token string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// classifyDialError maps the upgrade response onto the retry taxonomy.
func classifyDialError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("dial hub: %w", errors.Join(retry.ErrTransient, err))
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("dial hub: %w (status %d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("dial hub: %w (status %d)", retry.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("dial hub: %w (status %d)", retry.ErrTransient, resp.StatusCode)
	default:
		return fmt.Errorf("dial hub: status %d: %w", resp.StatusCode, err)
	}
}
