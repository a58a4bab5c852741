package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
	"github.com/solvys-technologies/pulse-sub000/internal/retry"
)

// ErrInvalidTopic is returned when subscribing to a malformed topic.
var ErrInvalidTopic = errors.New("invalid topic")

const replayConcurrency = 8

// Stream maintains one hub connection and its desired subscriptions.
type Stream struct {
	cfg     StreamConfig
	tokens  auth.TokenProvider
	logger  *slog.Logger
	metrics *metrics.Metrics

	onState    func(from, to State)
	onTerminal func(error)

	registry *SubscriptionRegistry
	events   chan model.Event
	dropped  atomic.Int64

	// subMu orders registry changes against replay. A topic changed while a
	// new connection replays is applied to that connection once it is live.
	// Lock order: subMu before mu.
	subMu sync.Mutex

	mu             sync.RWMutex
	state          State
	client         Client
	cancel         context.CancelFunc
	attempt        int
	lastErr        error
	connectedSince time.Time

	wg sync.WaitGroup
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithLogger sets the stream logger.
func WithLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) StreamOption {
	return func(s *Stream) {
		s.metrics = m
	}
}

// WithStateObserver registers a callback for state transitions. It runs
// with the stream lock held and must not call back into the Stream.
func WithStateObserver(fn func(from, to State)) StreamOption {
	return func(s *Stream) {
		s.onState = fn
	}
}

// WithTerminalHandler registers a callback invoked once reconnect attempts
// are exhausted.
func WithTerminalHandler(fn func(error)) StreamOption {
	return func(s *Stream) {
		s.onTerminal = fn
	}
}

// NewStream creates a disconnected stream.
func NewStream(cfg StreamConfig, tokens auth.TokenProvider, opts ...StreamOption) *Stream {
	def := DefaultStreamConfig(cfg.Kind, cfg.URL)
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}
	if cfg.Client.InvokeTimeout <= 0 {
		cfg.Client.InvokeTimeout = def.Client.InvokeTimeout
	}
	if cfg.Client.HandshakeTimeout <= 0 {
		cfg.Client.HandshakeTimeout = def.Client.HandshakeTimeout
	}
	if cfg.Client.WriteTimeout <= 0 {
		cfg.Client.WriteTimeout = def.Client.WriteTimeout
	}

	s := &Stream{
		cfg:      cfg,
		tokens:   tokens,
		registry: NewSubscriptionRegistry(),
		events:   make(chan model.Event, cfg.EventBufferSize),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.New("")
	}
	s.logger = s.logger.With("hub", string(cfg.Kind))
	return s
}

// Kind returns the hub this stream is attached to.
func (s *Stream) Kind() HubKind { return s.cfg.Kind }

// Registry returns the stream's desired subscription set.
func (s *Stream) Registry() *SubscriptionRegistry { return s.registry }

// Events returns decoded hub events. The channel is never closed.
func (s *Stream) Events() <-chan model.Event { return s.events }

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot of the stream.
func (s *Stream) Status() StreamStatus {
	s.mu.RLock()
	st := StreamStatus{
		Kind:    s.cfg.Kind,
		State:   s.state,
		Attempt: s.attempt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if !s.connectedSince.IsZero() {
		since := s.connectedSince
		st.ConnectedSince = &since
	}
	s.mu.RUnlock()

	st.Topics = s.registry.Topics()
	st.DroppedEvents = s.dropped.Load()
	return st
}

// Connect dials the hub, replays registered topics and starts supervising
// the connection. Calling Connect on an active stream is a no-op.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected, StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.attempt = 0
	s.lastErr = nil
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	// Dialing honours both the caller's ctx and a concurrent Disconnect.
	dialCtx, dialCancel := context.WithCancel(ctx)
	defer dialCancel()
	stop := context.AfterFunc(runCtx, dialCancel)
	defer stop()

	policy := s.cfg.Retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("hub dial failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	client, err := retry.Do(dialCtx, policy, s.dial)
	if err != nil {
		cancel()
		s.mu.Lock()
		if s.state == StateConnecting {
			s.lastErr = err
			s.cancel = nil
			s.setStateLocked(StateDisconnected)
		}
		s.mu.Unlock()
		return fmt.Errorf("connect %s hub: %w", s.cfg.Kind, err)
	}

	s.subMu.Lock()
	s.replay(dialCtx, client)

	s.mu.Lock()
	if runCtx.Err() != nil {
		s.mu.Unlock()
		s.subMu.Unlock()
		client.Close()
		return fmt.Errorf("connect %s hub: %w", s.cfg.Kind, ErrDisconnected)
	}
	s.client = client
	s.connectedSince = time.Now()
	s.setStateLocked(StateConnected)
	s.wg.Add(1)
	s.mu.Unlock()
	s.subMu.Unlock()

	s.logger.Info("hub connected", "topics", s.registry.Len())

	go s.supervise(runCtx, client)
	return nil
}

// Disconnect unsubscribes best-effort, aborts any reconnect wait and closes
// the connection. The subscription registry is kept.
func (s *Stream) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	client := s.client
	state := s.state
	s.cancel = nil
	s.mu.Unlock()

	if client != nil && state == StateConnected {
		for _, t := range s.registry.Topics() {
			if err := client.Invoke(ctx, t.UnsubscribeTarget(), t.Args()...); err != nil {
				s.logger.Debug("unsubscribe on disconnect failed", "topic", t.String(), "error", err)
			}
		}
	}

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	s.mu.Lock()
	s.client = nil
	s.attempt = 0
	s.connectedSince = time.Time{}
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()

	if state != StateDisconnected {
		s.logger.Info("hub disconnected")
	}
	return err
}

// Subscribe registers topics and, when connected, invokes their hub
// subscriptions. Topics already registered are not re-sent. During a
// replay the call waits for the new connection.
func (s *Stream) Subscribe(ctx context.Context, topics ...Topic) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	var added []Topic
	var errs []error
	for _, t := range topics {
		if !t.Valid() {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidTopic, t))
			continue
		}
		if s.registry.Add(t) {
			added = append(added, t)
		}
	}

	if client := s.connectedClient(); client != nil {
		for _, t := range added {
			if err := client.Invoke(ctx, t.SubscribeTarget(), t.Args()...); err != nil {
				errs = append(errs, fmt.Errorf("subscribe %s: %w", t, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe removes topics and, when connected, invokes their hub
// unsubscriptions.
func (s *Stream) Unsubscribe(ctx context.Context, topics ...Topic) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	var removed []Topic
	for _, t := range topics {
		if s.registry.Remove(t) {
			removed = append(removed, t)
		}
	}

	var errs []error
	if client := s.connectedClient(); client != nil {
		for _, t := range removed {
			if err := client.Invoke(ctx, t.UnsubscribeTarget(), t.Args()...); err != nil {
				errs = append(errs, fmt.Errorf("unsubscribe %s: %w", t, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Stream) connectedClient() Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected {
		return nil
	}
	return s.client
}

// dial fetches a token and opens one hub connection. A rejected token is
// discarded and reported as transient so the next attempt re-authenticates.
func (s *Stream) dial(ctx context.Context) (Client, error) {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	cfg := s.cfg.Client
	cfg.URL = s.cfg.URL
	cfg.Token = tok.AccessToken

	client := NewClient(cfg, s.logger, s.metrics)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		if errors.Is(err, ErrUnauthorized) {
			s.tokens.Invalidate()
			return nil, errors.Join(retry.ErrTransient, err)
		}
		return nil, err
	}
	return client, nil
}

// replay re-sends every registered topic once. Failures are logged and do
// not fail the connection. Callers hold subMu until the stream is marked
// connected.
func (s *Stream) replay(ctx context.Context, client Client) {
	topics := s.registry.Topics()
	if len(topics) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(replayConcurrency)
	for _, t := range topics {
		g.Go(func() error {
			if err := client.Invoke(ctx, t.SubscribeTarget(), t.Args()...); err != nil {
				s.logger.Warn("failed to replay subscription", "topic", t.String(), "error", err)
			}
			return nil
		})
	}
	g.Wait()

	s.logger.Debug("subscriptions replayed", "count", len(topics))
}

// supervise forwards events and reconnects after connection loss.
func (s *Stream) supervise(ctx context.Context, client Client) {
	defer s.wg.Done()

	for {
		err := s.pump(ctx, client)
		client.Close()
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("hub connection lost", "error", err)

		next, ok := s.reconnect(ctx, err)
		if !ok {
			return
		}
		client = next
	}
}

func (s *Stream) pump(ctx context.Context, client Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-client.Events():
			s.publish(ev)
		case err := <-client.Errors():
			// Forward what was decoded before the failure.
			for {
				select {
				case ev := <-client.Events():
					s.publish(ev)
				default:
					return err
				}
			}
		}
	}
}

func (s *Stream) publish(ev model.Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		s.metrics.MessagesDropped.WithLabelValues("stream").Inc()
	}
}

// reconnect dials until a connection is re-established or attempts run out.
func (s *Stream) reconnect(ctx context.Context, cause error) (Client, bool) {
	s.mu.Lock()
	s.client = nil
	s.lastErr = cause
	s.connectedSince = time.Time{}
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()

	lastErr := cause
	maxAttempts := s.cfg.MaxReconnectAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.mu.Lock()
		s.attempt = attempt
		s.mu.Unlock()

		if delay := ReconnectDelay(attempt, s.cfg.ReconnectBaseWait, s.cfg.ReconnectMaxWait); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, false
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return nil, false
		}

		s.metrics.ReconnectAttempts.WithLabelValues(string(s.cfg.Kind)).Inc()

		client, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			lastErr = err
			s.mu.Lock()
			s.lastErr = err
			s.mu.Unlock()
			s.logger.Warn("reconnect attempt failed", "attempt", attempt, "max", maxAttempts, "error", err)

			if errors.Is(err, auth.ErrCredentialsInvalid) {
				break
			}
			continue
		}

		s.subMu.Lock()
		s.replay(ctx, client)

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			s.subMu.Unlock()
			client.Close()
			return nil, false
		}
		s.client = client
		s.attempt = 0
		s.lastErr = nil
		s.connectedSince = time.Now()
		s.setStateLocked(StateConnected)
		s.mu.Unlock()
		s.subMu.Unlock()

		s.logger.Info("hub reconnected", "attempt", attempt, "topics", s.registry.Len())
		return client, true
	}

	err := fmt.Errorf("%s hub: %w: %v", s.cfg.Kind, ErrReconnectExhausted, lastErr)

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return nil, false
	}
	s.lastErr = err
	s.setStateLocked(StateTerminated)
	s.mu.Unlock()

	s.metrics.TerminalFailures.WithLabelValues(string(s.cfg.Kind)).Inc()
	s.logger.Error("hub reconnect exhausted", "error", err)

	if s.onTerminal != nil {
		// Runs outside supervise so the handler may Disconnect the stream.
		go s.onTerminal(err)
	}
	return nil, false
}

func (s *Stream) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.metrics.StateTransitions.WithLabelValues(string(s.cfg.Kind), string(to)).Inc()
	s.logger.Debug("hub state changed", "from", from, "to", to)
	if s.onState != nil {
		s.onState(from, to)
	}
}
