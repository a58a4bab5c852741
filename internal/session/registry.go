package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/solvys-technologies/pulse-sub000/internal/bridge"
	"github.com/solvys-technologies/pulse-sub000/internal/connection"
	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
	"github.com/solvys-technologies/pulse-sub000/internal/telemetry"
)

// Session is one live (user, account) pairing of hub streams and a bridge.
type Session struct {
	ID        uuid.UUID
	Key       Key
	Market    *connection.Stream
	User      *connection.Stream
	Bridge    *bridge.Bridge
	CreatedAt time.Time
}

// Terminated reports whether either stream gave up reconnecting.
func (s *Session) Terminated() bool {
	return s.Market.State() == connection.StateTerminated ||
		s.User.State() == connection.StateTerminated
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	return Status{
		ID:           s.ID.String(),
		UserID:       s.Key.UserID,
		AccountID:    s.Key.AccountID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.Bridge.LastActivity(),
		Market:       s.Market.Status(),
		User:         s.User.Status(),
		Queue:        s.Bridge.Stats(),
	}
}

// close disconnects both streams and discards the queue.
func (s *Session) close(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.Market.Disconnect(ctx) })
	g.Go(func() error { return s.User.Disconnect(ctx) })
	err := g.Wait()
	s.Bridge.Close()
	return err
}

// Registry holds at most one live session per key.
type Registry struct {
	cfg      Config
	creds    CredentialSource
	tokens   TokenBinder
	verifier AccountVerifier
	journal  Journal
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[Key]*Session
	inflight singleflight.Group
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithJournal records lifecycle events.
func WithJournal(j Journal) Option {
	return func(r *Registry) {
		r.journal = j
	}
}

// WithVerifier checks account ownership when Config.VerifyAccount is set.
func WithVerifier(v AccountVerifier) Option {
	return func(r *Registry) {
		r.verifier = v
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, creds CredentialSource, tokens TokenBinder, opts ...Option) *Registry {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = bridge.DefaultCapacity
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}

	r := &Registry{
		cfg:      cfg,
		creds:    creds,
		tokens:   tokens,
		now:      time.Now,
		sessions: make(map[Key]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = metrics.New("")
	}
	return r
}

type startResult struct {
	session *Session
	created bool
}

// Start returns the live session for (userID, accountID), creating it if
// needed. Concurrent starts for one key share a single build, which runs
// detached from the caller's cancellation and is bounded by StartTimeout.
// A session whose stream terminated is torn down and rebuilt.
func (r *Registry) Start(ctx context.Context, userID string, accountID int64) (*Session, bool, error) {
	if accountID <= 0 {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidAccount, accountID)
	}
	key := Key{UserID: userID, AccountID: accountID}

	if s := r.get(key); s != nil && !s.Terminated() {
		return s, false, nil
	}

	leader := false
	v, err, _ := r.inflight.Do(key.String(), func() (any, error) {
		leader = true

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StartTimeout)
		defer cancel()

		if s := r.get(key); s != nil {
			if !s.Terminated() {
				return startResult{session: s}, nil
			}
			r.logger.Info("rebuilding terminated session", "session", key.String())
			r.remove(key, s)
			s.close(ctx)
		}

		s, err := r.build(ctx, key)
		if err != nil {
			return nil, err
		}
		return startResult{session: s, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(startResult)
	return res.session, leader && res.created, nil
}

func (r *Registry) build(ctx context.Context, key Key) (_ *Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "session.Start", trace.WithAttributes(
		attribute.String("user", key.UserID),
		attribute.Int64("account", key.AccountID),
	))
	defer func() {
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
	}()

	cred, err := r.creds.Credential(key.UserID)
	if err != nil {
		return nil, err
	}

	if r.cfg.VerifyAccount && r.verifier != nil {
		if err := r.verifier.VerifyAccount(ctx, cred, key.AccountID); err != nil {
			return nil, err
		}
	}

	id := uuid.New()
	logger := r.logger.With("session", key.String(), "credential", cred)
	tokens := r.tokens.Bind(cred)

	onTerminal := func(err error) {
		r.handleTerminal(key, id, err)
	}

	s := &Session{
		ID:  id,
		Key: key,
		Market: connection.NewStream(r.cfg.Market, tokens,
			connection.WithLogger(logger),
			connection.WithMetrics(r.metrics),
			connection.WithTerminalHandler(onTerminal),
		),
		User: connection.NewStream(r.cfg.User, tokens,
			connection.WithLogger(logger),
			connection.WithMetrics(r.metrics),
			connection.WithTerminalHandler(onTerminal),
		),
		Bridge:    bridge.New(r.cfg.QueueCapacity, logger, r.metrics),
		CreatedAt: r.now(),
	}

	for _, t := range connection.AccountTopics(key.AccountID) {
		s.User.Registry().Add(t)
	}
	s.Bridge.Attach(s.Market.Events())
	s.Bridge.Attach(s.User.Events())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Market.Connect(gctx) })
	g.Go(func() error { return s.User.Connect(gctx) })
	if err := g.Wait(); err != nil {
		s.close(context.WithoutCancel(ctx))
		logger.Warn("session start failed", "error", err)
		return nil, fmt.Errorf("start session %s: %w", key, err)
	}

	r.mu.Lock()
	r.sessions[key] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.ActiveSessions.Set(float64(n))

	logger.Info("session started", "id", id)
	r.record(ctx, s, model.SessionStarted, "")

	return s, nil
}

// Stop tears down the session for (userID, accountID).
func (r *Registry) Stop(ctx context.Context, userID string, accountID int64) error {
	key := Key{UserID: userID, AccountID: accountID}
	s := r.get(key)
	if s == nil || !r.remove(key, s) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}

	err := s.close(ctx)
	r.logger.Info("session stopped", "session", key.String(), "id", s.ID)
	r.record(ctx, s, model.SessionStopped, "")
	return err
}

// Get returns the session for key.
func (r *Registry) Get(key Key) (*Session, error) {
	s := r.get(key)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	return s, nil
}

// SubscribeContract adds quotes, trades and depth for contractID on the
// session's market stream. Hub failures are returned as warnings; the
// topics stay registered and are replayed on reconnect.
func (r *Registry) SubscribeContract(ctx context.Context, key Key, contractID string) ([]string, error) {
	if contractID == "" {
		return nil, ErrInvalidContract
	}
	s, err := r.Get(key)
	if err != nil {
		return nil, err
	}

	if err := s.Market.Subscribe(ctx, connection.ContractTopics(contractID)...); err != nil {
		r.logger.Warn("contract subscription incomplete", "session", key.String(), "contract", contractID, "error", err)
		return []string{err.Error()}, nil
	}
	return nil, nil
}

// UnsubscribeContract removes quotes, trades and depth for contractID.
func (r *Registry) UnsubscribeContract(ctx context.Context, key Key, contractID string) ([]string, error) {
	if contractID == "" {
		return nil, ErrInvalidContract
	}
	s, err := r.Get(key)
	if err != nil {
		return nil, err
	}

	if err := s.Market.Unsubscribe(ctx, connection.ContractTopics(contractID)...); err != nil {
		r.logger.Warn("contract unsubscription incomplete", "session", key.String(), "contract", contractID, "error", err)
		return []string{err.Error()}, nil
	}
	return nil, nil
}

// Enqueue appends an event to the session's queue.
func (r *Registry) Enqueue(key Key, ev model.Event) error {
	s, err := r.Get(key)
	if err != nil {
		return err
	}
	s.Bridge.Enqueue(ev)
	return nil
}

// Poll removes up to limit queued messages from the session.
func (r *Registry) Poll(key Key, limit int) ([]bridge.QueuedMessage, bool, error) {
	s, err := r.Get(key)
	if err != nil {
		return nil, false, err
	}
	msgs, more := s.Bridge.Poll(limit)
	return msgs, more, nil
}

// Status returns a snapshot of one session.
func (r *Registry) Status(key Key) (Status, error) {
	s, err := r.Get(key)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// List returns snapshots of every session ordered by key.
func (r *Registry) List() []Status {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i].Key, sessions[j].Key
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.AccountID < b.AccountID
	})

	out := make([]Status, len(sessions))
	for i, s := range sessions {
		out[i] = s.Status()
	}
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StateCounts returns the number of streams in each state.
func (r *Registry) StateCounts() map[connection.State]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[connection.State]int)
	for _, s := range r.sessions {
		counts[s.Market.State()]++
		counts[s.User.State()]++
	}
	return counts
}

// Sweep evicts sessions whose queue is empty and idle past the idle
// timeout. Returns the number evicted.
func (r *Registry) Sweep(ctx context.Context, now time.Time) int {
	r.mu.RLock()
	var idle []*Session
	for _, s := range r.sessions {
		if s.Bridge.Idle(now, r.cfg.IdleTimeout) {
			idle = append(idle, s)
		}
	}
	r.mu.RUnlock()

	evicted := 0
	for _, s := range idle {
		if !r.remove(s.Key, s) {
			continue
		}
		if err := s.close(ctx); err != nil {
			r.logger.Warn("error closing evicted session", "session", s.Key.String(), "error", err)
		}
		evicted++
		r.metrics.JanitorEvictions.Inc()
		r.logger.Info("idle session evicted", "session", s.Key.String(), "last_activity", s.Bridge.LastActivity())
		r.record(ctx, s, model.SessionEvicted, fmt.Sprintf("idle since %s", s.Bridge.LastActivity().Format(time.RFC3339)))
	}
	return evicted
}

// Clear stops every session.
func (r *Registry) Clear(ctx context.Context) {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[Key]*Session)
	r.mu.Unlock()
	r.metrics.ActiveSessions.Set(0)

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.close(ctx); err != nil {
				r.logger.Warn("error closing session", "session", s.Key.String(), "error", err)
			}
			r.record(ctx, s, model.SessionStopped, "shutdown")
		}(s)
	}
	wg.Wait()
}

func (r *Registry) handleTerminal(key Key, id uuid.UUID, err error) {
	s := r.get(key)
	if s == nil || s.ID != id {
		return
	}
	r.logger.Error("session stream terminated", "session", key.String(), "error", err)
	r.record(context.Background(), s, model.SessionTerminated, err.Error())
}

func (r *Registry) get(key Key) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[key]
}

// remove deletes key only if it still maps to s.
func (r *Registry) remove(key Key, s *Session) bool {
	r.mu.Lock()
	cur, ok := r.sessions[key]
	if !ok || cur != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, key)
	n := len(r.sessions)
	r.mu.Unlock()

	r.metrics.ActiveSessions.Set(float64(n))
	return true
}

func (r *Registry) record(ctx context.Context, s *Session, kind model.SessionEventKind, detail string) {
	if r.journal == nil {
		return
	}
	ev := model.SessionEvent{
		SessionID: s.ID.String(),
		UserID:    s.Key.UserID,
		AccountID: s.Key.AccountID,
		Kind:      kind,
		Detail:    detail,
		At:        r.now(),
	}
	if err := r.journal.Record(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("failed to journal session event", "kind", kind, "error", err)
	}
}
