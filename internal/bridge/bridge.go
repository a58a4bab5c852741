package bridge

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
)

const (
	// DefaultCapacity is the per-session queue size.
	DefaultCapacity = 100

	// DefaultPollLimit is the batch size when a poll does not name one.
	DefaultPollLimit = 50
)

// QueuedMessage is one event waiting to be polled.
type QueuedMessage struct {
	ID         uuid.UUID       `json:"id"`
	Kind       model.EventKind `json:"type"`
	ContractID string          `json:"contractId,omitempty"`
	AccountID  int64           `json:"accountId,omitempty"`
	Payload    model.Payload   `json:"data"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// Bridge moves hub events into a bounded queue drained by polling.
type Bridge struct {
	queue   *Queue[QueuedMessage]
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.RWMutex
	createdAt    time.Time
	lastActivity time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a bridge with the given queue capacity.
func New(capacity int, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New("")
	}

	b := &Bridge{
		queue:   NewQueue[QueuedMessage](capacity),
		logger:  logger,
		metrics: m,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	b.createdAt = b.now()
	return b
}

// Attach forwards events from ch into the queue until the bridge is closed.
func (b *Bridge) Attach(ch <-chan model.Event) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case ev := <-ch:
				b.Enqueue(ev)
			}
		}
	}()
}

// Enqueue appends an event, dropping the oldest queued message when full.
func (b *Bridge) Enqueue(ev model.Event) QueuedMessage {
	now := b.now()
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	msg := QueuedMessage{
		ID:         uuid.New(),
		Kind:       ev.Kind,
		ContractID: ev.ContractID,
		AccountID:  ev.AccountID,
		Payload:    ev.Payload,
		ReceivedAt: receivedAt,
	}

	if dropped := b.queue.Push(msg); dropped {
		b.metrics.MessagesDropped.WithLabelValues("queue").Inc()
		b.logger.Debug("queue full, dropped oldest message", "capacity", b.queue.Cap())
	}
	b.metrics.MessagesEnqueued.Inc()

	b.mu.Lock()
	b.lastActivity = now
	b.mu.Unlock()

	return msg
}

// Poll removes up to limit of the oldest messages and reports whether
// more remain. A non-positive limit uses DefaultPollLimit.
func (b *Bridge) Poll(limit int) ([]QueuedMessage, bool) {
	if limit <= 0 {
		limit = DefaultPollLimit
	}
	return b.queue.Poll(limit)
}

// Len returns the number of queued messages.
func (b *Bridge) Len() int { return b.queue.Len() }

// Stats returns queue statistics.
func (b *Bridge) Stats() QueueStats { return b.queue.Stats() }

// LastActivity returns the time of the last enqueue, or creation time if
// nothing was ever enqueued.
func (b *Bridge) LastActivity() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastActivity.IsZero() {
		return b.createdAt
	}
	return b.lastActivity
}

// Idle reports whether the queue is empty and has seen no activity within window.
func (b *Bridge) Idle(now time.Time, window time.Duration) bool {
	if b.queue.Len() > 0 {
		return false
	}
	return now.Sub(b.LastActivity()) >= window
}

// Close stops the pump and discards queued messages.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		if n := b.queue.Clear(); n > 0 {
			b.logger.Debug("discarded queued messages", "count", n)
		}
	})
}
