package bridge

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/solvys-technologies/pulse-sub000/internal/metrics"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
)

func quoteEvent(contractID string, price string) model.Event {
	return model.Event{
		Kind:       model.KindQuote,
		ContractID: contractID,
		Payload:    model.Quote{LastPrice: decimal.RequireFromString(price)},
		ReceivedAt: time.Now(),
	}
}

func TestBridge_OverflowThenPoll(t *testing.T) {
	m := metrics.New("test")
	b := New(100, nil, m)
	defer b.Close()

	for i := 0; i < 150; i++ {
		b.Enqueue(quoteEvent("CON.F.US.EP.Z25", "5000"))
	}

	first, more := b.Poll(50)
	if len(first) != 50 || !more {
		t.Fatalf("first poll = %d, %v; want 50, true", len(first), more)
	}
	second, more := b.Poll(50)
	if len(second) != 50 || more {
		t.Fatalf("second poll = %d, %v; want 50, false", len(second), more)
	}
	third, more := b.Poll(50)
	if len(third) != 0 || more {
		t.Errorf("third poll = %d, %v; want 0, false", len(third), more)
	}

	if got := testutil.ToFloat64(m.MessagesDropped.WithLabelValues("queue")); got != 50 {
		t.Errorf("dropped metric = %v, want 50", got)
	}
	if got := testutil.ToFloat64(m.MessagesEnqueued); got != 150 {
		t.Errorf("enqueued metric = %v, want 150", got)
	}
	if got := b.Stats().Dropped; got != 50 {
		t.Errorf("Stats.Dropped = %d, want 50", got)
	}
}

func TestBridge_EnqueueStampsMessage(t *testing.T) {
	b := New(10, nil, nil)
	defer b.Close()

	fixed := time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)
	b.now = func() time.Time { return fixed }

	ev := quoteEvent("A", "1")
	ev.ReceivedAt = time.Time{}
	first := b.Enqueue(ev)
	second := b.Enqueue(quoteEvent("A", "2"))

	if first.ID == second.ID {
		t.Error("expected distinct message IDs")
	}
	if !first.ReceivedAt.Equal(fixed) {
		t.Errorf("ReceivedAt = %v, want %v", first.ReceivedAt, fixed)
	}
	if second.ReceivedAt.Equal(fixed) {
		t.Error("event ReceivedAt should be preserved")
	}
	if first.Kind != model.KindQuote || first.ContractID != "A" {
		t.Errorf("message = %+v", first)
	}
}

func TestBridge_PollDefaultLimit(t *testing.T) {
	b := New(100, nil, nil)
	defer b.Close()

	for i := 0; i < 60; i++ {
		b.Enqueue(quoteEvent("A", "1"))
	}

	msgs, more := b.Poll(0)
	if len(msgs) != DefaultPollLimit || !more {
		t.Errorf("Poll(0) = %d, %v; want %d, true", len(msgs), more, DefaultPollLimit)
	}
}

func TestBridge_Attach(t *testing.T) {
	b := New(10, nil, nil)
	defer b.Close()

	ch := make(chan model.Event, 3)
	b.Attach(ch)

	ch <- quoteEvent("A", "1")
	ch <- quoteEvent("B", "2")

	deadline := time.Now().Add(2 * time.Second)
	for b.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	msgs, _ := b.Poll(10)
	if len(msgs) != 2 {
		t.Fatalf("polled %d messages, want 2", len(msgs))
	}
	if msgs[0].ContractID != "A" || msgs[1].ContractID != "B" {
		t.Errorf("order = %s, %s; want A, B", msgs[0].ContractID, msgs[1].ContractID)
	}
}

func TestBridge_Idle(t *testing.T) {
	b := New(10, nil, nil)
	defer b.Close()

	start := time.Date(2025, 11, 3, 14, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return start }
	b.createdAt = start

	window := 30 * time.Minute

	if b.Idle(start.Add(10*time.Minute), window) {
		t.Error("fresh bridge should not be idle")
	}
	if !b.Idle(start.Add(31*time.Minute), window) {
		t.Error("bridge unused for 31m should be idle")
	}

	b.now = func() time.Time { return start.Add(20 * time.Minute) }
	b.Enqueue(quoteEvent("A", "1"))
	if b.Idle(start.Add(60*time.Minute), window) {
		t.Error("non-empty bridge should never be idle")
	}

	b.Poll(10)
	if b.Idle(start.Add(40*time.Minute), window) {
		t.Error("bridge active 20m ago should not be idle")
	}
	if !b.Idle(start.Add(51*time.Minute), window) {
		t.Error("bridge inactive for 31m should be idle")
	}
}

func TestBridge_CloseDiscards(t *testing.T) {
	b := New(10, nil, nil)
	b.Attach(make(chan model.Event))
	b.Enqueue(quoteEvent("A", "1"))

	b.Close()
	b.Close()

	if b.Len() != 0 {
		t.Errorf("Len after Close = %d, want 0", b.Len())
	}
}

func TestQueuedMessage_JSON(t *testing.T) {
	b := New(10, nil, nil)
	defer b.Close()

	msg := b.Enqueue(quoteEvent("CON.F.US.EP.Z25", "5000.25"))
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	s := string(data)
	for _, want := range []string{`"type":"quote"`, `"contractId":"CON.F.US.EP.Z25"`, `"lastPrice":"5000.25"`, `"id":"`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
}
