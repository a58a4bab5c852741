package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/connection/hubtest"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
	"github.com/solvys-technologies/pulse-sub000/internal/retry"
)

// fakeTokens issues "tok-N", advancing N after each Invalidate.
type fakeTokens struct {
	mu          sync.Mutex
	generation  int
	calls       int
	invalidated int
	err         error
}

func (f *fakeTokens) Token(ctx context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: fmt.Sprintf("tok-%d", f.generation+1), TokenType: "Bearer"}, nil
}

func (f *fakeTokens) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.generation++
}

func fastStreamConfig(kind HubKind, url string) StreamConfig {
	cfg := DefaultStreamConfig(kind, url)
	cfg.ReconnectBaseWait = 10 * time.Millisecond
	cfg.ReconnectMaxWait = 50 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	cfg.Client.InvokeTimeout = 2 * time.Second
	cfg.Retry = retry.Policy{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2,
	}
	return cfg
}

func newTestStream(t *testing.T, cfg StreamConfig, tokens auth.TokenProvider, opts ...StreamOption) *Stream {
	t.Helper()
	s := NewStream(cfg, tokens, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Disconnect(ctx)
	})
	return s
}

func waitState(t *testing.T, s *Stream, want State) {
	t.Helper()
	if !hubtest.WaitFor(3*time.Second, func() bool { return s.State() == want }) {
		t.Fatalf("State = %v, want %v", s.State(), want)
	}
}

func TestStream_ConnectAndSubscribe(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("State = %v, want %v", s.State(), StateConnected)
	}

	if err := s.Subscribe(context.Background(), ContractTopics("CON.F.US.EP.Z25")...); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	for _, target := range []string{"SubscribeContractQuotes", "SubscribeContractTrades", "SubscribeContractMarketDepth"} {
		if got := hub.Count(target, -1); got != 1 {
			t.Errorf("%s count = %d, want 1", target, got)
		}
	}

	// Subscribing again is a no-op on the wire.
	if err := s.Subscribe(context.Background(), ContractQuotes("CON.F.US.EP.Z25")); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := hub.Count("SubscribeContractQuotes", -1); got != 1 {
		t.Errorf("SubscribeContractQuotes count = %d, want 1", got)
	}
}

func TestStream_ConnectIsIdempotent(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})

	for i := 0; i < 3; i++ {
		if err := s.Connect(context.Background()); err != nil {
			t.Fatalf("Connect %d failed: %v", i, err)
		}
	}
	if got := hub.Connections(); got != 1 {
		t.Errorf("Connections = %d, want 1", got)
	}
}

func TestStream_SubscribeBeforeConnectReplays(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubUser, hub.URL()), &fakeTokens{})

	if err := s.Subscribe(context.Background(), AccountTopics(42)...); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if got := len(hub.Invocations()); got != 0 {
		t.Errorf("invocations before connect = %d, want 0", got)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	for _, target := range []string{"SubscribeAccounts", "SubscribeOrders", "SubscribePositions", "SubscribeTrades"} {
		if got := hub.Count(target, 1); got != 1 {
			t.Errorf("%s count = %d, want 1", target, got)
		}
	}
}

func TestStream_SubscribeInvalidTopic(t *testing.T) {
	s := newTestStream(t, fastStreamConfig(HubMarket, "ws://127.0.0.1:1"), &fakeTokens{})

	err := s.Subscribe(context.Background(), ContractQuotes(""))
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe error = %v, want ErrInvalidTopic", err)
	}
	if s.Registry().Len() != 0 {
		t.Errorf("registry Len = %d, want 0", s.Registry().Len())
	}
}

func TestStream_Unsubscribe(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s.Subscribe(context.Background(), ContractTopics("A")...)

	if err := s.Unsubscribe(context.Background(), ContractTopics("A")...); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if got := hub.Count("UnsubscribeContractQuotes", -1); got != 1 {
		t.Errorf("UnsubscribeContractQuotes count = %d, want 1", got)
	}
	if s.Registry().Len() != 0 {
		t.Errorf("registry Len = %d, want 0", s.Registry().Len())
	}

	// Unknown topics are ignored.
	if err := s.Unsubscribe(context.Background(), ContractQuotes("B")); err != nil {
		t.Errorf("Unsubscribe unknown topic = %v, want nil", err)
	}
}

func TestStream_SubscribeFailureKeepsRegistration(t *testing.T) {
	hub := hubtest.New(t)
	hub.FailTarget("SubscribeContractMarketDepth", "depth unavailable")
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	err := s.Subscribe(context.Background(), ContractTopics("A")...)
	if !errors.Is(err, ErrInvocationFailed) {
		t.Errorf("Subscribe error = %v, want ErrInvocationFailed", err)
	}
	if !s.Registry().Contains(ContractDepth("A")) {
		t.Error("failed topic should stay registered for replay")
	}
}

func TestStream_Events(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	hub.Push(TargetTrade, "CON.F.US.EP.Z25", []map[string]any{{"price": 5000.25, "volume": 1, "type": 0}})

	select {
	case ev := <-s.Events():
		if ev.Kind != model.KindTrade {
			t.Errorf("Kind = %v, want %v", ev.Kind, model.KindTrade)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestStream_ReconnectReplaysEachTopicOnce(t *testing.T) {
	hub := hubtest.New(t)
	var transitions []State
	var mu sync.Mutex
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{},
		WithStateObserver(func(from, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		}),
	)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s.Subscribe(context.Background(), ContractTopics("A")...)
	s.Subscribe(context.Background(), ContractTopics("B")...)

	hub.DropAll()

	if !hubtest.WaitFor(3*time.Second, func() bool {
		return hub.Connections() == 2 && s.State() == StateConnected && len(hub.Invocations()) >= 12
	}) {
		t.Fatalf("no reconnect: connections=%d state=%v", hub.Connections(), s.State())
	}

	for _, topic := range s.Registry().Topics() {
		if n := countContract(hub, topic.SubscribeTarget(), 2, topic.ContractID); n != 1 {
			t.Errorf("%v replayed %d times, want 1", topic, n)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateReconnecting, StateConnected}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

// countContract counts invocations of target for one contract on conn.
func countContract(hub *hubtest.Server, target string, conn int, contractID string) int {
	n := 0
	for _, inv := range hub.Invocations() {
		if inv.Conn == conn && inv.Target == target &&
			len(inv.Args) == 1 && string(inv.Args[0]) == fmt.Sprintf("%q", contractID) {
			n++
		}
	}
	return n
}

// stallReplay drops the hub connection and waits until the stream is
// replaying on the second connection with the hub withholding completions.
func stallReplay(t *testing.T, hub *hubtest.Server, s *Stream) {
	t.Helper()
	hub.Silence(true)
	hub.DropAll()
	if !hubtest.WaitFor(3*time.Second, func() bool {
		return hub.Count("SubscribeContractQuotes", 2) >= 1
	}) {
		t.Fatalf("replay did not start: connections=%d state=%v", hub.Connections(), s.State())
	}
	if s.State() != StateReconnecting {
		t.Fatalf("State = %v during replay, want %v", s.State(), StateReconnecting)
	}
}

func TestStream_SubscribeDuringReplayReachesNewConnection(t *testing.T) {
	hub := hubtest.New(t)
	cfg := fastStreamConfig(HubMarket, hub.URL())
	cfg.Client.InvokeTimeout = 300 * time.Millisecond
	s := newTestStream(t, cfg, &fakeTokens{})

	s.Subscribe(context.Background(), ContractQuotes("A"))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	stallReplay(t, hub, s)

	done := make(chan error, 1)
	go func() {
		done <- s.Subscribe(context.Background(), ContractQuotes("B"))
	}()
	hub.Silence(false)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Subscribe failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Subscribe")
	}
	waitState(t, s, StateConnected)

	if n := countContract(hub, "SubscribeContractQuotes", 2, "B"); n != 1 {
		t.Errorf("SubscribeContractQuotes(B) on new connection = %d, want 1", n)
	}
	if n := countContract(hub, "SubscribeContractQuotes", 2, "A"); n != 1 {
		t.Errorf("SubscribeContractQuotes(A) on new connection = %d, want 1", n)
	}
}

func TestStream_UnsubscribeDuringReplayReachesNewConnection(t *testing.T) {
	hub := hubtest.New(t)
	cfg := fastStreamConfig(HubMarket, hub.URL())
	cfg.Client.InvokeTimeout = 300 * time.Millisecond
	s := newTestStream(t, cfg, &fakeTokens{})

	s.Subscribe(context.Background(), ContractQuotes("A"), ContractQuotes("B"))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	stallReplay(t, hub, s)

	done := make(chan error, 1)
	go func() {
		done <- s.Unsubscribe(context.Background(), ContractQuotes("B"))
	}()
	hub.Silence(false)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unsubscribe failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Unsubscribe")
	}
	waitState(t, s, StateConnected)

	if n := countContract(hub, "UnsubscribeContractQuotes", 2, "B"); n != 1 {
		t.Errorf("UnsubscribeContractQuotes(B) on new connection = %d, want 1", n)
	}
	if s.Registry().Contains(ContractQuotes("B")) {
		t.Error("B still registered after Unsubscribe")
	}
}

func TestStream_ReconnectAfterHubClose(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubUser, hub.URL()), &fakeTokens{})
	s.Subscribe(context.Background(), AccountTopics(42)...)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	hub.CloseWith("server restarting")

	if !hubtest.WaitFor(3*time.Second, func() bool {
		return hub.Connections() == 2 && s.State() == StateConnected
	}) {
		t.Fatalf("no reconnect: connections=%d state=%v", hub.Connections(), s.State())
	}
	if !hubtest.WaitFor(time.Second, func() bool { return hub.Count("SubscribeOrders", 2) == 1 }) {
		t.Errorf("SubscribeOrders on new connection = %d, want 1", hub.Count("SubscribeOrders", 2))
	}
}

func TestStream_TerminalAfterMaxAttempts(t *testing.T) {
	hub := hubtest.New(t)
	terminal := make(chan error, 1)
	var transitions []State
	var mu sync.Mutex

	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{},
		WithTerminalHandler(func(err error) { terminal <- err }),
		WithStateObserver(func(from, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		}),
	)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	hub.Reject(http.StatusServiceUnavailable, -1)
	hub.DropAll()

	select {
	case err := <-terminal:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("terminal error = %v, want ErrReconnectExhausted", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for terminal failure")
	}

	waitState(t, s, StateTerminated)
	if got := hub.Connections(); got != 1 {
		t.Errorf("Connections = %d, want 1", got)
	}
	if st := s.Status(); st.LastError == "" {
		t.Error("expected LastError in status")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateReconnecting, StateTerminated}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestStream_ConnectAfterTerminated(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	hub.Reject(http.StatusServiceUnavailable, -1)
	hub.DropAll()
	waitState(t, s, StateTerminated)

	hub.Reject(0, 0)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after terminal failed: %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("State = %v, want %v", s.State(), StateConnected)
	}
}

func TestStream_DisconnectAbortsBackoff(t *testing.T) {
	hub := hubtest.New(t)
	cfg := fastStreamConfig(HubMarket, hub.URL())
	cfg.ReconnectBaseWait = 10 * time.Second
	cfg.ReconnectMaxWait = 60 * time.Second
	cfg.MaxReconnectAttempts = 10
	s := newTestStream(t, cfg, &fakeTokens{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	hub.Reject(http.StatusServiceUnavailable, -1)
	hub.DropAll()

	// Attempt 1 dials immediately and fails; attempt 2 waits 20s.
	if !hubtest.WaitFor(3*time.Second, func() bool { return s.Status().Attempt >= 2 }) {
		t.Fatalf("stream never entered backoff: %+v", s.Status())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Disconnect took %v, want prompt return", elapsed)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %v, want %v", s.State(), StateDisconnected)
	}
}

func TestStream_DisconnectKeepsRegistry(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s.Subscribe(context.Background(), ContractTopics("A")...)

	if err := s.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := hub.Count("UnsubscribeContractQuotes", 1); got != 1 {
		t.Errorf("UnsubscribeContractQuotes = %d, want 1", got)
	}
	if s.Registry().Len() != 3 {
		t.Errorf("registry Len = %d, want 3", s.Registry().Len())
	}
	if !hubtest.WaitFor(time.Second, func() bool { return hub.Live() == 0 }) {
		t.Error("expected hub connection to close")
	}
}

func TestStream_UnauthorizedInvalidatesToken(t *testing.T) {
	hub := hubtest.New(t)
	hub.Reject(http.StatusUnauthorized, 1)
	tokens := &fakeTokens{}
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), tokens)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	tokens.mu.Lock()
	invalidated := tokens.invalidated
	tokens.mu.Unlock()
	if invalidated != 1 {
		t.Errorf("invalidations = %d, want 1", invalidated)
	}
	if got := hub.Tokens(); len(got) != 1 || got[0] != "tok-2" {
		t.Errorf("accepted tokens = %v, want [tok-2]", got)
	}
}

func TestStream_ConnectCredentialsInvalid(t *testing.T) {
	hub := hubtest.New(t)
	tokens := &fakeTokens{err: auth.ErrCredentialsInvalid}
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), tokens)

	err := s.Connect(context.Background())
	if !errors.Is(err, auth.ErrCredentialsInvalid) {
		t.Fatalf("Connect error = %v, want ErrCredentialsInvalid", err)
	}
	if tokens.calls != 1 {
		t.Errorf("token calls = %d, want 1 (no retry)", tokens.calls)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State = %v, want %v", s.State(), StateDisconnected)
	}
}

func TestStream_ConnectRetriesTransient(t *testing.T) {
	hub := hubtest.New(t)
	hub.Reject(http.StatusBadGateway, 2)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := hub.Connections(); got != 1 {
		t.Errorf("Connections = %d, want 1", got)
	}
}

func TestStream_Status(t *testing.T) {
	hub := hubtest.New(t)
	s := newTestStream(t, fastStreamConfig(HubMarket, hub.URL()), &fakeTokens{})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	s.Subscribe(context.Background(), ContractQuotes("A"))

	st := s.Status()
	if st.Kind != HubMarket || st.State != StateConnected {
		t.Errorf("Status = %+v", st)
	}
	if st.ConnectedSince == nil {
		t.Error("expected ConnectedSince")
	}
	if len(st.Topics) != 1 {
		t.Errorf("Topics = %v, want 1 topic", st.Topics)
	}
}
