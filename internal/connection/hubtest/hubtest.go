// Package hubtest provides an in-process SignalR hub for tests.
package hubtest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const recordSeparator = 0x1e

// Invocation is one client-to-hub call recorded by the server.
type Invocation struct {
	Conn   int
	Target string
	Args   []json.RawMessage
}

type hubConn struct {
	id      int
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *hubConn) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, append(b, recordSeparator))
}

// Server is a mock hub speaking the SignalR JSON protocol.
type Server struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu           sync.Mutex
	conns        map[int]*hubConn
	accepted     int
	tokens       []string
	invocations  []Invocation
	failTargets  map[string]string
	rejectStatus int
	rejectTimes  int
	silent       bool
}

// New starts a hub server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:       make(map[int]*hubConn),
		failTargets: make(map[string]string),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the hub's WebSocket URL.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every connection and stops the server.
func (s *Server) Close() {
	s.DropAll()
	s.srv.Close()
}

// Reject makes the next n upgrade attempts fail with status. A negative n
// rejects until Reject(0, 0) is called.
func (s *Server) Reject(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectStatus = status
	s.rejectTimes = n
}

// FailTarget makes invocations of target complete with an error.
func (s *Server) FailTarget(target, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTargets[target] = message
}

// Silence stops the server from answering invocations.
func (s *Server) Silence(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// Push sends a server-to-client invocation to every live connection.
func (s *Server) Push(target string, args ...any) {
	if args == nil {
		args = []any{}
	}
	msg := map[string]any{"type": 1, "target": target, "arguments": args}
	for _, c := range s.live() {
		c.write(msg)
	}
}

// CloseWith sends a SignalR close message to every live connection.
func (s *Server) CloseWith(reason string) {
	msg := map[string]any{"type": 7}
	if reason != "" {
		msg["error"] = reason
	}
	for _, c := range s.live() {
		c.write(msg)
	}
}

// DropAll closes every live connection without a close handshake.
func (s *Server) DropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[int]*hubConn)
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}

// Connections returns the number of accepted connections so far.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Live returns the number of currently open connections.
func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Tokens returns the access_token query value of each accepted connection.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Invocations returns every recorded invocation.
func (s *Server) Invocations() []Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Invocation(nil), s.invocations...)
}

// Count returns how many times target was invoked on connection conn.
// A negative conn counts across all connections.
func (s *Server) Count(target string, conn int) int {
	n := 0
	for _, inv := range s.Invocations() {
		if inv.Target == target && (conn < 0 || inv.Conn == conn) {
			n++
		}
	}
	return n
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func (s *Server) live() []*hubConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*hubConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.rejectTimes != 0 {
		if s.rejectTimes > 0 {
			s.rejectTimes--
		}
		status := s.rejectStatus
		s.mu.Unlock()
		http.Error(w, http.StatusText(status), status)
		return
	}
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	// Handshake
	_, data, err := ws.ReadMessage()
	if err != nil || !bytes.Contains(data, []byte(`"protocol":"json"`)) {
		return
	}

	s.mu.Lock()
	s.accepted++
	c := &hubConn{id: s.accepted, ws: ws}
	s.conns[c.id] = c
	s.tokens = append(s.tokens, r.URL.Query().Get("access_token"))
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
	}()

	c.writeMu.Lock()
	err = ws.WriteMessage(websocket.TextMessage, []byte{'{', '}', recordSeparator})
	c.writeMu.Unlock()
	if err != nil {
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, record := range bytes.Split(data, []byte{recordSeparator}) {
			if len(bytes.TrimSpace(record)) == 0 {
				continue
			}
			s.handleRecord(c, record)
		}
	}
}

func (s *Server) handleRecord(c *hubConn, record []byte) {
	var msg struct {
		Type         int               `json:"type"`
		InvocationID string            `json:"invocationId"`
		Target       string            `json:"target"`
		Arguments    []json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(record, &msg); err != nil {
		return
	}
	if msg.Type != 1 {
		return
	}

	s.mu.Lock()
	s.invocations = append(s.invocations, Invocation{Conn: c.id, Target: msg.Target, Args: msg.Arguments})
	failure, failed := s.failTargets[msg.Target]
	silent := s.silent
	s.mu.Unlock()

	if msg.InvocationID == "" || silent {
		return
	}

	completion := map[string]any{"type": 3, "invocationId": msg.InvocationID}
	if failed {
		completion["error"] = failure
	}
	c.write(completion)
}
