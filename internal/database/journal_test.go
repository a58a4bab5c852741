package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/solvys-technologies/pulse-sub000/internal/model"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestJournal_EnsureSchema(t *testing.T) {
	db := &fakeExecer{}
	j := NewJournal(db, nil)

	if err := j.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if len(db.calls) != 1 || !strings.Contains(db.calls[0].sql, "CREATE TABLE IF NOT EXISTS realtime_session_events") {
		t.Errorf("calls = %+v", db.calls)
	}
}

func TestJournal_Record(t *testing.T) {
	db := &fakeExecer{}
	j := NewJournal(db, nil)

	at := time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)
	ev := model.SessionEvent{
		SessionID: "0b9f4c8e-7d3a-4d59-9a51-2f7e0c1d2b3a",
		UserID:    "u1",
		AccountID: 42,
		Kind:      model.SessionEvicted,
		Detail:    "idle",
		At:        at,
	}
	if err := j.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if len(db.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(db.calls))
	}
	args := db.calls[0].args
	if len(args) != 6 {
		t.Fatalf("args = %d, want 6", len(args))
	}
	if args[1] != "u1" || args[2] != int64(42) || args[3] != "evicted" || args[5] != at {
		t.Errorf("args = %v", args)
	}
}

func TestJournal_RecordError(t *testing.T) {
	boom := errors.New("connection refused")
	j := NewJournal(&fakeExecer{err: boom}, nil)

	err := j.Record(context.Background(), model.SessionEvent{Kind: model.SessionStarted})
	if !errors.Is(err, boom) {
		t.Errorf("Record error = %v, want %v", err, boom)
	}
}
