package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/solvys-technologies/pulse-sub000/internal/model"
)

const createSessionEvents = `
CREATE TABLE IF NOT EXISTS realtime_session_events (
    id          BIGSERIAL PRIMARY KEY,
    session_id  UUID        NOT NULL,
    user_id     TEXT        NOT NULL,
    account_id  BIGINT      NOT NULL,
    kind        TEXT        NOT NULL,
    detail      TEXT        NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS realtime_session_events_account_idx
    ON realtime_session_events (user_id, account_id, occurred_at DESC);
`

const insertSessionEvent = `
INSERT INTO realtime_session_events (session_id, user_id, account_id, kind, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// Execer is the subset of pgxpool.Pool the journal uses.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal writes session lifecycle events to Postgres.
type Journal struct {
	db     Execer
	logger *slog.Logger
}

// NewJournal creates a journal over db.
func NewJournal(db Execer, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger}
}

// EnsureSchema creates the events table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, createSessionEvents); err != nil {
		return fmt.Errorf("create session events table: %w", err)
	}
	return nil
}

// Record inserts one lifecycle event.
func (j *Journal) Record(ctx context.Context, ev model.SessionEvent) error {
	_, err := j.db.Exec(ctx, insertSessionEvent,
		ev.SessionID,
		ev.UserID,
		ev.AccountID,
		string(ev.Kind),
		ev.Detail,
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	j.logger.Debug("session event journaled", "kind", ev.Kind, "session", ev.SessionID)
	return nil
}
