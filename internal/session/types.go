package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/bridge"
	"github.com/solvys-technologies/pulse-sub000/internal/connection"
	"github.com/solvys-technologies/pulse-sub000/internal/model"
)

// Errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidAccount  = errors.New("invalid account id")
	ErrAccountNotFound = errors.New("account not found for credential")
	ErrInvalidContract = errors.New("contract id required")
)

// Key identifies a session.
type Key struct {
	UserID    string
	AccountID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.UserID, k.AccountID)
}

// CredentialSource resolves a user's broker credential.
type CredentialSource interface {
	Credential(userID string) (auth.Credential, error)
}

// TokenBinder hands out credential-scoped token providers.
type TokenBinder interface {
	Bind(cred auth.Credential) auth.TokenProvider
}

// AccountVerifier checks that an account belongs to a credential.
type AccountVerifier interface {
	VerifyAccount(ctx context.Context, cred auth.Credential, accountID int64) error
}

// Journal records session lifecycle events.
type Journal interface {
	Record(ctx context.Context, ev model.SessionEvent) error
}

// Config holds registry configuration.
type Config struct {
	Market        connection.StreamConfig
	User          connection.StreamConfig
	QueueCapacity int           // Per-session bridge capacity (default: 100)
	IdleTimeout   time.Duration // Eviction threshold for empty queues (default: 30m)
	StartTimeout  time.Duration // Bound on one session build (default: 30s)
	VerifyAccount bool          // Check account ownership on start
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(marketURL, userURL string) Config {
	return Config{
		Market:        connection.DefaultStreamConfig(connection.HubMarket, marketURL),
		User:          connection.DefaultStreamConfig(connection.HubUser, userURL),
		QueueCapacity: bridge.DefaultCapacity,
		IdleTimeout:   30 * time.Minute,
		StartTimeout:  30 * time.Second,
	}
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	ID           string                  `json:"id"`
	UserID       string                  `json:"userId"`
	AccountID    int64                   `json:"accountId"`
	CreatedAt    time.Time               `json:"createdAt"`
	LastActivity time.Time               `json:"lastActivity"`
	Market       connection.StreamStatus `json:"market"`
	User         connection.StreamStatus `json:"user"`
	Queue        bridge.QueueStats       `json:"queue"`
}
