// Package auth manages broker credentials and the bearer tokens issued for them.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

// Errors
var (
	ErrCredentialsInvalid = errors.New("broker credentials invalid")
)

// Credential identifies one broker login (user name + API key).
type Credential struct {
	Principal string // Broker user name
	Secret    string // Broker API key
}

// NewCredential validates and returns a credential.
func NewCredential(principal, secret string) (Credential, error) {
	if principal == "" {
		return Credential{}, fmt.Errorf("%w: user name is required", ErrCredentialsInvalid)
	}
	if secret == "" {
		return Credential{}, fmt.Errorf("%w: api key is required", ErrCredentialsInvalid)
	}
	return Credential{Principal: principal, Secret: secret}, nil
}

// Empty reports whether either half of the credential is missing.
func (c Credential) Empty() bool {
	return c.Principal == "" || c.Secret == ""
}

// Identity returns a stable hash of the credential, used as a cache key.
// Two credentials share an identity only if both halves match.
func (c Credential) Identity() string {
	sum := sha256.Sum256([]byte(c.Principal + "\x00" + c.Secret))
	return hex.EncodeToString(sum[:])
}

// Redacted returns a form safe for logs: a short principal prefix only.
func (c Credential) Redacted() string {
	prefix := c.Principal
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return prefix + "***"
}

// String implements fmt.Stringer with the redacted form.
func (c Credential) String() string {
	return c.Redacted()
}

// LogValue implements slog.LogValuer with the redacted form.
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.Redacted())
}

// Authenticator exchanges a credential for a bearer token.
type Authenticator interface {
	LoginKey(ctx context.Context, cred Credential) (string, error)
}

// TokenProvider yields a bearer token for one credential and can discard it
// after the broker rejects it.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Invalidate()
}
