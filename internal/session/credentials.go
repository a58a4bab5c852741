package session

import (
	"context"
	"fmt"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/broker"
)

// StaticCredentials serves credentials from configuration. Users without
// an entry fall back to Default.
type StaticCredentials struct {
	Default auth.Credential
	Users   map[string]auth.Credential
}

// Credential implements CredentialSource.
func (s StaticCredentials) Credential(userID string) (auth.Credential, error) {
	cred, ok := s.Users[userID]
	if !ok {
		cred = s.Default
	}
	if cred.Empty() {
		return auth.Credential{}, fmt.Errorf("%w: no broker credential for user %q", auth.ErrCredentialsInvalid, userID)
	}
	return cred, nil
}

// AccountSearcher lists the accounts visible to a token.
type AccountSearcher interface {
	SearchAccounts(ctx context.Context, tokens auth.TokenProvider, onlyActive bool) ([]broker.APIAccount, error)
}

// BrokerVerifier verifies account ownership through the broker account search.
type BrokerVerifier struct {
	Accounts AccountSearcher
	Tokens   TokenBinder
}

// VerifyAccount implements AccountVerifier.
func (v BrokerVerifier) VerifyAccount(ctx context.Context, cred auth.Credential, accountID int64) error {
	accounts, err := v.Accounts.SearchAccounts(ctx, v.Tokens.Bind(cred), true)
	if err != nil {
		return fmt.Errorf("verify account: %w", err)
	}
	for _, a := range accounts {
		if a.ID == accountID {
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrAccountNotFound, accountID)
}
