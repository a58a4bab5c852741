package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/telemetry"
)

// LoginKey exchanges a user name and API key for a session token.
// It implements auth.Authenticator.
func (c *Client) LoginKey(ctx context.Context, cred auth.Credential) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "broker.LoginKey")
	defer span.End()

	var resp LoginResponse
	err := c.post(ctx, "/api/Auth/loginKey", nil, LoginKeyRequest{
		UserName: cred.Principal,
		APIKey:   cred.Secret,
	}, &resp)
	if err != nil {
		telemetry.RecordError(span, err)
		if errors.Is(err, ErrUnauthorized) {
			return "", fmt.Errorf("%w: %v", auth.ErrCredentialsInvalid, err)
		}
		return "", fmt.Errorf("login: %w", err)
	}

	if !resp.Success || resp.Token == "" {
		err := fmt.Errorf("%w: login error code %d: %s", auth.ErrCredentialsInvalid, resp.ErrorCode, resp.message())
		telemetry.RecordError(span, err)
		return "", err
	}

	return resp.Token, nil
}
