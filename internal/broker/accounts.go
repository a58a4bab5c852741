package broker

import (
	"context"
	"fmt"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/telemetry"
)

// SearchAccounts returns the accounts visible to the token's credential.
func (c *Client) SearchAccounts(ctx context.Context, tokens auth.TokenProvider, onlyActive bool) ([]APIAccount, error) {
	ctx, span := telemetry.StartSpan(ctx, "broker.SearchAccounts")
	defer span.End()

	var resp AccountSearchResponse
	err := c.post(ctx, "/api/Account/search", tokens, AccountSearchRequest{
		OnlyActiveAccounts: onlyActive,
	}, &resp)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("search accounts: %w", err)
	}

	if !resp.Success {
		err := fmt.Errorf("%w: account search error code %d: %s", ErrRequestRejected, resp.ErrorCode, resp.message())
		telemetry.RecordError(span, err)
		return nil, err
	}

	return resp.Accounts, nil
}
