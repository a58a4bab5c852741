package broker

import (
	"context"
	"fmt"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SearchContracts returns contracts whose name matches searchText.
func (c *Client) SearchContracts(ctx context.Context, tokens auth.TokenProvider, searchText string, live bool) ([]APIContract, error) {
	ctx, span := telemetry.StartSpan(ctx, "broker.SearchContracts", trace.WithAttributes(
		attribute.String("search_text", searchText),
		attribute.Bool("live", live),
	))
	defer span.End()

	var resp ContractSearchResponse
	err := c.post(ctx, "/api/Contract/search", tokens, ContractSearchRequest{
		Live:       live,
		SearchText: searchText,
	}, &resp)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("search contracts: %w", err)
	}

	if !resp.Success {
		err := fmt.Errorf("%w: contract search error code %d: %s", ErrRequestRejected, resp.ErrorCode, resp.message())
		telemetry.RecordError(span, err)
		return nil, err
	}

	return resp.Contracts, nil
}
