package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/solvys-technologies/pulse-sub000/internal/auth"
	"github.com/solvys-technologies/pulse-sub000/internal/retry"
)

// APIError represents an HTTP error status from the broker API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// Unwrap maps the status onto the shared error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return retry.ErrRateLimited
	case e.IsRetryable():
		return retry.ErrTransient
	default:
		return nil
	}
}

// doRequest performs a single JSON request. A nil tokens means anonymous.
func (c *Client) doRequest(ctx context.Context, method, path string, tokens auth.TokenProvider, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if tokens != nil {
		tok, err := tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("get token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized && tokens != nil {
			tokens.Invalidate()
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// post marshals body, performs the request with retries and decodes into result.
func (c *Client) post(ctx context.Context, path string, tokens auth.TokenProvider, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.metrics.Retries.WithLabelValues(path).Inc()
		c.logger.Debug("retrying request",
			"attempt", attempt,
			"backoff", delay,
			"path", path,
			"error", err,
		)
	}

	data, err := retry.Do(ctx, policy, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodPost, path, tokens, payload)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
