package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SignalR JSON hub protocol framing. Every message is a JSON object
// terminated by the record separator.
const recordSeparator byte = 0x1e

// Hub message types.
const (
	msgInvocation = 1
	msgStreamItem = 2
	msgCompletion = 3
	msgPing       = 6
	msgClose      = 7
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// hubMessage covers every message type the client sends or receives.
type hubMessage struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target,omitempty"`
	Arguments    []json.RawMessage `json:"arguments,omitempty"`
	Result       json.RawMessage   `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// outboundInvocation is an invocation sent by the client.
type outboundInvocation struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

// encodeRecord marshals v and appends the record separator.
func encodeRecord(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return append(b, recordSeparator), nil
}

// splitRecords splits a frame into its records. A single WebSocket frame
// may carry several records; empty records are skipped.
func splitRecords(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{recordSeparator})
	out := parts[:0]
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// decodeHandshake parses the server's handshake reply. Anything other than
// an empty object (optionally followed by more records) is a rejection.
func decodeHandshake(frame []byte) (rest [][]byte, err error) {
	records := splitRecords(frame)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty handshake response", ErrHandshakeRejected)
	}
	var resp handshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrHandshakeRejected, resp.Error)
	}
	return records[1:], nil
}
