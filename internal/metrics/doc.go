// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Hub stream state transitions, reconnect attempts and terminal failures
//   - Session queue throughput and overflow drops
//   - Remote call retries, token handshakes and contract cache hits
//   - Active session count and janitor evictions
package metrics
