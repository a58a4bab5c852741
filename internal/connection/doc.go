// Package connection implements the hub streaming layer.
//
// A Stream maintains one authenticated SignalR connection to one broker hub
// (market data or user events):
//   - Dials with a bearer token from the token cache
//   - Replays its SubscriptionRegistry after every (re)connect
//   - Reconnects with exponential backoff, up to a bounded attempt count
//   - Decodes hub invocations into typed model events at the transport edge
//   - Publishes events on a buffered channel without blocking on consumers
package connection
