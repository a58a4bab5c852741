// Package bridge buffers hub events per session for HTTP polling.
//
// Each session owns one bounded queue. When the queue is full the oldest
// message is dropped. Drops are counted, not reported as errors.
package bridge
