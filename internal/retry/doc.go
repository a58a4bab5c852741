// Package retry wraps fallible remote calls with bounded exponential backoff.
//
// Every outbound broker call (authentication handshake, contract and account
// search, initial hub dial) runs through Do. Errors are classified by the
// policy's IsRetryable function; the default classification treats network
// failures, timeouts and rate limiting as transient and everything else as
// structural.
package retry
