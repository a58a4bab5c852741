// Package broker implements the REST half of the broker gateway API:
// API-key login, contract search and account search.
//
// All requests are JSON POSTs. Authenticated calls attach the bearer token
// from an auth.TokenProvider and invalidate it when the gateway answers 401.
// Every request runs through retry.Do with the client's policy.
package broker
