// Package session owns the per-(user, account) realtime sessions.
//
// A session pairs a market hub stream and a user hub stream with one
// polling bridge. Starting a session is idempotent per key; a background
// janitor evicts sessions whose queue stayed empty past the idle window.
package session
