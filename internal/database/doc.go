// Package database provides the Postgres connection pool and the session
// lifecycle journal.
package database
