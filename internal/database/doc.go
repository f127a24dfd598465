// Package database provides the PostgreSQL connection pool used by the
// Postgres sink.
package database
