// Package queue persists background delivery jobs in SQLite and runs them
// on a fixed-size worker pool. Jobs are prioritized, retried with backoff,
// and never run concurrently with themselves.
package queue
