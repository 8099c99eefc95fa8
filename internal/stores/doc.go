// Package stores contains the Redis-backed state stores used by the
// authentication engine. Records are encoded as compact versioned binary
// blobs; read-modify-write paths run under optimistic WATCH transactions
// so concurrent requests for the same key serialize correctly.
package stores
