// Package session stores opaque authentication sessions in Redis.
//
// The store is keyed by the SHA-256 of the session token, so the raw
// token never touches the backend. Validation is a single read;
// revocation deletes the key, and a per-user index supports revoking
// every session an identity holds. Expiry is enforced both by Redis TTL
// and by an explicit timestamp check on read, which fails closed.
package session
