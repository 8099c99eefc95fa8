// Package authcore provides the authentication and two-factor
// verification engine for the SchoolSync admin surface: argon2id
// credential verification, email and TOTP second factors, sliding-window
// rate limiting, opaque session issuance, and an append-only security
// audit log — all coordinated through Redis.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (LoginResult, SessionInfo, AuditEvent,
// MetricsSnapshot). Internal coordination — challenge storage, window
// accounting, audit dispatch — lives under internal/ and is never
// exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Store raw secrets: passwords are argon2id hashes, OTP codes and
//     session tokens are stored as SHA-256 digests only.
//   - Tell a caller why a login failed beyond [ErrInvalidCredentials].
//     The audit log is the one place that preserves the distinction.
//
// # Failure contract
//
// Rate-limit rejections carry a retry-after duration ([RateLimitError]);
// every other authentication failure is a bare sentinel. Session
// validation fails closed: any doubt — missing record, expired record,
// unreachable backend — yields [ErrSessionInvalid].
package authcore
