// Package internal holds shared primitives for the authcore engine:
// secure random generation for OTP codes and session tokens, and the
// hashing helpers used to avoid persisting raw secrets.
//
// Nothing in this package performs I/O.
package internal
