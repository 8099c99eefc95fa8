// Package jwt mints and verifies the optional signed access tokens
// issued alongside opaque session tokens. Verification pins the signing
// algorithm to the configured method; tokens signed with anything else
// are rejected regardless of their header.
package jwt
