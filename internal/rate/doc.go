// Package rate implements the sliding-window rate limiter and the
// lockout escalation counter used by the authentication engine.
//
// Admission is atomic per bucket: the eviction, count, and record steps
// run as a single Redis Lua script, so two concurrent attempts can never
// both observe the last free slot. Eviction is lazy — stale attempts are
// trimmed at admission time, never by a background sweeper.
package rate
