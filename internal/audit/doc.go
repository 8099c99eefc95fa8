// Package audit implements the security audit log: the canonical event
// model, the append-only store contract with Redis implementation, the
// asynchronous dispatcher that persists events without ever failing the
// caller, and the observer sinks.
//
// The dispatcher's contract is the cross-cutting one: every
// authentication-relevant action records exactly one event, and a store
// outage is absorbed by a bounded retry buffer plus an operational alert
// rather than surfaced to the end user.
package audit
