// Package alert provides operational alerting implementations for the
// engine's Alerter contract. Alerts fire when the audit log cannot
// persist an event; they are remediation signals for operators, never
// user-facing.
package alert

import (
	"context"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryAlerter reports audit persistence failures to Sentry.
type SentryAlerter struct {
	hub *sentry.Hub
}

// NewSentry initializes the Sentry SDK and returns an alerter. An empty
// DSN yields a nil alerter, which disables alerting without branching at
// every call site.
func NewSentry(dsn, environment string) (*SentryAlerter, error) {
	if dsn == "" {
		return nil, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, err
	}

	return &SentryAlerter{hub: sentry.CurrentHub()}, nil
}

// Notify captures the failure with its message as context.
func (a *SentryAlerter) Notify(_ context.Context, message string, err error) {
	if a == nil || a.hub == nil || err == nil {
		return
	}

	a.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("subsystem", "audit")
		scope.SetExtra("message", message)
		a.hub.CaptureException(err)
	})
}

// Close flushes buffered events before shutdown.
func (a *SentryAlerter) Close() {
	if a == nil || a.hub == nil {
		return
	}
	sentry.Flush(2 * time.Second)
}

// LogAlerter writes alerts to the standard logger. Useful as a default
// when no alerting backend is configured.
type LogAlerter struct{}

// Notify logs the failure.
func (LogAlerter) Notify(_ context.Context, message string, err error) {
	log.Printf("authcore alert: %s: %v", message, err)
}
