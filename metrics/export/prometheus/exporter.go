// Package prometheus renders authcore metrics in the Prometheus text
// exposition format without importing a client library.
package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	authcore "github.com/schoolsync/authcore"
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   authcore.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authcore.MetricLoginSuccess, "authcore_login_success_total", "Fully authenticated logins."},
	{authcore.MetricLoginFailure, "authcore_login_failure_total", "Rejected credential attempts (unknown identity, wrong password, disabled account)."},
	{authcore.MetricLoginRateLimited, "authcore_login_rate_limited_total", "Login attempts rejected by the sliding window."},
	{authcore.MetricOTPIssued, "authcore_otp_issued_total", "One-time-password challenges opened."},
	{authcore.MetricOTPSuccess, "authcore_otp_success_total", "Second factors validated."},
	{authcore.MetricOTPFailure, "authcore_otp_failure_total", "Mismatched, expired, or replayed codes."},
	{authcore.MetricOTPRateLimited, "authcore_otp_rate_limited_total", "OTP validations rejected by the sliding window."},
	{authcore.MetricDeliveryFailure, "authcore_otp_delivery_failure_total", "Code deliveries that failed or had no gateway."},
	{authcore.MetricLockout, "authcore_lockout_total", "Accounts deactivated by the lockout escalation."},
	{authcore.MetricSessionIssued, "authcore_session_issued_total", "Sessions minted."},
	{authcore.MetricSessionRevoked, "authcore_session_revoked_total", "Sessions revoked explicitly (logout included)."},
	{authcore.MetricSessionValidateFailure, "authcore_session_validate_failure_total", "Session validations that failed closed."},
	{authcore.MetricTwoFactorEnabled, "authcore_2fa_enabled_total", "Completed two-factor enrollments."},
	{authcore.MetricTwoFactorDisabled, "authcore_2fa_disabled_total", "Two-factor disablements."},
}

// Exporter reads counters from an [authcore.Engine] (or any compatible
// source) and renders them on demand. Stateless; safe for concurrent use.
type Exporter struct {
	source metricsSource
}

// New creates an exporter reading from the given engine.
func New(engine *authcore.Engine) *Exporter {
	return &Exporter{source: engine}
}

// NewFromSource creates an exporter from a custom source, e.g. a test
// double.
func NewFromSource(source metricsSource) *Exporter {
	return &Exporter{source: source}
}

// Handler returns an http.Handler serving the current counters.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render produces the text exposition body.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.MetricsSnapshot()

	var b strings.Builder
	b.Grow(4096)

	for _, def := range counterDefs {
		writeCounter(&b, def.name, def.help, snapshot.Counters[def.id])
	}
	writeCounter(&b, "authcore_audit_dropped_total",
		"Audit events lost to dispatcher backpressure or retry overflow.",
		e.source.AuditDropped())

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\n", "\\n")
}
