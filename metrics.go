package authcore

import "sync/atomic"

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts full credential matches.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts unknown-identity and wrong-password attempts.
	MetricLoginFailure
	// MetricLoginRateLimited counts login admissions rejected by the window.
	MetricLoginRateLimited
	// MetricOTPIssued counts challenges created (both channels).
	MetricOTPIssued
	// MetricOTPSuccess counts validated second factors.
	MetricOTPSuccess
	// MetricOTPFailure counts mismatched, expired, or replayed codes.
	MetricOTPFailure
	// MetricOTPRateLimited counts OTP validations rejected by the window.
	MetricOTPRateLimited
	// MetricDeliveryFailure counts gateway delivery failures (non-fatal).
	MetricDeliveryFailure
	// MetricLockout counts lockout escalations.
	MetricLockout
	// MetricSessionIssued counts minted sessions.
	MetricSessionIssued
	// MetricSessionRevoked counts explicit revocations (logout included).
	MetricSessionRevoked
	// MetricSessionValidateFailure counts failed-closed validations.
	MetricSessionValidateFailure
	// MetricTwoFactorEnabled counts completed 2FA enrollments.
	MetricTwoFactorEnabled
	// MetricTwoFactorDisabled counts 2FA disablement.
	MetricTwoFactorDisabled

	metricIDCount
)

// Metrics holds lock-free counters. When disabled, all operations are
// no-ops.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// MetricsConfig controls metrics collection.
type MetricsConfig struct {
	Enabled bool
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Get reads one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot deep-copies all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	out := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		out.Counters[id] = m.counters[id].Load()
	}
	return out
}
