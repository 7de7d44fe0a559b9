package stepauth

import "sync/atomic"

// MetricID identifies an engine counter.
type MetricID uint16

const (
	// MetricSignInSuccess counts successful credential checks.
	MetricSignInSuccess MetricID = iota
	// MetricSignInFailure counts rejected credential checks.
	MetricSignInFailure
	// MetricSignOut counts explicit sign-outs.
	MetricSignOut
	// MetricRefreshSuccess counts completed session refreshes.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed session refreshes.
	MetricRefreshFailure
	// MetricRefreshDebounced counts refresh triggers collapsed by the
	// minimum-interval guard.
	MetricRefreshDebounced
	// MetricOTPSent counts dispatched one-time codes.
	MetricOTPSent
	// MetricOTPSendRejected counts sends rejected by cooldown or dispatch.
	MetricOTPSendRejected
	// MetricOTPVerified counts consumed one-time codes.
	MetricOTPVerified
	// MetricOTPInvalid counts rejected one-time codes.
	MetricOTPInvalid
	// MetricOTPExpired counts codes rejected for being past expiry.
	MetricOTPExpired
	// MetricOTPRateLimited counts verifications rejected by the attempt budget.
	MetricOTPRateLimited
	// MetricRecoveryGenerated counts recovery-code batch generations.
	MetricRecoveryGenerated
	// MetricRecoveryUsed counts consumed recovery codes.
	MetricRecoveryUsed
	// MetricRecoveryInvalid counts rejected recovery codes.
	MetricRecoveryInvalid
	// MetricTOTPEnrolled counts factors that reached verified.
	MetricTOTPEnrolled
	// MetricTOTPDisabled counts factor unenrollments.
	MetricTOTPDisabled
	// MetricTOTPVerified counts successful step-up TOTP challenges.
	MetricTOTPVerified
	// MetricTOTPFailure counts rejected TOTP challenges.
	MetricTOTPFailure
	// MetricPasswordResetRequest counts reset-request submissions.
	MetricPasswordResetRequest

	metricCount
)

// Metrics holds the engine's in-process counters.
type Metrics struct {
	enabled  bool
	counters [metricCount]atomic.Uint64
}

func newMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	return &Metrics{enabled: true}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// Get reads a single counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricCount {
		return 0
	}
	return m.counters[id].Load()
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricCount))}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
