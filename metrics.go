package famauth

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID uint16

const (
	// MetricRegistration counts completed registrations.
	MetricRegistration MetricID = iota
	// MetricLoginSuccess counts fully issued sessions.
	MetricLoginSuccess
	// MetricLoginFailure counts rejected credential checks.
	MetricLoginFailure
	// MetricLoginRateLimited counts sliding-window rejections.
	MetricLoginRateLimited
	// MetricLoginLocked counts attempts rejected during a lockout window.
	MetricLoginLocked
	// MetricLockoutTriggered counts transitions into lockout.
	MetricLockoutTriggered
	// MetricMFARequired counts logins parked on a second factor.
	MetricMFARequired
	// MetricMFASuccess counts verified second factors.
	MetricMFASuccess
	// MetricMFAFailure counts rejected second factors.
	MetricMFAFailure
	// MetricMFAReplay counts replayed challenges, codes, and steps.
	MetricMFAReplay
	// MetricBackupCodeUsed counts consumed backup codes.
	MetricBackupCodeUsed
	// MetricBackupCodesIssued counts generated batches.
	MetricBackupCodesIssued
	// MetricBiometricLogin counts device-token logins.
	MetricBiometricLogin
	// MetricBiometricRejected counts expired or invalid device tokens.
	MetricBiometricRejected
	// MetricApprovalRequested counts parent approval requests.
	MetricApprovalRequested
	// MetricApprovalApproved counts approvals.
	MetricApprovalApproved
	// MetricApprovalRejected counts rejections.
	MetricApprovalRejected
	// MetricRefreshSuccess counts rotated token pairs.
	MetricRefreshSuccess
	// MetricRefreshInvalid counts rejected refresh tokens.
	MetricRefreshInvalid
	// MetricRefreshReuse counts reuse-detection hits.
	MetricRefreshReuse
	// MetricSessionCreated counts created sessions.
	MetricSessionCreated
	// MetricSessionRevoked counts revoked sessions.
	MetricSessionRevoked
	// MetricSweepDeleted counts rows removed by retention sweeps.
	MetricSweepDeleted

	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed-size atomic counter registry. Increment is wait-free;
// Snapshot copies all counters at once.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a registry; a disabled registry is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Add adds n to the counter.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}

// MetricName returns the stable exposition name for a counter.
func MetricName(id MetricID) string {
	switch id {
	case MetricRegistration:
		return "registrations_total"
	case MetricLoginSuccess:
		return "login_success_total"
	case MetricLoginFailure:
		return "login_failure_total"
	case MetricLoginRateLimited:
		return "login_rate_limited_total"
	case MetricLoginLocked:
		return "login_locked_total"
	case MetricLockoutTriggered:
		return "lockout_triggered_total"
	case MetricMFARequired:
		return "mfa_required_total"
	case MetricMFASuccess:
		return "mfa_success_total"
	case MetricMFAFailure:
		return "mfa_failure_total"
	case MetricMFAReplay:
		return "mfa_replay_total"
	case MetricBackupCodeUsed:
		return "backup_code_used_total"
	case MetricBackupCodesIssued:
		return "backup_codes_issued_total"
	case MetricBiometricLogin:
		return "biometric_login_total"
	case MetricBiometricRejected:
		return "biometric_rejected_total"
	case MetricApprovalRequested:
		return "approval_requested_total"
	case MetricApprovalApproved:
		return "approval_approved_total"
	case MetricApprovalRejected:
		return "approval_rejected_total"
	case MetricRefreshSuccess:
		return "refresh_success_total"
	case MetricRefreshInvalid:
		return "refresh_invalid_total"
	case MetricRefreshReuse:
		return "refresh_reuse_total"
	case MetricSessionCreated:
		return "session_created_total"
	case MetricSessionRevoked:
		return "session_revoked_total"
	case MetricSweepDeleted:
		return "sweep_deleted_total"
	default:
		return "unknown"
	}
}

// MetricIDs returns every defined counter id in order.
func MetricIDs() []MetricID {
	ids := make([]MetricID, 0, metricIDCount)
	for id := MetricID(0); id < metricIDCount; id++ {
		ids = append(ids, id)
	}
	return ids
}
