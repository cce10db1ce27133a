// Package internaldefs holds the stable metric name definitions shared by
// exporter implementations, so Prometheus and OTel always expose identical
// names.
package internaldefs

import (
	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// CounterDef binds an engine counter to its exposition name.
type CounterDef struct {
	ID   famauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "famauth_audit_dropped_total"

var CounterDefs = []CounterDef{
	{ID: famauth.MetricRegistration, Name: "famauth_registrations_total", Help: "Completed account registrations."},
	{ID: famauth.MetricLoginSuccess, Name: "famauth_login_success_total", Help: "Fully completed logins."},
	{ID: famauth.MetricLoginFailure, Name: "famauth_login_failure_total", Help: "Failed login or MFA evidence attempts."},
	{ID: famauth.MetricLoginRateLimited, Name: "famauth_login_rate_limited_total", Help: "Logins denied by the identifier or IP window."},
	{ID: famauth.MetricLoginLocked, Name: "famauth_login_locked_total", Help: "Logins denied by an active lockout."},
	{ID: famauth.MetricLockoutTriggered, Name: "famauth_lockout_triggered_total", Help: "Lockouts armed by reaching the failure threshold."},
	{ID: famauth.MetricMFARequired, Name: "famauth_mfa_required_total", Help: "Credential checks that issued an MFA-pending token."},
	{ID: famauth.MetricMFASuccess, Name: "famauth_mfa_success_total", Help: "Successful MFA verifications."},
	{ID: famauth.MetricMFAFailure, Name: "famauth_mfa_failure_total", Help: "Failed MFA verifications."},
	{ID: famauth.MetricMFAReplay, Name: "famauth_mfa_replay_total", Help: "Rejected MFA replays (token or TOTP step)."},
	{ID: famauth.MetricBackupCodeUsed, Name: "famauth_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: famauth.MetricBackupCodesIssued, Name: "famauth_backup_codes_issued_total", Help: "Backup code batches issued."},
	{ID: famauth.MetricBiometricLogin, Name: "famauth_biometric_login_total", Help: "Logins completed with a device token."},
	{ID: famauth.MetricBiometricRejected, Name: "famauth_biometric_rejected_total", Help: "Rejected device token presentations."},
	{ID: famauth.MetricApprovalRequested, Name: "famauth_approval_requested_total", Help: "Parent approval tickets opened."},
	{ID: famauth.MetricApprovalApproved, Name: "famauth_approval_approved_total", Help: "Approval tickets approved."},
	{ID: famauth.MetricApprovalRejected, Name: "famauth_approval_rejected_total", Help: "Approval tickets rejected."},
	{ID: famauth.MetricRefreshSuccess, Name: "famauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: famauth.MetricRefreshInvalid, Name: "famauth_refresh_invalid_total", Help: "Rejected refresh tokens."},
	{ID: famauth.MetricRefreshReuse, Name: "famauth_refresh_reuse_total", Help: "Refresh reuses that revoked a session."},
	{ID: famauth.MetricSessionCreated, Name: "famauth_session_created_total", Help: "Sessions created."},
	{ID: famauth.MetricSessionRevoked, Name: "famauth_session_revoked_total", Help: "Sessions revoked."},
	{ID: famauth.MetricSweepDeleted, Name: "famauth_sweep_deleted_total", Help: "Rows removed by background sweeps."},
}
