package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type statusMapping struct {
	status int
	code   string
}

var errorTable = []struct {
	err error
	statusMapping
}{
	{famauth.ErrValidation, statusMapping{http.StatusUnprocessableEntity, "validation_failed"}},
	{famauth.ErrInvalidCredentials, statusMapping{http.StatusUnauthorized, "invalid_credentials"}},
	{famauth.ErrAccountLocked, statusMapping{http.StatusForbidden, "account_locked"}},
	{famauth.ErrRateLimited, statusMapping{http.StatusTooManyRequests, "rate_limited"}},
	{famauth.ErrDuplicateIdentifier, statusMapping{http.StatusConflict, "duplicate_identifier"}},
	{famauth.ErrUserNotFound, statusMapping{http.StatusNotFound, "user_not_found"}},
	{famauth.ErrSessionNotFound, statusMapping{http.StatusNotFound, "session_not_found"}},
	{famauth.ErrMFATokenInvalid, statusMapping{http.StatusUnauthorized, "mfa_token_invalid"}},
	{famauth.ErrMFAVerificationFailed, statusMapping{http.StatusUnauthorized, "mfa_verification_failed"}},
	{famauth.ErrMFAAttemptsExceeded, statusMapping{http.StatusTooManyRequests, "mfa_attempts_exceeded"}},
	{famauth.ErrMFAReplay, statusMapping{http.StatusUnauthorized, "mfa_replay"}},
	{famauth.ErrMFANotConfigured, statusMapping{http.StatusBadRequest, "mfa_not_configured"}},
	{famauth.ErrBackupCodesExhausted, statusMapping{http.StatusUnauthorized, "backup_codes_exhausted"}},
	{famauth.ErrRefreshInvalid, statusMapping{http.StatusUnauthorized, "refresh_invalid"}},
	{famauth.ErrRefreshReuse, statusMapping{http.StatusUnauthorized, "refresh_reuse"}},
	{famauth.ErrDeviceTokenInvalid, statusMapping{http.StatusUnauthorized, "device_token_invalid"}},
	{famauth.ErrFreshMFARequired, statusMapping{http.StatusForbidden, "fresh_mfa_required"}},
	{famauth.ErrApprovalPending, statusMapping{http.StatusConflict, "approval_pending"}},
	{famauth.ErrApprovalNotPending, statusMapping{http.StatusGone, "approval_not_pending"}},
	{famauth.ErrApprovalForbidden, statusMapping{http.StatusForbidden, "approval_forbidden"}},
	{famauth.ErrTokenInvalid, statusMapping{http.StatusUnauthorized, "token_invalid"}},
	{famauth.ErrForbidden, statusMapping{http.StatusForbidden, "forbidden"}},
	{famauth.ErrStoreUnavailable, statusMapping{http.StatusServiceUnavailable, "store_unavailable"}},
}

// writeError translates an engine error into the JSON envelope. Unmapped
// errors become an opaque 500 so internals never leak.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			s.writeJSON(w, entry.status, errorEnvelope{Error: entry.err.Error(), Code: entry.code})
			return
		}
	}
	s.logger.Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
	s.writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "internal error", Code: "internal"})
}
