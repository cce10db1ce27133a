package famauth

import "errors"

var (
	// ErrEngineNotReady is returned when a method is called on an engine
	// that was not assembled through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrInvalidCredentials covers bad identifier and bad secret alike;
	// callers cannot distinguish "no such account" from "wrong password".
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked means the lockout window is active. A correct
	// password during lockout still fails with this error.
	ErrAccountLocked = errors.New("account locked")

	// ErrRateLimited means the identifier or IP exceeded the sliding-window
	// attempt budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrDuplicateIdentifier means the email, or the nickname within the
	// family, is already taken.
	ErrDuplicateIdentifier = errors.New("identifier already registered")

	// ErrValidation covers malformed registration or credential input.
	ErrValidation = errors.New("validation failed")

	// ErrUserNotFound is an internal lookup miss. Login paths fold it into
	// [ErrInvalidCredentials] before returning.
	ErrUserNotFound = errors.New("user not found")

	// ErrMFARequired is control flow, not a failure: credentials checked
	// out and a second factor must be presented.
	ErrMFARequired = errors.New("mfa required")

	// ErrMFATokenInvalid means the MFA-pending or setup token is missing,
	// malformed, expired, or already consumed.
	ErrMFATokenInvalid = errors.New("invalid or expired mfa token")

	// ErrMFAVerificationFailed means the presented evidence did not verify.
	// Counted against the same lockout accounting as a password failure.
	ErrMFAVerificationFailed = errors.New("mfa verification failed")

	// ErrMFAAttemptsExceeded means the per-challenge attempt budget is
	// spent; the caller must restart login.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

	// ErrMFAReplay means a token or code was presented again after a
	// terminal outcome.
	ErrMFAReplay = errors.New("mfa replay detected")

	// ErrMFANotConfigured means the account has no enrollment for the
	// chosen method.
	ErrMFANotConfigured = errors.New("mfa method not configured")

	// ErrBackupCodesExhausted means no unused backup code matched.
	ErrBackupCodesExhausted = errors.New("backup codes exhausted or invalid")

	// ErrRefreshInvalid means the refresh token matched no live session:
	// unknown, expired, or revoked.
	ErrRefreshInvalid = errors.New("invalid or expired refresh token")

	// ErrRefreshReuse means an already-rotated refresh token was presented.
	// The session it pointed at is revoked as a theft signal.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrDeviceTokenInvalid means the biometric token is unknown, expired,
	// or invalidated; the device must re-enroll.
	ErrDeviceTokenInvalid = errors.New("device token invalid or expired")

	// ErrFreshMFARequired gates biometric enrollment on a recent full MFA
	// login.
	ErrFreshMFARequired = errors.New("recent mfa verification required")

	// ErrApprovalNotPending means the approval request is not open:
	// rejected, expired, or already used.
	ErrApprovalNotPending = errors.New("approval request expired or rejected")

	// ErrApprovalPending means the parent has not decided yet.
	ErrApprovalPending = errors.New("approval request still pending")

	// ErrApprovalForbidden means the responder is not a parent of the
	// requesting child's family.
	ErrApprovalForbidden = errors.New("not allowed to resolve this approval")

	// ErrSessionNotFound is an internal session lookup miss.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTokenInvalid means an access token failed signature, expiry, or
	// claim checks.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrForbidden means the authenticated caller lacks the role for the
	// operation.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable wraps store-adapter connectivity failures. It is
	// the one infrastructural condition: the transport maps it to a 5xx and
	// the core never retries it.
	ErrStoreUnavailable = errors.New("store unavailable")
)
