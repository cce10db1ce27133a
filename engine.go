package famauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/toolsfactory/TaschengeldManager-sub001/internal/rate"
	"github.com/toolsfactory/TaschengeldManager-sub001/internal/stores"
	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// Engine is the authentication orchestrator: it drives the registration and
// login state machines and is the only component the HTTP layer calls.
// Assemble through [Builder.Build]; safe for concurrent use afterwards.
type Engine struct {
	config    Config
	stores    Stores
	hasher    Hasher
	tokens    *token.Manager
	totp      *totpManager
	limiter   *rate.Limiter
	challenge *stores.ChallengeGuard
	replay    *stores.ReplayGuard
	audit     *auditDispatcher
	metrics   *Metrics
	logger    *zap.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// MetricsSnapshot returns a point-in-time copy of engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped on full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID, familyID, sessionID string,
	cause error,
	meta func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}
	event := AuditEvent{
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		FamilyID:  familyID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if meta != nil {
		event.Metadata = meta()
	}
	e.audit.Emit(ctx, event)
}

// recordAttempt appends one row to the append-only login attempt log.
// Append failures are logged, never surfaced: the attempt log must not be
// able to fail a login.
func (e *Engine) recordAttempt(ctx context.Context, userID *UserID, identifier string, success bool, reason, method string) {
	rec := &LoginAttemptRecord{
		UserID:     userID,
		Identifier: identifier,
		Success:    success,
		Reason:     reason,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
		Method:     method,
		At:         e.now(),
	}
	if err := e.stores.Attempts.Append(ctx, rec); err != nil {
		e.logger.Warn("login attempt log append failed", zap.Error(err))
	}
}

// registerFailure is the shared failure accounting for password, PIN, and
// MFA evidence rejections: atomic per-user counter (with lockout on
// threshold), identifier sliding window, attempt row, and audit event.
func (e *Engine) registerFailure(ctx context.Context, user *UserRecord, identifier, reason, method string) error {
	ip := clientIPFromContext(ctx)

	var userID *UserID
	if user != nil {
		userID = &user.ID
		attempts, lockedUntil, err := e.stores.Users.RecordLoginFailure(
			ctx, user.ID, e.config.Lockout.MaxFailedAttempts, e.now().Add(e.config.Lockout.LockoutDuration),
		)
		if err != nil {
			return err
		}
		if lockedUntil != nil && attempts == e.config.Lockout.MaxFailedAttempts {
			e.metricInc(MetricLockoutTriggered)
			e.emitAudit(ctx, auditEventAccountLocked, false, user.ID.String(), user.FamilyID.String(), "", ErrAccountLocked, func() map[string]string {
				return map[string]string{"until": lockedUntil.UTC().Format(time.RFC3339)}
			})
		}
	}

	if err := e.limiter.RecordFailure(ctx, identifier, ip); err != nil && !isRateLimited(err) {
		return err
	}

	e.metricInc(MetricLoginFailure)
	e.recordAttempt(ctx, userID, identifier, false, reason, method)
	return nil
}

func isRateLimited(err error) bool {
	return errors.Is(err, rate.ErrRateLimited)
}

// availableMethods lists what the user may present against an MFA-pending
// token. Biometric is not listed: an enrolled device skips password login
// entirely through its own path.
func (e *Engine) availableMethods(ctx context.Context, user *UserRecord) []MFAMethod {
	var methods []MFAMethod
	if len(user.TOTPSecretEnc) > 0 {
		methods = append(methods, MFATOTP)
		if n, err := e.stores.BackupCodes.CountUnused(ctx, user.ID); err == nil && n > 0 {
			methods = append(methods, MFABackupCode)
		}
	}
	if user.Role == RoleChild {
		methods = append(methods, MFAParentApproval)
	}
	return methods
}

func summarize(user *UserRecord) *UserSummary {
	return &UserSummary{
		ID:         user.ID,
		FamilyID:   user.FamilyID,
		Email:      user.Email,
		Nickname:   user.Nickname,
		Role:       user.Role,
		MFAEnabled: user.MFAEnabled,
	}
}
