package famauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/toolsfactory/TaschengeldManager-sub001/internal"
	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// VerifyMFA redeems an MFA-pending token against one piece of evidence and,
// on success, completes the login. The pending token is single-use: it is
// consumed atomically on the first successful verification, and a bounded
// number of failed attempts burns it entirely.
func (e *Engine) VerifyMFA(ctx context.Context, mfaToken string, method MFAMethod, evidence MFAEvidence) (*LoginResult, error) {
	claims, err := e.tokens.ParseChallenge(mfaToken, token.PurposeMFAPending)
	if err != nil {
		return nil, ErrMFATokenInvalid
	}
	userID, err := ParseUserID(claims.UID)
	if err != nil {
		return nil, ErrMFATokenInvalid
	}
	user, err := e.stores.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMFATokenInvalid
		}
		return nil, err
	}

	exceeded, err := e.challenge.Exceeded(ctx, claims.ID, e.config.TOTP.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if exceeded {
		return nil, ErrMFAAttemptsExceeded
	}

	// Bail on an already-redeemed token before touching any evidence, so a
	// replay cannot burn a backup code or a TOTP step as a side effect.
	redeemed, err := e.challenge.Consumed(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if redeemed {
		e.metricInc(MetricMFAReplay)
		e.emitAudit(ctx, auditEventMFAReplay, false, user.ID.String(), user.FamilyID.String(), "", ErrMFAReplay, nil)
		return nil, ErrMFAReplay
	}

	if user.LockedAt(e.now()) {
		return nil, ErrAccountLocked
	}

	var verifyErr error
	switch method {
	case MFATOTP:
		verifyErr = e.verifyTOTPEvidence(ctx, user, evidence.Code)
	case MFABackupCode:
		verifyErr = e.verifyBackupEvidence(ctx, user, evidence.Code)
	case MFABiometric:
		verifyErr = e.verifyBiometricEvidence(ctx, user, evidence.DeviceID, evidence.DeviceSecret)
	case MFAParentApproval:
		verifyErr = e.verifyApprovalEvidence(ctx, user, evidence.ApprovalID)
	default:
		return nil, fmt.Errorf("%w: unknown mfa method", ErrValidation)
	}

	if verifyErr != nil {
		// A still-pending approval is a poll result, not a wrong answer;
		// it must not burn attempts.
		if errors.Is(verifyErr, ErrApprovalPending) {
			return nil, verifyErr
		}
		return nil, e.failMFAAttempt(ctx, user, claims.ID, method, verifyErr)
	}

	consumed, err := e.challenge.Consume(ctx, claims.ID, e.config.Token.MFAPendingTTL+e.config.Token.Leeway)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !consumed {
		e.metricInc(MetricMFAReplay)
		e.emitAudit(ctx, auditEventMFAReplay, false, user.ID.String(), user.FamilyID.String(), "", ErrMFAReplay, nil)
		return nil, ErrMFAReplay
	}

	if err := e.stores.Users.ResetLoginFailures(ctx, user.ID); err != nil {
		return nil, err
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, user.ID.String(), user.FamilyID.String(), "", nil, func() map[string]string {
		return map[string]string{"mfa_method": method.String()}
	})

	return e.issueSession(ctx, user, evidence.TrustDevice, method.String())
}

func (e *Engine) verifyTOTPEvidence(ctx context.Context, user *UserRecord, code string) error {
	if len(user.TOTPSecretEnc) == 0 {
		return ErrMFANotConfigured
	}
	secret, err := internal.Open(e.config.TOTP.SecretKey, user.TOTPSecretEnc)
	if err != nil {
		return fmt.Errorf("unseal totp secret: %w", err)
	}
	ok, step, err := e.totp.VerifyCode(secret, code, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrMFAVerificationFailed
	}
	fresh, err := e.replay.MarkStep(ctx, user.ID.String(), step, e.totp.ReplayTTL())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !fresh {
		e.metricInc(MetricMFAReplay)
		return ErrMFAReplay
	}
	return nil
}

func (e *Engine) verifyBackupEvidence(ctx context.Context, user *UserRecord, code string) error {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return ErrMFAVerificationFailed
	}
	used, err := e.stores.BackupCodes.Consume(ctx, user.ID, token.HashString(normalized), e.now())
	if err != nil {
		return err
	}
	if !used {
		remaining, cerr := e.stores.BackupCodes.CountUnused(ctx, user.ID)
		if cerr == nil && remaining == 0 {
			return ErrBackupCodesExhausted
		}
		return ErrMFAVerificationFailed
	}
	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, user.ID.String(), user.FamilyID.String(), "", nil, nil)
	return nil
}

func (e *Engine) verifyBiometricEvidence(ctx context.Context, user *UserRecord, deviceID, deviceSecret string) error {
	if deviceID == "" || deviceSecret == "" {
		return ErrDeviceTokenInvalid
	}
	uid, secret, err := token.DecodeRefresh(deviceSecret)
	if err != nil || UserID(uid) != user.ID {
		return ErrDeviceTokenInvalid
	}
	rec, err := e.stores.Biometrics.Get(ctx, user.ID, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceTokenInvalid) {
			return ErrDeviceTokenInvalid
		}
		return err
	}
	now := e.now()
	if !rec.Valid || !rec.ExpiresAt.After(now) {
		return ErrDeviceTokenInvalid
	}
	got := token.HashSecret(secret)
	if subtle.ConstantTimeCompare(got[:], rec.SecretHash[:]) != 1 {
		return ErrDeviceTokenInvalid
	}
	if err := e.stores.Biometrics.TouchLastUsed(ctx, user.ID, deviceID, now); err != nil {
		e.logger.Warn("biometric last-used update failed", zap.Error(err))
	}
	return nil
}

func (e *Engine) verifyApprovalEvidence(ctx context.Context, user *UserRecord, id ApprovalID) error {
	if user.Role != RoleChild {
		return ErrMFANotConfigured
	}
	if id.IsZero() {
		return ErrMFAVerificationFailed
	}
	rec, err := e.stores.Approvals.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.ChildID != user.ID {
		return ErrApprovalForbidden
	}
	switch rec.EffectiveStatus(e.now()) {
	case ApprovalApproved:
		// Each approval authorizes exactly one login. The conditional flip
		// to used keeps a granted approval from being replayed against a
		// later challenge.
		used, err := e.stores.Approvals.ConsumeApproved(ctx, id, user.ID)
		if err != nil {
			return err
		}
		if !used {
			return ErrApprovalNotPending
		}
		return nil
	case ApprovalPending:
		return ErrApprovalPending
	default:
		return ErrApprovalNotPending
	}
}

// failMFAAttempt burns one attempt on the pending token and feeds the shared
// lockout accounting, then returns the original cause.
func (e *Engine) failMFAAttempt(ctx context.Context, user *UserRecord, jti string, method MFAMethod, cause error) error {
	e.metricInc(MetricMFAFailure)
	e.emitAudit(ctx, auditEventMFAFailure, false, user.ID.String(), user.FamilyID.String(), "", cause, func() map[string]string {
		return map[string]string{"mfa_method": method.String()}
	})

	if err := e.registerFailure(ctx, user, user.Identifier(), "mfa_"+method.String(), method.String()); err != nil {
		e.logger.Warn("failure accounting", zap.Error(err))
	}

	exceeded, err := e.challenge.RecordFailure(ctx, jti, e.config.TOTP.MaxAttempts, e.config.Token.MFAPendingTTL+e.config.Token.Leeway)
	if err != nil {
		e.logger.Warn("mfa attempt counter failed", zap.Error(err))
	}
	if exceeded {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, user.ID.String(), user.FamilyID.String(), "", ErrMFAAttemptsExceeded, nil)
		return ErrMFAAttemptsExceeded
	}
	return cause
}

func normalizeBackupCode(code string) string {
	var b []byte
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == ' ' || c == '-':
			continue
		case c >= 'a' && c <= 'z':
			b = append(b, c-'a'+'A')
		default:
			b = append(b, c)
		}
	}
	return string(b)
}
