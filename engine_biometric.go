package famauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// BiometricEnrollRequest describes the device asking to be enrolled.
type BiometricEnrollRequest struct {
	DeviceID     string
	DeviceName   string
	Platform     string
	BiometryType string
}

// EnableBiometric binds a long-lived device token to the calling session's
// user. The session must be young: enrollment is only allowed within a
// short window after a full MFA login, so a stolen access token found later
// cannot mint itself a permanent credential.
func (e *Engine) EnableBiometric(ctx context.Context, userID UserID, sessionID SessionID, req BiometricEnrollRequest) (*BiometricEnrollment, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id required", ErrValidation)
	}
	sess, err := e.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if sess.UserID != userID || !sess.ActiveAt(now) {
		return nil, ErrForbidden
	}
	if now.Sub(sess.CreatedAt) > e.config.Biometric.EnrollmentWindow {
		e.metricInc(MetricBiometricRejected)
		e.emitAudit(ctx, auditEventBiometricRejected, false, userID.String(), "", sessionID.String(), ErrFreshMFARequired, nil)
		return nil, ErrFreshMFARequired
	}

	user, err := e.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, err := token.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate device secret: %w", err)
	}
	rec := &BiometricTokenRecord{
		UserID:       userID,
		DeviceID:     req.DeviceID,
		DeviceName:   req.DeviceName,
		Platform:     req.Platform,
		BiometryType: req.BiometryType,
		SecretHash:   token.HashSecret(secret),
		ExpiresAt:    now.Add(e.config.Biometric.TokenTTL),
		Valid:        true,
		CreatedAt:    now,
	}
	if err := e.stores.Biometrics.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventBiometricEnrolled, true, userID.String(), user.FamilyID.String(), sessionID.String(), nil, func() map[string]string {
		return map[string]string{"device_id": req.DeviceID, "platform": req.Platform}
	})

	return &BiometricEnrollment{
		DeviceID:  req.DeviceID,
		Token:     token.EncodeRefresh(uuid.UUID(userID), secret),
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// LoginBiometric authenticates with an enrolled device token alone,
// bypassing the password step. The local biometric check already happened
// on the device; server-side the token is the proof. Lockout still applies.
func (e *Engine) LoginBiometric(ctx context.Context, deviceID, deviceToken string) (*LoginResult, error) {
	uid, secret, err := token.DecodeRefresh(deviceToken)
	if err != nil {
		return nil, ErrDeviceTokenInvalid
	}
	userID := UserID(uid)

	user, err := e.stores.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrDeviceTokenInvalid
		}
		return nil, err
	}
	now := e.now()
	if user.LockedAt(now) {
		e.recordAttempt(ctx, &user.ID, user.Identifier(), false, "locked", MFABiometric.String())
		return nil, ErrAccountLocked
	}

	rec, err := e.stores.Biometrics.Get(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceTokenInvalid) {
			return nil, e.rejectBiometric(ctx, user, ErrDeviceTokenInvalid)
		}
		return nil, err
	}
	if !rec.Valid || !rec.ExpiresAt.After(now) {
		return nil, e.rejectBiometric(ctx, user, ErrDeviceTokenInvalid)
	}
	got := token.HashSecret(secret)
	if subtle.ConstantTimeCompare(got[:], rec.SecretHash[:]) != 1 {
		return nil, e.rejectBiometric(ctx, user, ErrDeviceTokenInvalid)
	}

	if err := e.stores.Biometrics.TouchLastUsed(ctx, userID, deviceID, now); err != nil {
		e.logger.Warn("biometric last-used update failed", zap.Error(err))
	}
	if err := e.stores.Users.ResetLoginFailures(ctx, userID); err != nil {
		return nil, err
	}

	e.metricInc(MetricBiometricLogin)
	return e.issueSession(ctx, user, true, MFABiometric.String())
}

func (e *Engine) rejectBiometric(ctx context.Context, user *UserRecord, cause error) error {
	e.metricInc(MetricBiometricRejected)
	e.emitAudit(ctx, auditEventBiometricRejected, false, user.ID.String(), user.FamilyID.String(), "", cause, nil)
	if err := e.registerFailure(ctx, user, user.Identifier(), "device_token", MFABiometric.String()); err != nil {
		e.logger.Warn("failure accounting", zap.Error(err))
	}
	return cause
}

// DisableBiometric invalidates one enrolled device.
func (e *Engine) DisableBiometric(ctx context.Context, userID UserID, deviceID string) error {
	if err := e.stores.Biometrics.Invalidate(ctx, userID, deviceID); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventBiometricDisabled, true, userID.String(), "", "", nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})
	return nil
}

// DisableAllBiometrics invalidates every enrolled device for the user.
func (e *Engine) DisableAllBiometrics(ctx context.Context, userID UserID) error {
	if err := e.stores.Biometrics.InvalidateAll(ctx, userID); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventBiometricDisabled, true, userID.String(), "", "", nil, nil)
	return nil
}
