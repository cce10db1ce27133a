package famauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolsfactory/TaschengeldManager-sub001/internal"
	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// BeginTOTPSetup generates a fresh shared secret for the user named by a
// setup token and stores it sealed. The secret is only provisional until
// [Engine.ConfirmTOTPSetup] proves the authenticator produces matching
// codes; calling BeginTOTPSetup again replaces it.
func (e *Engine) BeginTOTPSetup(ctx context.Context, setupToken string) (*TOTPSetup, error) {
	claims, err := e.tokens.ParseChallenge(setupToken, token.PurposeMFASetup)
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

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	sealed, err := internal.Seal(e.config.TOTP.SecretKey, secret)
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}
	if err := e.stores.Users.SetTOTPSecret(ctx, user.ID, sealed); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTOTPSetupStarted, true, user.ID.String(), user.FamilyID.String(), "", nil, nil)

	return &TOTPSetup{
		SecretBase32: secretBase32,
		OtpauthURI:   e.totp.ProvisionURI(secretBase32, user.Identifier()),
		SetupToken:   setupToken,
	}, nil
}

// ConfirmTOTPSetup validates one code against the provisional secret, flips
// the account to MFA-enabled, and issues the first batch of backup codes.
// The setup token is consumed on success so it cannot enable MFA twice.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, setupToken, code string) ([]string, error) {
	claims, err := e.tokens.ParseChallenge(setupToken, token.PurposeMFASetup)
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
	if len(user.TOTPSecretEnc) == 0 {
		return nil, ErrMFANotConfigured
	}

	if err := e.verifyTOTPEvidence(ctx, user, code); err != nil {
		e.emitAudit(ctx, auditEventMFAFailure, false, user.ID.String(), user.FamilyID.String(), "", err, nil)
		return nil, err
	}

	consumed, err := e.challenge.Consume(ctx, claims.ID, e.config.Token.SetupTTL+e.config.Token.Leeway)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !consumed {
		return nil, ErrMFATokenInvalid
	}

	if err := e.stores.Users.SetMFAEnabled(ctx, user.ID, true); err != nil {
		return nil, err
	}

	codes, err := e.issueBackupCodes(ctx, user)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTOTPEnabled, true, user.ID.String(), user.FamilyID.String(), "", nil, nil)
	return codes, nil
}

// RegenerateBackupCodes replaces the whole batch. It demands a live TOTP
// code so a stolen access token alone cannot rotate the codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID UserID, totpCode string) ([]string, error) {
	user, err := e.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := e.verifyTOTPEvidence(ctx, user, totpCode); err != nil {
		return nil, err
	}
	return e.issueBackupCodes(ctx, user)
}

// issueBackupCodes generates a batch, stores only the digests, and returns
// the plaintext codes. This is the single time they are readable.
func (e *Engine) issueBackupCodes(ctx context.Context, user *UserRecord) ([]string, error) {
	cfg := e.config.Backup
	codes := make([]string, 0, cfg.Count)
	hashes := make([][32]byte, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		code, err := token.NewHumanCode(cfg.Length)
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}
		hashes = append(hashes, token.HashString(code))
		codes = append(codes, formatBackupCode(code))
	}
	if err := e.stores.BackupCodes.Replace(ctx, user.ID, hashes); err != nil {
		return nil, err
	}
	e.metricInc(MetricBackupCodesIssued)
	e.emitAudit(ctx, auditEventBackupCodesIssued, true, user.ID.String(), user.FamilyID.String(), "", nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprint(cfg.Count)}
	})
	return codes, nil
}

// formatBackupCode groups the raw code for readability; normalization on
// verification strips the separator back out.
func formatBackupCode(code string) string {
	if len(code) < 6 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
