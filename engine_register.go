package famauth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

const (
	minPasswordLength = 10
	maxPasswordLength = 128
	minPINLength      = 4
	maxPINLength      = 6
	maxNicknameLength = 40
	familyCodeLength  = 8
)

// RegisterParent creates a new family with its first parent account. The
// account starts with MFA unconfigured and cannot log in until
// [Engine.ConfirmTOTPSetup] completes against the returned setup token.
func (e *Engine) RegisterParent(ctx context.Context, email, password, nickname string) (*RegistrationResult, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	nickname = strings.TrimSpace(nickname)
	if err := validateNickname(nickname); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	familyID := NewFamilyID()
	familyCode, err := token.NewHumanCode(familyCodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate family code: %w", err)
	}
	if err := e.stores.Users.CreateFamily(ctx, familyID, familyCode); err != nil {
		return nil, err
	}

	user := &UserRecord{
		ID:         NewUserID(),
		FamilyID:   familyID,
		Email:      email,
		Nickname:   nickname,
		SecretHash: hash,
		Role:       RoleParent,
		CreatedAt:  e.now(),
	}
	if err := e.stores.Users.Create(ctx, user); err != nil {
		e.emitAudit(ctx, auditEventRegistrationRejected, false, "", familyID.String(), "", err, nil)
		return nil, err
	}

	setupToken, _, err := e.tokens.CreateChallenge(user.ID.String(), token.PurposeMFASetup, e.now())
	if err != nil {
		return nil, fmt.Errorf("issue setup token: %w", err)
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, auditEventRegistration, true, user.ID.String(), familyID.String(), "", nil, func() map[string]string {
		return map[string]string{"role": RoleParent.String()}
	})

	return &RegistrationResult{
		UserID:           user.ID,
		FamilyID:         familyID,
		FamilyCode:       familyCode,
		MFASetupToken:    setupToken,
		MFASetupRequired: true,
	}, nil
}

// RegisterChild creates a child account inside the caller's family. Children
// authenticate with family code, nickname, and PIN; parent approval is
// available to them from the start, so MFA is considered configured
// immediately and no setup token is issued.
func (e *Engine) RegisterChild(ctx context.Context, parentID UserID, nickname, pin string) (*RegistrationResult, error) {
	parent, err := e.stores.Users.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Role != RoleParent {
		return nil, ErrForbidden
	}

	nickname = strings.TrimSpace(nickname)
	if err := validateNickname(nickname); err != nil {
		return nil, err
	}
	if err := validatePIN(pin); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(pin)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	child := &UserRecord{
		ID:         NewUserID(),
		FamilyID:   parent.FamilyID,
		Nickname:   nickname,
		SecretHash: hash,
		Role:       RoleChild,
		MFAEnabled: true,
		CreatedAt:  e.now(),
	}
	if err := e.stores.Users.Create(ctx, child); err != nil {
		e.emitAudit(ctx, auditEventRegistrationRejected, false, parentID.String(), parent.FamilyID.String(), "", err, nil)
		return nil, err
	}

	e.metricInc(MetricRegistration)
	e.emitAudit(ctx, auditEventRegistration, true, child.ID.String(), parent.FamilyID.String(), "", nil, func() map[string]string {
		return map[string]string{"role": RoleChild.String(), "created_by": parentID.String()}
	})

	return &RegistrationResult{
		UserID:   child.ID,
		FamilyID: parent.FamilyID,
	}, nil
}

// UnlockUser clears a child's lockout ahead of its natural expiry. Only a
// parent of the same family may do this.
func (e *Engine) UnlockUser(ctx context.Context, parentID, childID UserID) error {
	parent, err := e.stores.Users.GetByID(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Role != RoleParent {
		return ErrForbidden
	}
	child, err := e.stores.Users.GetByID(ctx, childID)
	if err != nil {
		return err
	}
	if child.FamilyID != parent.FamilyID || child.Role != RoleChild {
		return ErrForbidden
	}
	if err := e.stores.Users.Unlock(ctx, childID); err != nil {
		return err
	}
	if err := e.limiter.Reset(ctx, child.Identifier(), ""); err != nil {
		e.logger.Warn("limiter reset on unlock failed", zap.Error(err))
	}
	e.emitAudit(ctx, auditEventAccountUnlocked, true, childID.String(), child.FamilyID.String(), "", nil, func() map[string]string {
		return map[string]string{"unlocked_by": parentID.String()}
	})
	return nil
}

// DeleteAccount revokes every session for the user and removes the account.
// Dependent rows (sessions, device tokens, backup codes, approvals) go with
// it through foreign-key cascades.
func (e *Engine) DeleteAccount(ctx context.Context, userID UserID) error {
	user, err := e.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := e.stores.Sessions.RevokeAllForUser(ctx, userID, SessionID{}, e.now()); err != nil {
		return err
	}
	if err := e.stores.Users.Delete(ctx, userID); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventAccountDeleted, true, userID.String(), user.FamilyID.String(), "", nil, nil)
	return nil
}

// Me returns the profile summary for an authenticated user.
func (e *Engine) Me(ctx context.Context, userID UserID) (*UserSummary, error) {
	user, err := e.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return summarize(user), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if len(email) < 3 || len(email) > 254 {
		return fmt.Errorf("%w: email length out of range", ErrValidation)
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password shorter than %d characters", ErrValidation, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password longer than %d characters", ErrValidation, maxPasswordLength)
	}
	return nil
}

func validatePIN(pin string) error {
	if len(pin) < minPINLength || len(pin) > maxPINLength {
		return fmt.Errorf("%w: pin must be %d to %d digits", ErrValidation, minPINLength, maxPINLength)
	}
	if !isNumericString(pin) {
		return fmt.Errorf("%w: pin must be numeric", ErrValidation)
	}
	return nil
}

func validateNickname(nickname string) error {
	if nickname == "" || len(nickname) > maxNicknameLength {
		return fmt.Errorf("%w: nickname length out of range", ErrValidation)
	}
	return nil
}
