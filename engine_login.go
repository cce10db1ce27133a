package famauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/toolsfactory/TaschengeldManager-sub001/internal/rate"
	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// LoginParent verifies a parent's email and password. A correct credential
// never produces tokens directly: the result carries an MFA-pending token
// the caller must redeem through [Engine.VerifyMFA]. If the account has no
// MFA method configured yet, the result carries a fresh setup token instead.
func (e *Engine) LoginParent(ctx context.Context, cred AdultCredential) (*LoginResult, error) {
	email := normalizeEmail(cred.Email)
	if err := validateEmail(email); err != nil {
		return nil, ErrInvalidCredentials
	}
	return e.login(ctx, email, cred.Password, func(ctx context.Context) (*UserRecord, error) {
		return e.stores.Users.GetByEmail(ctx, email)
	})
}

// LoginChild verifies a child's family code, nickname, and PIN. Children go
// through the same MFA gate as parents; parent approval is always among
// their available methods.
func (e *Engine) LoginChild(ctx context.Context, cred ChildCredential) (*LoginResult, error) {
	identifier := childIdentifier(cred.FamilyCode, cred.Nickname)
	return e.login(ctx, identifier, cred.PIN, func(ctx context.Context) (*UserRecord, error) {
		return e.stores.Users.GetChild(ctx, cred.FamilyCode, cred.Nickname)
	})
}

func (e *Engine) login(ctx context.Context, identifier, secret string, lookup func(context.Context) (*UserRecord, error)) (*LoginResult, error) {
	ip := clientIPFromContext(ctx)

	if err := e.limiter.CheckLogin(ctx, identifier, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.recordAttempt(ctx, nil, identifier, false, "rate_limited", "password")
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", "", ErrRateLimited, nil)
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	user, err := lookup(ctx)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Unknown identifiers burn the same hashing cost as known
			// ones so response timing does not leak account existence.
			if d, ok := e.hasher.(interface{ DummyVerify() }); ok {
				d.DummyVerify()
			}
			if rerr := e.registerFailure(ctx, nil, identifier, "unknown_identifier", "password"); rerr != nil {
				e.logger.Warn("failure accounting", zap.Error(rerr))
			}
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := e.now()
	if user.LockedAt(now) {
		e.metricInc(MetricLoginLocked)
		e.recordAttempt(ctx, &user.ID, identifier, false, "locked", "password")
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID.String(), user.FamilyID.String(), "", ErrAccountLocked, nil)
		return nil, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(secret, user.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	if !ok {
		if rerr := e.registerFailure(ctx, user, identifier, "bad_secret", "password"); rerr != nil {
			e.logger.Warn("failure accounting", zap.Error(rerr))
		}
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID.String(), user.FamilyID.String(), "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if err := e.stores.Users.ResetLoginFailures(ctx, user.ID); err != nil {
		return nil, err
	}
	if err := e.limiter.Reset(ctx, identifier, ip); err != nil {
		e.logger.Warn("limiter reset failed", zap.Error(err))
	}
	e.recordAttempt(ctx, &user.ID, identifier, true, "credentials_ok", "password")

	if !user.MFAEnabled {
		setupToken, _, err := e.tokens.CreateChallenge(user.ID.String(), token.PurposeMFASetup, now)
		if err != nil {
			return nil, fmt.Errorf("issue setup token: %w", err)
		}
		return &LoginResult{
			RequiresMFA: true,
			MFAToken:    setupToken,
			UserID:      user.ID,
		}, nil
	}

	mfaToken, _, err := e.tokens.CreateChallenge(user.ID.String(), token.PurposeMFAPending, now)
	if err != nil {
		return nil, fmt.Errorf("issue mfa token: %w", err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, user.ID.String(), user.FamilyID.String(), "", nil, nil)

	return &LoginResult{
		RequiresMFA:      true,
		MFAToken:         mfaToken,
		AvailableMethods: e.availableMethods(ctx, user),
		UserID:           user.ID,
	}, nil
}

// issueSession is the single place sessions are born: it creates the session
// row, mints the access token, and encodes the opaque refresh token. Every
// fully authenticated path funnels through here.
func (e *Engine) issueSession(ctx context.Context, user *UserRecord, trusted bool, method string) (*LoginResult, error) {
	now := e.now()

	if max := e.config.Session.MaxPerUser; max > 0 {
		if err := e.enforceSessionQuota(ctx, user.ID, max, now); err != nil {
			e.logger.Warn("session quota enforcement failed", zap.Error(err))
		}
	}

	secret, err := token.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	sess := &SessionRecord{
		ID:             NewSessionID(),
		UserID:         user.ID,
		RefreshHash:    token.HashSecret(secret),
		DeviceName:     deviceNameFromContext(ctx),
		IP:             clientIPFromContext(ctx),
		UserAgent:      userAgentFromContext(ctx),
		TrustedDevice:  trusted,
		LastActivityAt: now,
		ExpiresAt:      now.Add(e.config.Token.RefreshTTL),
		CreatedAt:      now,
	}
	if err := e.stores.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	access, expiresAt, err := e.tokens.CreateAccess(user.ID.String(), sess.ID.String(), user.Role.String(), now)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.recordAttempt(ctx, &user.ID, user.Identifier(), true, "login_complete", method)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID.String(), user.FamilyID.String(), sess.ID.String(), nil, func() map[string]string {
		return map[string]string{"method": method}
	})

	return &LoginResult{
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: token.EncodeRefresh(uuid.UUID(sess.ID), secret),
		ExpiresAt:    expiresAt,
		SessionID:    sess.ID,
		User:         summarize(user),
	}, nil
}

// enforceSessionQuota revokes the stalest active session once a user is at
// the cap, so a family tablet cycling through logins cannot grow rows
// without bound.
func (e *Engine) enforceSessionQuota(ctx context.Context, userID UserID, max int, now time.Time) error {
	active, err := e.stores.Sessions.ListActive(ctx, userID, now)
	if err != nil {
		return err
	}
	if len(active) < max {
		return nil
	}
	stalest := active[0]
	for _, s := range active[1:] {
		if s.LastActivityAt.Before(stalest.LastActivityAt) {
			stalest = s
		}
	}
	if err := e.stores.Sessions.Revoke(ctx, stalest.ID, now); err != nil {
		return err
	}
	e.metricInc(MetricSessionRevoked)
	return nil
}

func childIdentifier(familyCode, nickname string) string {
	return strings.ToUpper(strings.TrimSpace(familyCode)) + ":" + strings.ToLower(strings.TrimSpace(nickname))
}
