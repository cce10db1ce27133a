package famauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// AccessContext is the identity carried by a verified access token.
type AccessContext struct {
	UserID    UserID
	SessionID SessionID
	Role      Role
}

// ValidateAccess verifies an access token's signature and expiry and returns
// the identity it asserts. Access tokens are stateless; revocation takes
// effect at the next refresh.
func (e *Engine) ValidateAccess(ctx context.Context, raw string) (*AccessContext, error) {
	claims, err := e.tokens.ParseAccess(raw)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	userID, err := ParseUserID(claims.UID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	sessionID, err := ParseSessionID(claims.SID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return nil, ErrTokenInvalid
	}
	return &AccessContext{UserID: userID, SessionID: sessionID, Role: role}, nil
}

// Refresh rotates a refresh token: the presented secret is retired and a new
// one issued in a single conditional update. Presenting a secret the session
// has already rotated past is treated as theft evidence and revokes the
// whole session.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	sid, secret, err := token.DecodeRefresh(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshInvalid)
		return nil, ErrRefreshInvalid
	}
	sessionID := SessionID(sid)

	sess, err := e.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			e.metricInc(MetricRefreshInvalid)
			return nil, ErrRefreshInvalid
		}
		return nil, err
	}
	now := e.now()
	if !sess.ActiveAt(now) {
		e.metricInc(MetricRefreshInvalid)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID.String(), "", sessionID.String(), ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	oldHash := token.HashSecret(secret)
	if subtle.ConstantTimeCompare(oldHash[:], sess.RefreshHash[:]) != 1 {
		// The secret belongs to this session but is no longer current:
		// someone replayed an already-rotated token.
		if err := e.stores.Sessions.Revoke(ctx, sessionID, now); err != nil {
			e.logger.Warn("revoke on refresh reuse failed", zap.Error(err))
		}
		e.metricInc(MetricRefreshReuse)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventRefreshReuse, false, sess.UserID.String(), "", sessionID.String(), ErrRefreshReuse, nil)
		return nil, ErrRefreshReuse
	}

	newSecret, err := token.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	rotated, err := e.stores.Sessions.RotateRefreshHash(ctx, sessionID, oldHash, token.HashSecret(newSecret), now.Add(e.config.Token.RefreshTTL))
	if err != nil {
		return nil, err
	}
	if !rotated {
		// Lost a race with a concurrent refresh of the same token.
		e.metricInc(MetricRefreshInvalid)
		return nil, ErrRefreshInvalid
	}

	user, err := e.stores.Users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	access, expiresAt, err := e.tokens.CreateAccess(user.ID.String(), sessionID.String(), user.Role.String(), now)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	if err := e.stores.Sessions.Touch(ctx, sessionID, now); err != nil {
		e.logger.Warn("session touch failed", zap.Error(err))
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID.String(), user.FamilyID.String(), sessionID.String(), nil, nil)

	return &LoginResult{
		UserID:       user.ID,
		AccessToken:  access,
		RefreshToken: token.EncodeRefresh(sid, newSecret),
		ExpiresAt:    expiresAt,
		SessionID:    sessionID,
		User:         summarize(user),
	}, nil
}

// Logout revokes the session named by a refresh token. The token must still
// be the session's current one.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	sid, secret, err := token.DecodeRefresh(refreshToken)
	if err != nil {
		return ErrRefreshInvalid
	}
	sessionID := SessionID(sid)
	sess, err := e.stores.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return ErrRefreshInvalid
		}
		return err
	}
	hash := token.HashSecret(secret)
	if subtle.ConstantTimeCompare(hash[:], sess.RefreshHash[:]) != 1 {
		return ErrRefreshInvalid
	}
	if err := e.stores.Sessions.Revoke(ctx, sessionID, e.now()); err != nil {
		return err
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.UserID.String(), "", sessionID.String(), nil, nil)
	return nil
}

// LogoutAll revokes every session of the user, including the current one.
func (e *Engine) LogoutAll(ctx context.Context, userID UserID) (int, error) {
	n, err := e.stores.Sessions.RevokeAllForUser(ctx, userID, SessionID{}, e.now())
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventLogoutAll, true, userID.String(), "", "", nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n)}
	})
	return n, nil
}

// LogoutOthers revokes every session of the user except the given one.
func (e *Engine) LogoutOthers(ctx context.Context, userID UserID, keep SessionID) (int, error) {
	n, err := e.stores.Sessions.RevokeAllForUser(ctx, userID, keep, e.now())
	if err != nil {
		return 0, err
	}
	e.emitAudit(ctx, auditEventLogoutAll, true, userID.String(), "", keep.String(), nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(n), "kept": keep.String()}
	})
	return n, nil
}

// Sessions lists the user's active sessions, flagging the one the caller is
// on so a client can render "this device".
func (e *Engine) Sessions(ctx context.Context, userID UserID, current SessionID) ([]SessionInfo, error) {
	records, err := e.stores.Sessions.ListActive(ctx, userID, e.now())
	if err != nil {
		return nil, err
	}
	infos := make([]SessionInfo, 0, len(records))
	for _, r := range records {
		infos = append(infos, SessionInfo{
			ID:             r.ID,
			DeviceName:     r.DeviceName,
			IP:             r.IP,
			UserAgent:      r.UserAgent,
			TrustedDevice:  r.TrustedDevice,
			Current:        r.ID == current,
			CreatedAt:      r.CreatedAt,
			LastActivityAt: r.LastActivityAt,
			ExpiresAt:      r.ExpiresAt,
		})
	}
	return infos, nil
}
