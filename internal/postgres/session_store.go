package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// SessionStore implements famauth.SessionStore.
type SessionStore struct{ db *DB }

func NewSessionStore(db *DB) *SessionStore { return &SessionStore{db: db} }

const sessionColumns = `id, user_id, refresh_hash, device_name, ip, user_agent,
trusted_device, last_activity_at, expires_at, revoked, revoked_at, created_at`

func (s *SessionStore) Create(ctx context.Context, sess *famauth.SessionRecord) error {
	const q = `
INSERT INTO sessions (id, user_id, refresh_hash, device_name, ip, user_agent,
	trusted_device, last_activity_at, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.Pool.Exec(ctx, q,
		uuid.UUID(sess.ID), uuid.UUID(sess.UserID), sess.RefreshHash[:],
		sess.DeviceName, sess.IP, sess.UserAgent, sess.TrustedDevice,
		sess.LastActivityAt, sess.ExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return storeErr("create session", err)
	}
	return nil
}

func (s *SessionStore) GetByID(ctx context.Context, id famauth.SessionID) (*famauth.SessionRecord, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(s.db.Pool.QueryRow(ctx, q, uuid.UUID(id)))
}

// RotateRefreshHash swaps the refresh hash only if the old one is still
// current and the session is live. The conditional WHERE makes rotation a
// compare-and-set: exactly one concurrent caller wins.
func (s *SessionStore) RotateRefreshHash(ctx context.Context, id famauth.SessionID, oldHash, newHash [32]byte, expiresAt time.Time) (bool, error) {
	const q = `
UPDATE sessions SET refresh_hash = $3, expires_at = $4
WHERE id = $1 AND refresh_hash = $2 AND NOT revoked AND expires_at > CURRENT_TIMESTAMP`
	tag, err := s.db.Pool.Exec(ctx, q, uuid.UUID(id), oldHash[:], newHash[:], expiresAt)
	if err != nil {
		return false, storeErr("rotate refresh hash", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *SessionStore) Touch(ctx context.Context, id famauth.SessionID, at time.Time) error {
	const q = `UPDATE sessions SET last_activity_at = $2 WHERE id = $1`
	if _, err := s.db.Pool.Exec(ctx, q, uuid.UUID(id), at); err != nil {
		return storeErr("touch session", err)
	}
	return nil
}

func (s *SessionStore) Revoke(ctx context.Context, id famauth.SessionID, at time.Time) error {
	const q = `UPDATE sessions SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND NOT revoked`
	if _, err := s.db.Pool.Exec(ctx, q, uuid.UUID(id), at); err != nil {
		return storeErr("revoke session", err)
	}
	return nil
}

func (s *SessionStore) RevokeAllForUser(ctx context.Context, userID famauth.UserID, except famauth.SessionID, at time.Time) (int, error) {
	const q = `
UPDATE sessions SET revoked = TRUE, revoked_at = $3
WHERE user_id = $1 AND id <> $2 AND NOT revoked`
	tag, err := s.db.Pool.Exec(ctx, q, uuid.UUID(userID), uuid.UUID(except), at)
	if err != nil {
		return 0, storeErr("revoke all sessions", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SessionStore) ListActive(ctx context.Context, userID famauth.UserID, now time.Time) ([]famauth.SessionRecord, error) {
	const q = `
SELECT ` + sessionColumns + ` FROM sessions
WHERE user_id = $1 AND NOT revoked AND expires_at > $2
ORDER BY last_activity_at DESC`
	rows, err := s.db.Pool.Query(ctx, q, uuid.UUID(userID), now)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	var out []famauth.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list sessions", err)
	}
	return out, nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	const q = `
DELETE FROM sessions
WHERE expires_at < $1 OR (revoked AND revoked_at < $1)`
	cutoff := now.Add(-retention)
	tag, err := s.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, storeErr("delete expired sessions", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row rowScanner) (*famauth.SessionRecord, error) {
	var (
		rec    famauth.SessionRecord
		id     uuid.UUID
		userID uuid.UUID
		hash   []byte
	)
	err := row.Scan(&id, &userID, &hash, &rec.DeviceName, &rec.IP, &rec.UserAgent,
		&rec.TrustedDevice, &rec.LastActivityAt, &rec.ExpiresAt, &rec.Revoked, &rec.RevokedAt, &rec.CreatedAt)
	if noRows(err) {
		return nil, famauth.ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr("scan session", err)
	}
	rec.ID = famauth.SessionID(id)
	rec.UserID = famauth.UserID(userID)
	copy(rec.RefreshHash[:], hash)
	return &rec, nil
}
