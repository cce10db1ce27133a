package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// UserStore implements famauth.UserStore.
type UserStore struct{ db *DB }

func NewUserStore(db *DB) *UserStore { return &UserStore{db: db} }

const userColumns = `id, family_id, email, nickname, secret_hash, role, mfa_enabled,
totp_secret_enc, failed_login_attempts, lockout_end, created_at`

func (s *UserStore) CreateFamily(ctx context.Context, id famauth.FamilyID, code string) error {
	const q = `INSERT INTO families (id, code) VALUES ($1, $2)`
	_, err := s.db.Pool.Exec(ctx, q, uuid.UUID(id), code)
	if isUniqueViolation(err) {
		return famauth.ErrDuplicateIdentifier
	}
	if err != nil {
		return storeErr("create family", err)
	}
	return nil
}

func (s *UserStore) Create(ctx context.Context, u *famauth.UserRecord) error {
	const q = `
INSERT INTO users (id, family_id, email, nickname, secret_hash, role, mfa_enabled, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`
	_, err := s.db.Pool.Exec(ctx, q,
		uuid.UUID(u.ID), uuid.UUID(u.FamilyID), u.Email, u.Nickname,
		u.SecretHash, u.Role.String(), u.MFAEnabled, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return famauth.ErrDuplicateIdentifier
	}
	if err != nil {
		return storeErr("create user", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id famauth.UserID) (*famauth.UserRecord, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(s.db.Pool.QueryRow(ctx, q, uuid.UUID(id)))
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*famauth.UserRecord, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(s.db.Pool.QueryRow(ctx, q, email))
}

func (s *UserStore) GetChild(ctx context.Context, familyCode, nickname string) (*famauth.UserRecord, error) {
	const q = `
SELECT u.id, u.family_id, u.email, u.nickname, u.secret_hash, u.role, u.mfa_enabled,
u.totp_secret_enc, u.failed_login_attempts, u.lockout_end, u.created_at
FROM users u
JOIN families f ON f.id = u.family_id
WHERE f.code = $1 AND lower(u.nickname) = lower($2) AND u.role = 'child'`
	return scanUser(s.db.Pool.QueryRow(ctx, q, familyCode, nickname))
}

func (s *UserStore) SetTOTPSecret(ctx context.Context, id famauth.UserID, sealed []byte) error {
	const q = `UPDATE users SET totp_secret_enc = $2 WHERE id = $1`
	return s.execOne(ctx, "set totp secret", q, uuid.UUID(id), sealed)
}

func (s *UserStore) SetMFAEnabled(ctx context.Context, id famauth.UserID, enabled bool) error {
	const q = `UPDATE users SET mfa_enabled = $2 WHERE id = $1`
	return s.execOne(ctx, "set mfa enabled", q, uuid.UUID(id), enabled)
}

// RecordLoginFailure bumps the failure counter and arms the lockout in one
// statement, so concurrent bad logins cannot lose increments.
func (s *UserStore) RecordLoginFailure(ctx context.Context, id famauth.UserID, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	const q = `
UPDATE users SET
	failed_login_attempts = failed_login_attempts + 1,
	lockout_end = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE lockout_end END
WHERE id = $1
RETURNING failed_login_attempts, lockout_end`
	var attempts int
	var lockoutEnd *time.Time
	err := s.db.Pool.QueryRow(ctx, q, uuid.UUID(id), threshold, lockUntil).Scan(&attempts, &lockoutEnd)
	if noRows(err) {
		return 0, nil, famauth.ErrUserNotFound
	}
	if err != nil {
		return 0, nil, storeErr("record login failure", err)
	}
	return attempts, lockoutEnd, nil
}

func (s *UserStore) ResetLoginFailures(ctx context.Context, id famauth.UserID) error {
	const q = `UPDATE users SET failed_login_attempts = 0, lockout_end = NULL WHERE id = $1`
	return s.execOne(ctx, "reset login failures", q, uuid.UUID(id))
}

func (s *UserStore) Unlock(ctx context.Context, id famauth.UserID) error {
	const q = `UPDATE users SET failed_login_attempts = 0, lockout_end = NULL WHERE id = $1`
	return s.execOne(ctx, "unlock user", q, uuid.UUID(id))
}

func (s *UserStore) Delete(ctx context.Context, id famauth.UserID) error {
	const q = `DELETE FROM users WHERE id = $1`
	return s.execOne(ctx, "delete user", q, uuid.UUID(id))
}

func (s *UserStore) execOne(ctx context.Context, op, q string, args ...any) error {
	tag, err := s.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return storeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return famauth.ErrUserNotFound
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(row rowScanner) (*famauth.UserRecord, error) {
	var (
		u     famauth.UserRecord
		id    uuid.UUID
		famID uuid.UUID
		email sql.NullString
		role  string
	)
	err := row.Scan(&id, &famID, &email, &u.Nickname, &u.SecretHash, &role, &u.MFAEnabled,
		&u.TOTPSecretEnc, &u.FailedLoginAttempts, &u.LockoutEnd, &u.CreatedAt)
	if noRows(err) {
		return nil, famauth.ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr("scan user", err)
	}
	u.ID = famauth.UserID(id)
	u.FamilyID = famauth.FamilyID(famID)
	u.Email = email.String
	if r, ok := famauth.ParseRole(role); ok {
		u.Role = r
	}
	return &u, nil
}
