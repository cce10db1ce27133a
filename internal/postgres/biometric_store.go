package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// BiometricStore implements famauth.BiometricTokenStore.
type BiometricStore struct{ db *DB }

func NewBiometricStore(db *DB) *BiometricStore { return &BiometricStore{db: db} }

// Upsert replaces any previous enrollment of the same device, so
// re-enrolling rotates the secret instead of stacking rows.
func (s *BiometricStore) Upsert(ctx context.Context, rec *famauth.BiometricTokenRecord) error {
	const q = `
INSERT INTO biometric_tokens (user_id, device_id, device_name, platform, biometry_type,
	secret_hash, expires_at, valid, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, device_id) DO UPDATE SET
	device_name = EXCLUDED.device_name,
	platform = EXCLUDED.platform,
	biometry_type = EXCLUDED.biometry_type,
	secret_hash = EXCLUDED.secret_hash,
	expires_at = EXCLUDED.expires_at,
	valid = EXCLUDED.valid,
	last_used_at = NULL,
	created_at = EXCLUDED.created_at`
	_, err := s.db.Pool.Exec(ctx, q,
		uuid.UUID(rec.UserID), rec.DeviceID, rec.DeviceName, rec.Platform, rec.BiometryType,
		rec.SecretHash[:], rec.ExpiresAt, rec.Valid, rec.CreatedAt,
	)
	if err != nil {
		return storeErr("upsert biometric token", err)
	}
	return nil
}

func (s *BiometricStore) Get(ctx context.Context, userID famauth.UserID, deviceID string) (*famauth.BiometricTokenRecord, error) {
	const q = `
SELECT user_id, device_id, device_name, platform, biometry_type, secret_hash,
	expires_at, valid, last_used_at, created_at
FROM biometric_tokens WHERE user_id = $1 AND device_id = $2`
	var (
		rec  famauth.BiometricTokenRecord
		uid  uuid.UUID
		hash []byte
	)
	err := s.db.Pool.QueryRow(ctx, q, uuid.UUID(userID), deviceID).Scan(
		&uid, &rec.DeviceID, &rec.DeviceName, &rec.Platform, &rec.BiometryType,
		&hash, &rec.ExpiresAt, &rec.Valid, &rec.LastUsedAt, &rec.CreatedAt,
	)
	if noRows(err) {
		return nil, famauth.ErrDeviceTokenInvalid
	}
	if err != nil {
		return nil, storeErr("get biometric token", err)
	}
	rec.UserID = famauth.UserID(uid)
	copy(rec.SecretHash[:], hash)
	return &rec, nil
}

func (s *BiometricStore) TouchLastUsed(ctx context.Context, userID famauth.UserID, deviceID string, at time.Time) error {
	const q = `UPDATE biometric_tokens SET last_used_at = $3 WHERE user_id = $1 AND device_id = $2`
	if _, err := s.db.Pool.Exec(ctx, q, uuid.UUID(userID), deviceID, at); err != nil {
		return storeErr("touch biometric token", err)
	}
	return nil
}

func (s *BiometricStore) Invalidate(ctx context.Context, userID famauth.UserID, deviceID string) error {
	const q = `UPDATE biometric_tokens SET valid = FALSE WHERE user_id = $1 AND device_id = $2`
	tag, err := s.db.Pool.Exec(ctx, q, uuid.UUID(userID), deviceID)
	if err != nil {
		return storeErr("invalidate biometric token", err)
	}
	if tag.RowsAffected() == 0 {
		return famauth.ErrDeviceTokenInvalid
	}
	return nil
}

func (s *BiometricStore) InvalidateAll(ctx context.Context, userID famauth.UserID) error {
	const q = `UPDATE biometric_tokens SET valid = FALSE WHERE user_id = $1`
	if _, err := s.db.Pool.Exec(ctx, q, uuid.UUID(userID)); err != nil {
		return storeErr("invalidate biometric tokens", err)
	}
	return nil
}

func (s *BiometricStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM biometric_tokens WHERE expires_at < $1 OR NOT valid`
	tag, err := s.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, storeErr("delete expired biometric tokens", err)
	}
	return tag.RowsAffected(), nil
}
