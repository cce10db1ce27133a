package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// AttemptStore implements famauth.LoginAttemptStore over an append-only
// table.
type AttemptStore struct{ db *DB }

func NewAttemptStore(db *DB) *AttemptStore { return &AttemptStore{db: db} }

func (s *AttemptStore) Append(ctx context.Context, rec *famauth.LoginAttemptRecord) error {
	const q = `
INSERT INTO login_attempts (user_id, identifier, success, reason, ip, user_agent, method, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	var userID *uuid.UUID
	if rec.UserID != nil {
		u := uuid.UUID(*rec.UserID)
		userID = &u
	}
	_, err := s.db.Pool.Exec(ctx, q,
		userID, rec.Identifier, rec.Success, rec.Reason, rec.IP, rec.UserAgent, rec.Method, rec.At,
	)
	if err != nil {
		return storeErr("append login attempt", err)
	}
	return nil
}

func (s *AttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM login_attempts WHERE at < $1`
	tag, err := s.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, storeErr("delete login attempts", err)
	}
	return tag.RowsAffected(), nil
}
