package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// BackupCodeStore implements famauth.BackupCodeStore.
type BackupCodeStore struct{ db *DB }

func NewBackupCodeStore(db *DB) *BackupCodeStore { return &BackupCodeStore{db: db} }

// Replace swaps the user's whole batch inside one transaction.
func (s *BackupCodeStore) Replace(ctx context.Context, userID famauth.UserID, hashes [][32]byte) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeErr("begin replace backup codes", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, uuid.UUID(userID)); err != nil {
		return storeErr("clear backup codes", err)
	}
	const ins = `INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`
	for _, h := range hashes {
		if _, err := tx.Exec(ctx, ins, uuid.UUID(userID), h[:]); err != nil {
			return storeErr("insert backup code", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit backup codes", err)
	}
	return nil
}

// Consume flips exactly one matching unused code to used. The conditional
// update is the concurrency guarantee: two racing logins with the same code
// see at most one row affected.
func (s *BackupCodeStore) Consume(ctx context.Context, userID famauth.UserID, hash [32]byte, at time.Time) (bool, error) {
	const q = `
UPDATE backup_codes SET used = TRUE, used_at = $3
WHERE user_id = $1 AND code_hash = $2 AND NOT used`
	tag, err := s.db.Pool.Exec(ctx, q, uuid.UUID(userID), hash[:], at)
	if err != nil {
		return false, storeErr("consume backup code", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *BackupCodeStore) CountUnused(ctx context.Context, userID famauth.UserID) (int, error) {
	const q = `SELECT count(*) FROM backup_codes WHERE user_id = $1 AND NOT used`
	var n int
	if err := s.db.Pool.QueryRow(ctx, q, uuid.UUID(userID)).Scan(&n); err != nil {
		return 0, storeErr("count backup codes", err)
	}
	return n, nil
}
