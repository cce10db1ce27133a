package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// ApprovalStore implements famauth.ApprovalStore.
type ApprovalStore struct{ db *DB }

func NewApprovalStore(db *DB) *ApprovalStore { return &ApprovalStore{db: db} }

const approvalColumns = `id, child_id, family_id, device_name, ip, status,
expires_at, responder_id, responded_at, created_at`

func (s *ApprovalStore) Create(ctx context.Context, rec *famauth.ApprovalRequestRecord) error {
	const q = `
INSERT INTO approval_requests (id, child_id, family_id, device_name, ip, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.Pool.Exec(ctx, q,
		uuid.UUID(rec.ID), uuid.UUID(rec.ChildID), uuid.UUID(rec.FamilyID),
		rec.DeviceName, rec.IP, rec.Status.String(), rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		return storeErr("create approval request", err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, id famauth.ApprovalID) (*famauth.ApprovalRequestRecord, error) {
	const q = `SELECT ` + approvalColumns + ` FROM approval_requests WHERE id = $1`
	return scanApproval(s.db.Pool.QueryRow(ctx, q, uuid.UUID(id)))
}

// Resolve moves a pending request to a terminal status. The WHERE clause
// pins the transition to pending-and-unexpired rows, so a late parent
// response after expiry or a second responder loses cleanly.
func (s *ApprovalStore) Resolve(ctx context.Context, id famauth.ApprovalID, status famauth.ApprovalStatus, responder famauth.UserID, at time.Time) (bool, error) {
	const q = `
UPDATE approval_requests SET status = $2, responder_id = $3, responded_at = $4
WHERE id = $1 AND status = 'pending' AND expires_at > $4`
	tag, err := s.db.Pool.Exec(ctx, q, uuid.UUID(id), status.String(), uuid.UUID(responder), at)
	if err != nil {
		return false, storeErr("resolve approval request", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeApproved flips an approved request to used so one parent decision
// completes at most one login. The WHERE clause is the single-use contract:
// a replayed approval id matches no row.
func (s *ApprovalStore) ConsumeApproved(ctx context.Context, id famauth.ApprovalID, childID famauth.UserID) (bool, error) {
	const q = `
UPDATE approval_requests SET status = 'used'
WHERE id = $1 AND child_id = $2 AND status = 'approved'`
	tag, err := s.db.Pool.Exec(ctx, q, uuid.UUID(id), uuid.UUID(childID))
	if err != nil {
		return false, storeErr("consume approval request", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *ApprovalStore) CountOpenForChild(ctx context.Context, childID famauth.UserID, since time.Time) (int, error) {
	const q = `
SELECT count(*) FROM approval_requests
WHERE child_id = $1 AND status = 'pending' AND created_at >= $2`
	var n int
	if err := s.db.Pool.QueryRow(ctx, q, uuid.UUID(childID), since).Scan(&n); err != nil {
		return 0, storeErr("count approval requests", err)
	}
	return n, nil
}

func (s *ApprovalStore) ListPendingForFamily(ctx context.Context, familyID famauth.FamilyID, now time.Time) ([]famauth.ApprovalRequestRecord, error) {
	const q = `
SELECT ` + approvalColumns + ` FROM approval_requests
WHERE family_id = $1 AND status = 'pending' AND expires_at > $2
ORDER BY created_at DESC`
	rows, err := s.db.Pool.Query(ctx, q, uuid.UUID(familyID), now)
	if err != nil {
		return nil, storeErr("list approval requests", err)
	}
	defer rows.Close()

	var out []famauth.ApprovalRequestRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list approval requests", err)
	}
	return out, nil
}

func (s *ApprovalStore) ExpireOld(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE approval_requests SET status = 'expired'
WHERE status = 'pending' AND expires_at <= $1`
	tag, err := s.db.Pool.Exec(ctx, q, now)
	if err != nil {
		return 0, storeErr("expire approval requests", err)
	}
	return tag.RowsAffected(), nil
}

func (s *ApprovalStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM approval_requests WHERE created_at < $1 AND status <> 'pending'`
	tag, err := s.db.Pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, storeErr("delete approval requests", err)
	}
	return tag.RowsAffected(), nil
}

func scanApproval(row rowScanner) (*famauth.ApprovalRequestRecord, error) {
	var (
		rec       famauth.ApprovalRequestRecord
		id        uuid.UUID
		childID   uuid.UUID
		familyID  uuid.UUID
		status    string
		responder *uuid.UUID
	)
	err := row.Scan(&id, &childID, &familyID, &rec.DeviceName, &rec.IP, &status,
		&rec.ExpiresAt, &responder, &rec.RespondedAt, &rec.CreatedAt)
	if noRows(err) {
		return nil, famauth.ErrApprovalNotPending
	}
	if err != nil {
		return nil, storeErr("scan approval request", err)
	}
	rec.ID = famauth.ApprovalID(id)
	rec.ChildID = famauth.UserID(childID)
	rec.FamilyID = famauth.FamilyID(familyID)
	if st, ok := famauth.ParseApprovalStatus(status); ok {
		rec.Status = st
	}
	if responder != nil {
		r := famauth.UserID(*responder)
		rec.ResponderID = &r
	}
	return &rec, nil
}
