package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

func TestApprovalStore_Resolve(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewApprovalStore(db)
	ctx := context.Background()

	id := famauth.NewApprovalID()
	responder := famauth.NewUserID()
	at := time.Now()

	mock.ExpectExec(`UPDATE approval_requests SET status = \$2`).
		WithArgs(uuid.UUID(id), "approved", uuid.UUID(responder), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := s.Resolve(ctx, id, famauth.ApprovalApproved, responder, at)
	require.NoError(t, err)
	require.True(t, ok)

	// Expired or already resolved rows fall outside the WHERE clause.
	mock.ExpectExec(`UPDATE approval_requests SET status = \$2`).
		WithArgs(uuid.UUID(id), "rejected", uuid.UUID(responder), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = s.Resolve(ctx, id, famauth.ApprovalRejected, responder, at)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_ConsumeApproved(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewApprovalStore(db)
	ctx := context.Background()

	id := famauth.NewApprovalID()
	childID := famauth.NewUserID()

	mock.ExpectExec(`UPDATE approval_requests SET status = 'used'`).
		WithArgs(uuid.UUID(id), uuid.UUID(childID)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := s.ConsumeApproved(ctx, id, childID)
	require.NoError(t, err)
	require.True(t, ok)

	// Already used, or approved for a different child: no row matches.
	mock.ExpectExec(`UPDATE approval_requests SET status = 'used'`).
		WithArgs(uuid.UUID(id), uuid.UUID(childID)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = s.ConsumeApproved(ctx, id, childID)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewApprovalStore(db)
	ctx := context.Background()

	id := uuid.New()
	childID := uuid.New()
	familyID := uuid.New()
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "child_id", "family_id", "device_name", "ip", "status",
		"expires_at", "responder_id", "responded_at", "created_at",
	}).AddRow(id, childID, familyID, "Moritz' tablet", "10.0.0.9", "pending",
		now.Add(5*time.Minute), (*uuid.UUID)(nil), (*time.Time)(nil), now)

	mock.ExpectQuery(`FROM approval_requests WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(rows)
	rec, err := s.Get(ctx, famauth.ApprovalID(id))
	require.NoError(t, err)
	require.Equal(t, famauth.ApprovalPending, rec.Status)
	require.Nil(t, rec.ResponderID)

	mock.ExpectQuery(`FROM approval_requests WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = s.Get(ctx, famauth.ApprovalID(id))
	require.ErrorIs(t, err, famauth.ErrApprovalNotPending)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApprovalStore_ExpireOld(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewApprovalStore(db)
	ctx := context.Background()

	now := time.Now()
	mock.ExpectExec(`UPDATE approval_requests SET status = 'expired'`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := s.ExpireOld(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	require.NoError(t, mock.ExpectationsWereMet())
}
