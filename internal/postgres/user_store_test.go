package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func userRow(id, famID uuid.UUID, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "family_id", "email", "nickname", "secret_hash", "role", "mfa_enabled",
		"totp_secret_enc", "failed_login_attempts", "lockout_end", "created_at",
	}).AddRow(id, famID, "mom@example.com", "Mom", "$argon2id$...", "parent", true,
		[]byte(nil), 0, (*time.Time)(nil), now)
}

func TestUserStore_Create_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewUserStore(db)
	ctx := context.Background()

	u := &famauth.UserRecord{
		ID:         famauth.NewUserID(),
		FamilyID:   famauth.NewFamilyID(),
		Email:      "mom@example.com",
		Nickname:   "Mom",
		SecretHash: "$argon2id$...",
		Role:       famauth.RoleParent,
		CreatedAt:  time.Now(),
	}

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(uuid.UUID(u.ID), uuid.UUID(u.FamilyID), u.Email, u.Nickname,
			u.SecretHash, "parent", false, u.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Create(ctx, u))

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(uuid.UUID(u.ID), uuid.UUID(u.FamilyID), u.Email, u.Nickname,
			u.SecretHash, "parent", false, u.CreatedAt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, s.Create(ctx, u), famauth.ErrDuplicateIdentifier)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewUserStore(db)
	ctx := context.Background()

	id := uuid.New()
	famID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("mom@example.com").
		WillReturnRows(userRow(id, famID, now))
	u, err := s.GetByEmail(ctx, "mom@example.com")
	require.NoError(t, err)
	require.Equal(t, famauth.UserID(id), u.ID)
	require.Equal(t, famauth.RoleParent, u.Role)
	require.Equal(t, "mom@example.com", u.Email)

	mock.ExpectQuery(`FROM users WHERE email = \$1`).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = s.GetByEmail(ctx, "ghost@example.com")
	require.ErrorIs(t, err, famauth.ErrUserNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_GetChild_JoinsFamilyCode(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewUserStore(db)
	ctx := context.Background()

	id := uuid.New()
	famID := uuid.New()
	rows := pgxmock.NewRows([]string{
		"id", "family_id", "email", "nickname", "secret_hash", "role", "mfa_enabled",
		"totp_secret_enc", "failed_login_attempts", "lockout_end", "created_at",
	}).AddRow(id, famID, nil, "Moritz", "$argon2id$...", "child", true,
		[]byte(nil), 0, (*time.Time)(nil), time.Now())

	mock.ExpectQuery(`JOIN families f ON f\.id = u\.family_id`).
		WithArgs("FAMCODE1", "moritz").
		WillReturnRows(rows)
	u, err := s.GetChild(ctx, "FAMCODE1", "moritz")
	require.NoError(t, err)
	require.Equal(t, famauth.RoleChild, u.Role)
	require.Empty(t, u.Email)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_RecordLoginFailure(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewUserStore(db)
	ctx := context.Background()

	id := famauth.NewUserID()
	until := time.Now().Add(15 * time.Minute)

	mock.ExpectQuery(`UPDATE users SET`).
		WithArgs(uuid.UUID(id), 3, until).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts", "lockout_end"}).
			AddRow(3, &until))
	attempts, lockedUntil, err := s.RecordLoginFailure(ctx, id, 3, until)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.NotNil(t, lockedUntil)

	mock.ExpectQuery(`UPDATE users SET`).
		WithArgs(uuid.UUID(id), 3, until).
		WillReturnError(pgx.ErrNoRows)
	_, _, err = s.RecordLoginFailure(ctx, id, 3, until)
	require.ErrorIs(t, err, famauth.ErrUserNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStore_Delete_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewUserStore(db)
	ctx := context.Background()

	id := famauth.NewUserID()
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(uuid.UUID(id)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, s.Delete(ctx, id), famauth.ErrUserNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}
