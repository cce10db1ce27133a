// Package postgres contains the PostgreSQL implementations of the engine's
// store interfaces.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

// PgxPool is a minimal abstraction over a Postgres connection pool.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// DB wraps a pool so store constructors share one handle.
type DB struct{ Pool PgxPool }

// New creates a connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// NewStores wires every store implementation against one handle.
func NewStores(db *DB) famauth.Stores {
	return famauth.Stores{
		Users:       NewUserStore(db),
		Sessions:    NewSessionStore(db),
		Biometrics:  NewBiometricStore(db),
		BackupCodes: NewBackupCodeStore(db),
		Attempts:    NewAttemptStore(db),
		Approvals:   NewApprovalStore(db),
	}
}

func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}

// storeErr wraps infrastructure failures so callers can branch on
// famauth.ErrStoreUnavailable without losing the pgx detail.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", famauth.ErrStoreUnavailable, op, err)
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
