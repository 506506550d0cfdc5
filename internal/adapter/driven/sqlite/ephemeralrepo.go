package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EphemeralStore = (*EphemeralRepo)(nil)

// EphemeralRepo is the SQLite EphemeralStore used when no Redis address is
// configured. Expired rows are swept lazily on write.
type EphemeralRepo struct {
	db  *DB
	now func() time.Time
}

// NewEphemeralRepo creates a new EphemeralRepo backed by the given DB.
func NewEphemeralRepo(db *DB) *EphemeralRepo {
	return &EphemeralRepo{db: db, now: time.Now}
}

// PutIfAbsent stores value under key unless an unexpired entry exists.
func (r *EphemeralRepo) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := r.now()

	var inserted bool
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ephemeral_entries WHERE expires_at <= ?`, formatTime(now)); err != nil {
			return fmt.Errorf("sweep expired entries: %w", err)
		}

		result, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO ephemeral_entries (key, value, expires_at) VALUES (?, ?, ?)`,
			key, value, formatTime(now.Add(ttl)),
		)
		if err != nil {
			return fmt.Errorf("put entry: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		inserted = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Take deletes the entry under key and returns its value if it had not expired.
func (r *EphemeralRepo) Take(ctx context.Context, key string) (string, bool, error) {
	var value, expiresAt string
	err := r.db.Writer.QueryRowContext(ctx,
		`DELETE FROM ephemeral_entries WHERE key = ? RETURNING value, expires_at`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take entry: %w", err)
	}

	exp, err := parseTime(expiresAt)
	if err != nil {
		return "", false, fmt.Errorf("parse expires_at: %w", err)
	}
	if !r.now().Before(exp) {
		return "", false, nil
	}
	return value, true, nil
}
