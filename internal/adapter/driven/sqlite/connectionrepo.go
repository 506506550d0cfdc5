package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ConnectionStore = (*ConnectionRepo)(nil)

// ConnectionRepo is the SQLite implementation of the ConnectionStore port interface.
// Provider tokens are encrypted with AES-256-GCM before write and decrypted after read.
type ConnectionRepo struct {
	db     *DB
	cipher tokenCipher
}

// NewConnectionRepo creates a new ConnectionRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable token storage (token reads and writes return ErrEncryptionKeyNotSet).
func NewConnectionRepo(db *DB, key []byte) *ConnectionRepo {
	return &ConnectionRepo{db: db, cipher: tokenCipher{key: key}}
}

const connectionColumns = `id, vendor_id, provider, provider_account_id, access_token_enc,
	refresh_token_enc, token_expires_at, connection_status, metadata, created_at, updated_at`

// ListByVendor returns every connection row for the vendor, newest first.
// Tokens are left encrypted at rest and come back empty, so an unreadable
// token never hides a row's status.
func (r *ConnectionRepo) ListByVendor(ctx context.Context, vendorID string) ([]model.PaymentConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM payment_connections
		WHERE vendor_id = ? ORDER BY created_at DESC, id`

	rows, err := r.db.Reader.QueryContext(ctx, query, vendorID)
	if err != nil {
		return nil, fmt.Errorf("list connections for vendor %s: %w", vendorID, err)
	}
	defer rows.Close()

	var conns []model.PaymentConnection
	for rows.Next() {
		conn, err := r.scanConnection(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}

	return conns, nil
}

// GetActive returns the active connection for the vendor and provider, or
// nil, nil when there is none.
func (r *ConnectionRepo) GetActive(ctx context.Context, vendorID string, provider model.Provider) (*model.PaymentConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM payment_connections
		WHERE vendor_id = ? AND provider = ? AND connection_status = 'active'`

	conn, err := r.scanConnection(r.db.Reader.QueryRowContext(ctx, query, vendorID, string(provider)), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active %s connection for vendor %s: %w", provider, vendorID, err)
	}
	return conn, nil
}

const upsertConnection = `
	INSERT INTO payment_connections (` + connectionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?, ?, ?)
	ON CONFLICT (vendor_id, provider) WHERE connection_status = 'active' DO UPDATE SET
		provider_account_id = excluded.provider_account_id,
		access_token_enc    = excluded.access_token_enc,
		refresh_token_enc   = excluded.refresh_token_enc,
		token_expires_at    = excluded.token_expires_at,
		metadata            = excluded.metadata,
		updated_at          = excluded.updated_at
	RETURNING id, created_at
`

// Link upserts conn as the active connection for its vendor and provider and
// points the vendor's cached payment fields at it, in one transaction. An
// existing active row keeps its id and created_at.
func (r *ConnectionRepo) Link(ctx context.Context, conn model.PaymentConnection) (*model.PaymentConnection, error) {
	accessEnc, err := r.cipher.encrypt(conn.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	refreshEnc, err := r.cipher.encrypt(conn.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	metadata, err := marshalMetadata(conn.Metadata)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}

	stored := conn
	err = r.db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM vendors WHERE id = ?`, conn.VendorID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("link connection for vendor %s: %w", conn.VendorID, model.ErrVendorNotFound)
		}
		if err != nil {
			return fmt.Errorf("check vendor %s: %w", conn.VendorID, err)
		}

		var storedCreatedAt string
		err = tx.QueryRowContext(ctx, upsertConnection,
			conn.ID, conn.VendorID, string(conn.Provider), conn.ProviderAccountID,
			accessEnc, refreshEnc, formatNullTime(conn.TokenExpiresAt), metadata,
			formatTime(conn.CreatedAt), formatTime(now),
		).Scan(&stored.ID, &storedCreatedAt)
		if err != nil {
			return fmt.Errorf("upsert %s connection for vendor %s: %w", conn.Provider, conn.VendorID, err)
		}

		stored.Status = model.ConnectionStatusActive
		stored.UpdatedAt = now
		if stored.CreatedAt, err = parseTime(storedCreatedAt); err != nil {
			return fmt.Errorf("parse created_at: %w", err)
		}

		return setPaymentCache(ctx, tx, conn.VendorID, model.CacheFor(stored), now)
	})
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// Unlink revokes the active connection for the vendor and provider and
// recomputes the vendor cache in one transaction. When another provider's
// connection is still active the cache points at it; otherwise it is cleared.
func (r *ConnectionRepo) Unlink(ctx context.Context, vendorID string, provider model.Provider, at time.Time) error {
	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		const revoke = `
			UPDATE payment_connections
			SET connection_status = 'revoked', updated_at = ?
			WHERE vendor_id = ? AND provider = ? AND connection_status = 'active'
		`
		result, err := tx.ExecContext(ctx, revoke, formatTime(at), vendorID, string(provider))
		if err != nil {
			return fmt.Errorf("revoke %s connection for vendor %s: %w", provider, vendorID, err)
		}
		op := fmt.Sprintf("revoke %s connection for vendor %s", provider, vendorID)
		if err := requireOneRow(result, op, model.ErrNoActiveConnection); err != nil {
			return err
		}

		const remaining = `
			SELECT id, provider, provider_account_id, created_at
			FROM payment_connections
			WHERE vendor_id = ? AND connection_status = 'active'
			ORDER BY created_at DESC
			LIMIT 1
		`
		var (
			other     model.PaymentConnection
			createdAt string
		)
		err = tx.QueryRowContext(ctx, remaining, vendorID).Scan(&other.ID, &other.Provider, &other.ProviderAccountID, &createdAt)

		cache := model.DisconnectedCache()
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("find remaining connections for vendor %s: %w", vendorID, err)
		default:
			if other.CreatedAt, err = parseTime(createdAt); err != nil {
				return fmt.Errorf("parse created_at: %w", err)
			}
			cache = model.CacheFor(other)
		}

		return setPaymentCache(ctx, tx, vendorID, cache, at)
	})
}

// scanConnection reads one row. Tokens are decrypted only when withTokens is set.
func (r *ConnectionRepo) scanConnection(s scanner, withTokens bool) (*model.PaymentConnection, error) {
	var (
		conn                            model.PaymentConnection
		provider, status                string
		accessEnc, refreshEnc, metadata string
		expiresAt                       sql.NullString
		createdAt, updatedAt            string
	)

	err := s.Scan(&conn.ID, &conn.VendorID, &provider, &conn.ProviderAccountID, &accessEnc,
		&refreshEnc, &expiresAt, &status, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	conn.Provider = model.Provider(provider)
	conn.Status = model.ConnectionStatus(status)

	if withTokens {
		if conn.AccessToken, err = r.cipher.decrypt(accessEnc); err != nil {
			return nil, fmt.Errorf("decrypt access token for connection %s: %w", conn.ID, err)
		}
		if conn.RefreshToken, err = r.cipher.decrypt(refreshEnc); err != nil {
			return nil, fmt.Errorf("decrypt refresh token for connection %s: %w", conn.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(metadata), &conn.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata for connection %s: %w", conn.ID, err)
	}
	if conn.TokenExpiresAt, err = parseNullTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse token_expires_at: %w", err)
	}
	if conn.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if conn.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &conn, nil
}

func marshalMetadata(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}
