package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.VendorStore = (*VendorRepo)(nil)

// VendorRepo is the SQLite implementation of the VendorStore port interface.
type VendorRepo struct {
	db *DB
}

// NewVendorRepo creates a new VendorRepo backed by the given DB.
func NewVendorRepo(db *DB) *VendorRepo {
	return &VendorRepo{db: db}
}

const vendorColumns = `id, name, contact_email, contact_phone, payment_connected, payment_provider,
	payment_connection_id, payment_account_id, payment_connected_at, payment_last_verified,
	created_at, updated_at`

// Create inserts a new vendor with the given cached payment fields.
func (r *VendorRepo) Create(ctx context.Context, v model.Vendor) error {
	const query = `
		INSERT INTO vendors (` + vendorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	createdAt := v.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		v.ID, v.Name, v.ContactEmail, v.ContactPhone,
		boolToInt(v.PaymentConnected), nullString(string(v.PaymentProvider)),
		nullString(v.PaymentConnectionID), nullString(v.PaymentAccountID),
		formatNullTime(v.PaymentConnectedAt), formatNullTime(v.PaymentLastVerified),
		formatTime(createdAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("create vendor %s: %w", v.ID, err)
	}
	return nil
}

// Get retrieves a vendor by id.
func (r *VendorRepo) Get(ctx context.Context, id string) (*model.Vendor, error) {
	query := `SELECT ` + vendorColumns + ` FROM vendors WHERE id = ?`

	v, err := scanVendor(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get vendor %s: %w", id, model.ErrVendorNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor %s: %w", id, err)
	}
	return v, nil
}

// ListPaymentConnected returns vendors whose cache claims a connection.
func (r *VendorRepo) ListPaymentConnected(ctx context.Context) ([]model.Vendor, error) {
	query := `SELECT ` + vendorColumns + ` FROM vendors WHERE payment_connected = 1 ORDER BY id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list payment-connected vendors: %w", err)
	}
	defer rows.Close()

	var vendors []model.Vendor
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vendor: %w", err)
		}
		vendors = append(vendors, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vendors: %w", err)
	}

	return vendors, nil
}

// SetPaymentCache overwrites the vendor's cached payment fields.
func (r *VendorRepo) SetPaymentCache(ctx context.Context, vendorID string, cache model.PaymentCache) error {
	return setPaymentCache(ctx, r.db.Writer, vendorID, cache, time.Now().UTC())
}

// MarkVerified stamps payment_last_verified for the vendor.
func (r *VendorRepo) MarkVerified(ctx context.Context, vendorID string, at time.Time) error {
	const query = `UPDATE vendors SET payment_last_verified = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(at), formatTime(time.Now()), vendorID)
	if err != nil {
		return fmt.Errorf("mark vendor %s verified: %w", vendorID, err)
	}
	return requireOneRow(result, fmt.Sprintf("mark vendor %s verified", vendorID), model.ErrVendorNotFound)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// setPaymentCache is shared by VendorRepo and the Link/Unlink transactions.
func setPaymentCache(ctx context.Context, ex execer, vendorID string, cache model.PaymentCache, now time.Time) error {
	const query = `
		UPDATE vendors
		SET payment_connected = ?, payment_provider = ?, payment_connection_id = ?,
		    payment_account_id = ?, payment_connected_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := ex.ExecContext(ctx, query,
		boolToInt(cache.Connected), nullString(string(cache.Provider)),
		nullString(cache.ConnectionID), nullString(cache.AccountID),
		formatNullTime(cache.ConnectedAt), formatTime(now), vendorID,
	)
	if err != nil {
		return fmt.Errorf("set payment cache for vendor %s: %w", vendorID, err)
	}
	return requireOneRow(result, fmt.Sprintf("set payment cache for vendor %s", vendorID), model.ErrVendorNotFound)
}

func scanVendor(s scanner) (*model.Vendor, error) {
	var (
		v                           model.Vendor
		connected                   int
		provider, connID, accountID sql.NullString
		connectedAt, lastVerified   sql.NullString
		createdAt, updatedAt        string
	)

	err := s.Scan(&v.ID, &v.Name, &v.ContactEmail, &v.ContactPhone, &connected, &provider,
		&connID, &accountID, &connectedAt, &lastVerified, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	v.PaymentConnected = connected != 0
	v.PaymentProvider = model.Provider(provider.String)
	v.PaymentConnectionID = connID.String
	v.PaymentAccountID = accountID.String

	if v.PaymentConnectedAt, err = parseNullTime(connectedAt); err != nil {
		return nil, fmt.Errorf("parse payment_connected_at: %w", err)
	}
	if v.PaymentLastVerified, err = parseNullTime(lastVerified); err != nil {
		return nil, fmt.Errorf("parse payment_last_verified: %w", err)
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &v, nil
}

func requireOneRow(result sql.Result, op string, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, notFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
