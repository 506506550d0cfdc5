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
var _ driven.OrderStore = (*OrderRepo)(nil)

// OrderRepo is the SQLite implementation of the OrderStore port interface.
type OrderRepo struct {
	db *DB
}

// NewOrderRepo creates a new OrderRepo backed by the given DB.
func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db}
}

const orderColumns = `id, vendor_id, provider, amount, currency, payment_status,
	authorization_id, transaction_id, created_at, updated_at`

// Create inserts a new order.
func (r *OrderRepo) Create(ctx context.Context, o model.Order) error {
	const query = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		o.ID, o.VendorID, string(o.Provider), o.Amount, o.Currency, string(o.PaymentStatus),
		o.AuthorizationID, o.TransactionID, formatTime(createdAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return nil
}

// Get retrieves an order by id.
func (r *OrderRepo) Get(ctx context.Context, id string) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	var (
		o                    model.Order
		provider, status     string
		createdAt, updatedAt string
	)
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.VendorID, &provider, &o.Amount, &o.Currency, &status,
		&o.AuthorizationID, &o.TransactionID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get order %s: %w", id, model.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}

	o.Provider = model.Provider(provider)
	o.PaymentStatus = model.PaymentStatus(status)
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &o, nil
}

// TransitionPayment is a compare-and-set on payment_status, so two racing
// captures of the same order cannot both succeed.
func (r *OrderRepo) TransitionPayment(ctx context.Context, id string, from, to model.PaymentStatus, transactionID string) error {
	const query = `
		UPDATE orders
		SET payment_status = ?,
		    transaction_id = CASE WHEN ? = '' THEN transaction_id ELSE ? END,
		    updated_at = ?
		WHERE id = ? AND payment_status = ?
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(to), transactionID, transactionID, formatTime(time.Now()), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition order %s to %s: %w", id, to, err)
	}
	return requireOneRow(result, fmt.Sprintf("transition order %s from %s", id, from), model.ErrOrderNotAuthorized)
}
