package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// ConnectionStore defines the driven port for the authoritative payment
// connection records. Link and Unlink write the connection row and the
// vendor's cached payment fields in one transaction.
type ConnectionStore interface {
	// ListByVendor returns all rows for a vendor, newest first.
	ListByVendor(ctx context.Context, vendorID string) ([]model.PaymentConnection, error)

	// GetActive returns the active connection for vendor and provider.
	// Returns (nil, nil) when there is none.
	GetActive(ctx context.Context, vendorID string, provider model.Provider) (*model.PaymentConnection, error)

	// Link upserts conn as the active connection for its (vendor, provider)
	// and points the vendor cache at it. The stored row is returned.
	Link(ctx context.Context, conn model.PaymentConnection) (*model.PaymentConnection, error)

	// Unlink marks the active connection for (vendor, provider) revoked and
	// recomputes the vendor cache from the remaining active rows.
	// Returns model.ErrNoActiveConnection when there is nothing to revoke.
	Unlink(ctx context.Context, vendorID string, provider model.Provider, at time.Time) error
}
