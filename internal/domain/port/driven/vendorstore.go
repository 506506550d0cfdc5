package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// VendorStore defines the driven port for vendor persistence.
// Get returns model.ErrVendorNotFound if the vendor does not exist.
type VendorStore interface {
	Create(ctx context.Context, vendor model.Vendor) error
	Get(ctx context.Context, id string) (*model.Vendor, error)
	// ListPaymentConnected returns every vendor whose cache claims a payment
	// connection, ordered by id.
	ListPaymentConnected(ctx context.Context) ([]model.Vendor, error)
	// SetPaymentCache overwrites the vendor's cached payment fields.
	SetPaymentCache(ctx context.Context, vendorID string, cache model.PaymentCache) error
	// MarkVerified stamps payment_last_verified.
	MarkVerified(ctx context.Context, vendorID string, at time.Time) error
}
