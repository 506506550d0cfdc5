package driven

import (
	"context"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// OrderStore defines the driven port for order payment records.
// Get returns model.ErrOrderNotFound if the order does not exist.
type OrderStore interface {
	Create(ctx context.Context, order model.Order) error
	Get(ctx context.Context, id string) (*model.Order, error)

	// TransitionPayment moves an order from one payment status to another,
	// recording transactionID when non-empty. Returns
	// model.ErrOrderNotAuthorized if the order is not currently in `from`.
	TransitionPayment(ctx context.Context, id string, from, to model.PaymentStatus, transactionID string) error
}
