package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// PaymentGate is consulted before any operation that moves money. It reads
// connection rows only; the vendor cache is never trusted here.
type PaymentGate struct {
	conns        driven.ConnectionStore
	storeTimeout time.Duration
}

// NewPaymentGate creates a PaymentGate.
func NewPaymentGate(conns driven.ConnectionStore, storeTimeout time.Duration) *PaymentGate {
	return &PaymentGate{conns: conns, storeTimeout: storeTimeout}
}

// RequireActiveConnection returns the vendor's active connection for
// provider, failing closed with model.ErrNoActiveConnection.
func (g *PaymentGate) RequireActiveConnection(ctx context.Context, vendorID string, provider model.Provider) (*model.PaymentConnection, error) {
	conn, err := storeCall(ctx, g.storeTimeout, func(ctx context.Context) (*model.PaymentConnection, error) {
		return g.conns.GetActive(ctx, vendorID, provider)
	})
	if err != nil {
		return nil, fmt.Errorf("check %s connection for vendor %s: %w", provider, vendorID, err)
	}
	if conn == nil || !conn.IsActive() {
		return nil, fmt.Errorf("vendor %s %s: %w", vendorID, provider, model.ErrNoActiveConnection)
	}
	return conn, nil
}
