package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// CancellationTokenTTL is how long a customer may cancel an authorized order.
const CancellationTokenTTL = 24 * time.Hour

const holdReleaseTimeout = 30 * time.Second

// PaymentDeps collects the PaymentService dependencies.
type PaymentDeps struct {
	Orders       driven.OrderStore
	Gate         *PaymentGate
	Providers    *ProviderRegistry
	Ephemeral    driven.EphemeralStore
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// PaymentService authorizes, captures and voids order payments through the
// vendor's connected provider.
type PaymentService struct {
	orders       driven.OrderStore
	gate         *PaymentGate
	providers    *ProviderRegistry
	ephemeral    driven.EphemeralStore
	storeTimeout time.Duration
	logger       *slog.Logger
}

// NewPaymentService creates a PaymentService.
func NewPaymentService(d PaymentDeps) *PaymentService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		orders:       d.Orders,
		gate:         d.Gate,
		providers:    d.Providers,
		ephemeral:    d.Ephemeral,
		storeTimeout: d.StoreTimeout,
		logger:       logger,
	}
}

// AuthorizeInput is a storefront checkout request. Provider may be empty, in
// which case it is inferred from which payment source is present.
type AuthorizeInput struct {
	VendorID        string
	Provider        model.Provider
	SourceID        string
	PaymentMethodID string
	Amount          decimal.Decimal // major units
	Currency        string
}

// AuthorizeResult is returned to the storefront after a successful authorization.
type AuthorizeResult struct {
	OrderID           string
	AuthorizationID   string
	Status            string
	CancellationToken string
}

// Authorize places a hold for in.Amount on the vendor's provider account and
// records the order as authorized.
func (s *PaymentService) Authorize(ctx context.Context, in AuthorizeInput) (*AuthorizeResult, error) {
	if in.VendorID == "" {
		return nil, fmt.Errorf("vendorId is required: %w", model.ErrInvalidRequest)
	}

	provider, err := inferProvider(in)
	if err != nil {
		return nil, err
	}

	minor, err := ToMinorUnits(in.Amount)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))

	conn, err := s.gate.RequireActiveConnection(ctx, in.VendorID, provider)
	if err != nil {
		return nil, err
	}
	client, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	auth, err := client.Authorize(ctx, *conn, model.AuthorizeRequest{
		IdempotencyKey:  orderID,
		SourceID:        in.SourceID,
		PaymentMethodID: in.PaymentMethodID,
		Amount:          minor,
		Currency:        currency,
		ReferenceID:     orderID,
	})
	if err != nil {
		return nil, err
	}

	order := model.Order{
		ID:              orderID,
		VendorID:        in.VendorID,
		Provider:        provider,
		Amount:          minor,
		Currency:        currency,
		PaymentStatus:   model.PaymentStatusAuthorized,
		AuthorizationID: auth.ID,
	}
	err = storeExec(ctx, s.storeTimeout, func(ctx context.Context) error {
		return s.orders.Create(ctx, order)
	})
	if err != nil {
		s.logger.Error("authorized payment not recorded",
			"order_id", orderID, "vendor_id", in.VendorID, "provider", provider, "authorization_id", auth.ID, "error", err)
		s.releaseHold(ctx, client, *conn, orderID, auth.ID)
		return nil, fmt.Errorf("record order: %w", err)
	}

	result := &AuthorizeResult{OrderID: orderID, AuthorizationID: auth.ID, Status: auth.Status}

	token := uuid.NewString()
	stored, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) (bool, error) {
		return s.ephemeral.PutIfAbsent(ctx, cancelKey(orderID, token), orderID, CancellationTokenTTL)
	})
	switch {
	case err != nil:
		s.logger.Warn("cancellation token not issued", "order_id", orderID, "error", err)
	case stored:
		result.CancellationToken = token
	}

	s.logger.Info("payment authorized",
		"order_id", orderID,
		"vendor_id", in.VendorID,
		"provider", provider,
		"amount", minor,
		"currency", currency,
	)
	return result, nil
}

// Capture settles an authorized order and returns the provider's
// transaction id.
func (s *PaymentService) Capture(ctx context.Context, orderID string) (string, error) {
	order, conn, client, err := s.authorizedOrder(ctx, orderID)
	if err != nil {
		return "", err
	}

	txnID, err := client.Capture(ctx, *conn, order.AuthorizationID)
	if err != nil {
		return "", err
	}

	err = storeExec(ctx, s.storeTimeout, func(ctx context.Context) error {
		return s.orders.TransitionPayment(ctx, orderID, model.PaymentStatusAuthorized, model.PaymentStatusCaptured, txnID)
	})
	if err != nil {
		s.logger.Error("captured payment not recorded",
			"order_id", orderID,
			"vendor_id", order.VendorID,
			"provider", order.Provider,
			"authorization_id", order.AuthorizationID,
			"transaction_id", txnID,
			"amount", order.Amount,
			"currency", order.Currency,
			"error", err,
		)
		return "", fmt.Errorf("record capture of %s: %w", txnID, err)
	}

	s.logger.Info("payment captured", "order_id", orderID, "transaction_id", txnID)
	return txnID, nil
}

// Void releases the hold on an authorized order.
func (s *PaymentService) Void(ctx context.Context, orderID string) error {
	order, conn, client, err := s.authorizedOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if err := client.Void(ctx, *conn, order.AuthorizationID); err != nil {
		return err
	}

	err = storeExec(ctx, s.storeTimeout, func(ctx context.Context) error {
		return s.orders.TransitionPayment(ctx, orderID, model.PaymentStatusAuthorized, model.PaymentStatusVoided, "")
	})
	if err != nil {
		s.logger.Error("voided payment not recorded",
			"order_id", orderID,
			"vendor_id", order.VendorID,
			"provider", order.Provider,
			"authorization_id", order.AuthorizationID,
			"error", err,
		)
		return fmt.Errorf("record void: %w", err)
	}

	s.logger.Info("payment voided", "order_id", orderID)
	return nil
}

// CancelWithToken voids an order on behalf of the customer. The token is
// consumed whether or not the void succeeds.
func (s *PaymentService) CancelWithToken(ctx context.Context, orderID, token string) error {
	if orderID == "" || token == "" {
		return model.ErrInvalidCancellationToken
	}

	type taken struct {
		value string
		ok    bool
	}
	got, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) (taken, error) {
		v, ok, err := s.ephemeral.Take(ctx, cancelKey(orderID, token))
		return taken{v, ok}, err
	})
	if err != nil {
		return fmt.Errorf("take cancellation token: %w", err)
	}
	if !got.ok || got.value != orderID {
		return model.ErrInvalidCancellationToken
	}

	return s.Void(ctx, orderID)
}

func (s *PaymentService) authorizedOrder(ctx context.Context, orderID string) (*model.Order, *model.PaymentConnection, driven.PaymentProvider, error) {
	order, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) (*model.Order, error) {
		return s.orders.Get(ctx, orderID)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if order.PaymentStatus != model.PaymentStatusAuthorized {
		return nil, nil, nil, fmt.Errorf("order %s is %s: %w", orderID, order.PaymentStatus, model.ErrOrderNotAuthorized)
	}

	conn, err := s.gate.RequireActiveConnection(ctx, order.VendorID, order.Provider)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := s.providers.Get(order.Provider)
	if err != nil {
		return nil, nil, nil, err
	}
	return order, conn, client, nil
}

// releaseHold voids an authorization whose order could not be stored. It
// runs detached from ctx so a cancelled request still releases the hold.
func (s *PaymentService) releaseHold(ctx context.Context, client driven.PaymentProvider, conn model.PaymentConnection, orderID, authID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), holdReleaseTimeout)
	defer cancel()

	if err := client.Void(ctx, conn, authID); err != nil {
		s.logger.Error("authorization hold left open",
			"order_id", orderID, "vendor_id", conn.VendorID, "provider", conn.Provider, "authorization_id", authID, "error", err)
		return
	}
	s.logger.Warn("authorization hold released after order write failed",
		"order_id", orderID, "vendor_id", conn.VendorID, "authorization_id", authID)
}

func cancelKey(orderID, token string) string {
	return "cancel:" + orderID + ":" + token
}

func inferProvider(in AuthorizeInput) (model.Provider, error) {
	if in.Provider != "" {
		return model.ParseProvider(string(in.Provider))
	}
	switch {
	case in.SourceID != "":
		return model.ProviderSquare, nil
	case in.PaymentMethodID != "":
		return model.ProviderStripe, nil
	default:
		return "", fmt.Errorf("sourceId or paymentMethodId is required: %w", model.ErrInvalidRequest)
	}
}

// ToMinorUnits converts a major-unit amount to minor units. The amount must
// be positive with at most two decimal places.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount %s must be positive: %w", amount, model.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(2)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places: %w", amount, model.ErrInvalidAmount)
	}
	return amount.Shift(2).IntPart(), nil
}
