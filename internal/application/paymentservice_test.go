package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

func connectedHarness(t *testing.T, provider model.Provider) *harness {
	t.Helper()
	h := newHarness(t)
	_, err := h.conns.ExchangeCode(context.Background(), provider, "code", "v1")
	require.NoError(t, err)
	return h
}

func TestPaymentService_AuthorizeCaptureFlow(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	ctx := context.Background()

	res, err := h.payments.Authorize(ctx, AuthorizeInput{
		VendorID: "v1",
		SourceID: "cnon:card-nonce-ok",
		Amount:   decimal.RequireFromString("12.50"),
		Currency: "usd",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.NotEmpty(t, res.CancellationToken)
	assert.Equal(t, "auth-"+res.OrderID, res.AuthorizationID)

	require.Len(t, h.square.authorized, 1)
	assert.Equal(t, int64(1250), h.square.authorized[0].Amount)
	assert.Equal(t, "USD", h.square.authorized[0].Currency)
	assert.Equal(t, res.OrderID, h.square.authorized[0].IdempotencyKey)

	txnID, err := h.payments.Capture(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "txn-"+res.AuthorizationID, txnID)

	order, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCaptured, order.PaymentStatus)
	assert.Equal(t, txnID, order.TransactionID)

	_, err = h.payments.Capture(ctx, res.OrderID)
	assert.ErrorIs(t, err, model.ErrOrderNotAuthorized)
	assert.Len(t, h.square.captured, 1)
}

func TestPaymentService_AuthorizeRequiresActiveConnection(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))

	_, err := h.payments.Authorize(context.Background(), AuthorizeInput{
		VendorID: "v2",
		SourceID: "cnon:card-nonce-ok",
		Amount:   decimal.NewFromInt(5),
		Currency: "USD",
	})
	assert.ErrorIs(t, err, model.ErrNoActiveConnection)
	assert.Empty(t, h.square.authorized)
}

func TestPaymentService_AuthorizeInfersProvider(t *testing.T) {
	h := connectedHarness(t, model.ProviderStripe)

	res, err := h.payments.Authorize(context.Background(), AuthorizeInput{
		VendorID:        "v1",
		PaymentMethodID: "pm_card_visa",
		Amount:          decimal.RequireFromString("3.99"),
		Currency:        "usd",
	})
	require.NoError(t, err)
	require.Len(t, h.stripe.authorized, 1)
	assert.Equal(t, "pm_card_visa", h.stripe.authorized[0].PaymentMethodID)

	order, err := h.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.ProviderStripe, order.Provider)
	assert.Equal(t, int64(399), order.Amount)
}

func TestPaymentService_AuthorizeValidation(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	ctx := context.Background()

	tests := []struct {
		name string
		in   AuthorizeInput
		want error
	}{
		{
			name: "missing vendor",
			in:   AuthorizeInput{SourceID: "s", Amount: decimal.NewFromInt(1)},
			want: model.ErrInvalidRequest,
		},
		{
			name: "no payment source",
			in:   AuthorizeInput{VendorID: "v1", Amount: decimal.NewFromInt(1)},
			want: model.ErrInvalidRequest,
		},
		{
			name: "unknown provider",
			in:   AuthorizeInput{VendorID: "v1", Provider: "paypal", SourceID: "s", Amount: decimal.NewFromInt(1)},
			want: model.ErrUnknownProvider,
		},
		{
			name: "zero amount",
			in:   AuthorizeInput{VendorID: "v1", SourceID: "s", Amount: decimal.Zero},
			want: model.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.payments.Authorize(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, h.square.authorized)
}

func TestPaymentService_AuthorizeProviderDecline(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	h.square.authorizeErr = &model.ProviderError{Provider: model.ProviderSquare, StatusCode: 402, Code: "CARD_DECLINED"}

	_, err := h.payments.Authorize(context.Background(), AuthorizeInput{
		VendorID: "v1",
		SourceID: "cnon:card-nonce-declined",
		Amount:   decimal.NewFromInt(20),
		Currency: "USD",
	})
	var perr *model.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "CARD_DECLINED", perr.Code)
	assert.Empty(t, h.orders.orders)
}

func TestPaymentService_AuthorizeReleasesHoldWhenOrderNotStored(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	h.orders.createErr = errors.New("disk I/O error")

	_, err := h.payments.Authorize(context.Background(), AuthorizeInput{
		VendorID: "v1",
		SourceID: "cnon:card-nonce-ok",
		Amount:   decimal.NewFromInt(15),
		Currency: "USD",
	})
	require.ErrorContains(t, err, "record order")

	require.Len(t, h.square.authorized, 1)
	orderID := h.square.authorized[0].IdempotencyKey
	assert.Equal(t, []string{"auth-" + orderID}, h.square.voided)
	assert.Empty(t, h.orders.orders)
}

func TestPaymentService_AuthorizeHoldReleaseFailureKeepsRecordError(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	h.orders.createErr = errors.New("disk I/O error")
	h.square.voidErr = &model.ProviderError{Provider: model.ProviderSquare, StatusCode: 503}

	_, err := h.payments.Authorize(context.Background(), AuthorizeInput{
		VendorID: "v1",
		SourceID: "cnon:card-nonce-ok",
		Amount:   decimal.NewFromInt(15),
		Currency: "USD",
	})
	require.ErrorContains(t, err, "disk I/O error")
	var perr *model.ProviderError
	assert.False(t, errors.As(err, &perr))
}

func TestPaymentService_CaptureRecordFailure(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	ctx := context.Background()

	res, err := h.payments.Authorize(ctx, AuthorizeInput{
		VendorID: "v1",
		SourceID: "cnon:card-nonce-ok",
		Amount:   decimal.NewFromInt(9),
		Currency: "USD",
	})
	require.NoError(t, err)

	var logs bytes.Buffer
	h.payments.logger = slog.New(slog.NewJSONHandler(&logs, nil))
	h.orders.transitionErr = errors.New("database is locked")

	_, err = h.payments.Capture(ctx, res.OrderID)
	require.ErrorContains(t, err, "txn-"+res.AuthorizationID)
	assert.Len(t, h.square.captured, 1)

	out := logs.String()
	assert.Contains(t, out, `"msg":"captured payment not recorded"`)
	assert.Contains(t, out, `"order_id":"`+res.OrderID+`"`)
	assert.Contains(t, out, `"authorization_id":"`+res.AuthorizationID+`"`)
	assert.Contains(t, out, `"transaction_id":"txn-`+res.AuthorizationID+`"`)
}

func TestPaymentService_CancelWithTokenIsSingleUse(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	ctx := context.Background()

	res, err := h.payments.Authorize(ctx, AuthorizeInput{
		VendorID: "v1",
		SourceID: "cnon:card-nonce-ok",
		Amount:   decimal.NewFromInt(8),
		Currency: "USD",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, h.payments.CancelWithToken(ctx, res.OrderID, "wrong-token"), model.ErrInvalidCancellationToken)
	assert.ErrorIs(t, h.payments.CancelWithToken(ctx, "other-order", res.CancellationToken), model.ErrInvalidCancellationToken)

	require.NoError(t, h.payments.CancelWithToken(ctx, res.OrderID, res.CancellationToken))
	assert.Equal(t, []string{res.AuthorizationID}, h.square.voided)

	order, err := h.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusVoided, order.PaymentStatus)

	err = h.payments.CancelWithToken(ctx, res.OrderID, res.CancellationToken)
	assert.ErrorIs(t, err, model.ErrInvalidCancellationToken)
	assert.Len(t, h.square.voided, 1)
}

func TestPaymentService_VoidAfterDisconnectFailsClosed(t *testing.T) {
	h := connectedHarness(t, model.ProviderSquare)
	ctx := context.Background()

	res, err := h.payments.Authorize(ctx, AuthorizeInput{
		VendorID: "v1",
		SourceID: "cnon:card-nonce-ok",
		Amount:   decimal.NewFromInt(8),
		Currency: "USD",
	})
	require.NoError(t, err)
	require.NoError(t, h.conns.Disconnect(ctx, "v1", model.ProviderSquare))

	err = h.payments.Void(ctx, res.OrderID)
	assert.ErrorIs(t, err, model.ErrNoActiveConnection)
	assert.Empty(t, h.square.voided)
}

func TestPaymentService_UnknownOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.payments.Capture(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrOrderNotFound)
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1", want: 100},
		{in: "12.5", want: 1250},
		{in: "12.50", want: 1250},
		{in: "0.01", want: 1},
		{in: "1999.99", want: 199999},
		{in: "0", wantErr: true},
		{in: "-4.00", wantErr: true},
		{in: "1.005", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToMinorUnits(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
