package square

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

type money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createPaymentRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	SourceID       string `json:"source_id"`
	AmountMoney    money  `json:"amount_money"`
	Autocomplete   bool   `json:"autocomplete"`
	LocationID     string `json:"location_id,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
}

type paymentResponse struct {
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

// Authorize creates a delayed-capture payment (autocomplete=false) at the
// connection's location.
func (c *Client) Authorize(ctx context.Context, conn model.PaymentConnection, req model.AuthorizeRequest) (*model.Authorization, error) {
	if req.SourceID == "" {
		return nil, &model.ProviderError{Provider: model.ProviderSquare, Code: "MISSING_SOURCE", Message: "sourceId is required for Square payments"}
	}

	body := createPaymentRequest{
		IdempotencyKey: req.IdempotencyKey,
		SourceID:       req.SourceID,
		AmountMoney:    money{Amount: req.Amount, Currency: req.Currency},
		Autocomplete:   false,
		LocationID:     conn.Metadata["location_id"],
		ReferenceID:    req.ReferenceID,
	}

	var resp paymentResponse
	if err := c.post(ctx, conn.AccessToken, "/v2/payments", body, &resp); err != nil {
		return nil, fmt.Errorf("square create payment: %w", err)
	}
	return &model.Authorization{ID: resp.Payment.ID, Status: resp.Payment.Status}, nil
}

// Capture completes an approved payment. Square keeps the payment id as the
// transaction reference.
func (c *Client) Capture(ctx context.Context, conn model.PaymentConnection, authorizationID string) (string, error) {
	var resp paymentResponse
	path := "/v2/payments/" + url.PathEscape(authorizationID) + "/complete"
	if err := c.post(ctx, conn.AccessToken, path, struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("square complete payment %s: %w", authorizationID, err)
	}
	return resp.Payment.ID, nil
}

// Void cancels an approved payment.
func (c *Client) Void(ctx context.Context, conn model.PaymentConnection, authorizationID string) error {
	path := "/v2/payments/" + url.PathEscape(authorizationID) + "/cancel"
	if err := c.post(ctx, conn.AccessToken, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("square cancel payment %s: %w", authorizationID, err)
	}
	return nil
}
