package stripe

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ericfisherdev/marketpay/internal/adapter/driven/providerhttp"
	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

type paymentIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	LatestCharge string `json:"latest_charge"`
}

// Authorize creates and confirms a manual-capture PaymentIntent on the
// connected account.
func (c *Client) Authorize(ctx context.Context, conn model.PaymentConnection, req model.AuthorizeRequest) (*model.Authorization, error) {
	if req.PaymentMethodID == "" {
		return nil, &model.ProviderError{Provider: model.ProviderStripe, Code: "missing_payment_method", Message: "paymentMethodId is required for Stripe payments"}
	}

	form := url.Values{
		"amount":         {strconv.FormatInt(req.Amount, 10)},
		"currency":       {strings.ToLower(req.Currency)},
		"payment_method": {req.PaymentMethodID},
		"capture_method": {"manual"},
		"confirm":        {"true"},

		"automatic_payment_methods[enabled]":         {"true"},
		"automatic_payment_methods[allow_redirects]": {"never"},
	}
	if req.ReferenceID != "" {
		form.Set("metadata[order_id]", req.ReferenceID)
	}

	var pi paymentIntent
	if err := c.accountPost(ctx, conn, "/v1/payment_intents", form, req.IdempotencyKey, &pi); err != nil {
		return nil, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return &model.Authorization{ID: pi.ID, Status: pi.Status}, nil
}

// Capture captures the full authorized amount and returns the charge id.
func (c *Client) Capture(ctx context.Context, conn model.PaymentConnection, authorizationID string) (string, error) {
	var pi paymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(authorizationID) + "/capture"
	if err := c.accountPost(ctx, conn, path, url.Values{}, "", &pi); err != nil {
		return "", fmt.Errorf("stripe capture %s: %w", authorizationID, err)
	}
	if pi.LatestCharge != "" {
		return pi.LatestCharge, nil
	}
	return pi.ID, nil
}

// Void cancels an uncaptured PaymentIntent.
func (c *Client) Void(ctx context.Context, conn model.PaymentConnection, authorizationID string) error {
	path := "/v1/payment_intents/" + url.PathEscape(authorizationID) + "/cancel"
	if err := c.accountPost(ctx, conn, path, url.Values{}, "", nil); err != nil {
		return fmt.Errorf("stripe cancel %s: %w", authorizationID, err)
	}
	return nil
}

// accountPost sends a platform-authenticated request on behalf of the
// connected account via the Stripe-Account header.
func (c *Client) accountPost(ctx context.Context, conn model.PaymentConnection, path string, form url.Values, idempotencyKey string, out any) error {
	if c.cfg.SecretKey == "" {
		return &model.ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}

	req, err := providerhttp.FormRequest(ctx, c.apiURL+path, form)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Stripe-Account", conn.ProviderAccountID)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return c.http.Do(req, out)
}
