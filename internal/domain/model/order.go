package model

import "time"

// Order is a storefront order's payment record. Amount is in minor units.
type Order struct {
	ID              string
	VendorID        string
	Provider        Provider
	Amount          int64
	Currency        string
	PaymentStatus   PaymentStatus
	AuthorizationID string
	TransactionID   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuthorizeRequest is a provider-level payment authorization.
type AuthorizeRequest struct {
	IdempotencyKey  string
	SourceID        string // Square card nonce / source token
	PaymentMethodID string // Stripe PaymentMethod id
	Amount          int64  // minor units
	Currency        string
	ReferenceID     string
}

// Authorization is a provider's response to an authorization request.
type Authorization struct {
	ID     string
	Status string
}
