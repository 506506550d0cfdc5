package model

import "time"

// PaymentConnection is the authoritative record of a vendor's link to a
// payment provider. A vendor has at most one active connection per provider;
// revoked rows are kept as history.
type PaymentConnection struct {
	ID                string
	VendorID          string
	Provider          Provider
	ProviderAccountID string
	AccessToken       string // plaintext at the domain boundary; encrypted at rest
	RefreshToken      string
	TokenExpiresAt    *time.Time
	Status            ConnectionStatus
	Metadata          map[string]string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive reports whether the connection can be used to move money.
func (c PaymentConnection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// ProviderGrant is what a provider returns from a successful authorization
// code exchange, before it is persisted as a PaymentConnection.
type ProviderGrant struct {
	AccountID      string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time
	Metadata       map[string]string
}

// MostRecentActive returns the most recently created active connection, or
// nil when none exist.
func MostRecentActive(conns []PaymentConnection) *PaymentConnection {
	var latest *PaymentConnection
	for i := range conns {
		if !conns[i].IsActive() {
			continue
		}
		if latest == nil || conns[i].CreatedAt.After(latest.CreatedAt) {
			latest = &conns[i]
		}
	}
	return latest
}
