package model

import "time"

// Vendor is a market vendor. The Payment* fields are a cached projection of
// the vendor's PaymentConnection rows and are never authoritative for
// decisions that move money.
type Vendor struct {
	ID           string
	Name         string
	ContactEmail string
	ContactPhone string

	PaymentConnected    bool
	PaymentProvider     Provider // empty when not connected
	PaymentConnectionID string
	PaymentAccountID    string
	PaymentConnectedAt  *time.Time
	PaymentLastVerified *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentCache is the set of cached payment fields written onto a Vendor.
type PaymentCache struct {
	Connected    bool
	Provider     Provider
	ConnectionID string
	AccountID    string
	ConnectedAt  *time.Time
}

// CacheFor returns the cache values pointing at conn.
func CacheFor(conn PaymentConnection) PaymentCache {
	connectedAt := conn.CreatedAt
	return PaymentCache{
		Connected:    true,
		Provider:     conn.Provider,
		ConnectionID: conn.ID,
		AccountID:    conn.ProviderAccountID,
		ConnectedAt:  &connectedAt,
	}
}

// DisconnectedCache is the cache value for a vendor with no usable connection.
func DisconnectedCache() PaymentCache {
	return PaymentCache{}
}
