package model

import "time"

// OAuthStateTTL is how long an OAuth state token stays valid after issue.
const OAuthStateTTL = 10 * time.Minute

// OAuthState is carried through the provider's OAuth redirect round trip.
type OAuthState struct {
	VendorID string
	Provider Provider
	Source   ConnectSource
	IssuedAt time.Time
	Nonce    string
}

// ExpiresAt returns the instant after which the state is rejected.
func (s OAuthState) ExpiresAt() time.Time {
	return s.IssuedAt.Add(OAuthStateTTL)
}
