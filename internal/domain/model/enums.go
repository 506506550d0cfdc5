package model

import "strings"

// Provider identifies an external payment provider a vendor can connect.
type Provider string

const (
	ProviderSquare Provider = "square"
	ProviderStripe Provider = "stripe"
)

// Providers lists every supported provider in a stable order.
var Providers = []Provider{ProviderSquare, ProviderStripe}

// ParseProvider normalizes s and returns the matching Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderSquare:
		return ProviderSquare, nil
	case ProviderStripe:
		return ProviderStripe, nil
	default:
		return "", ErrUnknownProvider
	}
}

// ConnectionStatus is the authoritative status of a PaymentConnection row.
type ConnectionStatus string

const (
	ConnectionStatusActive  ConnectionStatus = "active"
	ConnectionStatusRevoked ConnectionStatus = "revoked"
	ConnectionStatusExpired ConnectionStatus = "expired"
)

// PaymentStatus is the state of an order's payment with its provider.
type PaymentStatus string

const (
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusVoided     PaymentStatus = "voided"
)

// ConnectSource records which flow started an OAuth round trip. It decides
// the page the callback redirects back to.
type ConnectSource string

const (
	SourceSignup ConnectSource = "signup"
	SourceAdmin  ConnectSource = "admin"
	SourceVendor ConnectSource = "vendor"
)

// ParseConnectSource returns the source for s, defaulting to SourceAdmin for
// empty or unrecognized values.
func ParseConnectSource(s string) ConnectSource {
	switch ConnectSource(strings.ToLower(strings.TrimSpace(s))) {
	case SourceSignup:
		return SourceSignup
	case SourceVendor:
		return SourceVendor
	default:
		return SourceAdmin
	}
}
