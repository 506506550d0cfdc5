package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the application and adapter layers.
var (
	ErrInvalidRequest           = errors.New("invalid request")
	ErrUnknownProvider          = errors.New("unknown payment provider")
	ErrInvalidState             = errors.New("invalid oauth state")
	ErrNoActiveConnection       = errors.New("no active payment connection")
	ErrProviderUnavailable      = errors.New("payment provider unavailable")
	ErrStoreUnavailable         = errors.New("credential store unavailable")
	ErrVendorNotFound           = errors.New("vendor not found")
	ErrOrderNotFound            = errors.New("order not found")
	ErrOrderNotAuthorized       = errors.New("order payment is not in authorized state")
	ErrInvalidAmount            = errors.New("invalid payment amount")
	ErrInvalidCancellationToken = errors.New("invalid or expired cancellation token")
	ErrExchangeInProgress       = errors.New("another oauth exchange is in progress for this vendor")
	ErrInvalidTransition        = errors.New("invalid lifecycle transition")
)

// ConfigurationError reports a required setting that is missing or unusable
// for the current environment. It is surfaced verbatim, never defaulted.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration error: %s is not configured", e.Setting)
	}
	return fmt.Sprintf("configuration error: %s %s", e.Setting, e.Reason)
}

// ProviderError is a non-2xx response from a payment provider. OAuth codes
// are single use, so these are never retried.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s: %s (HTTP %d)", e.Provider, e.Code, e.Message, e.StatusCode)
}

// InconsistentStateError carries a diagnosis whose vendor cache disagrees
// with the connection rows.
type InconsistentStateError struct {
	Diagnosis Diagnosis
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("vendor %s payment cache disagrees with connections (cached=%t active=%d)",
		e.Diagnosis.VendorID, e.Diagnosis.VendorSaysConnected, e.Diagnosis.ActiveConnectionCount)
}
