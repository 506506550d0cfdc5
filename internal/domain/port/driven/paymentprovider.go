package driven

import (
	"context"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// PaymentProvider defines the driven port for one payment provider's OAuth
// and payment APIs. Each provider has its own implementation; callers never
// branch on the provider name.
//
// Non-2xx provider responses are returned as *model.ProviderError. Timeouts
// and transport failures wrap model.ErrProviderUnavailable.
type PaymentProvider interface {
	Name() model.Provider

	// AuthCodeURL builds the provider's OAuth authorize URL carrying state.
	// Returns *model.ConfigurationError when the client id or redirect URI is
	// missing for the current environment.
	AuthCodeURL(state string) (string, error)

	// ExchangeCode trades an authorization code for tokens and looks up the
	// provider account they belong to.
	ExchangeCode(ctx context.Context, code string) (*model.ProviderGrant, error)

	Authorize(ctx context.Context, conn model.PaymentConnection, req model.AuthorizeRequest) (*model.Authorization, error)

	// Capture completes an authorization and returns the provider's
	// transaction id.
	Capture(ctx context.Context, conn model.PaymentConnection, authorizationID string) (string, error)

	Void(ctx context.Context, conn model.PaymentConnection, authorizationID string) error

	// Revoke invalidates the connection's tokens on the provider side.
	Revoke(ctx context.Context, conn model.PaymentConnection) error
}
