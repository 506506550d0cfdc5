package application

import (
	"sync"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// ProviderRegistry enables runtime hot-swap of payment provider clients.
// It holds a mutex-protected map from provider name to driven.PaymentProvider,
// so rotated credentials take effect without restarting the application.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[model.Provider]driven.PaymentProvider
}

// NewProviderRegistry creates a registry holding the given providers.
func NewProviderRegistry(providers ...driven.PaymentProvider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[model.Provider]driven.PaymentProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the client for p. An unregistered provider is a configuration
// error, not a client error: p has already been validated by the caller.
func (r *ProviderRegistry) Get(p model.Provider) (driven.PaymentProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.providers[p]
	if !ok {
		return nil, &model.ConfigurationError{Setting: string(p) + " provider", Reason: "is not registered"}
	}
	return client, nil
}

// Replace registers client under its own name, swapping out any previous
// client for that provider. The next caller of Get receives the new client.
func (r *ProviderRegistry) Replace(client driven.PaymentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[client.Name()] = client
}

