package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// DefaultProviderTimeout bounds a single provider request when none is configured.
const DefaultProviderTimeout = 15 * time.Second

// exchangeProviderCalls is the most provider requests one code exchange
// makes: the token exchange plus account and location lookups.
const exchangeProviderCalls = 3

// exchangeStoreCalls counts the store calls made while the exchange lock is
// held, including transition logging.
const exchangeStoreCalls = 4

// exchangeLockTTL bounds how long one vendor's OAuth exchange may hold the
// lock. It outlasts every request the exchange can make at full timeout.
func exchangeLockTTL(providerTimeout, storeTimeout time.Duration) time.Duration {
	if providerTimeout <= 0 {
		providerTimeout = DefaultProviderTimeout
	}
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return exchangeProviderCalls*providerTimeout + exchangeStoreCalls*storeTimeout
}

// Callback error codes carried back to the storefront in ?error=.
const (
	CallbackInvalidRequest = "invalid_request"
	CallbackInvalidState   = "invalid_state"
	CallbackFailed         = "callback_failed"
)

// ConnectionDeps collects the ConnectionService dependencies.
type ConnectionDeps struct {
	Vendors         driven.VendorStore
	Connections     driven.ConnectionStore
	Providers       *ProviderRegistry
	States          *StateCodec
	Ephemeral       driven.EphemeralStore
	Locker          driven.Locker
	StoreTimeout    time.Duration
	ProviderTimeout time.Duration // per provider request; sizes the exchange lock
	Logger          *slog.Logger
}

// ConnectionService runs the OAuth connect and disconnect flows. It is the
// only writer of connection rows outside operator repair.
type ConnectionService struct {
	vendors      driven.VendorStore
	conns        driven.ConnectionStore
	providers    *ProviderRegistry
	states       *StateCodec
	ephemeral    driven.EphemeralStore
	locker       driven.Locker
	storeTimeout time.Duration
	lockTTL      time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewConnectionService creates a ConnectionService.
func NewConnectionService(d ConnectionDeps) *ConnectionService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionService{
		vendors:      d.Vendors,
		conns:        d.Connections,
		providers:    d.Providers,
		states:       d.States,
		ephemeral:    d.Ephemeral,
		locker:       d.Locker,
		storeTimeout: d.StoreTimeout,
		lockTTL:      exchangeLockTTL(d.ProviderTimeout, d.StoreTimeout),
		logger:       logger,
		now:          time.Now,
	}
}

// GenerateAuthURL issues a fresh state and returns the provider's authorize
// URL carrying it.
func (s *ConnectionService) GenerateAuthURL(ctx context.Context, provider model.Provider, vendorID string, source model.ConnectSource) (string, error) {
	if vendorID == "" {
		return "", fmt.Errorf("vendorId is required: %w", model.ErrInvalidRequest)
	}
	client, err := s.providers.Get(provider)
	if err != nil {
		return "", err
	}

	state, _, err := s.states.Encode(vendorID, provider, source)
	if err != nil {
		return "", fmt.Errorf("encode oauth state: %w", err)
	}

	authURL, err := client.AuthCodeURL(state)
	if err != nil {
		return "", err
	}

	s.logTransition(ctx, vendorID, provider, s.currentState(ctx, vendorID, provider), model.EventAuthURLIssued)
	return authURL, nil
}

// ParseState verifies a state token. It reports false rather than erroring
// for malformed, badly signed or expired tokens.
func (s *ConnectionService) ParseState(token string) (*model.OAuthState, bool) {
	return s.states.Decode(token)
}

// ParseStateFor is ParseState that also requires the state to belong to
// vendorID and provider.
func (s *ConnectionService) ParseStateFor(token, vendorID string, provider model.Provider) (*model.OAuthState, bool) {
	st, ok := s.states.Decode(token)
	if !ok || st.VendorID != vendorID || st.Provider != provider {
		return nil, false
	}
	return st, true
}

// CallbackParams are the query parameters of a provider redirect.
type CallbackParams struct {
	Provider      string
	Code          string
	State         string
	ProviderError string
}

// CallbackResult says where the redirect goes. ErrorCode is empty on success.
type CallbackResult struct {
	Provider   model.Provider
	Source     model.ConnectSource
	VendorID   string
	Connection *model.PaymentConnection
	ErrorCode  string
}

// HandleCallback completes the redirect leg of the OAuth flow. Failures are
// reported through CallbackResult.ErrorCode, never as an error, since the
// caller always redirects.
func (s *ConnectionService) HandleCallback(ctx context.Context, p CallbackParams) CallbackResult {
	res := CallbackResult{Source: model.SourceAdmin}

	provider, err := model.ParseProvider(p.Provider)
	if err != nil {
		res.ErrorCode = CallbackInvalidRequest
		return res
	}
	res.Provider = provider

	// A provider-side denial still carries our state; use it to pick the page.
	if p.ProviderError != "" {
		if st, ok := s.states.Decode(p.State); ok {
			res.Source, res.VendorID = st.Source, st.VendorID
		}
		s.logger.Info("oauth callback returned provider error", "provider", provider, "error", p.ProviderError)
		res.ErrorCode = p.ProviderError
		return res
	}

	if p.Code == "" || p.State == "" {
		res.ErrorCode = CallbackInvalidRequest
		return res
	}

	st, ok := s.states.Decode(p.State)
	if !ok || st.Provider != provider {
		s.logger.Warn("oauth callback rejected state", "provider", provider)
		res.ErrorCode = CallbackInvalidState
		return res
	}
	res.Source, res.VendorID = st.Source, st.VendorID

	if err := s.consumeState(ctx, st); err != nil {
		if errors.Is(err, model.ErrInvalidState) {
			s.logger.Warn("oauth callback state replayed", "vendor_id", st.VendorID, "provider", provider)
			res.ErrorCode = CallbackInvalidState
			return res
		}
		s.logger.Error("consume oauth state", "vendor_id", st.VendorID, "error", err)
		res.ErrorCode = CallbackFailed
		return res
	}

	conn, err := s.ExchangeCode(ctx, provider, p.Code, st.VendorID)
	if err != nil {
		s.logger.Error("oauth callback exchange failed", "vendor_id", st.VendorID, "provider", provider, "error", err)
		res.ErrorCode = CallbackFailed
		return res
	}

	res.Connection = conn
	return res
}

// consumeState records the state's nonce so the same state cannot be used
// twice. Replays return model.ErrInvalidState.
func (s *ConnectionService) consumeState(ctx context.Context, st *model.OAuthState) error {
	ttl := st.ExpiresAt().Sub(s.now())
	if ttl <= 0 {
		return model.ErrInvalidState
	}

	fresh, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) (bool, error) {
		return s.ephemeral.PutIfAbsent(ctx, "oauth-state:"+st.Nonce, st.VendorID, ttl)
	})
	if err != nil {
		return fmt.Errorf("record state nonce: %w", err)
	}
	if !fresh {
		return fmt.Errorf("state already used: %w", model.ErrInvalidState)
	}
	return nil
}

// ExchangeCode trades an authorization code for tokens and links the
// resulting connection to the vendor. Provider failures persist nothing.
func (s *ConnectionService) ExchangeCode(ctx context.Context, provider model.Provider, code, vendorID string) (*model.PaymentConnection, error) {
	if code == "" || vendorID == "" {
		return nil, fmt.Errorf("code and vendorId are required: %w", model.ErrInvalidRequest)
	}
	client, err := s.providers.Get(provider)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Obtain(ctx, "oauth-exchange:"+vendorID, s.lockTTL)
	if errors.Is(err, driven.ErrLockNotObtained) {
		return nil, fmt.Errorf("vendor %s: %w", vendorID, model.ErrExchangeInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	defer release()

	_, err = storeCall(ctx, s.storeTimeout, func(ctx context.Context) (*model.Vendor, error) {
		return s.vendors.Get(ctx, vendorID)
	})
	if err != nil {
		return nil, err
	}

	grant, err := client.ExchangeCode(ctx, code)
	if err != nil {
		s.logTransition(ctx, vendorID, provider, model.StateConnecting, model.EventExchangeFailed)
		return nil, err
	}

	conn := model.PaymentConnection{
		VendorID:          vendorID,
		Provider:          provider,
		ProviderAccountID: grant.AccountID,
		AccessToken:       grant.AccessToken,
		RefreshToken:      grant.RefreshToken,
		TokenExpiresAt:    grant.TokenExpiresAt,
		Status:            model.ConnectionStatusActive,
		Metadata:          grant.Metadata,
	}

	stored, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) (*model.PaymentConnection, error) {
		return s.conns.Link(ctx, conn)
	})
	if err != nil {
		s.logTransition(ctx, vendorID, provider, model.StateConnecting, model.EventExchangeFailed)
		return nil, fmt.Errorf("link %s connection: %w", provider, err)
	}

	s.logTransition(ctx, vendorID, provider, model.StateConnecting, model.EventExchangeSucceeded)
	s.logger.Info("payment connection linked",
		"vendor_id", vendorID,
		"provider", provider,
		"connection_id", stored.ID,
		"account_id", stored.ProviderAccountID,
	)
	return stored, nil
}

// Disconnect revokes the vendor's active connection for provider. The local
// revocation stands even when the provider-side revoke fails.
func (s *ConnectionService) Disconnect(ctx context.Context, vendorID string, provider model.Provider) error {
	if vendorID == "" {
		return fmt.Errorf("vendorId is required: %w", model.ErrInvalidRequest)
	}

	conn, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) (*model.PaymentConnection, error) {
		return s.conns.GetActive(ctx, vendorID, provider)
	})
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("vendor %s %s: %w", vendorID, provider, model.ErrNoActiveConnection)
	}

	if client, err := s.providers.Get(provider); err != nil {
		s.logger.Warn("skipping remote revoke", "vendor_id", vendorID, "provider", provider, "error", err)
	} else if err := client.Revoke(ctx, *conn); err != nil {
		s.logger.Warn("remote revoke failed", "vendor_id", vendorID, "provider", provider, "error", err)
	}

	err = storeExec(ctx, s.storeTimeout, func(ctx context.Context) error {
		return s.conns.Unlink(ctx, vendorID, provider, s.now().UTC())
	})
	if err != nil {
		return fmt.Errorf("unlink %s connection: %w", provider, err)
	}

	s.logTransition(ctx, vendorID, provider, model.StateConnected, model.EventDisconnected)
	return nil
}

// ListConnections returns every connection row for an existing vendor.
func (s *ConnectionService) ListConnections(ctx context.Context, vendorID string) ([]model.PaymentConnection, error) {
	_, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) (*model.Vendor, error) {
		return s.vendors.Get(ctx, vendorID)
	})
	if err != nil {
		return nil, err
	}
	return storeCall(ctx, s.storeTimeout, func(ctx context.Context) ([]model.PaymentConnection, error) {
		return s.conns.ListByVendor(ctx, vendorID)
	})
}

// currentState derives the persisted state for logging. Store errors are
// ignored: URL generation must not depend on the store.
func (s *ConnectionService) currentState(ctx context.Context, vendorID string, provider model.Provider) model.LifecycleState {
	conns, err := storeCall(ctx, s.storeTimeout, func(ctx context.Context) ([]model.PaymentConnection, error) {
		return s.conns.ListByVendor(ctx, vendorID)
	})
	if err != nil {
		return model.StateDisconnected
	}
	return model.DeriveProviderState(conns, provider)
}

func (s *ConnectionService) logTransition(ctx context.Context, vendorID string, provider model.Provider, from model.LifecycleState, event model.LifecycleEvent) {
	logTransition(ctx, s.logger, vendorID, provider, from, event)
}

func logTransition(ctx context.Context, logger *slog.Logger, vendorID string, provider model.Provider, from model.LifecycleState, event model.LifecycleEvent) {
	to, err := model.Transition(from, event)
	if err != nil {
		logger.WarnContext(ctx, "unexpected lifecycle event",
			"vendor_id", vendorID, "provider", provider, "from", from, "event", event)
		return
	}
	logger.InfoContext(ctx, "lifecycle transition",
		"vendor_id", vendorID, "provider", provider, "from", from, "to", to, "event", event)
}
