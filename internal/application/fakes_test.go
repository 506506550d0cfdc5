package application

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// --- In-memory vendor and connection store ---

// memStore implements both VendorStore and ConnectionStore with the same
// Link/Unlink cache semantics as the SQLite adapter.
type memStore struct {
	mu      sync.Mutex
	vendors map[string]model.Vendor
	conns   []model.PaymentConnection

	linkErr   error
	listErr   map[string]error // per-vendor ListByVendor failures
	block     chan struct{}    // when non-nil, GetActive waits on it or ctx
	linkCalls int
}

func newMemStore() *memStore {
	return &memStore{vendors: make(map[string]model.Vendor)}
}

func (m *memStore) addVendor(v model.Vendor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors[v.ID] = v
}

func (m *memStore) vendor(id string) model.Vendor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vendors[id]
}

func (m *memStore) Create(_ context.Context, v model.Vendor) error {
	m.addVendor(v)
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*model.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[id]
	if !ok {
		return nil, model.ErrVendorNotFound
	}
	return &v, nil
}

func (m *memStore) ListPaymentConnected(_ context.Context) ([]model.Vendor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Vendor
	for _, v := range m.vendors {
		if v.PaymentConnected {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetPaymentCache(_ context.Context, vendorID string, cache model.PaymentCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCache(vendorID, cache)
}

func (m *memStore) setCache(vendorID string, cache model.PaymentCache) error {
	v, ok := m.vendors[vendorID]
	if !ok {
		return model.ErrVendorNotFound
	}
	v.PaymentConnected = cache.Connected
	v.PaymentProvider = cache.Provider
	v.PaymentConnectionID = cache.ConnectionID
	v.PaymentAccountID = cache.AccountID
	v.PaymentConnectedAt = cache.ConnectedAt
	m.vendors[vendorID] = v
	return nil
}

func (m *memStore) MarkVerified(_ context.Context, vendorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[vendorID]
	if !ok {
		return model.ErrVendorNotFound
	}
	v.PaymentLastVerified = &at
	m.vendors[vendorID] = v
	return nil
}

func (m *memStore) ListByVendor(_ context.Context, vendorID string) ([]model.PaymentConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.listErr[vendorID]; err != nil {
		return nil, err
	}
	var out []model.PaymentConnection
	for _, c := range m.conns {
		if c.VendorID == vendorID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) GetActive(ctx context.Context, vendorID string, provider model.Provider) (*model.PaymentConnection, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		if c.VendorID == vendorID && c.Provider == provider && c.IsActive() {
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) Link(_ context.Context, conn model.PaymentConnection) (*model.PaymentConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linkCalls++
	if m.linkErr != nil {
		return nil, m.linkErr
	}
	if _, ok := m.vendors[conn.VendorID]; !ok {
		return nil, model.ErrVendorNotFound
	}

	conn.Status = model.ConnectionStatusActive
	replaced := false
	for i, c := range m.conns {
		if c.VendorID == conn.VendorID && c.Provider == conn.Provider && c.IsActive() {
			conn.ID, conn.CreatedAt = c.ID, c.CreatedAt
			m.conns[i] = conn
			replaced = true
			break
		}
	}
	if !replaced {
		if conn.ID == "" {
			conn.ID = uuid.NewString()
		}
		if conn.CreatedAt.IsZero() {
			conn.CreatedAt = time.Now().UTC()
		}
		m.conns = append(m.conns, conn)
	}

	if err := m.setCache(conn.VendorID, model.CacheFor(conn)); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (m *memStore) Unlink(_ context.Context, vendorID string, provider model.Provider, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for i, c := range m.conns {
		if c.VendorID == vendorID && c.Provider == provider && c.IsActive() {
			m.conns[i].Status = model.ConnectionStatusRevoked
			found = true
		}
	}
	if !found {
		return model.ErrNoActiveConnection
	}

	var remaining []model.PaymentConnection
	for _, c := range m.conns {
		if c.VendorID == vendorID {
			remaining = append(remaining, c)
		}
	}
	cache := model.DisconnectedCache()
	if latest := model.MostRecentActive(remaining); latest != nil {
		cache = model.CacheFor(*latest)
	}
	return m.setCache(vendorID, cache)
}

// --- Order store ---

type memOrderStore struct {
	mu            sync.Mutex
	orders        map[string]model.Order
	createErr     error
	transitionErr error
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]model.Order)}
}

func (m *memOrderStore) Create(_ context.Context, o model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.orders[o.ID] = o
	return nil
}

func (m *memOrderStore) Get(_ context.Context, id string) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	return &o, nil
}

func (m *memOrderStore) TransitionPayment(_ context.Context, id string, from, to model.PaymentStatus, txnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return m.transitionErr
	}
	o, ok := m.orders[id]
	if !ok || o.PaymentStatus != from {
		return model.ErrOrderNotAuthorized
	}
	o.PaymentStatus = to
	if txnID != "" {
		o.TransactionID = txnID
	}
	m.orders[id] = o
	return nil
}

// --- Ephemeral store ---

type memEphemeral struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemEphemeral() *memEphemeral {
	return &memEphemeral{entries: make(map[string]string)}
}

func (m *memEphemeral) PutIfAbsent(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = value
	return true, nil
}

func (m *memEphemeral) Take(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	delete(m.entries, key)
	return v, ok, nil
}

// --- Locker ---

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
	ttls map[string]time.Duration // last ttl requested per key
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool), ttls: make(map[string]time.Duration)}
}

func (l *memLocker) Obtain(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttls[key] = ttl
	if l.held[key] {
		return nil, driven.ErrLockNotObtained
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

// --- Payment provider ---

type fakeProvider struct {
	name model.Provider

	mu           sync.Mutex
	authURLErr   error
	grant        *model.ProviderGrant
	exchangeErr  error
	exchangeHit  chan struct{} // signaled when ExchangeCode is entered
	exchangeGo   chan struct{} // when non-nil, ExchangeCode waits on it
	revokeErr    error
	revoked      int
	authorized   []model.AuthorizeRequest
	authorizeErr error
	captured     []string
	voided       []string
	voidErr      error
}

func newFakeProvider(name model.Provider) *fakeProvider {
	return &fakeProvider{
		name: name,
		grant: &model.ProviderGrant{
			AccountID:    "ACCT-" + string(name),
			AccessToken:  "access",
			RefreshToken: "refresh",
			Metadata:     map[string]string{"business_name": "Hillside Farm"},
		},
	}
}

func (p *fakeProvider) Name() model.Provider { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) (string, error) {
	if p.authURLErr != nil {
		return "", p.authURLErr
	}
	return "https://provider.example.com/authorize?state=" + state, nil
}

func (p *fakeProvider) ExchangeCode(_ context.Context, _ string) (*model.ProviderGrant, error) {
	if p.exchangeHit != nil {
		p.exchangeHit <- struct{}{}
	}
	if p.exchangeGo != nil {
		<-p.exchangeGo
	}
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	g := *p.grant
	return &g, nil
}

func (p *fakeProvider) Authorize(_ context.Context, _ model.PaymentConnection, req model.AuthorizeRequest) (*model.Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.authorizeErr != nil {
		return nil, p.authorizeErr
	}
	p.authorized = append(p.authorized, req)
	return &model.Authorization{ID: "auth-" + req.IdempotencyKey, Status: "APPROVED"}, nil
}

func (p *fakeProvider) Capture(_ context.Context, _ model.PaymentConnection, authID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = append(p.captured, authID)
	return "txn-" + authID, nil
}

func (p *fakeProvider) Void(_ context.Context, _ model.PaymentConnection, authID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.voidErr != nil {
		return p.voidErr
	}
	p.voided = append(p.voided, authID)
	return nil
}

func (p *fakeProvider) Revoke(_ context.Context, _ model.PaymentConnection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked++
	return p.revokeErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
