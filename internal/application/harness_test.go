package application

import (
	"testing"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

var testSigningKey = []byte("state-signing-key-for-tests-only")

type harness struct {
	store      *memStore
	orders     *memOrderStore
	ephemeral  *memEphemeral
	locker     *memLocker
	square     *fakeProvider
	stripe     *fakeProvider
	registry   *ProviderRegistry
	codec      *StateCodec
	conns      *ConnectionService
	payments   *PaymentService
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     newMemStore(),
		orders:    newMemOrderStore(),
		ephemeral: newMemEphemeral(),
		locker:    newMemLocker(),
		square:    newFakeProvider(model.ProviderSquare),
		stripe:    newFakeProvider(model.ProviderStripe),
		codec:     NewStateCodec(testSigningKey),
	}
	h.registry = NewProviderRegistry(h.square, h.stripe)

	logger := discardLogger()
	h.conns = NewConnectionService(ConnectionDeps{
		Vendors:         h.store,
		Connections:     h.store,
		Providers:       h.registry,
		States:          h.codec,
		Ephemeral:       h.ephemeral,
		Locker:          h.locker,
		StoreTimeout:    time.Second,
		ProviderTimeout: 15 * time.Second,
		Logger:          logger,
	})
	h.payments = NewPaymentService(PaymentDeps{
		Orders:       h.orders,
		Gate:         NewPaymentGate(h.store, time.Second),
		Providers:    h.registry,
		Ephemeral:    h.ephemeral,
		StoreTimeout: time.Second,
		Logger:       logger,
	})
	h.reconciler = NewReconciler(h.store, h.store, time.Second, logger)

	h.store.addVendor(model.Vendor{ID: "v1", Name: "Hillside Farm"})
	return h
}

// setClock pins every clock the harness owns to *now.
func (h *harness) setClock(now *time.Time) {
	clock := func() time.Time { return *now }
	h.codec.now = clock
	h.conns.now = clock
	h.reconciler.now = clock
}
