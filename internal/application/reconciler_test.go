package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// staleVendor is a vendor whose cache claims a Square connection that has no row.
func staleVendor(id string) model.Vendor {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return model.Vendor{
		ID:                  id,
		Name:                "Orchard " + id,
		PaymentConnected:    true,
		PaymentProvider:     model.ProviderSquare,
		PaymentConnectionID: "gone",
		PaymentAccountID:    "MERCHANT-OLD",
		PaymentConnectedAt:  &at,
	}
}

func TestReconciler_DiagnoseMismatch(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))

	d, err := h.reconciler.Diagnose(context.Background(), "v2")
	require.NoError(t, err)
	assert.True(t, d.VendorSaysConnected)
	assert.Equal(t, model.ProviderSquare, d.CachedProvider)
	assert.Zero(t, d.ActiveConnectionCount)
	assert.True(t, d.MismatchDetected)
	assert.False(t, d.ReverseMismatch)
	assert.Equal(t, model.StateDisconnected, d.State)
}

func TestReconciler_DiagnoseUnknownVendor(t *testing.T) {
	h := newHarness(t)

	_, err := h.reconciler.Diagnose(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrVendorNotFound)
}

func TestReconciler_ResetVendorCache(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))

	res, err := h.reconciler.Repair(context.Background(), "v2", model.RepairStrategy{Action: model.RepairResetVendorCache})
	require.NoError(t, err)

	assert.True(t, res.Before.MismatchDetected)
	assert.False(t, res.After.MismatchDetected)
	assert.False(t, res.After.VendorSaysConnected)
	assert.Equal(t, res.Before.ActiveConnectionCount, res.After.ActiveConnectionCount)
	assert.Equal(t, res.Before.TotalConnectionCount, res.After.TotalConnectionCount)

	v := h.store.vendor("v2")
	assert.Empty(t, v.PaymentProvider)
	assert.Empty(t, v.PaymentConnectionID)
	assert.Nil(t, v.PaymentConnectedAt)
}

func TestReconciler_MaterializeConnection(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))

	res, err := h.reconciler.Repair(context.Background(), "v2", model.RepairStrategy{
		Action: model.RepairMaterializeConnection,
		Connection: &model.ConnectionData{
			Provider:          model.ProviderSquare,
			ProviderAccountID: "MERCHANT-NEW",
			AccessToken:       "EAAA-token",
		},
	})
	require.NoError(t, err)

	require.NotNil(t, res.Connection)
	assert.Equal(t, "MERCHANT-NEW", res.Connection.ProviderAccountID)
	assert.Zero(t, res.Before.ActiveConnectionCount)
	assert.Equal(t, 1, res.After.ActiveConnectionCount)
	assert.True(t, res.After.Consistent())

	v := h.store.vendor("v2")
	assert.Equal(t, res.Connection.ID, v.PaymentConnectionID)
	assert.Equal(t, "MERCHANT-NEW", v.PaymentAccountID)
}

func TestReconciler_MaterializeNormalizesProvider(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))

	res, err := h.reconciler.Repair(context.Background(), "v2", model.RepairStrategy{
		Action: model.RepairMaterializeConnection,
		Connection: &model.ConnectionData{
			Provider:          " Square",
			ProviderAccountID: "MERCHANT-NEW",
			AccessToken:       "EAAA-token",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, model.ProviderSquare, res.Connection.Provider)
	assert.True(t, res.After.HasActiveSquareConnection)
	assert.Equal(t, model.ProviderSquare, h.store.vendor("v2").PaymentProvider)
}

func TestReconciler_RepairRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))
	ctx := context.Background()

	tests := []struct {
		name     string
		strategy model.RepairStrategy
		want     error
	}{
		{
			name:     "unknown action",
			strategy: model.RepairStrategy{Action: "delete_everything"},
			want:     model.ErrInvalidRequest,
		},
		{
			name:     "materialize without data",
			strategy: model.RepairStrategy{Action: model.RepairMaterializeConnection},
			want:     model.ErrInvalidRequest,
		},
		{
			name: "materialize unknown provider",
			strategy: model.RepairStrategy{
				Action:     model.RepairMaterializeConnection,
				Connection: &model.ConnectionData{Provider: "paypal", ProviderAccountID: "a", AccessToken: "t"},
			},
			want: model.ErrUnknownProvider,
		},
		{
			name: "materialize without token",
			strategy: model.RepairStrategy{
				Action:     model.RepairMaterializeConnection,
				Connection: &model.ConnectionData{Provider: model.ProviderStripe, ProviderAccountID: "acct_1"},
			},
			want: model.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.reconciler.Repair(ctx, "v2", tt.strategy)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Zero(t, h.store.linkCalls)
	assert.True(t, h.store.vendor("v2").PaymentConnected, "vendor left untouched")
}

func TestReconciler_ScanAllMismatches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// v1 is consistent and connected, v2 and v3 are stale, v4 is disconnected.
	_, err := h.conns.ExchangeCode(ctx, model.ProviderSquare, "code", "v1")
	require.NoError(t, err)
	h.store.addVendor(staleVendor("v2"))
	h.store.addVendor(staleVendor("v3"))
	h.store.addVendor(model.Vendor{ID: "v4", Name: "Dairy"})

	mismatches, err := h.reconciler.ScanAllMismatches(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
	assert.Equal(t, "v2", mismatches[0].VendorID)
	assert.Equal(t, "v3", mismatches[1].VendorID)
}

func TestReconciler_ScanAllMismatchesEmpty(t *testing.T) {
	h := newHarness(t)

	mismatches, err := h.reconciler.ScanAllMismatches(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, mismatches)
	assert.Empty(t, mismatches)
}

func TestReconciler_Verify(t *testing.T) {
	h := newHarness(t)
	now := time.Date(2026, 10, 2, 8, 30, 0, 0, time.UTC)
	h.setClock(&now)
	ctx := context.Background()

	_, err := h.conns.ExchangeCode(ctx, model.ProviderStripe, "code", "v1")
	require.NoError(t, err)

	d, err := h.reconciler.Verify(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, d.Consistent())
	require.NotNil(t, h.store.vendor("v1").PaymentLastVerified)
	assert.Equal(t, now, *h.store.vendor("v1").PaymentLastVerified)
}

func TestReconciler_VerifyReportsDrift(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))

	d, err := h.reconciler.Verify(context.Background(), "v2")

	var inconsistent *model.InconsistentStateError
	require.ErrorAs(t, err, &inconsistent)
	assert.Equal(t, "v2", inconsistent.Diagnosis.VendorID)
	assert.True(t, d.MismatchDetected)
	assert.Nil(t, h.store.vendor("v2").PaymentLastVerified)
}

func TestPaymentGate_IgnoresVendorCache(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))

	gate := NewPaymentGate(h.store, time.Second)
	_, err := gate.RequireActiveConnection(context.Background(), "v2", model.ProviderSquare)
	assert.ErrorIs(t, err, model.ErrNoActiveConnection)
}

func TestPaymentGate_StoreTimeout(t *testing.T) {
	h := newHarness(t)
	h.store.block = make(chan struct{})
	defer close(h.store.block)

	gate := NewPaymentGate(h.store, 20*time.Millisecond)
	_, err := gate.RequireActiveConnection(context.Background(), "v1", model.ProviderSquare)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestStoreCall_CallerCancellationPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := storeCall(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, model.ErrStoreUnavailable)
}

func TestReconciler_ScanContinuesPastUnreadableVendor(t *testing.T) {
	h := newHarness(t)
	h.store.addVendor(staleVendor("v2"))
	h.store.addVendor(staleVendor("v3"))
	h.store.listErr = map[string]error{"v2": errors.New("decrypt access token: message authentication failed")}

	got, err := h.reconciler.ScanAllMismatches(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	byVendor := map[string]model.Diagnosis{}
	for _, d := range got {
		byVendor[d.VendorID] = d
	}
	assert.Contains(t, byVendor["v2"].Error, "message authentication failed")
	assert.False(t, byVendor["v2"].Consistent())
	assert.True(t, byVendor["v3"].MismatchDetected)
	assert.Empty(t, byVendor["v3"].Error)
}
