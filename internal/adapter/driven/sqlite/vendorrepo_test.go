package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

func TestVendorRepo_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVendorRepo(db)
	ctx := context.Background()

	err := repo.Create(ctx, model.Vendor{ID: "v1", Name: "Hillside Farm", ContactEmail: "farm@example.com"})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Hillside Farm", got.Name)
	assert.Equal(t, "farm@example.com", got.ContactEmail)
	assert.False(t, got.PaymentConnected)
	assert.Empty(t, got.PaymentProvider)
	assert.Nil(t, got.PaymentConnectedAt)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestVendorRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVendorRepo(db)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrVendorNotFound)
}

func TestVendorRepo_SetPaymentCache(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVendorRepo(db)
	ctx := context.Background()
	seedVendor(t, db, "v1")

	connectedAt := time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC)
	err := repo.SetPaymentCache(ctx, "v1", model.PaymentCache{
		Connected:    true,
		Provider:     model.ProviderSquare,
		ConnectionID: "c1",
		AccountID:    "MERCHANT1",
		ConnectedAt:  &connectedAt,
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, got.PaymentConnected)
	assert.Equal(t, model.ProviderSquare, got.PaymentProvider)
	assert.Equal(t, "c1", got.PaymentConnectionID)
	assert.Equal(t, "MERCHANT1", got.PaymentAccountID)
	require.NotNil(t, got.PaymentConnectedAt)
	assert.True(t, connectedAt.Equal(*got.PaymentConnectedAt))

	require.NoError(t, repo.SetPaymentCache(ctx, "v1", model.DisconnectedCache()))

	got, err = repo.Get(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, got.PaymentConnected)
	assert.Empty(t, got.PaymentProvider)
	assert.Empty(t, got.PaymentConnectionID)
	assert.Nil(t, got.PaymentConnectedAt)
}

func TestVendorRepo_SetPaymentCacheMissingVendor(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVendorRepo(db)

	err := repo.SetPaymentCache(context.Background(), "ghost", model.DisconnectedCache())
	assert.ErrorIs(t, err, model.ErrVendorNotFound)
}

func TestVendorRepo_ListPaymentConnected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVendorRepo(db)
	ctx := context.Background()

	seedVendor(t, db, "a")
	seedVendor(t, db, "b")
	seedVendor(t, db, "c")
	require.NoError(t, repo.SetPaymentCache(ctx, "c", model.PaymentCache{Connected: true, Provider: model.ProviderStripe}))
	require.NoError(t, repo.SetPaymentCache(ctx, "a", model.PaymentCache{Connected: true, Provider: model.ProviderSquare}))

	vendors, err := repo.ListPaymentConnected(ctx)
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	assert.Equal(t, "a", vendors[0].ID)
	assert.Equal(t, "c", vendors[1].ID)
}

func TestVendorRepo_MarkVerified(t *testing.T) {
	db := setupTestDB(t)
	repo := NewVendorRepo(db)
	ctx := context.Background()
	seedVendor(t, db, "v1")

	at := time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkVerified(ctx, "v1", at))

	got, err := repo.Get(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, got.PaymentLastVerified)
	assert.True(t, at.Equal(*got.PaymentLastVerified))

	assert.ErrorIs(t, repo.MarkVerified(ctx, "ghost", at), model.ErrVendorNotFound)
}
