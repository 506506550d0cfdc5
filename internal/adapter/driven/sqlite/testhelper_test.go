package sqlite

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// testKey is a fixed 32-byte AES-256 key for connection repo tests.
var testKey = []byte("0123456789abcdef0123456789abcdef")

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it cannot be read as DSN query parameters.
	// WAL does not apply to in-memory databases.
	dsn := buildDSN(url.PathEscape(t.Name()), []string{"busy_timeout(5000)", "foreign_keys(ON)"}) + "&mode=memory&cache=shared"

	db, err := open(context.Background(), dsn)
	require.NoError(t, err, "open test db")

	_, err = RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// seedVendor inserts a disconnected vendor with the given id.
func seedVendor(t *testing.T, db *DB, id string) {
	t.Helper()
	err := NewVendorRepo(db).Create(context.Background(), model.Vendor{ID: id, Name: "Vendor " + id})
	require.NoError(t, err)
}

func makeConnection(vendorID string, provider model.Provider, accountID string) model.PaymentConnection {
	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	return model.PaymentConnection{
		VendorID:          vendorID,
		Provider:          provider,
		ProviderAccountID: accountID,
		AccessToken:       "access-" + accountID,
		RefreshToken:      "refresh-" + accountID,
		TokenExpiresAt:    &expires,
		Metadata:          map[string]string{"location_id": "L1"},
	}
}
