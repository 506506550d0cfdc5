package application

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

func TestStateCodec_RoundTrip(t *testing.T) {
	codec := NewStateCodec(testSigningKey)

	token, issued, err := codec.Encode("v1", model.ProviderSquare, model.SourceAdmin)
	require.NoError(t, err)

	st, ok := codec.Decode(token)
	require.True(t, ok)
	assert.Equal(t, "v1", st.VendorID)
	assert.Equal(t, model.ProviderSquare, st.Provider)
	assert.Equal(t, model.SourceAdmin, st.Source)
	assert.Equal(t, issued.Nonce, st.Nonce)
	assert.WithinDuration(t, time.Now(), st.IssuedAt, 2*time.Second)
}

func TestStateCodec_ExpiryWindow(t *testing.T) {
	issued := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	now := issued

	codec := NewStateCodec(testSigningKey)
	codec.now = func() time.Time { return now }

	token, _, err := codec.Encode("v1", model.ProviderStripe, model.SourceSignup)
	require.NoError(t, err)

	tests := []struct {
		elapsed time.Duration
		valid   bool
	}{
		{elapsed: 0, valid: true},
		{elapsed: 599 * time.Second, valid: true},
		{elapsed: 600 * time.Second, valid: false},
		{elapsed: 601 * time.Second, valid: false},
	}

	for _, tt := range tests {
		now = issued.Add(tt.elapsed)
		_, ok := codec.Decode(token)
		assert.Equal(t, tt.valid, ok, "elapsed %s", tt.elapsed)
	}
}

func TestStateCodec_DistinctStates(t *testing.T) {
	codec := NewStateCodec(testSigningKey)

	a, stA, err := codec.Encode("v1", model.ProviderSquare, model.SourceAdmin)
	require.NoError(t, err)
	b, stB, err := codec.Encode("v1", model.ProviderSquare, model.SourceAdmin)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, stA.Nonce, stB.Nonce)

	_, okA := codec.Decode(a)
	_, okB := codec.Decode(b)
	assert.True(t, okA)
	assert.True(t, okB)
}

func TestStateCodec_RejectsTampering(t *testing.T) {
	codec := NewStateCodec(testSigningKey)
	token, _, err := codec.Encode("v1", model.ProviderSquare, model.SourceAdmin)
	require.NoError(t, err)

	other := NewStateCodec([]byte("a-different-signing-key-entirely"))
	_, ok := other.Decode(token)
	assert.False(t, ok, "wrong key")

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	_, ok = codec.Decode(parts[0] + "." + parts[1] + ".")
	assert.False(t, ok, "stripped signature")

	for _, junk := range []string{"", "not-a-jwt", "a.b.c"} {
		_, ok := codec.Decode(junk)
		assert.False(t, ok, "junk %q", junk)
	}
}

func TestStateCodec_MissingKey(t *testing.T) {
	codec := NewStateCodec(nil)

	_, _, err := codec.Encode("v1", model.ProviderSquare, model.SourceAdmin)
	var cfgErr *model.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "MARKETPAY_STATE_SIGNING_KEY", cfgErr.Setting)
}
