package application

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// stateClaims is the JWT body carried in the OAuth state parameter.
type stateClaims struct {
	Provider string `json:"prv"`
	Source   string `json:"src"`
	jwt.RegisteredClaims
}

// StateCodec signs and verifies OAuth state tokens with HS256.
type StateCodec struct {
	key []byte
	now func() time.Time
}

// NewStateCodec creates a codec signing with key.
func NewStateCodec(key []byte) *StateCodec {
	return &StateCodec{key: key, now: time.Now}
}

// Encode issues a fresh state for vendorID. Every call draws a new nonce.
func (c *StateCodec) Encode(vendorID string, provider model.Provider, source model.ConnectSource) (string, model.OAuthState, error) {
	if len(c.key) == 0 {
		return "", model.OAuthState{}, &model.ConfigurationError{Setting: "MARKETPAY_STATE_SIGNING_KEY"}
	}

	// JWT dates have second precision; truncate so the payload and the
	// token agree on when the state expires.
	issued := c.now().UTC().Truncate(time.Second)
	st := model.OAuthState{
		VendorID: vendorID,
		Provider: provider,
		Source:   source,
		IssuedAt: issued,
		Nonce:    uuid.NewString(),
	}

	claims := stateClaims{
		Provider: string(provider),
		Source:   string(source),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   vendorID,
			ID:        st.Nonce,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(st.ExpiresAt()),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", model.OAuthState{}, err
	}
	return token, st, nil
}

// Decode verifies token and returns its payload. It reports false for any
// malformed, badly signed, expired or incomplete token.
func (c *StateCodec) Decode(token string) (*model.OAuthState, bool) {
	if token == "" || len(c.key) == 0 {
		return nil, false
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, false
	}

	provider, err := model.ParseProvider(claims.Provider)
	if err != nil || claims.Subject == "" || claims.ID == "" || claims.IssuedAt == nil {
		return nil, false
	}

	return &model.OAuthState{
		VendorID: claims.Subject,
		Provider: provider,
		Source:   model.ParseConnectSource(claims.Source),
		IssuedAt: claims.IssuedAt.UTC(),
		Nonce:    claims.ID,
	}, true
}
