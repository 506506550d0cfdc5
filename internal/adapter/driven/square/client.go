// Package square implements the PaymentProvider port against the Square
// OAuth and Payments APIs.
package square

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/marketpay/internal/adapter/driven/providerhttp"
	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PaymentProvider = (*Client)(nil)

const (
	sandboxBaseURL    = "https://connect.squareupsandbox.com"
	productionBaseURL = "https://connect.squareup.com"

	// apiVersion pins the Square-Version header.
	apiVersion = "2024-10-17"
)

// DefaultScopes are the permissions requested from the seller.
var DefaultScopes = []string{
	"MERCHANT_PROFILE_READ",
	"PAYMENTS_READ",
	"PAYMENTS_WRITE",
	"ORDERS_READ",
	"ORDERS_WRITE",
}

// Config holds Square application credentials for one environment.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Production   bool
	Timeout      time.Duration

	// BaseURL overrides the environment's host. Used by tests.
	BaseURL string
}

// Client talks to Square on behalf of connected sellers.
type Client struct {
	cfg     Config
	baseURL string
	http    *providerhttp.Client
	logger  *slog.Logger
}

// NewClient creates a Square client. Missing credentials are not an error
// here; they surface as *model.ConfigurationError when an operation needs them.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	base := cfg.BaseURL
	if base == "" {
		base = sandboxBaseURL
		if cfg.Production {
			base = productionBaseURL
		}
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    providerhttp.New(model.ProviderSquare, cfg.Timeout, decodeError, logger),
		logger:  logger,
	}
}

// Name returns model.ProviderSquare.
func (c *Client) Name() model.Provider {
	return model.ProviderSquare
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       DefaultScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.baseURL + "/oauth2/authorize",
			TokenURL: c.baseURL + "/oauth2/token",
		},
	}
}

// AuthCodeURL builds the seller authorization URL. session=false forces
// Square to show the login page instead of reusing a dashboard session.
func (c *Client) AuthCodeURL(state string) (string, error) {
	if c.cfg.ClientID == "" {
		return "", &model.ConfigurationError{Setting: "SQUARE_CLIENT_ID"}
	}
	if c.cfg.RedirectURL == "" {
		return "", &model.ConfigurationError{Setting: "APP_BASE_URL", Reason: "is required to build the Square redirect URI"}
	}
	return c.oauthConfig().AuthCodeURL(state, oauth2.SetAuthURLParam("session", "false")), nil
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	GrantType    string `json:"grant_type"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    string `json:"expires_at"`
	MerchantID   string `json:"merchant_id"`
	RefreshToken string `json:"refresh_token"`
}

type merchantResponse struct {
	Merchant struct {
		ID             string `json:"id"`
		BusinessName   string `json:"business_name"`
		Country        string `json:"country"`
		Currency       string `json:"currency"`
		MainLocationID string `json:"main_location_id"`
	} `json:"merchant"`
}

type locationsResponse struct {
	Locations []struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Currency string `json:"currency"`
	} `json:"locations"`
}

// ExchangeCode trades code for seller tokens, then reads the merchant
// profile and picks the location payments will be taken at. Square's token
// endpoint takes a JSON body, so the request is built here rather than
// through oauth2.Config.Exchange.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*model.ProviderGrant, error) {
	if c.cfg.ClientID == "" {
		return nil, &model.ConfigurationError{Setting: "SQUARE_CLIENT_ID"}
	}
	if c.cfg.ClientSecret == "" {
		return nil, &model.ConfigurationError{Setting: "SQUARE_CLIENT_SECRET"}
	}

	req, err := providerhttp.JSONRequest(ctx, http.MethodPost, c.baseURL+"/oauth2/token", tokenRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Code:         code,
		GrantType:    "authorization_code",
		RedirectURI:  c.cfg.RedirectURL,
	})
	if err != nil {
		return nil, err
	}
	c.setVersion(req)

	var tok tokenResponse
	if err := c.http.Do(req, &tok); err != nil {
		return nil, fmt.Errorf("square token exchange: %w", err)
	}

	grant := &model.ProviderGrant{
		AccountID:    tok.MerchantID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Metadata:     map[string]string{"merchant_id": tok.MerchantID},
	}
	if tok.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, tok.ExpiresAt); err == nil {
			t = t.UTC()
			grant.TokenExpiresAt = &t
		}
	}

	var merchant merchantResponse
	if err := c.get(ctx, tok.AccessToken, "/v2/merchants/me", &merchant); err != nil {
		return nil, fmt.Errorf("square merchant lookup: %w", err)
	}
	if grant.AccountID == "" {
		grant.AccountID = merchant.Merchant.ID
		grant.Metadata["merchant_id"] = merchant.Merchant.ID
	}
	grant.Metadata["business_name"] = merchant.Merchant.BusinessName
	grant.Metadata["country"] = merchant.Merchant.Country
	grant.Metadata["currency"] = merchant.Merchant.Currency

	locationID := merchant.Merchant.MainLocationID
	if locationID == "" {
		var locs locationsResponse
		if err := c.get(ctx, tok.AccessToken, "/v2/locations", &locs); err != nil {
			return nil, fmt.Errorf("square location lookup: %w", err)
		}
		for _, l := range locs.Locations {
			if l.Status == "ACTIVE" {
				locationID = l.ID
				break
			}
		}
	}
	grant.Metadata["location_id"] = locationID

	return grant, nil
}

type revokeRequest struct {
	ClientID    string `json:"client_id"`
	MerchantID  string `json:"merchant_id,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// Revoke revokes every token Square issued to this application for the
// connection's merchant.
func (c *Client) Revoke(ctx context.Context, conn model.PaymentConnection) error {
	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return &model.ConfigurationError{Setting: "SQUARE_CLIENT_SECRET"}
	}

	body := revokeRequest{ClientID: c.cfg.ClientID, MerchantID: conn.ProviderAccountID}
	if body.MerchantID == "" {
		body.AccessToken = conn.AccessToken
	}

	req, err := providerhttp.JSONRequest(ctx, http.MethodPost, c.baseURL+"/oauth2/revoke", body)
	if err != nil {
		return err
	}
	c.setVersion(req)
	req.Header.Set("Authorization", "Client "+c.cfg.ClientSecret)

	if err := c.http.Do(req, nil); err != nil {
		return fmt.Errorf("square revoke: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, token, path string, out any) error {
	req, err := providerhttp.JSONRequest(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req, token)
	return c.http.Do(req, out)
}

func (c *Client) post(ctx context.Context, token, path string, body, out any) error {
	req, err := providerhttp.JSONRequest(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	c.authorize(req, token)
	return c.http.Do(req, out)
}

func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	c.setVersion(req)
}

func (c *Client) setVersion(req *http.Request) {
	req.Header.Set("Square-Version", apiVersion)
}

// errorResponse covers both the v2 error list and the legacy OAuth shape.
type errorResponse struct {
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func decodeError(_ int, body []byte) *model.ProviderError {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}
	if len(resp.Errors) > 0 {
		e := resp.Errors[0]
		msg := e.Detail
		if msg == "" {
			msg = e.Category
		}
		return &model.ProviderError{Code: e.Code, Message: msg}
	}
	if resp.Message != "" || resp.Type != "" {
		return &model.ProviderError{Code: resp.Type, Message: resp.Message}
	}
	return nil
}
