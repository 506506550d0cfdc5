// Package stripe implements the PaymentProvider port against Stripe Connect
// OAuth and the PaymentIntents API.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
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
	defaultConnectURL = "https://connect.stripe.com"
	defaultAPIURL     = "https://api.stripe.com"
)

// Config holds the platform's Stripe Connect credentials. Test and live mode
// are selected by which keys are supplied.
type Config struct {
	ClientID    string // ca_...
	SecretKey   string // sk_test_... or sk_live_...
	RedirectURL string
	Timeout     time.Duration

	// ConnectURL and APIURL override the Stripe hosts. Used by tests.
	ConnectURL string
	APIURL     string
}

// Client talks to Stripe on behalf of the platform and its connected accounts.
type Client struct {
	cfg        Config
	connectURL string
	apiURL     string
	http       *providerhttp.Client
	logger     *slog.Logger
}

// NewClient creates a Stripe client. Missing credentials surface as
// *model.ConfigurationError when an operation needs them.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	connectURL := cfg.ConnectURL
	if connectURL == "" {
		connectURL = defaultConnectURL
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	return &Client{
		cfg:        cfg,
		connectURL: strings.TrimRight(connectURL, "/"),
		apiURL:     strings.TrimRight(apiURL, "/"),
		http:       providerhttp.New(model.ProviderStripe, cfg.Timeout, decodeError, logger),
		logger:     logger,
	}
}

// Name returns model.ProviderStripe.
func (c *Client) Name() model.Provider {
	return model.ProviderStripe
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.SecretKey,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       []string{"read_write"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.connectURL + "/oauth/authorize",
			TokenURL:  c.connectURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthCodeURL builds the Connect onboarding URL.
func (c *Client) AuthCodeURL(state string) (string, error) {
	if c.cfg.ClientID == "" {
		return "", &model.ConfigurationError{Setting: "STRIPE_CLIENT_ID"}
	}
	if c.cfg.RedirectURL == "" {
		return "", &model.ConfigurationError{Setting: "APP_BASE_URL", Reason: "is required to build the Stripe redirect URI"}
	}
	return c.oauthConfig().AuthCodeURL(state), nil
}

type accountResponse struct {
	ID              string `json:"id"`
	Country         string `json:"country"`
	DefaultCurrency string `json:"default_currency"`
	BusinessProfile struct {
		Name string `json:"name"`
	} `json:"business_profile"`
	Settings struct {
		Dashboard struct {
			DisplayName string `json:"display_name"`
		} `json:"dashboard"`
	} `json:"settings"`
}

// ExchangeCode completes Connect onboarding and reads the connected
// account's profile.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*model.ProviderGrant, error) {
	if c.cfg.ClientID == "" {
		return nil, &model.ConfigurationError{Setting: "STRIPE_CLIENT_ID"}
	}
	if c.cfg.SecretKey == "" {
		return nil, &model.ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}

	exCtx, cancel := context.WithTimeout(ctx, c.http.Timeout())
	defer cancel()
	exCtx = context.WithValue(exCtx, oauth2.HTTPClient, c.http.HTTPClient())

	tok, err := c.oauthConfig().Exchange(exCtx, code)
	if err != nil {
		return nil, fmt.Errorf("stripe token exchange: %w", c.exchangeError(err))
	}

	accountID, _ := tok.Extra("stripe_user_id").(string)
	if accountID == "" {
		return nil, &model.ProviderError{Provider: model.ProviderStripe, StatusCode: http.StatusOK, Code: "missing_account", Message: "token response has no stripe_user_id"}
	}

	grant := &model.ProviderGrant{
		AccountID:    accountID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Metadata: map[string]string{
			"stripe_user_id": accountID,
		},
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		grant.TokenExpiresAt = &exp
	}
	if pk, ok := tok.Extra("stripe_publishable_key").(string); ok {
		grant.Metadata["publishable_key"] = pk
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		grant.Metadata["scope"] = scope
	}
	if live, ok := tok.Extra("livemode").(bool); ok {
		grant.Metadata["livemode"] = strconv.FormatBool(live)
	}

	req, err := providerhttp.JSONRequest(ctx, http.MethodGet, c.apiURL+"/v1/accounts/"+url.PathEscape(accountID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	var acct accountResponse
	if err := c.http.Do(req, &acct); err != nil {
		return nil, fmt.Errorf("stripe account lookup: %w", err)
	}

	name := acct.BusinessProfile.Name
	if name == "" {
		name = acct.Settings.Dashboard.DisplayName
	}
	grant.Metadata["business_name"] = name
	grant.Metadata["country"] = acct.Country
	grant.Metadata["currency"] = strings.ToUpper(acct.DefaultCurrency)

	return grant, nil
}

// exchangeError maps an oauth2 exchange failure onto the domain taxonomy.
func (c *Client) exchangeError(err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return providerhttp.Unavailable(model.ProviderStripe, err)
	}

	perr := &model.ProviderError{
		Provider: model.ProviderStripe,
		Code:     rerr.ErrorCode,
		Message:  rerr.ErrorDescription,
	}
	if rerr.Response != nil {
		perr.StatusCode = rerr.Response.StatusCode
	}
	if perr.Code == "" {
		if decoded := decodeError(perr.StatusCode, rerr.Body); decoded != nil {
			perr.Code, perr.Message = decoded.Code, decoded.Message
		}
	}
	if perr.Message == "" {
		perr.Message = http.StatusText(perr.StatusCode)
	}
	return perr
}

// Revoke disconnects the account from the platform.
func (c *Client) Revoke(ctx context.Context, conn model.PaymentConnection) error {
	if c.cfg.ClientID == "" || c.cfg.SecretKey == "" {
		return &model.ConfigurationError{Setting: "STRIPE_SECRET_KEY"}
	}

	req, err := providerhttp.FormRequest(ctx, c.connectURL+"/oauth/deauthorize", url.Values{
		"client_id":      {c.cfg.ClientID},
		"stripe_user_id": {conn.ProviderAccountID},
	})
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	if err := c.http.Do(req, nil); err != nil {
		return fmt.Errorf("stripe deauthorize: %w", err)
	}
	return nil
}

// errorResponse accepts both the API shape {"error":{...}} and the OAuth
// shape {"error":"...","error_description":"..."}.
type errorResponse struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeError(_ int, body []byte) *model.ProviderError {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Error) == 0 {
		return nil
	}

	var code string
	if err := json.Unmarshal(resp.Error, &code); err == nil {
		return &model.ProviderError{Code: code, Message: resp.ErrorDescription}
	}

	var e apiError
	if err := json.Unmarshal(resp.Error, &e); err != nil {
		return nil
	}
	if e.Code == "" {
		e.Code = e.Type
	}
	return &model.ProviderError{Code: e.Code, Message: e.Message}
}
