// Package providerhttp holds the HTTP plumbing shared by the payment provider
// clients: bounded timeouts, JSON and form encoding, and mapping failures
// onto the domain error taxonomy.
package providerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// maxErrorBody bounds how much of a non-2xx response is read for decoding.
const maxErrorBody = 64 << 10

// ErrorDecoder turns a non-2xx response body into a provider error. It may
// return nil when the body is not in the provider's error shape.
type ErrorDecoder func(status int, body []byte) *model.ProviderError

// Client sends requests to one provider's API.
type Client struct {
	provider  model.Provider
	http      *http.Client
	decodeErr ErrorDecoder
	logger    *slog.Logger
}

// New creates a Client whose requests are bounded by timeout both on the
// http.Client and on each request context.
func New(provider model.Provider, timeout time.Duration, decodeErr ErrorDecoder, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		provider:  provider,
		http:      &http.Client{Timeout: timeout},
		decodeErr: decodeErr,
		logger:    logger,
	}
}

// HTTPClient exposes the underlying client so oauth2 exchanges share its timeout.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.http.Timeout
}

// JSONRequest builds a request with body encoded as JSON. A nil body sends no payload.
func JSONRequest(ctx context.Context, method, rawURL string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// FormRequest builds a POST with form-encoded values.
func FormRequest(ctx context.Context, rawURL string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// Do sends req and decodes a 2xx JSON body into out (skipped when out is nil).
// Transport failures and timeouts wrap model.ErrProviderUnavailable; non-2xx
// responses return *model.ProviderError.
func (c *Client) Do(req *http.Request, out any) error {
	ctx, cancel := context.WithTimeout(req.Context(), c.http.Timeout)
	defer cancel()
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("provider request failed",
			"provider", c.provider,
			"method", req.Method,
			"path", req.URL.Path,
			"error", err,
		)
		return Unavailable(c.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("provider request",
		"provider", c.provider,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.providerError(resp.StatusCode, body)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Unavailable(c.provider, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) providerError(status int, body []byte) error {
	if c.decodeErr != nil {
		if perr := c.decodeErr(status, body); perr != nil {
			perr.Provider = c.provider
			perr.StatusCode = status
			return perr
		}
	}
	return &model.ProviderError{
		Provider:   c.provider,
		StatusCode: status,
		Message:    http.StatusText(status),
	}
}

// Unavailable wraps err as model.ErrProviderUnavailable for provider p.
func Unavailable(p model.Provider, err error) error {
	if errors.Is(err, model.ErrProviderUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", p, model.ErrProviderUnavailable, err)
}
