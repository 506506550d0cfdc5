package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/marketpay/internal/application"
	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body. Code carries the
// provider's error code when one is available.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeDomainError maps an application error to a status code and body.
// Unrecognized errors are logged and reported as a bare 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr  *model.ConfigurationError
		provErr *model.ProviderError
		incErr  *model.InconsistentStateError
	)

	switch {
	case errors.As(err, &cfgErr):
		h.logger.ErrorContext(r.Context(), "configuration error", "setting", cfgErr.Setting, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: cfgErr.Error(), Code: "configuration_error"})

	case errors.As(err, &provErr):
		msg := h.sanitize(provErr.Message)
		if msg == "" {
			msg = provErr.Error()
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: h.sanitize(provErr.Code)})

	case errors.As(err, &incErr):
		writeJSON(w, http.StatusConflict, toDiagnosisResponse(incErr.Diagnosis))

	case errors.Is(err, model.ErrExchangeInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "exchange_in_progress"})

	case errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, model.ErrUnknownProvider),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, model.ErrInvalidCancellationToken):
		writeError(w, http.StatusBadRequest, model.ErrInvalidCancellationToken.Error())

	case errors.Is(err, model.ErrNoActiveConnection):
		writeError(w, http.StatusNotFound, model.ErrNoActiveConnection.Error())

	case errors.Is(err, model.ErrVendorNotFound),
		errors.Is(err, model.ErrOrderNotFound),
		errors.Is(err, model.ErrOrderNotAuthorized):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, model.ErrProviderUnavailable):
		h.logger.WarnContext(r.Context(), "payment provider unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusBadGateway, model.ErrProviderUnavailable.Error())

	case errors.Is(err, model.ErrStoreUnavailable):
		h.logger.ErrorContext(r.Context(), "store unavailable", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, model.ErrStoreUnavailable.Error())

	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// --- Requests ---

// GenerateURLRequest asks for a provider authorize URL.
type GenerateURLRequest struct {
	Provider string `json:"provider" validate:"required"`
	VendorID string `json:"vendorId" validate:"required"`
	Source   string `json:"source" validate:"omitempty,oneof=signup admin vendor"`
}

// ExchangeRequest trades an authorization code outside the redirect flow.
type ExchangeRequest struct {
	Code     string `json:"code" validate:"required"`
	VendorID string `json:"vendorId" validate:"required"`
}

// DisconnectRequest revokes a vendor's connection.
type DisconnectRequest struct {
	VendorID string `json:"vendorId" validate:"required"`
}

// AuthorizeRequest is a storefront checkout. Amount is in major units.
type AuthorizeRequest struct {
	VendorID        string          `json:"vendorId" validate:"required"`
	Provider        string          `json:"provider" validate:"omitempty,oneof=square stripe"`
	SourceID        string          `json:"sourceId" validate:"required_without=PaymentMethodID"`
	PaymentMethodID string          `json:"paymentMethodId" validate:"required_without=SourceID"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" validate:"required,len=3,alpha"`
}

// OrderActionRequest captures or voids an order.
type OrderActionRequest struct {
	OrderID  string `json:"orderId" validate:"required"`
	AdminKey string `json:"adminKey"`
}

// CancelRequest is a customer-initiated cancellation.
type CancelRequest struct {
	Token string `json:"token" validate:"required"`
}

// RepairRequest selects a reconciliation action for one vendor.
type RepairRequest struct {
	VendorID   string             `json:"vendorId" validate:"required"`
	Action     string             `json:"action" validate:"required"`
	Connection *ConnectionPayload `json:"connection,omitempty"`
	AdminKey   string             `json:"adminKey"`
}

// ConnectionPayload describes an out-of-band connection for create-connection.
type ConnectionPayload struct {
	Provider          string            `json:"provider" validate:"required"`
	ProviderAccountID string            `json:"providerAccountId" validate:"required"`
	AccessToken       string            `json:"accessToken" validate:"required"`
	RefreshToken      string            `json:"refreshToken"`
	TokenExpiresAt    *time.Time        `json:"tokenExpiresAt"`
	Metadata          map[string]string `json:"metadata"`
}

// --- Responses ---

// GenerateURLResponse carries the provider authorize URL.
type GenerateURLResponse struct {
	AuthURL string `json:"authUrl"`
}

// ConnectionResponse is a connection row without credential material.
type ConnectionResponse struct {
	ID                string            `json:"id"`
	VendorID          string            `json:"vendorId"`
	Provider          string            `json:"provider"`
	ProviderAccountID string            `json:"providerAccountId"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
	TokenExpiresAt    *string           `json:"tokenExpiresAt,omitempty"`
	CreatedAt         string            `json:"createdAt"`
	UpdatedAt         string            `json:"updatedAt"`
}

// PaymentStatusResponse is a vendor's lifecycle state and connection history.
type PaymentStatusResponse struct {
	VendorID    string               `json:"vendorId"`
	State       string               `json:"state"`
	Connections []ConnectionResponse `json:"connections"`
}

// StatusResponse is a one-word outcome.
type StatusResponse struct {
	Status string `json:"status"`
}

// AuthorizeResponse is returned after a successful authorization.
type AuthorizeResponse struct {
	OrderID           string `json:"orderId"`
	AuthorizationID   string `json:"authorizationId"`
	Status            string `json:"status"`
	CancellationToken string `json:"cancellationToken,omitempty"`
}

// CaptureResponse carries the settled transaction id.
type CaptureResponse struct {
	TransactionID string `json:"transactionId"`
}

// DiagnosisResponse is the JSON representation of a reconciliation diagnosis.
type DiagnosisResponse struct {
	VendorID                  string `json:"vendorId"`
	VendorSaysConnected       bool   `json:"vendorSaysConnected"`
	CachedProvider            string `json:"cachedProvider,omitempty"`
	ActiveConnectionCount     int    `json:"activeConnectionCount"`
	TotalConnectionCount      int    `json:"totalConnectionCount"`
	HasActiveSquareConnection bool   `json:"hasActiveSquareConnection"`
	HasActiveStripeConnection bool   `json:"hasActiveStripeConnection"`
	MismatchDetected          bool   `json:"mismatchDetected"`
	ReverseMismatch           bool   `json:"reverseMismatch"`
	State                     string `json:"state,omitempty"`
	CheckedAt                 string `json:"checkedAt"`
	Error                     string `json:"error,omitempty"`
}

// RepairResponse reports an applied repair.
type RepairResponse struct {
	Action     string              `json:"action"`
	Before     DiagnosisResponse   `json:"before"`
	After      DiagnosisResponse   `json:"after"`
	Connection *ConnectionResponse `json:"connection,omitempty"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toConnectionResponse(c model.PaymentConnection) ConnectionResponse {
	resp := ConnectionResponse{
		ID:                c.ID,
		VendorID:          c.VendorID,
		Provider:          string(c.Provider),
		ProviderAccountID: c.ProviderAccountID,
		Status:            string(c.Status),
		Metadata:          c.Metadata,
		CreatedAt:         c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]string{}
	}
	if c.TokenExpiresAt != nil {
		s := c.TokenExpiresAt.UTC().Format(time.RFC3339)
		resp.TokenExpiresAt = &s
	}
	return resp
}

func toDiagnosisResponse(d model.Diagnosis) DiagnosisResponse {
	return DiagnosisResponse{
		VendorID:                  d.VendorID,
		VendorSaysConnected:       d.VendorSaysConnected,
		CachedProvider:            string(d.CachedProvider),
		ActiveConnectionCount:     d.ActiveConnectionCount,
		TotalConnectionCount:      d.TotalConnectionCount,
		HasActiveSquareConnection: d.HasActiveSquareConnection,
		HasActiveStripeConnection: d.HasActiveStripeConnection,
		MismatchDetected:          d.MismatchDetected,
		ReverseMismatch:           d.ReverseMismatch,
		State:                     string(d.State),
		CheckedAt:                 d.CheckedAt.UTC().Format(time.RFC3339),
		Error:                     d.Error,
	}
}

func toRepairResponse(res model.RepairResult) RepairResponse {
	resp := RepairResponse{
		Action: string(res.Action),
		Before: toDiagnosisResponse(res.Before),
		After:  toDiagnosisResponse(res.After),
	}
	if res.Connection != nil {
		c := toConnectionResponse(*res.Connection)
		resp.Connection = &c
	}
	return resp
}

func toAuthorizeResponse(res application.AuthorizeResult) AuthorizeResponse {
	return AuthorizeResponse{
		OrderID:           res.OrderID,
		AuthorizationID:   res.AuthorizationID,
		Status:            res.Status,
		CancellationToken: res.CancellationToken,
	}
}
