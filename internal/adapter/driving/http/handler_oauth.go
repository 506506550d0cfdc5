package httphandler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/marketpay/internal/application"
	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// sourcePages maps the flow that started an OAuth round trip to the page the
// callback lands on.
var sourcePages = map[model.ConnectSource]string{
	model.SourceSignup: "/vendor-signup",
	model.SourceAdmin:  "/admin/vendors",
	model.SourceVendor: "/vendor/dashboard",
}

// GenerateURL returns a provider authorize URL carrying a fresh signed state.
func (h *Handler) GenerateURL(w http.ResponseWriter, r *http.Request) {
	var req GenerateURLRequest
	if !h.decode(w, r, &req) {
		return
	}

	provider, err := model.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown payment provider")
		return
	}

	authURL, err := h.conns.GenerateAuthURL(r.Context(), provider, req.VendorID, model.ParseConnectSource(req.Source))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateURLResponse{AuthURL: authURL})
}

// Callback completes the provider redirect and always answers with a 302 to
// the page matching the state's source.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.appBaseURL == "" {
		h.writeDomainError(w, r, &model.ConfigurationError{Setting: "APP_BASE_URL"})
		return
	}

	q := r.URL.Query()
	res := h.conns.HandleCallback(r.Context(), application.CallbackParams{
		Provider:      chi.URLParam(r, "provider"),
		Code:          q.Get("code"),
		State:         q.Get("state"),
		ProviderError: q.Get("error"),
	})

	http.Redirect(w, r, h.callbackRedirect(res), http.StatusFound)
}

func (h *Handler) callbackRedirect(res application.CallbackResult) string {
	page, ok := sourcePages[res.Source]
	if !ok {
		page = sourcePages[model.SourceAdmin]
	}

	params := url.Values{}
	if res.ErrorCode != "" {
		code := h.sanitize(res.ErrorCode)
		if code == "" {
			code = application.CallbackFailed
		}
		params.Set("error", code)
	} else {
		params.Set("connected", string(res.Provider))
	}
	if res.VendorID != "" {
		params.Set("vendorId", res.VendorID)
	}

	return h.appBaseURL + page + "?" + params.Encode()
}

// Exchange trades an authorization code for a connection without the
// redirect leg, for clients that captured the code themselves.
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	var req ExchangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	conn, err := h.conns.ExchangeCode(r.Context(), provider, req.Code, req.VendorID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toConnectionResponse(*conn))
}

// Disconnect revokes the vendor's active connection for the provider.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r)
	if !ok {
		return
	}
	var req DisconnectRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.conns.Disconnect(r.Context(), req.VendorID, provider); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: string(model.ConnectionStatusRevoked)})
}

// PaymentStatus reports the vendor's lifecycle state derived from its
// connection rows, never from the cache.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorId")

	conns, err := h.conns.ListConnections(r.Context(), vendorID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := PaymentStatusResponse{
		VendorID:    vendorID,
		State:       string(model.DeriveState(conns)),
		Connections: make([]ConnectionResponse, 0, len(conns)),
	}
	for _, c := range conns {
		resp.Connections = append(resp.Connections, toConnectionResponse(c))
	}

	writeJSON(w, http.StatusOK, resp)
}
