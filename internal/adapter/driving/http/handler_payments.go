package httphandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/marketpay/internal/application"
	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// Authorize places a hold for a storefront order.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.payments.Authorize(r.Context(), application.AuthorizeInput{
		VendorID:        req.VendorID,
		Provider:        model.Provider(req.Provider),
		SourceID:        req.SourceID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		Currency:        req.Currency,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthorizeResponse(*res))
}

// Capture settles an authorized order. Operator only.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req OrderActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkAdminKey(w, r, adminKeyFrom(r, req.AdminKey)) {
		return
	}

	txnID, err := h.payments.Capture(r.Context(), req.OrderID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CaptureResponse{TransactionID: txnID})
}

// Void releases an authorized order's hold. Operator only.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	var req OrderActionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkAdminKey(w, r, adminKeyFrom(r, req.AdminKey)) {
		return
	}

	if err := h.payments.Void(r.Context(), req.OrderID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: string(model.PaymentStatusVoided)})
}

// CancelOrder voids an order using the customer's single-use cancellation token.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.payments.CancelWithToken(r.Context(), chi.URLParam(r, "orderId"), req.Token); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: string(model.PaymentStatusVoided)})
}
