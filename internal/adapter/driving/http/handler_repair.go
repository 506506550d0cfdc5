package httphandler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// Operator-facing repair actions accepted by RepairConnection.
const (
	actionAnalyze          = "analyze"
	actionFixVendorRecord  = "fix-vendor-record"
	actionCreateConnection = "create-connection"
)

// PaymentMismatches lists every vendor whose cache claims a connection that
// has no active row.
func (h *Handler) PaymentMismatches(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.scan(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := make([]DiagnosisResponse, 0, len(mismatches))
	for _, d := range mismatches {
		resp = append(resp, toDiagnosisResponse(d))
	}

	writeJSON(w, http.StatusOK, resp)
}

// VerifyVendor stamps the vendor verified when its cache agrees with its
// rows. Drift answers 409 with the diagnosis.
func (h *Handler) VerifyVendor(w http.ResponseWriter, r *http.Request) {
	d, err := h.reconciler.Verify(r.Context(), chi.URLParam(r, "vendorId"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDiagnosisResponse(*d))
}

// RepairConnection runs an operator-selected reconciliation action.
func (h *Handler) RepairConnection(w http.ResponseWriter, r *http.Request) {
	var req RepairRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.checkAdminKey(w, r, adminKeyFrom(r, req.AdminKey)) {
		return
	}

	var strategy model.RepairStrategy
	switch req.Action {
	case actionAnalyze:
		d, err := h.reconciler.Diagnose(r.Context(), req.VendorID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDiagnosisResponse(*d))
		return

	case actionFixVendorRecord:
		strategy = model.RepairStrategy{Action: model.RepairResetVendorCache}

	case actionCreateConnection:
		if req.Connection == nil {
			writeError(w, http.StatusBadRequest, "connection is required for create-connection")
			return
		}
		c := req.Connection
		strategy = model.RepairStrategy{
			Action: model.RepairMaterializeConnection,
			Connection: &model.ConnectionData{
				Provider:          model.Provider(c.Provider),
				ProviderAccountID: c.ProviderAccountID,
				AccessToken:       c.AccessToken,
				RefreshToken:      c.RefreshToken,
				TokenExpiresAt:    c.TokenExpiresAt,
				Metadata:          c.Metadata,
			},
		}

	default:
		writeError(w, http.StatusBadRequest, "unknown action: expected analyze, fix-vendor-record or create-connection")
		return
	}

	res, err := h.reconciler.Repair(r.Context(), req.VendorID, strategy)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toRepairResponse(*res))
}
