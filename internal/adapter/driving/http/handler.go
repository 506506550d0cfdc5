package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/marketpay/internal/application"
	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	conns      *application.ConnectionService
	payments   *application.PaymentService
	reconciler *application.Reconciler
	scan       func(context.Context) ([]model.Diagnosis, error)
	appBaseURL string
	adminKey   string
	validate   *validator.Validate
	policy     *bluemonday.Policy
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. appBaseURL is
// where OAuth callbacks redirect to; adminKey guards operator routes.
func NewHandler(
	conns *application.ConnectionService,
	payments *application.PaymentService,
	reconciler *application.Reconciler,
	appBaseURL string,
	adminKey string,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		conns:      conns,
		payments:   payments,
		reconciler: reconciler,
		scan:       reconciler.ScanAllMismatches,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		adminKey:   adminKey,
		validate:   v,
		policy:     bluemonday.StrictPolicy(),
		logger:     logger,
	}
}

// UseScanService serves the mismatch report through svc so manual and
// scheduled scans take turns. svc must already be started.
func (h *Handler) UseScanService(svc *application.ScanService) {
	h.scan = svc.ScanNow
}

// NewRouter creates an http.Handler with all routes registered and wrapped
// with request id, logging and recovery middleware.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(logger))
	// Recovery innermost so panics are caught before logging.
	r.Use(recoveryMiddleware(logger))

	r.Post("/oauth/generate-url", h.GenerateURL)
	r.Get("/oauth/{provider}/callback", h.Callback)
	r.Post("/oauth/{provider}/exchange", h.Exchange)
	r.Post("/oauth/{provider}/disconnect", h.Disconnect)
	r.Get("/vendors/{vendorId}/payment-status", h.PaymentStatus)

	r.Post("/payments/authorize", h.Authorize)
	r.Post("/payments/capture", h.Capture)
	r.Post("/payments/void", h.Void)
	r.Post("/orders/{orderId}/cancel", h.CancelOrder)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAdminKey)
		r.Get("/diagnostics/payment-mismatches", h.PaymentMismatches)
		r.Post("/diagnostics/vendors/{vendorId}/verify", h.VerifyVendor)
	})
	r.Post("/repair/payment-connection", h.RepairConnection)

	r.Get("/api/v1/health", h.Health)

	return r
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// decode reads a JSON body into dst and validates it. On failure the 400
// response has already been written and decode returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err, dst))
		return false
	}
	return true
}

// validationMessage turns the first failed rule on dst into a client-facing
// message. Fields are named by their json keys.
func validationMessage(err error, dst any) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_without":
		return fmt.Sprintf("%s is required when %s is absent", fe.Field(), jsonFieldName(dst, fe.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

// jsonFieldName returns the json key of dst's Go field, or field itself when
// dst has no such field. Rule params such as required_without name Go fields.
func jsonFieldName(dst any, field string) string {
	t := reflect.TypeOf(dst)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return field
	}
	f, ok := t.FieldByName(field)
	if !ok {
		return field
	}
	if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
		return name
	}
	return field
}

// providerParam parses the {provider} path segment, writing a 400 on failure.
func providerParam(w http.ResponseWriter, r *http.Request) (model.Provider, bool) {
	p, err := model.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown payment provider")
		return "", false
	}
	return p, true
}

// sanitize strips markup from provider-supplied text before it is echoed.
func (h *Handler) sanitize(s string) string {
	return strings.TrimSpace(h.policy.Sanitize(s))
}

// adminKeyFrom prefers the header and falls back to the body field.
func adminKeyFrom(r *http.Request, bodyKey string) string {
	if k := r.Header.Get(adminKeyHeader); k != "" {
		return k
	}
	return bodyKey
}
