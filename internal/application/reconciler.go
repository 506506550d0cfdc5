package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
	"github.com/ericfisherdev/marketpay/internal/domain/port/driven"
)

// Reconciler detects drift between a vendor's cached payment fields and its
// connection rows, and applies operator-selected repairs. It never chooses a
// repair on its own.
type Reconciler struct {
	vendors      driven.VendorStore
	conns        driven.ConnectionStore
	storeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(vendors driven.VendorStore, conns driven.ConnectionStore, storeTimeout time.Duration, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		vendors:      vendors,
		conns:        conns,
		storeTimeout: storeTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Diagnose compares the vendor cache with the connection rows.
func (r *Reconciler) Diagnose(ctx context.Context, vendorID string) (*model.Diagnosis, error) {
	vendor, err := storeCall(ctx, r.storeTimeout, func(ctx context.Context) (*model.Vendor, error) {
		return r.vendors.Get(ctx, vendorID)
	})
	if err != nil {
		return nil, err
	}
	return r.diagnose(ctx, *vendor)
}

func (r *Reconciler) diagnose(ctx context.Context, vendor model.Vendor) (*model.Diagnosis, error) {
	conns, err := storeCall(ctx, r.storeTimeout, func(ctx context.Context) ([]model.PaymentConnection, error) {
		return r.conns.ListByVendor(ctx, vendor.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("list connections for vendor %s: %w", vendor.ID, err)
	}

	d := model.Diagnose(vendor, conns, r.now().UTC())
	return &d, nil
}

// Repair applies strategy to the vendor and returns its diagnosis before and
// after.
func (r *Reconciler) Repair(ctx context.Context, vendorID string, strategy model.RepairStrategy) (*model.RepairResult, error) {
	before, err := r.Diagnose(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	result := &model.RepairResult{Action: strategy.Action, Before: *before}

	switch strategy.Action {
	case model.RepairResetVendorCache:
		err = storeExec(ctx, r.storeTimeout, func(ctx context.Context) error {
			return r.vendors.SetPaymentCache(ctx, vendorID, model.DisconnectedCache())
		})
		if err != nil {
			return nil, fmt.Errorf("reset payment cache: %w", err)
		}
		if before.VendorSaysConnected {
			logTransition(ctx, r.logger, vendorID, before.CachedProvider, model.StateConnected, model.EventCacheReset)
		}

	case model.RepairMaterializeConnection:
		conn, err := r.materialize(ctx, vendorID, strategy.Connection)
		if err != nil {
			return nil, err
		}
		result.Connection = conn

	default:
		return nil, fmt.Errorf("unknown repair action %q: %w", strategy.Action, model.ErrInvalidRequest)
	}

	after, err := r.Diagnose(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	result.After = *after

	r.logger.Info("payment connection repaired",
		"vendor_id", vendorID,
		"action", strategy.Action,
		"active_before", before.ActiveConnectionCount,
		"active_after", after.ActiveConnectionCount,
		"connected_after", after.VendorSaysConnected,
	)
	return result, nil
}

func (r *Reconciler) materialize(ctx context.Context, vendorID string, data *model.ConnectionData) (*model.PaymentConnection, error) {
	if data == nil {
		return nil, fmt.Errorf("connection data is required: %w", model.ErrInvalidRequest)
	}
	provider, err := model.ParseProvider(string(data.Provider))
	if err != nil {
		return nil, fmt.Errorf("connection provider %q: %w", data.Provider, err)
	}
	if data.ProviderAccountID == "" || data.AccessToken == "" {
		return nil, fmt.Errorf("providerAccountId and accessToken are required: %w", model.ErrInvalidRequest)
	}

	conn := model.PaymentConnection{
		VendorID:          vendorID,
		Provider:          provider,
		ProviderAccountID: data.ProviderAccountID,
		AccessToken:       data.AccessToken,
		RefreshToken:      data.RefreshToken,
		TokenExpiresAt:    data.TokenExpiresAt,
		Status:            model.ConnectionStatusActive,
		Metadata:          data.Metadata,
	}

	stored, err := storeCall(ctx, r.storeTimeout, func(ctx context.Context) (*model.PaymentConnection, error) {
		return r.conns.Link(ctx, conn)
	})
	if err != nil {
		return nil, fmt.Errorf("materialize %s connection: %w", provider, err)
	}
	return stored, nil
}

// ScanAllMismatches returns diagnoses for every vendor whose cache claims a
// connection that has no active row. A vendor whose rows cannot be read is
// reported with Diagnosis.Error set and the sweep moves on.
func (r *Reconciler) ScanAllMismatches(ctx context.Context) ([]model.Diagnosis, error) {
	vendors, err := storeCall(ctx, r.storeTimeout, func(ctx context.Context) ([]model.Vendor, error) {
		return r.vendors.ListPaymentConnected(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list payment-connected vendors: %w", err)
	}

	mismatches := []model.Diagnosis{}
	failed := 0
	for _, v := range vendors {
		d, err := r.diagnose(ctx, v)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Warn("vendor diagnosis failed", "vendor_id", v.ID, "error", err)
			mismatches = append(mismatches, model.UnreadableDiagnosis(v, err, r.now().UTC()))
			failed++
			continue
		}
		if d.MismatchDetected {
			mismatches = append(mismatches, *d)
		}
	}

	r.logger.Info("payment mismatch scan complete",
		"checked", len(vendors),
		"mismatches", len(mismatches)-failed,
		"unreadable", failed,
	)
	return mismatches, nil
}

// Verify stamps payment_last_verified when the cache agrees with the rows.
// Drift is returned as *model.InconsistentStateError and left untouched.
func (r *Reconciler) Verify(ctx context.Context, vendorID string) (*model.Diagnosis, error) {
	d, err := r.Diagnose(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if !d.Consistent() {
		return d, &model.InconsistentStateError{Diagnosis: *d}
	}

	err = storeExec(ctx, r.storeTimeout, func(ctx context.Context) error {
		return r.vendors.MarkVerified(ctx, vendorID, d.CheckedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("mark vendor %s verified: %w", vendorID, err)
	}
	return d, nil
}
