package model

import "time"

// Diagnosis compares a vendor's cached payment fields with its connection rows.
type Diagnosis struct {
	VendorID                  string
	VendorSaysConnected       bool
	CachedProvider            Provider
	ActiveConnectionCount     int
	TotalConnectionCount      int
	HasActiveSquareConnection bool
	HasActiveStripeConnection bool
	MismatchDetected          bool // cache says connected, no active row
	ReverseMismatch           bool // active row exists, cache says disconnected
	State                     LifecycleState
	CheckedAt                 time.Time
	Error                     string // rows could not be read; counts are unknown
}

// Consistent reports whether the cache agrees with the rows in both directions.
func (d Diagnosis) Consistent() bool {
	return d.Error == "" && !d.MismatchDetected && !d.ReverseMismatch
}

// UnreadableDiagnosis reports a vendor whose connection rows could not be
// loaded. Only the cached side is known.
func UnreadableDiagnosis(vendor Vendor, err error, now time.Time) Diagnosis {
	return Diagnosis{
		VendorID:            vendor.ID,
		VendorSaysConnected: vendor.PaymentConnected,
		CachedProvider:      vendor.PaymentProvider,
		CheckedAt:           now,
		Error:               err.Error(),
	}
}

// Diagnose builds a Diagnosis for vendor from its connection rows.
func Diagnose(vendor Vendor, conns []PaymentConnection, now time.Time) Diagnosis {
	d := Diagnosis{
		VendorID:             vendor.ID,
		VendorSaysConnected:  vendor.PaymentConnected,
		CachedProvider:       vendor.PaymentProvider,
		TotalConnectionCount: len(conns),
		State:                DeriveState(conns),
		CheckedAt:            now,
	}

	for _, c := range conns {
		if !c.IsActive() {
			continue
		}
		d.ActiveConnectionCount++
		switch c.Provider {
		case ProviderSquare:
			d.HasActiveSquareConnection = true
		case ProviderStripe:
			d.HasActiveStripeConnection = true
		}
	}

	d.MismatchDetected = d.VendorSaysConnected && d.ActiveConnectionCount == 0
	d.ReverseMismatch = !d.VendorSaysConnected && d.ActiveConnectionCount > 0
	return d
}

// RepairAction names the operator-selected reconciliation strategy.
type RepairAction string

const (
	RepairResetVendorCache      RepairAction = "reset_vendor_cache"
	RepairMaterializeConnection RepairAction = "materialize_connection"
)

// RepairStrategy is an explicit repair choice. Connection is required for
// RepairMaterializeConnection and ignored otherwise.
type RepairStrategy struct {
	Action     RepairAction
	Connection *ConnectionData
}

// ConnectionData describes an out-of-band connection an operator knows exists.
type ConnectionData struct {
	Provider          Provider
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    *time.Time
	Metadata          map[string]string
}

// RepairResult records a repair and the vendor's state on both sides of it.
type RepairResult struct {
	Action     RepairAction
	Before     Diagnosis
	After      Diagnosis
	Connection *PaymentConnection
}
