// Package application contains use-case orchestration services.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// scanRequest represents a manual scan trigger.
type scanRequest struct {
	done chan scanOutcome
}

type scanOutcome struct {
	mismatches []model.Diagnosis
	err        error
}

// ScanService runs the Reconciler's mismatch scan on an interval and reports
// drift. It never repairs; operators pick a strategy from the report.
type ScanService struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger
	scanCh     chan scanRequest
}

// NewScanService creates a ScanService. interval must be positive.
func NewScanService(reconciler *Reconciler, interval time.Duration, logger *slog.Logger) *ScanService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanService{
		reconciler: reconciler,
		interval:   interval,
		logger:     logger,
		scanCh:     make(chan scanRequest),
	}
}

// Start runs an immediate scan, then scans on the configured interval. It
// also serves manual ScanNow requests. Start blocks until ctx is canceled.
func (s *ScanService) Start(ctx context.Context) {
	s.scan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scan service stopped")
			return
		case <-ticker.C:
			s.scan(ctx)
		case req := <-s.scanCh:
			req.done <- s.scan(ctx)
		}
	}
}

// ScanNow triggers a scan outside the interval and waits for its result.
func (s *ScanService) ScanNow(ctx context.Context) ([]model.Diagnosis, error) {
	req := scanRequest{done: make(chan scanOutcome, 1)}

	select {
	case s.scanCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-req.done:
		return out.mismatches, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ScanService) scan(ctx context.Context) scanOutcome {
	mismatches, err := s.reconciler.ScanAllMismatches(ctx)
	if err != nil {
		s.logger.Error("payment mismatch scan failed", "error", err)
		return scanOutcome{err: err}
	}
	for _, d := range mismatches {
		s.logger.Warn("payment cache drift",
			"vendor_id", d.VendorID,
			"cached_provider", d.CachedProvider,
			"active_connections", d.ActiveConnectionCount,
			"total_connections", d.TotalConnectionCount,
		)
	}
	return scanOutcome{mismatches: mismatches}
}
