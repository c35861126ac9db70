package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/metrics"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

// DirtyTracker flags (company, date) financial summaries as stale and hands
// out the pending compute requests oldest first.
type DirtyTracker struct {
	summaries repository.FinancialSummaryRepository
	now       func() time.Time
}

// NewDirtyTracker creates a dirty tracker
func NewDirtyTracker(summaries repository.FinancialSummaryRepository, now func() time.Time) *DirtyTracker {
	if now == nil {
		now = time.Now
	}
	return &DirtyTracker{summaries: summaries, now: now}
}

// With returns a tracker writing through the given unit of work
func (t *DirtyTracker) With(repos *repository.Repositories) *DirtyTracker {
	return &DirtyTracker{summaries: repos.Summary, now: t.now}
}

// MarkDirty flags the company's summaries from fromDate through today
func (t *DirtyTracker) MarkDirty(ctx context.Context, companyID uint, fromDate time.Time) error {
	now := t.now()
	day := models.DateOf(fromDate)
	days := models.DaysBetween(day, now) + 1
	if days < 1 {
		days = 1
	}

	if err := t.summaries.MarkDirty(ctx, companyID, day, days, now); err != nil {
		return storeErr(fmt.Errorf("failed to mark summary dirty: %w", err), nil)
	}
	metrics.IncDirtyMark()
	return nil
}

// ListNeedingRecompute returns at most limit compute requests dated on or
// before asOf, oldest request first
func (t *DirtyTracker) ListNeedingRecompute(ctx context.Context, asOf time.Time, limit int) ([]models.ComputeRequest, error) {
	return t.NextPage(ctx, asOf, nil, limit)
}

// NextPage continues ListNeedingRecompute after the given request
func (t *DirtyTracker) NextPage(ctx context.Context, asOf time.Time, after *models.ComputeRequest, limit int) ([]models.ComputeRequest, error) {
	if limit <= 0 {
		return nil, newValidationError("invalid limit", map[string]string{"limit": "must be positive"})
	}
	requests, err := t.summaries.ListNeedingRecompute(ctx, asOf, after, limit)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to list compute requests: %w", err), nil)
	}
	return requests, nil
}

// Resolve settles the marker of a request whose days were recomputed through
// computedThrough by a computation that started at computedAt. The marker is
// kept when a newer request was merged into it meanwhile. Days of the span
// past computedThrough are handed to a marker on the next day.
func (t *DirtyTracker) Resolve(ctx context.Context, req models.ComputeRequest, computedThrough, computedAt time.Time) error {
	cleared, err := t.summaries.ClearMarker(ctx, req.SummaryID, computedAt)
	if err != nil {
		return storeErr(fmt.Errorf("failed to clear compute request: %w", err), nil)
	}
	if !cleared {
		return nil
	}

	last := req.LastDate()
	computedThrough = models.DateOf(computedThrough)
	if !last.After(computedThrough) {
		return nil
	}
	from := computedThrough.AddDate(0, 0, 1)
	if err := t.summaries.MarkDirty(ctx, req.CompanyID, from, models.DaysBetween(from, last)+1, req.RequestedAt); err != nil {
		return storeErr(fmt.Errorf("failed to carry compute request: %w", err), nil)
	}
	metrics.IncDirtyMark()
	return nil
}
