package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FinancialSummaryRepository defines the interface for summary snapshot and
// recompute marker access
type FinancialSummaryRepository interface {
	FindByCompanyAndDate(ctx context.Context, companyID uint, date time.Time) (*models.FinancialSummary, error)
	// MarkDirty flags (company, date) for recompute. An existing marker is
	// widened to the longer span and keeps the earliest request time for
	// ordering and the newest one in LastRequestedAt.
	MarkDirty(ctx context.Context, companyID uint, date time.Time, daysToCompute int, requestedAt time.Time) error
	// ListNeedingRecompute returns up to limit dirty markers dated on or before
	// asOf, oldest request first, strictly after the given cursor
	ListNeedingRecompute(ctx context.Context, asOf time.Time, after *models.ComputeRequest, limit int) ([]models.ComputeRequest, error)
	// SaveComputed upserts a computed snapshot. The recompute marker of an
	// existing row is left as it is.
	SaveComputed(ctx context.Context, summary *models.FinancialSummary) error
	// ClearMarker clears the marker of row id unless a request was merged into
	// it after computedAt, and reports whether it cleared it
	ClearMarker(ctx context.Context, id uint, computedAt time.Time) (bool, error)
	ListNullDate(ctx context.Context, afterID uint, limit int) ([]models.FinancialSummary, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
}

type financialSummaryRepository struct {
	db *gorm.DB
}

// NewFinancialSummaryRepository creates a new financial summary repository
func NewFinancialSummaryRepository(db *gorm.DB) FinancialSummaryRepository {
	return &financialSummaryRepository{db: db}
}

var summaryConflictColumns = []clause.Column{{Name: "company_id"}, {Name: "date"}}

func (r *financialSummaryRepository) FindByCompanyAndDate(ctx context.Context, companyID uint, date time.Time) (*models.FinancialSummary, error) {
	var summary models.FinancialSummary
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND date = ?", companyID, models.DateOf(date)).
		First(&summary).Error
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *financialSummaryRepository) MarkDirty(ctx context.Context, companyID uint, date time.Time, daysToCompute int, requestedAt time.Time) error {
	day := models.DateOf(date)
	marker := &models.FinancialSummary{
		CompanyID:            companyID,
		Date:                 &day,
		NeedsRecompute:       true,
		DaysToCompute:        daysToCompute,
		RecomputeRequestedAt: &requestedAt,
		LastRequestedAt:      &requestedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: summaryConflictColumns,
			DoUpdates: clause.Set{
				{Column: clause.Column{Name: "needs_recompute"}, Value: true},
				{Column: clause.Column{Name: "days_to_compute"}, Value: gorm.Expr(
					"CASE WHEN financial_summaries.needs_recompute THEN GREATEST(financial_summaries.days_to_compute, EXCLUDED.days_to_compute) ELSE EXCLUDED.days_to_compute END")},
				{Column: clause.Column{Name: "recompute_requested_at"}, Value: gorm.Expr(
					"CASE WHEN financial_summaries.needs_recompute THEN LEAST(financial_summaries.recompute_requested_at, EXCLUDED.recompute_requested_at) ELSE EXCLUDED.recompute_requested_at END")},
				{Column: clause.Column{Name: "last_requested_at"}, Value: gorm.Expr(
					"CASE WHEN financial_summaries.needs_recompute THEN GREATEST(financial_summaries.last_requested_at, EXCLUDED.last_requested_at) ELSE EXCLUDED.last_requested_at END")},
				{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("EXCLUDED.updated_at")},
			},
		}).
		Create(marker).Error
}

func (r *financialSummaryRepository) ListNeedingRecompute(ctx context.Context, asOf time.Time, after *models.ComputeRequest, limit int) ([]models.ComputeRequest, error) {
	var rows []models.FinancialSummary
	q := r.db.WithContext(ctx).
		Where("needs_recompute = ? AND date IS NOT NULL AND date <= ?", true, models.DateOf(asOf))
	if after != nil {
		q = q.Where("(recompute_requested_at, id) > (?, ?)", after.RequestedAt, after.SummaryID)
	}
	err := q.Order("recompute_requested_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	requests := make([]models.ComputeRequest, 0, len(rows))
	for i := range rows {
		requests = append(requests, rows[i].ToComputeRequest())
	}
	return requests, nil
}

func (r *financialSummaryRepository) SaveComputed(ctx context.Context, summary *models.FinancialSummary) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: summaryConflictColumns,
			DoUpdates: clause.AssignmentColumns([]string{
				"total_limit",
				"adjusted_total_limit",
				"total_outstanding_principal",
				"total_outstanding_interest",
				"total_outstanding_fees",
				"total_principal_in_requested_state",
				"available_limit",
				"account_fees",
				"account_credits",
				"total_amount_to_pay_off",
				"interest_accrued_today",
				"late_fees_accrued_today",
				"loans_count",
				"computed_at",
				"updated_at",
			}),
		}).
		Create(summary).Error
}

func (r *financialSummaryRepository) ClearMarker(ctx context.Context, id uint, computedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FinancialSummary{}).
		Where("id = ? AND needs_recompute = ?", id, true).
		Where("last_requested_at IS NULL OR last_requested_at <= ?", computedAt).
		Updates(map[string]interface{}{
			"needs_recompute":        false,
			"days_to_compute":        0,
			"recompute_requested_at": nil,
			"last_requested_at":      nil,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *financialSummaryRepository) ListNullDate(ctx context.Context, afterID uint, limit int) ([]models.FinancialSummary, error) {
	var rows []models.FinancialSummary
	err := r.db.WithContext(ctx).
		Where("date IS NULL AND id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *financialSummaryRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.FinancialSummary{})
	return res.RowsAffected, res.Error
}
