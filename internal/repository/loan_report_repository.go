package repository

import (
	"context"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LoanReportRepository defines the interface for loan report data access
type LoanReportRepository interface {
	FindByLoan(ctx context.Context, loanID uint) (*models.LoanReport, error)
	Upsert(ctx context.Context, report *models.LoanReport) error
	// ListOrphans returns reports whose loan is missing or deleted, ordered by id
	ListOrphans(ctx context.Context, afterID uint, limit int) ([]models.LoanReport, error)
	DeleteByIDs(ctx context.Context, ids []uint) (int64, error)
}

type loanReportRepository struct {
	db *gorm.DB
}

// NewLoanReportRepository creates a new loan report repository
func NewLoanReportRepository(db *gorm.DB) LoanReportRepository {
	return &loanReportRepository{db: db}
}

func (r *loanReportRepository) FindByLoan(ctx context.Context, loanID uint) (*models.LoanReport, error) {
	var report models.LoanReport
	if err := r.db.WithContext(ctx).Where("loan_id = ?", loanID).First(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *loanReportRepository) Upsert(ctx context.Context, report *models.LoanReport) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "loan_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"company_id",
				"outstanding_principal",
				"outstanding_interest",
				"outstanding_fees",
				"principal_paid",
				"interest_paid",
				"fees_paid",
				"days_past_due",
				"financing_period",
				"computed_for_date",
				"updated_at",
			}),
		}).
		Create(report).Error
}

func (r *loanReportRepository) ListOrphans(ctx context.Context, afterID uint, limit int) ([]models.LoanReport, error) {
	var reports []models.LoanReport
	err := r.db.WithContext(ctx).
		Joins("LEFT JOIN loans ON loans.id = loan_reports.loan_id").
		Where("loan_reports.id > ?", afterID).
		Where("loans.id IS NULL OR loans.is_deleted = ?", true).
		Order("loan_reports.id ASC").
		Limit(limit).
		Find(&reports).Error
	return reports, err
}

func (r *loanReportRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.LoanReport{})
	return res.RowsAffected, res.Error
}
