package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"gorm.io/gorm"
)

// LoanRepository defines the interface for loan data access
type LoanRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Loan, error)
	Create(ctx context.Context, loan *models.Loan) error
	Update(ctx context.Context, loan *models.Loan) error
	// FindOriginatedByCompany returns non-deleted loans originated on or before asOf
	FindOriginatedByCompany(ctx context.Context, companyID uint, asOf time.Time) ([]models.Loan, error)
	// FindByCompanyAndStatus returns non-deleted loans in any of the given statuses
	FindByCompanyAndStatus(ctx context.Context, companyID uint, statuses ...string) ([]models.Loan, error)
	// FindByArtifacts returns every loan (deleted included) referencing one of the artifacts
	FindByArtifacts(ctx context.Context, artifactIDs []string) ([]models.Loan, error)
}

type loanRepository struct {
	db *gorm.DB
}

// NewLoanRepository creates a new loan repository
func NewLoanRepository(db *gorm.DB) LoanRepository {
	return &loanRepository{db: db}
}

func (r *loanRepository) FindByID(ctx context.Context, id uint) (*models.Loan, error) {
	var loan models.Loan
	if err := r.db.WithContext(ctx).First(&loan, id).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

func (r *loanRepository) Create(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

func (r *loanRepository) Update(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Save(loan).Error
}

func (r *loanRepository) FindOriginatedByCompany(ctx context.Context, companyID uint, asOf time.Time) ([]models.Loan, error) {
	var loans []models.Loan
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND is_deleted = ?", companyID, false).
		Where("origination_date IS NOT NULL AND origination_date <= ?", models.DateOf(asOf)).
		Order("id ASC").
		Find(&loans).Error
	return loans, err
}

func (r *loanRepository) FindByCompanyAndStatus(ctx context.Context, companyID uint, statuses ...string) ([]models.Loan, error) {
	var loans []models.Loan
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND is_deleted = ? AND status IN ?", companyID, false, statuses).
		Order("id ASC").
		Find(&loans).Error
	return loans, err
}

func (r *loanRepository) FindByArtifacts(ctx context.Context, artifactIDs []string) ([]models.Loan, error) {
	var loans []models.Loan
	if len(artifactIDs) == 0 {
		return loans, nil
	}
	err := r.db.WithContext(ctx).
		Where("artifact_id IN ?", artifactIDs).
		Order("id ASC").
		Find(&loans).Error
	return loans, err
}
