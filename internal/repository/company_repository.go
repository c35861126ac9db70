package repository

import (
	"context"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"gorm.io/gorm"
)

// CompanyRepository defines the interface for company data access
type CompanyRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Company, error)
	Create(ctx context.Context, company *models.Company) error
	// ListAfter returns up to limit companies with id greater than afterID, ordered by id
	ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Company, error)
}

type companyRepository struct {
	db *gorm.DB
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *gorm.DB) CompanyRepository {
	return &companyRepository{db: db}
}

func (r *companyRepository) FindByID(ctx context.Context, id uint) (*models.Company, error) {
	var company models.Company
	if err := r.db.WithContext(ctx).First(&company, id).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *companyRepository) Create(ctx context.Context, company *models.Company) error {
	return r.db.WithContext(ctx).Create(company).Error
}

func (r *companyRepository) ListAfter(ctx context.Context, afterID uint, limit int) ([]models.Company, error) {
	var companies []models.Company
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&companies).Error
	return companies, err
}
