package repository

import (
	"context"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"gorm.io/gorm"
)

// ContractRepository defines the interface for contract data access
type ContractRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Contract, error)
	// FindByCompany returns the company's non-deleted contracts ordered by start date, then id
	FindByCompany(ctx context.Context, companyID uint) ([]models.Contract, error)
	Create(ctx context.Context, contract *models.Contract) error
	SoftDelete(ctx context.Context, id uint, userID uint) error
}

type contractRepository struct {
	db *gorm.DB
}

// NewContractRepository creates a new contract repository
func NewContractRepository(db *gorm.DB) ContractRepository {
	return &contractRepository{db: db}
}

func (r *contractRepository) FindByID(ctx context.Context, id uint) (*models.Contract, error) {
	var contract models.Contract
	err := r.db.WithContext(ctx).First(&contract, id).Error
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

func (r *contractRepository) FindByCompany(ctx context.Context, companyID uint) ([]models.Contract, error) {
	var contracts []models.Contract
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND is_deleted = ?", companyID, false).
		Order("start_date ASC, id ASC").
		Find(&contracts).Error
	return contracts, err
}

func (r *contractRepository) Create(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

// SoftDelete retires a contract; corrections are made by inserting a replacement
func (r *contractRepository) SoftDelete(ctx context.Context, id uint, userID uint) error {
	res := r.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"is_deleted":          true,
			"modified_by_user_id": userID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
