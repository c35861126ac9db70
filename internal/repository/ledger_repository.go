package repository

import (
	"context"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"

	"gorm.io/gorm"
)

// TransactionQuery filters ledger reads. Zero values leave a filter unset.
type TransactionQuery struct {
	CompanyID      uint
	LoanID         uint
	PaymentID      uint
	From           *time.Time
	To             *time.Time
	IncludeDeleted bool
}

// TransactionRepository defines the interface for ledger transaction data access
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	FindByID(ctx context.Context, id uint) (*models.Transaction, error)
	// Find returns matching transactions ordered by effective date, then id
	Find(ctx context.Context, query TransactionQuery) ([]models.Transaction, error)
	// MarkDeleted tombstones a transaction; rows are never removed
	MarkDeleted(ctx context.Context, id uint, reason string, userID uint, at time.Time) error
	CountLiveByLoan(ctx context.Context, loanID uint) (int64, error)
}

// transactionRepository handles database operations for ledger transactions
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new ledger transaction repository
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// Create appends a ledger entry
func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *transactionRepository) FindByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) Find(ctx context.Context, query TransactionQuery) ([]models.Transaction, error) {
	var entries []models.Transaction
	q := r.db.WithContext(ctx).Model(&models.Transaction{})

	if query.CompanyID != 0 {
		q = q.Where("company_id = ?", query.CompanyID)
	}
	if query.LoanID != 0 {
		q = q.Where("loan_id = ?", query.LoanID)
	}
	if query.PaymentID != 0 {
		q = q.Where("payment_id = ?", query.PaymentID)
	}
	if query.From != nil {
		q = q.Where("effective_date >= ?", models.DateOf(*query.From))
	}
	if query.To != nil {
		q = q.Where("effective_date <= ?", models.DateOf(*query.To))
	}
	if !query.IncludeDeleted {
		q = q.Where("is_deleted = ?", false)
	}

	err := q.Order("effective_date ASC, id ASC").Find(&entries).Error
	return entries, err
}

func (r *transactionRepository) MarkDeleted(ctx context.Context, id uint, reason string, userID uint, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"is_deleted":         true,
			"deleted_reason":     reason,
			"deleted_at":         at,
			"deleted_by_user_id": userID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *transactionRepository) CountLiveByLoan(ctx context.Context, loanID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("loan_id = ? AND is_deleted = ?", loanID, false).
		Count(&count).Error
	return count, err
}
