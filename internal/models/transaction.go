package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction and payment type constants
const (
	TransactionTypeAdvance    = "advance"
	TransactionTypeRepayment  = "repayment"
	TransactionTypeFee        = "fee"
	TransactionTypeCredit     = "credit"
	TransactionTypeAdjustment = "adjustment"
)

// Transaction is a typed ledger entry with signed allocations to principal,
// interest and fees. Rows are never removed; corrections soft delete.
type Transaction struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	GUID            string          `gorm:"size:36;uniqueIndex;not null" json:"guid"`
	CompanyID       uint            `gorm:"not null;index:idx_transactions_company_effective" json:"company_id"`
	LoanID          *uint           `gorm:"index" json:"loan_id"`
	PaymentID       uint            `gorm:"not null;index" json:"payment_id"`
	Type            string          `gorm:"size:20;not null" json:"type"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	ToPrincipal     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"to_principal"`
	ToInterest      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"to_interest"`
	ToFees          decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"to_fees"`
	EffectiveDate   time.Time       `gorm:"type:date;not null;index:idx_transactions_company_effective" json:"effective_date"`
	CreatedByUserID *uint           `json:"created_by_user_id"`
	IsDeleted       bool            `gorm:"not null;default:false;index" json:"is_deleted"`
	DeletedReason   *string         `gorm:"type:text" json:"deleted_reason,omitempty"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
	DeletedByUserID *uint           `json:"deleted_by_user_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Transaction
func (Transaction) TableName() string {
	return "transactions"
}

// AllocationTotal sums the principal, interest and fee allocations
func (t *Transaction) AllocationTotal() decimal.Decimal {
	return t.ToPrincipal.Add(t.ToInterest).Add(t.ToFees)
}

// IsBalanced reports whether the allocations add up to Amount
func (t *Transaction) IsBalanced() bool {
	return t.AllocationTotal().Equal(t.Amount)
}

// IsAccountLevel reports whether the entry belongs to the company rather than a loan
func (t *Transaction) IsAccountLevel() bool {
	return t.LoanID == nil
}

// Sign is +1 for entries that add to the outstanding balance and -1 for
// entries that pay it down.
func (t *Transaction) Sign() int64 {
	switch t.Type {
	case TransactionTypeRepayment, TransactionTypeCredit:
		return -1
	default:
		return 1
	}
}
