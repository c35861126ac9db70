package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is a single money movement owning one or more transactions
type Payment struct {
	ID                   uint             `gorm:"primaryKey" json:"id"`
	GUID                 string           `gorm:"size:36;uniqueIndex;not null" json:"guid"`
	CompanyID            uint             `gorm:"not null;index" json:"company_id"`
	LoanID               *uint            `gorm:"index" json:"loan_id"`
	Type                 string           `gorm:"size:20;not null;index" json:"type"`
	Amount               decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"amount"`
	RequestedPaymentDate *time.Time       `gorm:"type:date" json:"requested_payment_date"`
	SettledAmount        *decimal.Decimal `gorm:"type:decimal(20,2)" json:"settled_amount"`
	SettlementDate       *time.Time       `gorm:"type:date" json:"settlement_date"`
	DepositDate          *time.Time       `gorm:"type:date" json:"deposit_date"`
	SubmittedByUserID    *uint            `json:"submitted_by_user_id"`
	SettledByUserID      *uint            `json:"settled_by_user_id"`
	IsDeleted            bool             `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt            time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`

	Transactions []Transaction `gorm:"foreignKey:PaymentID" json:"transactions,omitempty"`
}

// TableName specifies the table name for Payment
func (Payment) TableName() string {
	return "payments"
}

// IsSettled reports whether the payment has cleared
func (p *Payment) IsSettled() bool {
	return p.SettlementDate != nil
}
