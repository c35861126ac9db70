package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanReport is the derived per-loan reporting record written by recompute
type LoanReport struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	LoanID               uint            `gorm:"not null;uniqueIndex" json:"loan_id"`
	CompanyID            uint            `gorm:"not null;index" json:"company_id"`
	OutstandingPrincipal decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"outstanding_principal"`
	OutstandingInterest  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"outstanding_interest"`
	OutstandingFees      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"outstanding_fees"`
	PrincipalPaid        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"principal_paid"`
	InterestPaid         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"interest_paid"`
	FeesPaid             decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"fees_paid"`
	DaysPastDue          int             `gorm:"not null;default:0" json:"days_past_due"`
	FinancingPeriod      int             `gorm:"not null;default:0" json:"financing_period"`
	ComputedForDate      time.Time       `gorm:"type:date;not null" json:"computed_for_date"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// TableName specifies the table name for LoanReport
func (LoanReport) TableName() string {
	return "loan_reports"
}
