package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan status constants
const (
	LoanStatusDrafted  = "drafted"
	LoanStatusApproved = "approved"
	LoanStatusRejected = "rejected"
	LoanStatusFunded   = "funded"
	LoanStatusClosed   = "closed"
)

// Loan is a single advance to a company, optionally drawn against an artifact
// such as a purchase order.
type Loan struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	CompanyID            uint            `gorm:"not null;index" json:"company_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status               string          `gorm:"size:20;not null;default:drafted;index" json:"status"`
	ArtifactID           *string         `gorm:"size:100;index" json:"artifact_id"`
	RequestedPaymentDate *time.Time      `gorm:"type:date" json:"requested_payment_date"`
	OriginationDate      *time.Time      `gorm:"type:date;index" json:"origination_date"`
	MaturityDate         *time.Time      `gorm:"type:date" json:"maturity_date"`
	AdjustedMaturityDate *time.Time      `gorm:"type:date" json:"adjusted_maturity_date"`
	ClosedAt             *time.Time      `gorm:"type:date" json:"closed_at"`
	FundedByUserID       *uint           `json:"funded_by_user_id"`
	IsDeleted            bool            `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// TableName specifies the table name for Loan
func (Loan) TableName() string {
	return "loans"
}

// MayApprove returns true if the loan can be approved
func (l *Loan) MayApprove() bool {
	return !l.IsDeleted && l.Status == LoanStatusDrafted
}

// MayReject returns true if the loan can be rejected
func (l *Loan) MayReject() bool {
	return !l.IsDeleted && (l.Status == LoanStatusDrafted || l.Status == LoanStatusApproved)
}

// MayFund returns true if the loan can be funded
func (l *Loan) MayFund() bool {
	return !l.IsDeleted && l.Status == LoanStatusApproved
}

// MayClose returns true if the loan can be closed
func (l *Loan) MayClose() bool {
	return !l.IsDeleted && l.Status == LoanStatusFunded
}

// MayReopen returns true if a closed loan can return to funded
func (l *Loan) MayReopen() bool {
	return !l.IsDeleted && l.Status == LoanStatusClosed
}

// IsClosed reports whether the loan no longer accepts mutations
func (l *Loan) IsClosed() bool {
	return l.IsDeleted || l.Status == LoanStatusClosed || l.ClosedAt != nil
}

// ClosedBefore reports whether the loan was closed strictly before day
func (l *Loan) ClosedBefore(day time.Time) bool {
	return l.ClosedAt != nil && DateOf(*l.ClosedAt).Before(DateOf(day))
}

// CountsTowardArtifact reports whether the loan's amount draws on its artifact
func (l *Loan) CountsTowardArtifact() bool {
	if l.IsDeleted || l.ArtifactID == nil {
		return false
	}
	return l.Status != LoanStatusDrafted && l.Status != LoanStatusRejected
}
