package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinancialSummary is the per-company, per-date balance snapshot. Only the
// recompute path writes the balance columns; ledger mutations touch the
// recompute marker columns. A marker is cleared only by the run that
// recomputed its whole span.
type FinancialSummary struct {
	ID                             uint            `gorm:"primaryKey" json:"id"`
	CompanyID                      uint            `gorm:"not null;uniqueIndex:idx_financial_summaries_company_date" json:"company_id"`
	Date                           *time.Time      `gorm:"type:date;uniqueIndex:idx_financial_summaries_company_date" json:"date"`
	TotalLimit                     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_limit"`
	AdjustedTotalLimit             decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"adjusted_total_limit"`
	TotalOutstandingPrincipal      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_outstanding_principal"`
	TotalOutstandingInterest       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_outstanding_interest"`
	TotalOutstandingFees           decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_outstanding_fees"`
	TotalPrincipalInRequestedState decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_principal_in_requested_state"`
	AvailableLimit                 decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"available_limit"`
	AccountFees                    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"account_fees"`
	AccountCredits                 decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"account_credits"`
	TotalAmountToPayOff            decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount_to_pay_off"`
	InterestAccruedToday           decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"interest_accrued_today"`
	LateFeesAccruedToday           decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"late_fees_accrued_today"`
	LoansCount                     int             `gorm:"not null;default:0" json:"loans_count"`
	NeedsRecompute                 bool            `gorm:"not null;default:false;index" json:"needs_recompute"`
	DaysToCompute                  int             `gorm:"not null;default:0" json:"days_to_compute"`
	RecomputeRequestedAt           *time.Time      `gorm:"index" json:"recompute_requested_at"`
	// LastRequestedAt is the newest request merged into the marker
	LastRequestedAt                *time.Time      `json:"last_requested_at"`
	ComputedAt                     *time.Time      `json:"computed_at"`
	CreatedAt                      time.Time       `json:"created_at"`
	UpdatedAt                      time.Time       `json:"updated_at"`
}

// TableName specifies the table name for FinancialSummary
func (FinancialSummary) TableName() string {
	return "financial_summaries"
}

// ComputeRequest is a pending recompute of a company's summaries starting at
// Date and spanning DaysToCompute days.
type ComputeRequest struct {
	SummaryID     uint      `json:"summary_id"`
	CompanyID     uint      `json:"company_id"`
	Date          time.Time `json:"date"`
	DaysToCompute int       `json:"days_to_compute"`
	RequestedAt   time.Time `json:"requested_at"`
}

// ToComputeRequest converts a dirty summary row into a compute request
func (s *FinancialSummary) ToComputeRequest() ComputeRequest {
	req := ComputeRequest{
		SummaryID:     s.ID,
		CompanyID:     s.CompanyID,
		DaysToCompute: s.DaysToCompute,
	}
	if s.Date != nil {
		req.Date = DateOf(*s.Date)
	}
	if s.RecomputeRequestedAt != nil {
		req.RequestedAt = *s.RecomputeRequestedAt
	}
	if req.DaysToCompute < 1 {
		req.DaysToCompute = 1
	}
	return req
}

// LastDate returns the final day covered by the request
func (r ComputeRequest) LastDate() time.Time {
	return r.Date.AddDate(0, 0, r.DaysToCompute-1)
}
