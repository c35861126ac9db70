package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// AdjustmentInput is a signed correction to one or more balance components of a loan
type AdjustmentInput struct {
	CompanyID       uint            `json:"company_id"`
	LoanID          uint            `json:"loan_id"`
	ToPrincipal     decimal.Decimal `json:"to_principal"`
	ToInterest      decimal.Decimal `json:"to_interest"`
	ToFees          decimal.Decimal `json:"to_fees"`
	CreatedByUserID uint            `json:"created_by_user_id"`
	DepositDate     time.Time       `json:"deposit_date"`
	EffectiveDate   time.Time       `json:"effective_date"`
}

// Amount is the signed sum of the allocations
func (in AdjustmentInput) Amount() decimal.Decimal {
	return in.ToPrincipal.Add(in.ToInterest).Add(in.ToFees)
}

// Validate checks required fields and rejects adjustments that change nothing
func (in AdjustmentInput) Validate() error {
	details := map[string]string{}
	if in.CompanyID == 0 {
		details["company_id"] = "is required"
	}
	if in.LoanID == 0 {
		details["loan_id"] = "is required"
	}
	if in.CreatedByUserID == 0 {
		details["created_by_user_id"] = "is required"
	}
	if in.EffectiveDate.IsZero() {
		details["effective_date"] = "is required"
	}
	if in.DepositDate.IsZero() {
		details["deposit_date"] = "is required"
	}
	if in.ToPrincipal.IsZero() && in.ToInterest.IsZero() && in.ToFees.IsZero() {
		details["allocations"] = "at least one of to_principal, to_interest or to_fees must be non-zero"
	}
	for field, v := range map[string]decimal.Decimal{"to_principal": in.ToPrincipal, "to_interest": in.ToInterest, "to_fees": in.ToFees} {
		if !v.Equal(models.RoundMoney(v)) {
			details[field] = "must have at most two decimal places"
		}
	}
	if len(details) > 0 {
		return newValidationError("invalid adjustment", details)
	}
	return nil
}

// AdjustmentService books manual balance corrections. It only marks the
// company's summaries dirty; the next recompute picks the change up.
type AdjustmentService struct {
	repos  *repository.Repositories
	ledger *LedgerService
	audit  *AuditService
}

// NewAdjustmentService creates an adjustment service
func NewAdjustmentService(repos *repository.Repositories, ledger *LedgerService, audit *AuditService) *AdjustmentService {
	return &AdjustmentService{repos: repos, ledger: ledger, audit: audit}
}

// CreateAdjustment appends an adjustment payment and its transaction
func (s *AdjustmentService) CreateAdjustment(ctx context.Context, in AdjustmentInput) (*models.Payment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	effective := models.DateOf(in.EffectiveDate)
	deposit := models.DateOf(in.DepositDate)

	var payment *models.Payment
	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		loan, err := repos.Loan.FindByID(ctx, in.LoanID)
		if err != nil {
			return storeErr(err, ErrLoanNotFound)
		}
		if loan.IsDeleted {
			return ErrLoanNotFound
		}
		if loan.IsClosed() {
			return fmt.Errorf("loan %d: %w", loan.ID, ErrClosedLoan)
		}
		if loan.CompanyID != in.CompanyID {
			return newValidationError("invalid adjustment", map[string]string{"loan_id": "belongs to another company"})
		}

		payment, err = s.ledger.With(repos).record(ctx, RecordPaymentInput{
			CompanyID:         in.CompanyID,
			LoanID:            &loan.ID,
			Type:              models.TransactionTypeAdjustment,
			Amount:            in.Amount(),
			SettlementDate:    &effective,
			DepositDate:       &deposit,
			SubmittedByUserID: &in.CreatedByUserID,
			Transactions: []TransactionInput{{
				ToPrincipal:   in.ToPrincipal,
				ToInterest:    in.ToInterest,
				ToFees:        in.ToFees,
				EffectiveDate: effective,
			}},
		})
		if err != nil {
			return err
		}

		details, _ := json.Marshal(map[string]string{
			"to_principal":   in.ToPrincipal.StringFixed(2),
			"to_interest":    in.ToInterest.StringFixed(2),
			"to_fees":        in.ToFees.StringFixed(2),
			"effective_date": effective.Format(models.DateLayout),
		})
		return s.audit.With(repos).Log(ctx, in.CreatedByUserID, models.AuditActionAdjust, "Loan", loan.ID, string(details))
	})
	if err != nil {
		return nil, err
	}

	logger.Info("adjustment recorded",
		"loan_id", in.LoanID, "payment_id", payment.ID, "amount", in.Amount().StringFixed(2),
		"effective_date", effective.Format(models.DateLayout))
	return payment, nil
}
