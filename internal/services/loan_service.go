package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/statemachine"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// CreateLoanInput describes a new drafted loan
type CreateLoanInput struct {
	CompanyID            uint            `json:"company_id"`
	Amount               decimal.Decimal `json:"amount"`
	ArtifactID           *string         `json:"artifact_id"`
	RequestedPaymentDate *time.Time      `json:"requested_payment_date"`
}

// Validate checks the required fields
func (in CreateLoanInput) Validate() error {
	details := map[string]string{}
	if in.CompanyID == 0 {
		details["company_id"] = "is required"
	}
	if !in.Amount.IsPositive() {
		details["amount"] = "must be positive"
	}
	if in.ArtifactID != nil && strings.TrimSpace(*in.ArtifactID) == "" {
		details["artifact_id"] = "must not be blank"
	}
	if len(details) > 0 {
		return newValidationError("invalid loan", details)
	}
	return nil
}

// LoanService manages the loan lifecycle up to funding
type LoanService struct {
	repos *repository.Repositories
	audit *AuditService
}

// NewLoanService creates a loan service
func NewLoanService(repos *repository.Repositories, audit *AuditService) *LoanService {
	return &LoanService{repos: repos, audit: audit}
}

// CreateLoan stores a drafted loan
func (s *LoanService) CreateLoan(ctx context.Context, in CreateLoanInput, userID uint) (*models.Loan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repos.Company.FindByID(ctx, in.CompanyID); err != nil {
		return nil, storeErr(err, ErrCompanyNotFound)
	}

	loan := &models.Loan{
		CompanyID:            in.CompanyID,
		Amount:               in.Amount,
		Status:               models.LoanStatusDrafted,
		ArtifactID:           in.ArtifactID,
		RequestedPaymentDate: in.RequestedPaymentDate,
	}
	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		if err := repos.Loan.Create(ctx, loan); err != nil {
			return storeErr(fmt.Errorf("failed to create loan: %w", err), nil)
		}
		return s.audit.With(repos).Log(ctx, userID, models.AuditActionCreate, "Loan", loan.ID,
			fmt.Sprintf("Created loan of %s", loan.Amount.StringFixed(2)))
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// Approve moves a drafted loan to approved
func (s *LoanService) Approve(ctx context.Context, loanID, userID uint) (*models.Loan, error) {
	return s.transition(ctx, loanID, userID, statemachine.LoanEventApprove)
}

// Reject moves a drafted or approved loan to rejected
func (s *LoanService) Reject(ctx context.Context, loanID, userID uint) (*models.Loan, error) {
	return s.transition(ctx, loanID, userID, statemachine.LoanEventReject)
}

func (s *LoanService) transition(ctx context.Context, loanID, userID uint, event string) (*models.Loan, error) {
	var loan *models.Loan
	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		var err error
		loan, err = repos.Loan.FindByID(ctx, loanID)
		if err != nil {
			return storeErr(err, ErrLoanNotFound)
		}
		if loan.IsDeleted {
			return ErrLoanNotFound
		}

		lfsm := statemachine.NewLoanFSM(loan)
		switch event {
		case statemachine.LoanEventApprove:
			err = lfsm.Approve(ctx)
		case statemachine.LoanEventReject:
			err = lfsm.Reject(ctx)
		default:
			err = fmt.Errorf("unsupported loan event %q", event)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}

		if err := repos.Loan.Update(ctx, loan); err != nil {
			return storeErr(fmt.Errorf("failed to update loan: %w", err), nil)
		}
		return s.audit.With(repos).Log(ctx, userID, models.AuditActionUpdate, "Loan", loan.ID, "Loan "+loan.Status)
	})
	if err != nil {
		return nil, err
	}

	logger.Info("loan status changed", "loan_id", loan.ID, "status", loan.Status)
	return loan, nil
}

// DeleteLoan soft deletes a loan once every payment and transaction attached
// to it has been deleted
func (s *LoanService) DeleteLoan(ctx context.Context, loanID, userID uint) error {
	return s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		loan, err := repos.Loan.FindByID(ctx, loanID)
		if err != nil {
			return storeErr(err, ErrLoanNotFound)
		}
		if loan.IsDeleted {
			return ErrLoanNotFound
		}

		live, err := repos.Transaction.CountLiveByLoan(ctx, loanID)
		if err != nil {
			return storeErr(fmt.Errorf("failed to count transactions: %w", err), nil)
		}
		payments, err := repos.Payment.FindByLoan(ctx, loanID, false)
		if err != nil {
			return storeErr(fmt.Errorf("failed to load payments: %w", err), nil)
		}
		if live > 0 || len(payments) > 0 {
			return newValidationError("loan still has ledger entries", map[string]string{
				"transactions": fmt.Sprintf("%d live", live),
				"payments":     fmt.Sprintf("%d live", len(payments)),
			})
		}

		loan.IsDeleted = true
		if err := repos.Loan.Update(ctx, loan); err != nil {
			return storeErr(fmt.Errorf("failed to delete loan: %w", err), nil)
		}
		return s.audit.With(repos).Log(ctx, userID, models.AuditActionDelete, "Loan", loan.ID, "Loan deleted")
	})
}
