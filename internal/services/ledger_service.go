package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/metrics"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/statemachine"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// TransactionInput is one ledger entry of a payment being recorded. Type
// defaults to the payment type and LoanID to the payment loan.
type TransactionInput struct {
	Type          string          `json:"type"`
	LoanID        *uint           `json:"loan_id"`
	ToPrincipal   decimal.Decimal `json:"to_principal"`
	ToInterest    decimal.Decimal `json:"to_interest"`
	ToFees        decimal.Decimal `json:"to_fees"`
	EffectiveDate time.Time       `json:"effective_date"`
}

// Amount is the sum of the allocations
func (in TransactionInput) Amount() decimal.Decimal {
	return in.ToPrincipal.Add(in.ToInterest).Add(in.ToFees)
}

// RecordPaymentInput describes a payment and the transactions it owns
type RecordPaymentInput struct {
	CompanyID            uint               `json:"company_id"`
	LoanID               *uint              `json:"loan_id"`
	Type                 string             `json:"type"`
	Amount               decimal.Decimal    `json:"amount"`
	RequestedPaymentDate *time.Time         `json:"requested_payment_date"`
	SettlementDate       *time.Time         `json:"settlement_date"`
	DepositDate          *time.Time         `json:"deposit_date"`
	SubmittedByUserID    *uint              `json:"submitted_by_user_id"`
	Transactions         []TransactionInput `json:"transactions"`
}

// Validate checks the payment-level invariants: a known type, at least one
// transaction, and allocations that add up to the payment amount exactly
func (in RecordPaymentInput) Validate() error {
	details := map[string]string{}
	if in.CompanyID == 0 {
		details["company_id"] = "is required"
	}
	if !validTransactionType(in.Type) {
		details["type"] = fmt.Sprintf("unknown payment type %q", in.Type)
	}
	if len(in.Transactions) == 0 {
		details["transactions"] = "at least one transaction is required"
	}

	total := decimal.Zero
	for _, t := range in.Transactions {
		total = total.Add(t.Amount())
	}
	if len(in.Transactions) > 0 && !total.Equal(in.Amount) {
		details["amount"] = fmt.Sprintf("transactions allocate %s, payment amount is %s", total.StringFixed(2), in.Amount.StringFixed(2))
	}

	if len(details) > 0 {
		return newValidationError("invalid payment", details)
	}
	return nil
}

func validTransactionType(t string) bool {
	switch t {
	case models.TransactionTypeAdvance, models.TransactionTypeRepayment, models.TransactionTypeFee,
		models.TransactionTypeCredit, models.TransactionTypeAdjustment:
		return true
	}
	return false
}

// validateTransaction applies the per-entry rules: balanced allocations,
// non-negative allocations for everything but adjustments, and a loan for
// entries that cannot be account level
func validateTransaction(tx *models.Transaction) error {
	details := map[string]string{}
	if tx.CompanyID == 0 {
		details["company_id"] = "is required"
	}
	if tx.PaymentID == 0 {
		details["payment_id"] = "is required"
	}
	if tx.EffectiveDate.IsZero() {
		details["effective_date"] = "is required"
	}
	if !validTransactionType(tx.Type) {
		details["type"] = fmt.Sprintf("unknown transaction type %q", tx.Type)
	}
	if !tx.IsBalanced() {
		details["amount"] = fmt.Sprintf("allocations sum to %s, amount is %s", tx.AllocationTotal().StringFixed(2), tx.Amount.StringFixed(2))
	}

	switch tx.Type {
	case models.TransactionTypeAdjustment:
		if tx.ToPrincipal.IsZero() && tx.ToInterest.IsZero() && tx.ToFees.IsZero() {
			details["allocations"] = "an adjustment must change at least one component"
		}
	default:
		if !tx.Amount.IsPositive() {
			details["amount"] = "must be positive"
		}
		if tx.ToPrincipal.IsNegative() || tx.ToInterest.IsNegative() || tx.ToFees.IsNegative() {
			details["allocations"] = "must not be negative"
		}
	}

	switch tx.Type {
	case models.TransactionTypeAdvance, models.TransactionTypeRepayment, models.TransactionTypeAdjustment:
		if tx.LoanID == nil {
			details["loan_id"] = "is required for " + tx.Type
		}
	}

	if len(details) > 0 {
		return newValidationError("invalid transaction", details)
	}
	return nil
}

// LedgerService appends, corrects and queries ledger transactions. Every
// mutation marks the company's summaries dirty from the entry's effective date.
type LedgerService struct {
	repos    *repository.Repositories
	resolver *ContractResolver
	dirty    *DirtyTracker
	audit    *AuditService
	now      func() time.Time
}

// NewLedgerService creates a ledger service
func NewLedgerService(repos *repository.Repositories, resolver *ContractResolver, dirty *DirtyTracker, audit *AuditService, now func() time.Time) *LedgerService {
	if now == nil {
		now = time.Now
	}
	return &LedgerService{repos: repos, resolver: resolver, dirty: dirty, audit: audit, now: now}
}

// With returns a ledger service bound to the given unit of work
func (s *LedgerService) With(repos *repository.Repositories) *LedgerService {
	return &LedgerService{
		repos:    repos,
		resolver: s.resolver.bind(repos.Contract),
		dirty:    s.dirty.With(repos),
		audit:    s.audit.With(repos),
		now:      s.now,
	}
}

// AppendTransaction validates and appends a single entry to an existing payment
func (s *LedgerService) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	if err := validateTransaction(tx); err != nil {
		return err
	}
	return s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		ledger := s.With(repos)
		payment, err := repos.Payment.FindByID(ctx, tx.PaymentID)
		if err != nil {
			return storeErr(err, ErrPaymentNotFound)
		}
		if payment.IsDeleted {
			return ErrPaymentNotFound
		}
		if payment.CompanyID != tx.CompanyID {
			return newValidationError("invalid transaction", map[string]string{"payment_id": "belongs to another company"})
		}
		return ledger.append(ctx, tx)
	})
}

// append runs inside a unit of work; s must be bound to it
func (s *LedgerService) append(ctx context.Context, tx *models.Transaction) error {
	if err := validateTransaction(tx); err != nil {
		return err
	}

	if tx.LoanID != nil {
		loan, err := s.repos.Loan.FindByID(ctx, *tx.LoanID)
		if err != nil {
			return storeErr(err, ErrLoanNotFound)
		}
		if loan.IsDeleted {
			return newValidationError("invalid transaction", map[string]string{"loan_id": "loan is deleted"})
		}
		if loan.CompanyID != tx.CompanyID {
			return newValidationError("invalid transaction", map[string]string{"loan_id": "belongs to another company"})
		}
		if loan.IsClosed() {
			return fmt.Errorf("loan %d: %w", loan.ID, ErrClosedLoan)
		}
		if loan.Status != models.LoanStatusFunded {
			return fmt.Errorf("%w: loan %d is %s", ErrInvalidState, loan.ID, loan.Status)
		}
	}

	tx.EffectiveDate = models.DateOf(tx.EffectiveDate)
	if tx.GUID == "" {
		tx.GUID = uuid.NewString()
	}
	if err := s.repos.Transaction.Create(ctx, tx); err != nil {
		if repository.IsDuplicateKey(err, "") {
			return newValidationError("invalid transaction", map[string]string{"guid": "already recorded"})
		}
		return storeErr(fmt.Errorf("failed to append transaction: %w", err), nil)
	}
	metrics.IncTransactionAppended(tx.Type)

	return s.dirty.MarkDirty(ctx, tx.CompanyID, tx.EffectiveDate)
}

// RecordPayment creates a payment and all of its transactions in one unit of work
func (s *LedgerService) RecordPayment(ctx context.Context, in RecordPaymentInput) (*models.Payment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var payment *models.Payment
	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		var err error
		payment, err = s.With(repos).record(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("payment recorded",
		"payment_id", payment.ID, "company_id", payment.CompanyID, "type", payment.Type, "amount", payment.Amount.StringFixed(2))
	return payment, nil
}

// record runs inside a unit of work; s must be bound to it
func (s *LedgerService) record(ctx context.Context, in RecordPaymentInput) (*models.Payment, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	payment := &models.Payment{
		GUID:                 uuid.NewString(),
		CompanyID:            in.CompanyID,
		LoanID:               in.LoanID,
		Type:                 in.Type,
		Amount:               in.Amount,
		RequestedPaymentDate: in.RequestedPaymentDate,
		SettlementDate:       in.SettlementDate,
		DepositDate:          in.DepositDate,
		SubmittedByUserID:    in.SubmittedByUserID,
	}
	if in.SettlementDate != nil {
		settled := in.Amount
		payment.SettledAmount = &settled
		payment.SettledByUserID = in.SubmittedByUserID
	}
	if err := s.repos.Payment.Create(ctx, payment); err != nil {
		return nil, storeErr(fmt.Errorf("failed to create payment: %w", err), nil)
	}

	for _, t := range in.Transactions {
		tx := &models.Transaction{
			CompanyID:       in.CompanyID,
			LoanID:          t.LoanID,
			PaymentID:       payment.ID,
			Type:            t.Type,
			Amount:          t.Amount(),
			ToPrincipal:     t.ToPrincipal,
			ToInterest:      t.ToInterest,
			ToFees:          t.ToFees,
			EffectiveDate:   t.EffectiveDate,
			CreatedByUserID: in.SubmittedByUserID,
		}
		if tx.Type == "" {
			tx.Type = in.Type
		}
		if tx.LoanID == nil {
			tx.LoanID = in.LoanID
		}
		if err := s.append(ctx, tx); err != nil {
			return nil, err
		}
		payment.Transactions = append(payment.Transactions, *tx)
	}
	return payment, nil
}

// SoftDeleteTransaction tombstones a transaction with a human readable reason.
// A closed loan whose entry is reversed becomes funded again.
func (s *LedgerService) SoftDeleteTransaction(ctx context.Context, txID uint, reason string, userID uint) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return newValidationError("invalid deletion", map[string]string{"reason": "is required"})
	}

	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		ledger := s.With(repos)
		tx, err := repos.Transaction.FindByID(ctx, txID)
		if err != nil {
			return storeErr(err, ErrTransactionNotFound)
		}
		if tx.IsDeleted {
			return fmt.Errorf("%w: transaction %d is already deleted", ErrInvalidState, txID)
		}
		if err := ledger.tombstone(ctx, tx, reason, userID); err != nil {
			return err
		}
		return ledger.audit.Log(ctx, userID, models.AuditActionDelete, "Transaction", tx.ID,
			fmt.Sprintf("Deleted %s transaction of %s: %s", tx.Type, tx.Amount.StringFixed(2), reason))
	})
	if err != nil {
		return err
	}

	logger.Info("transaction deleted", "transaction_id", txID, "user_id", userID)
	return nil
}

// tombstone runs inside a unit of work; s must be bound to it
func (s *LedgerService) tombstone(ctx context.Context, tx *models.Transaction, reason string, userID uint) error {
	if err := s.repos.Transaction.MarkDeleted(ctx, tx.ID, reason, userID, s.now()); err != nil {
		return storeErr(err, ErrTransactionNotFound)
	}
	metrics.IncTransactionDeleted()

	if tx.LoanID != nil {
		if err := s.reopenIfClosed(ctx, *tx.LoanID); err != nil {
			return err
		}
	}
	return s.dirty.MarkDirty(ctx, tx.CompanyID, tx.EffectiveDate)
}

func (s *LedgerService) reopenIfClosed(ctx context.Context, loanID uint) error {
	loan, err := s.repos.Loan.FindByID(ctx, loanID)
	if err != nil {
		return storeErr(err, ErrLoanNotFound)
	}
	if !loan.MayReopen() {
		return nil
	}
	if err := statemachine.NewLoanFSM(loan).Reopen(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if err := s.repos.Loan.Update(ctx, loan); err != nil {
		return storeErr(fmt.Errorf("failed to reopen loan: %w", err), nil)
	}
	logger.Info("loan reopened", "loan_id", loan.ID)
	return nil
}

// SoftDeletePayment tombstones a payment together with all of its live transactions
func (s *LedgerService) SoftDeletePayment(ctx context.Context, paymentID uint, reason string, userID uint) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return newValidationError("invalid deletion", map[string]string{"reason": "is required"})
	}

	return s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		ledger := s.With(repos)
		payment, err := repos.Payment.FindByIDWithTransactions(ctx, paymentID)
		if err != nil {
			return storeErr(err, ErrPaymentNotFound)
		}
		if payment.IsDeleted {
			return fmt.Errorf("%w: payment %d is already deleted", ErrInvalidState, paymentID)
		}

		for i := range payment.Transactions {
			tx := &payment.Transactions[i]
			if tx.IsDeleted {
				continue
			}
			if err := ledger.tombstone(ctx, tx, reason, userID); err != nil {
				return err
			}
		}

		payment.IsDeleted = true
		if err := repos.Payment.Update(ctx, payment); err != nil {
			return storeErr(fmt.Errorf("failed to delete payment: %w", err), nil)
		}
		return ledger.audit.Log(ctx, userID, models.AuditActionDelete, "Payment", payment.ID,
			fmt.Sprintf("Deleted %s payment of %s: %s", payment.Type, payment.Amount.StringFixed(2), reason))
	})
}

// ListTransactions queries the ledger by company, loan, payment or date range
func (s *LedgerService) ListTransactions(ctx context.Context, query repository.TransactionQuery) ([]models.Transaction, error) {
	if query.From != nil && query.To != nil && query.From.After(*query.To) {
		return nil, newValidationError("invalid query", map[string]string{"from": "must not be after to"})
	}
	txs, err := s.repos.Transaction.Find(ctx, query)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to list transactions: %w", err), nil)
	}
	return txs, nil
}

// FundLoan moves an approved loan to funded, stamps its origination and
// maturity dates from the contract in force on the origination day, and books
// the advance
func (s *LedgerService) FundLoan(ctx context.Context, loanID uint, originationDate time.Time, userID uint) (*models.Loan, error) {
	if originationDate.IsZero() {
		return nil, fmt.Errorf("origination date is required: %w", ErrInvalidDate)
	}
	origination := models.DateOf(originationDate)

	var funded *models.Loan
	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		ledger := s.With(repos)
		loan, err := repos.Loan.FindByID(ctx, loanID)
		if err != nil {
			return storeErr(err, ErrLoanNotFound)
		}
		if loan.IsDeleted {
			return ErrLoanNotFound
		}

		contract, err := ledger.resolver.GetContract(ctx, loan.CompanyID, origination)
		if err != nil {
			return err
		}
		maturity, err := ledger.resolver.MaturityDate(contract, &origination)
		if err != nil {
			return err
		}
		adjusted, err := ledger.resolver.AdjustedMaturityDate(contract, &origination)
		if err != nil {
			return err
		}

		if err := statemachine.NewLoanFSM(loan).Fund(ctx, origination, maturity, adjusted, userID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		if err := repos.Loan.Update(ctx, loan); err != nil {
			return storeErr(fmt.Errorf("failed to fund loan: %w", err), nil)
		}

		_, err = ledger.record(ctx, RecordPaymentInput{
			CompanyID:         loan.CompanyID,
			LoanID:            &loan.ID,
			Type:              models.TransactionTypeAdvance,
			Amount:            loan.Amount,
			SettlementDate:    &origination,
			DepositDate:       &origination,
			SubmittedByUserID: &userID,
			Transactions: []TransactionInput{{
				ToPrincipal:   loan.Amount,
				EffectiveDate: origination,
			}},
		})
		if err != nil {
			return err
		}

		funded = loan
		return ledger.audit.Log(ctx, userID, models.AuditActionFund, "Loan", loan.ID,
			fmt.Sprintf("Funded %s on %s, matures %s", loan.Amount.StringFixed(2), origination.Format(models.DateLayout), adjusted.Format(models.DateLayout)))
	})
	if err != nil {
		if errors.Is(err, ErrNoActiveContract) {
			logger.Warn("cannot fund loan without an active contract", "loan_id", loanID, "origination_date", origination.Format(models.DateLayout))
		}
		return nil, err
	}

	logger.Info("loan funded", "loan_id", funded.ID, "company_id", funded.CompanyID, "amount", funded.Amount.StringFixed(2))
	return funded, nil
}
