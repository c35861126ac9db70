package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/metrics"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/statemachine"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// LoanBalance is the state of one loan at the end of the ledger walk
type LoanBalance struct {
	LoanID               uint
	Status               string
	OriginationDate      time.Time
	MaturityDate         time.Time
	AdjustedMaturityDate time.Time

	Principal decimal.Decimal
	Interest  decimal.Decimal
	Fees      decimal.Decimal

	PrincipalPaid decimal.Decimal
	InterestPaid  decimal.Decimal
	FeesPaid      decimal.Decimal

	InterestAccruedToday decimal.Decimal
	LateFeesAccruedToday decimal.Decimal

	DaysPastDue     int
	FinancingPeriod int

	// ClosedOn is set when a funded loan's ledger shows it fully repaid
	ClosedOn *time.Time

	lastActivity time.Time
	repaid       bool
}

// Outstanding is principal plus interest plus fees
func (b *LoanBalance) Outstanding() decimal.Decimal {
	return b.Principal.Add(b.Interest).Add(b.Fees)
}

func (b *LoanBalance) apply(tx *models.Transaction) {
	sign := decimal.NewFromInt(tx.Sign())
	b.Principal = b.Principal.Add(tx.ToPrincipal.Mul(sign))
	b.Interest = b.Interest.Add(tx.ToInterest.Mul(sign))
	b.Fees = b.Fees.Add(tx.ToFees.Mul(sign))

	switch tx.Type {
	case models.TransactionTypeRepayment, models.TransactionTypeCredit:
		b.PrincipalPaid = b.PrincipalPaid.Add(tx.ToPrincipal)
		b.InterestPaid = b.InterestPaid.Add(tx.ToInterest)
		b.FeesPaid = b.FeesPaid.Add(tx.ToFees)
		if tx.Type == models.TransactionTypeRepayment {
			b.repaid = true
		}
	}
	b.lastActivity = tx.EffectiveDate
}

// Report converts the balance into the loan's reporting record
func (b *LoanBalance) Report(companyID uint, asOf time.Time) models.LoanReport {
	return models.LoanReport{
		LoanID:               b.LoanID,
		CompanyID:            companyID,
		OutstandingPrincipal: b.Principal,
		OutstandingInterest:  b.Interest,
		OutstandingFees:      b.Fees,
		PrincipalPaid:        b.PrincipalPaid,
		InterestPaid:         b.InterestPaid,
		FeesPaid:             b.FeesPaid,
		DaysPastDue:          b.DaysPastDue,
		FinancingPeriod:      b.FinancingPeriod,
		ComputedForDate:      asOf,
	}
}

// ComputeResult is everything one company recompute produces
type ComputeResult struct {
	CompanyID uint
	Date      time.Time
	Summary   models.FinancialSummary
	Loans     []LoanBalance
}

// BalanceEngine derives a company's financial summary for a date from its
// ledger and contract history. Compute only reads; Save writes the result.
type BalanceEngine struct {
	repos    *repository.Repositories
	resolver *ContractResolver
}

// NewBalanceEngine creates a balance engine
func NewBalanceEngine(repos *repository.Repositories, resolver *ContractResolver) *BalanceEngine {
	return &BalanceEngine{repos: repos, resolver: resolver}
}

// With returns an engine reading through the given unit of work. Contract
// timelines already cached by the resolver are kept.
func (e *BalanceEngine) With(repos *repository.Repositories) *BalanceEngine {
	return &BalanceEngine{repos: repos, resolver: e.resolver.bind(repos.Contract)}
}

// ForRun returns an engine whose resolver loads each company's contracts once
func (e *BalanceEngine) ForRun() *BalanceEngine {
	return &BalanceEngine{repos: e.repos, resolver: e.resolver.ForRun()}
}

// Compute walks every originated loan of the company day by day up to asOf,
// applying each day's transactions before accruing interest at the rate of
// the contract in force that day. A day without a contract aborts the
// company with a FatalComputationError.
func (e *BalanceEngine) Compute(ctx context.Context, companyID uint, asOf time.Time) (*ComputeResult, error) {
	asOf = models.DateOf(asOf)

	if _, err := e.repos.Company.FindByID(ctx, companyID); err != nil {
		return nil, storeErr(err, ErrCompanyNotFound)
	}
	timeline, err := e.resolver.LoadTimeline(ctx, companyID)
	if err != nil {
		return nil, err
	}

	txs, err := e.repos.Transaction.Find(ctx, repository.TransactionQuery{CompanyID: companyID, To: &asOf})
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to load transactions: %w", err), nil)
	}
	loans, err := e.repos.Loan.FindOriginatedByCompany(ctx, companyID, asOf)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to load loans: %w", err), nil)
	}
	requested, err := e.repos.Loan.FindByCompanyAndStatus(ctx, companyID, models.LoanStatusApproved)
	if err != nil {
		return nil, storeErr(fmt.Errorf("failed to load approved loans: %w", err), nil)
	}

	summary := models.FinancialSummary{CompanyID: companyID, Date: &asOf}

	byLoan := make(map[uint][]models.Transaction)
	for _, tx := range txs {
		if tx.IsDeleted {
			continue
		}
		if tx.IsAccountLevel() {
			switch tx.Type {
			case models.TransactionTypeFee:
				summary.AccountFees = summary.AccountFees.Add(tx.Amount)
			case models.TransactionTypeCredit:
				summary.AccountCredits = summary.AccountCredits.Add(tx.Amount)
			}
			continue
		}
		byLoan[*tx.LoanID] = append(byLoan[*tx.LoanID], tx)
	}

	result := &ComputeResult{CompanyID: companyID, Date: asOf}
	for i := range loans {
		loan := &loans[i]
		if loan.ClosedBefore(asOf) {
			continue
		}
		bal, err := e.computeLoan(loan, byLoan[loan.ID], timeline, asOf)
		if err != nil {
			return nil, &FatalComputationError{CompanyID: companyID, Date: asOf, Err: fmt.Errorf("loan %d: %w", loan.ID, err)}
		}

		summary.TotalOutstandingPrincipal = summary.TotalOutstandingPrincipal.Add(bal.Principal)
		summary.TotalOutstandingInterest = summary.TotalOutstandingInterest.Add(bal.Interest)
		summary.TotalOutstandingFees = summary.TotalOutstandingFees.Add(bal.Fees)
		summary.InterestAccruedToday = summary.InterestAccruedToday.Add(bal.InterestAccruedToday)
		summary.LateFeesAccruedToday = summary.LateFeesAccruedToday.Add(bal.LateFeesAccruedToday)
		summary.LoansCount++
		result.Loans = append(result.Loans, *bal)
	}

	for _, loan := range requested {
		if models.DateOf(loan.CreatedAt).After(asOf) {
			continue
		}
		summary.TotalPrincipalInRequestedState = summary.TotalPrincipalInRequestedState.Add(loan.Amount)
	}

	contract, err := timeline.At(asOf)
	switch {
	case err == nil:
		summary.TotalLimit = contract.MaxLimit
	case errors.Is(err, ErrNoActiveContract):
		summary.TotalLimit = decimal.Zero
	default:
		return nil, err
	}

	summary.AdjustedTotalLimit = summary.TotalLimit.Add(summary.AccountCredits).Sub(summary.AccountFees)
	summary.AvailableLimit = summary.AdjustedTotalLimit.
		Sub(summary.TotalOutstandingPrincipal).
		Sub(summary.TotalPrincipalInRequestedState)
	summary.TotalAmountToPayOff = summary.TotalOutstandingPrincipal.
		Add(summary.TotalOutstandingInterest).
		Add(summary.TotalOutstandingFees).
		Add(summary.AccountFees).
		Sub(summary.AccountCredits)

	result.Summary = summary
	return result, nil
}

func (e *BalanceEngine) computeLoan(loan *models.Loan, txs []models.Transaction, timeline *ContractTimeline, asOf time.Time) (*LoanBalance, error) {
	origination := models.DateOf(*loan.OriginationDate)

	// maturity follows the contract signed at origination
	terms, err := timeline.At(origination)
	if err != nil {
		return nil, err
	}
	maturity, err := e.resolver.MaturityDate(terms, &origination)
	if err != nil {
		return nil, err
	}
	adjusted, err := e.resolver.AdjustedMaturityDate(terms, &origination)
	if err != nil {
		return nil, err
	}

	bal := &LoanBalance{
		LoanID:               loan.ID,
		Status:               loan.Status,
		OriginationDate:      origination,
		MaturityDate:         maturity,
		AdjustedMaturityDate: adjusted,
	}

	next := 0
	for day := origination; ; day = day.AddDate(0, 0, 1) {
		for next < len(txs) && !models.DateOf(txs[next].EffectiveDate).After(day) {
			bal.apply(&txs[next])
			next++
		}
		if !day.Before(asOf) {
			break
		}

		contract, err := timeline.At(day)
		if err != nil {
			return nil, err
		}
		interest := decimal.Zero
		if bal.Principal.IsPositive() {
			interest = models.RoundMoney(bal.Principal.Mul(contract.DailyInterestRate()))
		}
		lateFee := decimal.Zero
		if day.After(adjusted) {
			lateFee = models.RoundMoney(interest.Mul(contract.LateFeeMultiplier(models.DaysBetween(adjusted, day))))
		}
		bal.Interest = bal.Interest.Add(interest)
		bal.Fees = bal.Fees.Add(lateFee)
		bal.InterestAccruedToday = interest
		bal.LateFeesAccruedToday = lateFee
	}

	end := asOf
	if loan.Status == models.LoanStatusFunded && bal.repaid &&
		!bal.Principal.IsPositive() && !bal.Interest.IsPositive() && !bal.Fees.IsPositive() {
		closedOn := bal.lastActivity
		bal.ClosedOn = &closedOn
		end = closedOn
	} else if loan.ClosedAt != nil {
		end = models.DateOf(*loan.ClosedAt)
	}
	bal.FinancingPeriod = models.DaysBetween(origination, end)

	if bal.ClosedOn == nil && bal.Outstanding().IsPositive() && asOf.After(adjusted) {
		bal.DaysPastDue = models.DaysBetween(adjusted, asOf)
	}
	return bal, nil
}

// Save writes the summary and loan reports of a computed result and applies
// the loan maintenance it implies: maturity dates and closure. It must run
// inside the unit of work the engine is bound to.
func (e *BalanceEngine) Save(ctx context.Context, result *ComputeResult, computedAt time.Time) error {
	summary := result.Summary
	summary.ComputedAt = &computedAt
	if err := e.repos.Summary.SaveComputed(ctx, &summary); err != nil {
		return storeErr(fmt.Errorf("failed to save summary: %w", err), nil)
	}
	metrics.IncSummaryWritten()

	for i := range result.Loans {
		bal := &result.Loans[i]
		if err := e.saveReport(ctx, result, bal); err != nil {
			return err
		}
		if err := e.maintainLoan(ctx, result.Date, bal); err != nil {
			return err
		}
	}
	return nil
}

// saveReport keeps the report of the latest computed date
func (e *BalanceEngine) saveReport(ctx context.Context, result *ComputeResult, bal *LoanBalance) error {
	existing, err := e.repos.LoanReport.FindByLoan(ctx, bal.LoanID)
	switch {
	case err == nil:
		if existing.ComputedForDate.After(result.Date) {
			return nil
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return storeErr(fmt.Errorf("failed to load loan report: %w", err), nil)
	}

	report := bal.Report(result.CompanyID, result.Date)
	if err := e.repos.LoanReport.Upsert(ctx, &report); err != nil {
		return storeErr(fmt.Errorf("failed to save loan report: %w", err), nil)
	}
	return nil
}

func (e *BalanceEngine) maintainLoan(ctx context.Context, asOf time.Time, bal *LoanBalance) error {
	loan, err := e.repos.Loan.FindByID(ctx, bal.LoanID)
	if err != nil {
		return storeErr(err, ErrLoanNotFound)
	}

	changed := false
	if loan.MaturityDate == nil || !loan.MaturityDate.Equal(bal.MaturityDate) {
		maturity := bal.MaturityDate
		loan.MaturityDate = &maturity
		changed = true
	}
	if loan.AdjustedMaturityDate == nil || !loan.AdjustedMaturityDate.Equal(bal.AdjustedMaturityDate) {
		adjusted := bal.AdjustedMaturityDate
		loan.AdjustedMaturityDate = &adjusted
		changed = true
	}

	if bal.ClosedOn != nil && loan.MayClose() {
		// later entries may still reopen the balance
		from := asOf.AddDate(0, 0, 1)
		later, err := e.repos.Transaction.Find(ctx, repository.TransactionQuery{LoanID: loan.ID, From: &from})
		if err != nil {
			return storeErr(fmt.Errorf("failed to check later transactions: %w", err), nil)
		}
		if len(later) == 0 {
			if err := statemachine.NewLoanFSM(loan).Close(ctx, *bal.ClosedOn); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidState, err)
			}
			changed = true
			logger.Info("loan closed", "loan_id", loan.ID, "closed_at", bal.ClosedOn.Format(models.DateLayout))
		}
	}

	if !changed {
		return nil
	}
	if err := e.repos.Loan.Update(ctx, loan); err != nil {
		return storeErr(fmt.Errorf("failed to update loan: %w", err), nil)
	}
	return nil
}
