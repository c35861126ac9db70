package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/fintera-ledger/internal/config"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

const testUserID uint = 7

// ledgerFixture wires every service over an in-memory store with a frozen clock
type ledgerFixture struct {
	t     *testing.T
	ctx   context.Context
	now   time.Time
	repos *repository.Repositories
	store *memory.Store
	svcs  *Services
}

func newLedgerFixture(t *testing.T, now time.Time) *ledgerFixture {
	t.Helper()
	repos, store := memory.NewRepositories()
	return newLedgerFixtureWith(t, now, repos, store, nil)
}

func newLedgerFixtureWith(t *testing.T, now time.Time, repos *repository.Repositories, store *memory.Store, holidays []time.Time) *ledgerFixture {
	t.Helper()
	clock := func() time.Time { return now }
	store.Now = clock

	cfg := &config.Config{
		Recompute: config.RecomputeConfig{PageSize: 50, Backoff: time.Millisecond},
		Holidays:  holidays,
	}
	svcs := NewServices(repos, nil, cfg, clock)
	svcs.Recompute.sleep = func(context.Context, time.Duration) error { return nil }

	return &ledgerFixture{t: t, ctx: context.Background(), now: now, repos: repos, store: store, svcs: svcs}
}

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dayPtr(s string) *time.Time {
	d := day(s)
	return &d
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *ledgerFixture) company(name string) uint {
	f.t.Helper()
	c := &models.Company{Name: name, Identifier: name}
	require.NoError(f.t, f.repos.Company.Create(f.ctx, c))
	return c.ID
}

type contractTerms struct {
	start, end   string
	rate         string
	dayCount     string
	maturityDays int
	maxLimit     string
	advanceRate  string
	tiers        []models.LateFeeTier
}

func (f *ledgerFixture) contract(companyID uint, terms contractTerms) *models.Contract {
	f.t.Helper()
	c := &models.Contract{
		CompanyID:    companyID,
		StartDate:    day(terms.start),
		InterestRate: dec(terms.rate),
		DayCount:     terms.dayCount,
		MaturityDays: terms.maturityDays,
		MaxLimit:     decimal.Zero,
		AdvanceRate:  decimal.NewFromInt(1),
		LateFeeTiers: terms.tiers,
	}
	if terms.end != "" {
		c.EndDate = dayPtr(terms.end)
	}
	if c.DayCount == "" {
		c.DayCount = models.DayCountMonthly30
	}
	if c.MaturityDays == 0 {
		c.MaturityDays = 90
	}
	if terms.maxLimit != "" {
		c.MaxLimit = dec(terms.maxLimit)
	}
	if terms.advanceRate != "" {
		c.AdvanceRate = dec(terms.advanceRate)
	}
	require.NoError(f.t, c.Validate())
	require.NoError(f.t, f.repos.Contract.Create(f.ctx, c))
	return c
}

// fundedLoan drafts, approves and funds a loan through the services
func (f *ledgerFixture) fundedLoan(companyID uint, amount string, origination string) *models.Loan {
	f.t.Helper()
	loan, err := f.svcs.Loan.CreateLoan(f.ctx, CreateLoanInput{CompanyID: companyID, Amount: dec(amount)}, testUserID)
	require.NoError(f.t, err)
	_, err = f.svcs.Loan.Approve(f.ctx, loan.ID, testUserID)
	require.NoError(f.t, err)
	funded, err := f.svcs.Ledger.FundLoan(f.ctx, loan.ID, day(origination), testUserID)
	require.NoError(f.t, err)
	return funded
}

func (f *ledgerFixture) repay(companyID, loanID uint, principal, interest, fees string, effective string) *models.Payment {
	f.t.Helper()
	p, i, fe := dec(principal), dec(interest), dec(fees)
	payment, err := f.svcs.Ledger.RecordPayment(f.ctx, RecordPaymentInput{
		CompanyID:         companyID,
		LoanID:            &loanID,
		Type:              models.TransactionTypeRepayment,
		Amount:            p.Add(i).Add(fe),
		SettlementDate:    dayPtr(effective),
		SubmittedByUserID: ptrUint(testUserID),
		Transactions: []TransactionInput{{
			ToPrincipal:   p,
			ToInterest:    i,
			ToFees:        fe,
			EffectiveDate: day(effective),
		}},
	})
	require.NoError(f.t, err)
	return payment
}

func (f *ledgerFixture) compute(companyID uint, asOf string) *ComputeResult {
	f.t.Helper()
	result, err := f.svcs.Engine.Compute(f.ctx, companyID, day(asOf))
	require.NoError(f.t, err)
	return result
}

func (f *ledgerFixture) loan(id uint) *models.Loan {
	f.t.Helper()
	loan, err := f.repos.Loan.FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return loan
}

func ptrUint(v uint) *uint { return &v }

// assertMoney compares decimals by value so 3.2 equals 3.20
func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got.String())
}
