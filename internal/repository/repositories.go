package repository

import (
	"context"

	"gorm.io/gorm"
)

// TxRunner runs fn inside one atomic unit of work. The Repositories handed to
// fn are bound to that unit; returning an error rolls everything back.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(repos *Repositories) error) error
}

// Repositories holds all repository instances
type Repositories struct {
	Company     CompanyRepository
	Contract    ContractRepository
	Loan        LoanRepository
	Payment     PaymentRepository
	Transaction TransactionRepository
	Summary     FinancialSummaryRepository
	LoanReport  LoanReportRepository
	Audit       AuditRepository

	Tx TxRunner
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Company:     NewCompanyRepository(db),
		Contract:    NewContractRepository(db),
		Loan:        NewLoanRepository(db),
		Payment:     NewPaymentRepository(db),
		Transaction: NewTransactionRepository(db),
		Summary:     NewFinancialSummaryRepository(db),
		LoanReport:  NewLoanReportRepository(db),
		Audit:       NewAuditRepository(db),
		Tx:          &gormTxRunner{db: db},
	}
}

// WithinTransaction runs fn in a single unit of work
func (r *Repositories) WithinTransaction(ctx context.Context, fn func(repos *Repositories) error) error {
	return r.Tx.Transaction(ctx, fn)
}

type gormTxRunner struct {
	db *gorm.DB
}

func (t *gormTxRunner) Transaction(ctx context.Context, fn func(repos *Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
