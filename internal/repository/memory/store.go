// Package memory provides an in-process implementation of the repository
// interfaces for tests and local tooling.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

// Store keeps every table in maps keyed by primary key
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	Now func() time.Time

	nextID    uint
	companies map[uint]models.Company
	contracts map[uint]models.Contract
	loans     map[uint]models.Loan
	payments  map[uint]models.Payment
	txs       map[uint]models.Transaction
	summaries map[uint]models.FinancialSummary
	reports   map[uint]models.LoanReport
	audits    map[uint]models.AuditLog
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		Now:       time.Now,
		companies: make(map[uint]models.Company),
		contracts: make(map[uint]models.Contract),
		loans:     make(map[uint]models.Loan),
		payments:  make(map[uint]models.Payment),
		txs:       make(map[uint]models.Transaction),
		summaries: make(map[uint]models.FinancialSummary),
		reports:   make(map[uint]models.LoanReport),
		audits:    make(map[uint]models.AuditLog),
	}
}

// NewRepositories returns repositories backed by a fresh store
func NewRepositories() (*repository.Repositories, *Store) {
	s := NewStore()
	return s.Repositories(), s
}

// Repositories binds the repository interfaces to this store
func (s *Store) Repositories() *repository.Repositories {
	return s.repositories(&txRunner{store: s})
}

func (s *Store) repositories(tx repository.TxRunner) *repository.Repositories {
	return &repository.Repositories{
		Company:     &companyRepo{s},
		Contract:    &contractRepo{s},
		Loan:        &loanRepo{s},
		Payment:     &paymentRepo{s},
		Transaction: &transactionRepo{s},
		Summary:     &summaryRepo{s},
		LoanReport:  &loanReportRepo{s},
		Audit:       &auditRepo{s},
		Tx:          tx,
	}
}

// Summaries returns a copy of every summary row, for assertions
func (s *Store) Summaries() []models.FinancialSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FinancialSummary, 0, len(s.summaries))
	for _, id := range sortedIDs(s.summaries) {
		out = append(out, s.summaries[id])
	}
	return out
}

// InsertSummary stores a raw summary row, bypassing marker logic
func (s *Store) InsertSummary(summary models.FinancialSummary) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary.ID = s.id()
	s.summaries[summary.ID] = summary
	return summary.ID
}

// InsertLoanReport stores a raw loan report row
func (s *Store) InsertLoanReport(report models.LoanReport) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.ID = s.id()
	s.reports[report.ID] = report
	return report.ID
}

// id hands out ids from one sequence shared by all tables; callers hold mu
func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

type snapshot struct {
	nextID    uint
	companies map[uint]models.Company
	contracts map[uint]models.Contract
	loans     map[uint]models.Loan
	payments  map[uint]models.Payment
	txs       map[uint]models.Transaction
	summaries map[uint]models.FinancialSummary
	reports   map[uint]models.LoanReport
	audits    map[uint]models.AuditLog
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		nextID:    s.nextID,
		companies: cloneMap(s.companies),
		contracts: cloneMap(s.contracts),
		loans:     cloneMap(s.loans),
		payments:  cloneMap(s.payments),
		txs:       cloneMap(s.txs),
		summaries: cloneMap(s.summaries),
		reports:   cloneMap(s.reports),
		audits:    cloneMap(s.audits),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.companies = snap.companies
	s.contracts = snap.contracts
	s.loans = snap.loans
	s.payments = snap.payments
	s.txs = snap.txs
	s.summaries = snap.summaries
	s.reports = snap.reports
	s.audits = snap.audits
}

func cloneMap[T any](m map[uint]T) map[uint]T {
	out := make(map[uint]T, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// txRunner simulates a database transaction with snapshot and rollback.
// Top-level units of work are serialized; nested ones roll back only their
// own writes, like a savepoint.
type txRunner struct {
	store  *Store
	nested bool
}

func (t *txRunner) Transaction(ctx context.Context, fn func(repos *repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !t.nested {
		t.store.txMu.Lock()
		defer t.store.txMu.Unlock()
	}

	snap := t.store.snapshot()
	if err := fn(t.store.repositories(&txRunner{store: t.store, nested: true})); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}
