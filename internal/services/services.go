package services

import (
	"time"

	"github.com/sjperalta/fintera-ledger/internal/config"
	"github.com/sjperalta/fintera-ledger/internal/jobs"
	"github.com/sjperalta/fintera-ledger/internal/repository"
)

// Services holds all service instances
type Services struct {
	Resolver   *ContractResolver
	Ledger     *LedgerService
	Loan       *LoanService
	Sibling    *SiblingAggregator
	Engine     *BalanceEngine
	Adjustment *AdjustmentService
	Dirty      *DirtyTracker
	Recompute  *RecomputeService
	Summary    *SummaryService
	Audit      *AuditService
	Job        *JobService
}

// NewServices creates all service instances. worker may be nil for one-shot
// commands; now defaults to time.Now.
func NewServices(repos *repository.Repositories, worker *jobs.Worker, cfg *config.Config, now func() time.Time) *Services {
	if now == nil {
		now = time.Now
	}

	calendar := NewBusinessCalendar(cfg.Holidays)
	resolver := NewContractResolver(repos.Contract, calendar)
	auditSvc := NewAuditService(repos.Audit)
	dirty := NewDirtyTracker(repos.Summary, now)
	engine := NewBalanceEngine(repos, resolver)
	ledger := NewLedgerService(repos, resolver, dirty, auditSvc, now)
	recompute := NewRecomputeService(repos, engine, dirty, cfg.Recompute, now)

	return &Services{
		Resolver:   resolver,
		Ledger:     ledger,
		Loan:       NewLoanService(repos, auditSvc),
		Sibling:    NewSiblingAggregator(repos.Loan, resolver),
		Engine:     engine,
		Adjustment: NewAdjustmentService(repos, ledger, auditSvc),
		Dirty:      dirty,
		Recompute:  recompute,
		Summary:    NewSummaryService(repos.Summary, engine),
		Audit:      auditSvc,
		Job:        NewJobService(worker, recompute),
	}
}
