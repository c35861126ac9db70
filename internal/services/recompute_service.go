package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sjperalta/fintera-ledger/internal/batch"
	"github.com/sjperalta/fintera-ledger/internal/config"
	"github.com/sjperalta/fintera-ledger/internal/metrics"
	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// Batch job names
const (
	JobRecomputeDirty     = "recompute_dirty"
	JobRecomputeDate      = "recompute_date"
	JobPurgeSummaries     = "purge_null_date_summaries"
	JobCleanupLoanReports = "cleanup_orphan_loan_reports"
)

// ErrRecomputeRunning is returned when a batch job starts while another runs
var ErrRecomputeRunning = fmt.Errorf("%w: a recompute is already running", ErrInvalidState)

// RecomputeOptions parameterizes one batch run. DryRun is the default for
// callers that do not opt in to mutation explicitly.
type RecomputeOptions struct {
	TargetDate time.Time
	DryRun     bool
	PageSize   int
	Limit      int
	// RunID names the run; a new one is generated when empty
	RunID string
}

// RunFunc is the signature shared by the batch jobs
type RunFunc func(ctx context.Context, opts RecomputeOptions) (*RecomputeResult, error)

// DateUpdate names a summary written (or, in a dry run, that would be written)
type DateUpdate struct {
	CompanyID uint   `json:"company_id"`
	Date      string `json:"date"`
}

// RecomputeResult is the structured outcome of a batch run
type RecomputeResult struct {
	RunID             string       `json:"run_id"`
	Job               string       `json:"job"`
	DatesUpdated      []DateUpdate `json:"dates_updated"`
	DescriptiveErrors []string     `json:"descriptive_errors"`
	FatalError        string       `json:"fatal_error"`
	Deleted           int          `json:"deleted,omitempty"`
	Pages             int          `json:"pages"`
	Rows              int          `json:"rows"`
	Retries           int          `json:"retries"`
	DryRun            bool         `json:"dry_run"`
	StartedAt         time.Time    `json:"started_at"`
	FinishedAt        time.Time    `json:"finished_at"`
}

// RecomputeService drives the balance engine and the maintenance purges
// through the batch loop. Only one job runs at a time.
type RecomputeService struct {
	repos  *repository.Repositories
	engine *BalanceEngine
	dirty  *DirtyTracker
	cfg    config.RecomputeConfig
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	running sync.Mutex
	mu      sync.RWMutex
	lastRun *RecomputeResult
}

// NewRecomputeService creates a recompute service
func NewRecomputeService(repos *repository.Repositories, engine *BalanceEngine, dirty *DirtyTracker, cfg config.RecomputeConfig, now func() time.Time) *RecomputeService {
	if now == nil {
		now = time.Now
	}
	return &RecomputeService{repos: repos, engine: engine, dirty: dirty, cfg: cfg, now: now}
}

// Job returns the batch job with the given name
func (s *RecomputeService) Job(name string) (RunFunc, bool) {
	switch name {
	case JobRecomputeDirty:
		return s.RunDirty, true
	case JobRecomputeDate:
		return s.RunForDate, true
	case JobPurgeSummaries:
		return s.PurgeNullDateSummaries, true
	case JobCleanupLoanReports:
		return s.CleanupOrphanLoanReports, true
	}
	return nil, false
}

// LastRun returns the result of the most recent run, or nil
func (s *RecomputeService) LastRun() *RecomputeResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRun == nil {
		return nil
	}
	r := *s.lastRun
	return &r
}

func (s *RecomputeService) loopOptions(job string, opts RecomputeOptions) batch.Options {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = s.cfg.PageSize
	}
	return batch.Options{
		Name:        job,
		PageSize:    pageSize,
		Limit:       opts.Limit,
		Backoff:     s.cfg.Backoff,
		MaxRetries:  s.cfg.MaxRetries,
		DryRun:      opts.DryRun,
		IsTransient: IsTransient,
		Sleep:       s.sleep,
		Logger:      logger.With("run_job", job),
	}
}

// run serializes jobs, records the result, and turns loop errors into the
// result's fatal error
func (s *RecomputeService) run(ctx context.Context, job string, opts RecomputeOptions, body func(ctx context.Context, result *RecomputeResult) (batch.Stats, error)) (*RecomputeResult, error) {
	if !s.running.TryLock() {
		return nil, ErrRecomputeRunning
	}
	defer s.running.Unlock()

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &RecomputeResult{
		RunID:             runID,
		Job:               job,
		DatesUpdated:      []DateUpdate{},
		DescriptiveErrors: []string{},
		DryRun:            opts.DryRun,
		StartedAt:         s.now(),
	}
	log := logger.With("job", job, "run_id", result.RunID, "dry_run", opts.DryRun)
	log.Info("batch run started", "target_date", opts.TargetDate.Format(models.DateLayout), "limit", opts.Limit)

	start := time.Now()
	stats, err := body(ctx, result)
	result.Pages = stats.Pages
	result.Rows = stats.Items
	result.Retries = stats.Retries
	result.FinishedAt = s.now()

	outcome := metrics.ResultSuccess
	switch {
	case err != nil:
		outcome = metrics.ResultError
		result.FatalError = err.Error()
		log.Error("batch run halted", "error", err, "pages", stats.Pages)
	case opts.DryRun:
		outcome = metrics.ResultDryRun
	}
	metrics.ObserveBatchRun(job, outcome, time.Since(start))

	log.Info("batch run finished",
		"pages", stats.Pages, "rows", stats.Items, "dates_updated", len(result.DatesUpdated),
		"descriptive_errors", len(result.DescriptiveErrors), "deleted", result.Deleted)

	s.mu.Lock()
	snapshot := *result
	s.lastRun = &snapshot
	s.mu.Unlock()

	return result, err
}

// descriptive reports whether err only concerns the row at hand and the run
// may continue past it
func descriptive(err error) bool {
	if errors.Is(err, ErrFatalComputation) {
		return false
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation)
}

// RunDirty drains the dirty compute requests dated on or before the target
// date, oldest request first. Each request recomputes its span of days.
func (s *RecomputeService) RunDirty(ctx context.Context, opts RecomputeOptions) (*RecomputeResult, error) {
	target := models.DateOf(opts.TargetDate)
	if opts.TargetDate.IsZero() {
		target = models.DateOf(s.now())
	}
	opts.TargetDate = target

	return s.run(ctx, JobRecomputeDirty, opts, func(ctx context.Context, result *RecomputeResult) (batch.Stats, error) {
		engine := s.engine.ForRun()
		loop := batch.New(s.loopOptions(JobRecomputeDirty, opts),
			func(ctx context.Context, after *models.ComputeRequest, limit int) ([]models.ComputeRequest, error) {
				return s.dirty.NextPage(ctx, target, after, limit)
			},
			func(ctx context.Context, page []models.ComputeRequest, dryRun bool) error {
				return s.processRequests(ctx, engine, page, target, dryRun, result)
			})
		return loop.Run(ctx)
	})
}

func (s *RecomputeService) processRequests(ctx context.Context, engine *BalanceEngine, page []models.ComputeRequest, target time.Time, dryRun bool, result *RecomputeResult) error {
	var (
		updates []DateUpdate
		errs    []string
	)
	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		eng := engine.With(repos)
		dirty := s.dirty.With(repos)
		for _, req := range page {
			through := req.LastDate()
			if through.After(target) {
				through = target
			}
			started := s.now()
			complete := true
			for day := req.Date; !day.After(through); day = day.AddDate(0, 0, 1) {
				done, err := s.computeDay(ctx, eng, req.CompanyID, day, started, dryRun)
				if err != nil {
					if descriptive(err) {
						errs = append(errs, err.Error())
						logger.Warn("skipping compute request", "company_id", req.CompanyID, "date", day.Format(models.DateLayout), "error", err)
						complete = false
						break
					}
					return err
				}
				updates = append(updates, done)
			}
			// a request that failed part way stays queued for the next run
			if !complete || dryRun {
				continue
			}
			if err := dirty.Resolve(ctx, req, through, started); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	result.DatesUpdated = append(result.DatesUpdated, updates...)
	result.DescriptiveErrors = append(result.DescriptiveErrors, errs...)
	return nil
}

func (s *RecomputeService) computeDay(ctx context.Context, eng *BalanceEngine, companyID uint, day, startedAt time.Time, dryRun bool) (DateUpdate, error) {
	computed, err := eng.Compute(ctx, companyID, day)
	if err != nil {
		return DateUpdate{}, err
	}

	update := DateUpdate{CompanyID: companyID, Date: day.Format(models.DateLayout)}
	if dryRun {
		logger.Info("skipping summary write",
			"dry_run", true, "company_id", companyID, "date", update.Date,
			"outstanding_principal", computed.Summary.TotalOutstandingPrincipal.StringFixed(2),
			"outstanding_interest", computed.Summary.TotalOutstandingInterest.StringFixed(2),
			"available_limit", computed.Summary.AvailableLimit.StringFixed(2))
		return update, nil
	}
	if err := eng.Save(ctx, computed, startedAt); err != nil {
		return DateUpdate{}, err
	}
	return update, nil
}

// RunForDate recomputes every company's summary for one date
func (s *RecomputeService) RunForDate(ctx context.Context, opts RecomputeOptions) (*RecomputeResult, error) {
	if opts.TargetDate.IsZero() {
		return nil, newValidationError("invalid recompute", map[string]string{"target_date": "is required"})
	}
	day := models.DateOf(opts.TargetDate)
	opts.TargetDate = day

	return s.run(ctx, JobRecomputeDate, opts, func(ctx context.Context, result *RecomputeResult) (batch.Stats, error) {
		engine := s.engine.ForRun()
		loop := batch.New(s.loopOptions(JobRecomputeDate, opts),
			func(ctx context.Context, after *models.Company, limit int) ([]models.Company, error) {
				var afterID uint
				if after != nil {
					afterID = after.ID
				}
				companies, err := s.repos.Company.ListAfter(ctx, afterID, limit)
				return companies, storeErr(err, nil)
			},
			func(ctx context.Context, page []models.Company, dryRun bool) error {
				var (
					updates []DateUpdate
					errs    []string
				)
				err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
					eng := engine.With(repos)
					for _, company := range page {
						done, err := s.computeDay(ctx, eng, company.ID, day, s.now(), dryRun)
						if err != nil {
							if descriptive(err) {
								errs = append(errs, err.Error())
								continue
							}
							return err
						}
						updates = append(updates, done)
					}
					return nil
				})
				if err != nil {
					return err
				}
				result.DatesUpdated = append(result.DatesUpdated, updates...)
				result.DescriptiveErrors = append(result.DescriptiveErrors, errs...)
				return nil
			})
		return loop.Run(ctx)
	})
}

// PurgeNullDateSummaries deletes summary rows that carry no date
func (s *RecomputeService) PurgeNullDateSummaries(ctx context.Context, opts RecomputeOptions) (*RecomputeResult, error) {
	return s.run(ctx, JobPurgeSummaries, opts, func(ctx context.Context, result *RecomputeResult) (batch.Stats, error) {
		loop := batch.New(s.loopOptions(JobPurgeSummaries, opts),
			func(ctx context.Context, after *models.FinancialSummary, limit int) ([]models.FinancialSummary, error) {
				var afterID uint
				if after != nil {
					afterID = after.ID
				}
				rows, err := s.repos.Summary.ListNullDate(ctx, afterID, limit)
				return rows, storeErr(err, nil)
			},
			func(ctx context.Context, page []models.FinancialSummary, dryRun bool) error {
				ids := make([]uint, 0, len(page))
				for _, row := range page {
					ids = append(ids, row.ID)
				}
				n, err := s.purge(ctx, ids, dryRun, "financial_summary", func(repos *repository.Repositories) (int64, error) {
					return repos.Summary.DeleteByIDs(ctx, ids)
				})
				result.Deleted += n
				return err
			})
		return loop.Run(ctx)
	})
}

// CleanupOrphanLoanReports deletes loan reports whose loan is gone or deleted
func (s *RecomputeService) CleanupOrphanLoanReports(ctx context.Context, opts RecomputeOptions) (*RecomputeResult, error) {
	return s.run(ctx, JobCleanupLoanReports, opts, func(ctx context.Context, result *RecomputeResult) (batch.Stats, error) {
		loop := batch.New(s.loopOptions(JobCleanupLoanReports, opts),
			func(ctx context.Context, after *models.LoanReport, limit int) ([]models.LoanReport, error) {
				var afterID uint
				if after != nil {
					afterID = after.ID
				}
				rows, err := s.repos.LoanReport.ListOrphans(ctx, afterID, limit)
				return rows, storeErr(err, nil)
			},
			func(ctx context.Context, page []models.LoanReport, dryRun bool) error {
				ids := make([]uint, 0, len(page))
				for _, row := range page {
					ids = append(ids, row.ID)
				}
				n, err := s.purge(ctx, ids, dryRun, "loan_report", func(repos *repository.Repositories) (int64, error) {
					return repos.LoanReport.DeleteByIDs(ctx, ids)
				})
				result.Deleted += n
				return err
			})
		return loop.Run(ctx)
	})
}

// purge deletes one page of rows in a unit of work, or only logs them in a dry run
func (s *RecomputeService) purge(ctx context.Context, ids []uint, dryRun bool, entity string, del func(repos *repository.Repositories) (int64, error)) (int, error) {
	if dryRun {
		for _, id := range ids {
			logger.Info("skipping delete", "dry_run", true, "entity", entity, "id", id)
		}
		return len(ids), nil
	}

	var deleted int64
	err := s.repos.WithinTransaction(ctx, func(repos *repository.Repositories) error {
		n, err := del(repos)
		if err != nil {
			return storeErr(fmt.Errorf("failed to delete %s rows: %w", entity, err), nil)
		}
		deleted = n
		return nil
	})
	return int(deleted), err
}
