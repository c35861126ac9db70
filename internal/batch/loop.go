// Package batch drives resumable, paginated, retryable jobs over large row sets.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/looplab/fsm"
	"github.com/sjperalta/fintera-ledger/internal/metrics"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// Loop states
const (
	StatePaging     = "paging"
	StateProcessing = "processing"
	StateRetryWait  = "retry_wait"
	StateDone       = "done"
)

const (
	eventFetched      = "fetched"
	eventExhausted    = "exhausted"
	eventProcessed    = "processed"
	eventFinished     = "finished"
	eventTransient    = "transient"
	eventRetryFetch   = "retry_fetch"
	eventRetryProcess = "retry_process"
)

// DefaultPageSize is used when Options.PageSize is not set
const DefaultPageSize = 50

// ErrRetriesExhausted is returned when a page keeps failing transiently past MaxRetries
var ErrRetriesExhausted = errors.New("batch retries exhausted")

// FetchFunc returns up to limit rows ordered by a stable key, strictly after
// the cursor row. A nil cursor starts from the beginning.
type FetchFunc[T any] func(ctx context.Context, after *T, limit int) ([]T, error)

// ProcessFunc handles one page as a single unit of work. With dryRun set it
// must skip every mutation while still running reads and decisions.
type ProcessFunc[T any] func(ctx context.Context, page []T, dryRun bool) error

// Options configures a Loop
type Options struct {
	Name       string
	PageSize   int
	Limit      int           // total rows to process, 0 for no limit
	Backoff    time.Duration // wait before retrying a transient failure
	MaxRetries int           // consecutive retries per page, 0 for unbounded
	DryRun     bool

	IsTransient func(error) bool
	Sleep       func(ctx context.Context, d time.Duration) error
	Logger      *slog.Logger
}

// Stats summarizes a run
type Stats struct {
	Pages   int  `json:"pages"`
	Items   int  `json:"items"`
	Retries int  `json:"retries"`
	DryRun  bool `json:"dry_run"`
}

// Loop walks a row set page by page: fetch, process in one unit of work,
// advance the cursor, and stop after the first short page. Transient
// failures wait Backoff and retry the same page; anything else halts the run.
type Loop[T any] struct {
	opts    Options
	fetch   FetchFunc[T]
	process ProcessFunc[T]
}

// New creates a batch loop
func New[T any](opts Options, fetch FetchFunc[T], process ProcessFunc[T]) *Loop[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.IsTransient == nil {
		opts.IsTransient = func(error) bool { return false }
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}
	if opts.Name == "" {
		opts.Name = "batch"
	}
	return &Loop[T]{opts: opts, fetch: fetch, process: process}
}

func newMachine(log *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StatePaging,
		fsm.Events{
			{Name: eventFetched, Src: []string{StatePaging}, Dst: StateProcessing},
			{Name: eventExhausted, Src: []string{StatePaging}, Dst: StateDone},
			{Name: eventProcessed, Src: []string{StateProcessing}, Dst: StatePaging},
			{Name: eventFinished, Src: []string{StateProcessing}, Dst: StateDone},
			{Name: eventTransient, Src: []string{StatePaging, StateProcessing}, Dst: StateRetryWait},
			{Name: eventRetryFetch, Src: []string{StateRetryWait}, Dst: StatePaging},
			{Name: eventRetryProcess, Src: []string{StateRetryWait}, Dst: StateProcessing},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("batch state", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

// Run executes the loop until the row set is exhausted, the limit is
// reached, or a non-transient error occurs
func (l *Loop[T]) Run(ctx context.Context) (Stats, error) {
	log := l.opts.Logger.With("job", l.opts.Name, "dry_run", l.opts.DryRun)
	machine := newMachine(log)

	var (
		stats     = Stats{DryRun: l.opts.DryRun}
		cursor    *T
		page      []T
		requested int
		remaining = l.opts.Limit
		attempts  int
		resume    string
		lastErr   error
	)

	fire := func(event string) error {
		if err := machine.Event(ctx, event); err != nil {
			return fmt.Errorf("%s: %s: %w", l.opts.Name, event, err)
		}
		return nil
	}

	// transient moves to retry_wait, or fails the run once retries are spent
	transient := func(err error, from string) error {
		attempts++
		lastErr = err
		if l.opts.MaxRetries > 0 && attempts > l.opts.MaxRetries {
			return fmt.Errorf("%s: page %d: %w: %w", l.opts.Name, stats.Pages+1, ErrRetriesExhausted, err)
		}
		stats.Retries++
		metrics.IncBatchRetry(l.opts.Name)
		log.Warn("transient failure, retrying page",
			"page", stats.Pages+1, "attempt", attempts, "backoff", l.opts.Backoff, "error", err)
		resume = from
		return fire(eventTransient)
	}

	for machine.Current() != StateDone {
		switch machine.Current() {
		case StatePaging:
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			requested = l.opts.PageSize
			if l.opts.Limit > 0 && remaining < requested {
				requested = remaining
			}
			if requested <= 0 {
				if err := fire(eventExhausted); err != nil {
					return stats, err
				}
				continue
			}

			rows, err := l.fetch(ctx, cursor, requested)
			if err != nil {
				if !l.opts.IsTransient(err) {
					return stats, fmt.Errorf("%s: fetch page %d: %w", l.opts.Name, stats.Pages+1, err)
				}
				if err := transient(err, eventRetryFetch); err != nil {
					return stats, err
				}
				continue
			}
			attempts = 0
			page = rows

			if len(page) == 0 {
				if err := fire(eventExhausted); err != nil {
					return stats, err
				}
				continue
			}
			if err := fire(eventFetched); err != nil {
				return stats, err
			}

		case StateProcessing:
			if err := l.process(ctx, page, l.opts.DryRun); err != nil {
				if !l.opts.IsTransient(err) {
					return stats, fmt.Errorf("%s: process page %d: %w", l.opts.Name, stats.Pages+1, err)
				}
				if err := transient(err, eventRetryProcess); err != nil {
					return stats, err
				}
				continue
			}
			attempts = 0

			stats.Pages++
			stats.Items += len(page)
			remaining -= len(page)
			cursor = &page[len(page)-1]
			metrics.IncBatchPage(l.opts.Name)
			log.Info("page processed", "page", stats.Pages, "rows", len(page), "total_rows", stats.Items)

			next := eventProcessed
			if len(page) < requested || (l.opts.Limit > 0 && remaining <= 0) {
				next = eventFinished
			}
			if err := fire(next); err != nil {
				return stats, err
			}

		case StateRetryWait:
			if err := l.opts.Sleep(ctx, l.opts.Backoff); err != nil {
				return stats, fmt.Errorf("%s: waiting to retry: %w (last error: %v)", l.opts.Name, err, lastErr)
			}
			if err := fire(resume); err != nil {
				return stats, err
			}
		}
	}

	log.Info("batch finished", "pages", stats.Pages, "rows", stats.Items, "retries", stats.Retries)
	return stats, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
