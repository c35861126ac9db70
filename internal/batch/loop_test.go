package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

// rowSource serves ids 1..n through a keyset cursor
type rowSource struct {
	n          int
	fetchCalls int
}

func (s *rowSource) fetch(_ context.Context, after *int, limit int) ([]int, error) {
	s.fetchCalls++
	start := 1
	if after != nil {
		start = *after + 1
	}
	var rows []int
	for id := start; id <= s.n && len(rows) < limit; id++ {
		rows = append(rows, id)
	}
	return rows, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestLoop_TerminatesAfterCeilPages(t *testing.T) {
	tests := []struct {
		n, pageSize, wantPages int
	}{
		{0, 50, 0},
		{1, 50, 1},
		{49, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{500, 50, 10},
		{501, 50, 11},
		{7, 3, 3},
	}

	for _, tt := range tests {
		src := &rowSource{n: tt.n}
		processed := 0
		loop := New(Options{PageSize: tt.pageSize, Sleep: noSleep}, src.fetch,
			func(_ context.Context, page []int, _ bool) error {
				processed += len(page)
				return nil
			})

		stats, err := loop.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.wantPages, stats.Pages, "n=%d p=%d", tt.n, tt.pageSize)
		assert.Equal(t, tt.n, processed)
		assert.Equal(t, tt.n, stats.Items)
	}
}

func TestLoop_RespectsLimit(t *testing.T) {
	src := &rowSource{n: 500}
	var seen []int
	loop := New(Options{PageSize: 2, Limit: 5, Sleep: noSleep}, src.fetch,
		func(_ context.Context, page []int, _ bool) error {
			seen = append(seen, page...)
			return nil
		})

	stats, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 3, stats.Pages)
}

func TestLoop_RetriesTransientProcessFailureOnSamePage(t *testing.T) {
	src := &rowSource{n: 5}
	failures := 2
	var pages [][]int
	var slept []time.Duration

	loop := New(Options{
		PageSize:    2,
		Backoff:     3 * time.Second,
		IsTransient: func(err error) bool { return errors.Is(err, errFlaky) },
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}, src.fetch, func(_ context.Context, page []int, _ bool) error {
		if page[0] == 3 && failures > 0 {
			failures--
			return errFlaky
		}
		pages = append(pages, append([]int(nil), page...))
		return nil
	})

	stats, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, pages)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, slept)
	// the failing page is not re-fetched, only re-processed
	assert.Equal(t, 3, src.fetchCalls)
}

func TestLoop_RetriesTransientFetchFailure(t *testing.T) {
	src := &rowSource{n: 3}
	failures := 1
	fetch := func(ctx context.Context, after *int, limit int) ([]int, error) {
		if after == nil && failures > 0 {
			failures--
			return nil, errFlaky
		}
		return src.fetch(ctx, after, limit)
	}

	loop := New(Options{PageSize: 10, IsTransient: func(err error) bool { return errors.Is(err, errFlaky) }, Sleep: noSleep},
		fetch, func(context.Context, []int, bool) error { return nil })

	stats, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 3, stats.Items)
	assert.Equal(t, 1, stats.Retries)
}

func TestLoop_GivesUpAfterMaxRetries(t *testing.T) {
	src := &rowSource{n: 3}
	loop := New(Options{
		PageSize:    10,
		MaxRetries:  2,
		IsTransient: func(error) bool { return true },
		Sleep:       noSleep,
	}, src.fetch, func(context.Context, []int, bool) error { return errFlaky })

	stats, err := loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 0, stats.Pages)
	assert.Equal(t, 2, stats.Retries)
}

func TestLoop_FatalErrorHalts(t *testing.T) {
	src := &rowSource{n: 10}
	fatal := errors.New("no active contract")
	calls := 0
	loop := New(Options{PageSize: 2, Sleep: noSleep}, src.fetch, func(_ context.Context, page []int, _ bool) error {
		calls++
		if page[0] == 3 {
			return fatal
		}
		return nil
	})

	stats, err := loop.Run(context.Background())
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, stats.Pages)
}

func TestLoop_DryRunStillAdvances(t *testing.T) {
	src := &rowSource{n: 5}
	var flags []bool
	loop := New(Options{PageSize: 2, DryRun: true, Sleep: noSleep}, src.fetch,
		func(_ context.Context, _ []int, dryRun bool) error {
			flags = append(flags, dryRun)
			return nil
		})

	stats, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.DryRun)
	assert.Equal(t, []bool{true, true, true}, flags)
}

func TestLoop_StopsOnCancelledContext(t *testing.T) {
	src := &rowSource{n: 10}
	ctx, cancel := context.WithCancel(context.Background())
	loop := New(Options{PageSize: 2, Sleep: noSleep}, src.fetch, func(context.Context, []int, bool) error {
		cancel()
		return nil
	})

	stats, err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Pages)
}
