package services

import (
	"context"
	"testing"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirtyTracker_MarkDirtySpansThroughToday(t *testing.T) {
	repos, store := memory.NewRepositories()
	now := day("2021-03-10").Add(9 * time.Hour)
	store.Now = func() time.Time { return now }
	tracker := NewDirtyTracker(repos.Summary, store.Now)
	ctx := context.Background()

	require.NoError(t, tracker.MarkDirty(ctx, 1, day("2021-03-01")))

	reqs, err := tracker.ListNeedingRecompute(ctx, day("2021-03-10"), 10)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, day("2021-03-01"), reqs[0].Date)
	assert.Equal(t, 10, reqs[0].DaysToCompute)
	assert.Equal(t, day("2021-03-10"), reqs[0].LastDate())

	// a later mark on the same day keeps the earliest request and widest span
	now = now.Add(time.Hour)
	require.NoError(t, tracker.MarkDirty(ctx, 1, day("2021-03-01")))
	reqs, err = tracker.ListNeedingRecompute(ctx, day("2021-03-10"), 10)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, day("2021-03-10").Add(9*time.Hour), reqs[0].RequestedAt)
}

func TestDirtyTracker_ListNeedingRecomputeOldestFirst(t *testing.T) {
	repos, store := memory.NewRepositories()
	base := day("2021-01-01")
	clock := base
	store.Now = func() time.Time { return clock }
	tracker := NewDirtyTracker(repos.Summary, func() time.Time { return clock })
	ctx := context.Background()

	// 500 markers requested in reverse date order
	for i := 0; i < 500; i++ {
		clock = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, tracker.MarkDirty(ctx, uint(i%7)+1, base.AddDate(0, 0, 499-i)))
	}

	asOf := base.AddDate(0, 0, 600)
	reqs, err := tracker.ListNeedingRecompute(ctx, asOf, 5)
	require.NoError(t, err)
	require.Len(t, reqs, 5)
	for i, req := range reqs {
		assert.Equal(t, base.AddDate(0, 0, 499-i), req.Date)
		if i > 0 {
			assert.True(t, reqs[i-1].RequestedAt.Before(req.RequestedAt))
		}
	}

	next, err := tracker.NextPage(ctx, asOf, &reqs[4], 5)
	require.NoError(t, err)
	require.Len(t, next, 5)
	assert.Equal(t, base.AddDate(0, 0, 494), next[0].Date)

	// markers dated after asOf are not yet due
	early, err := tracker.ListNeedingRecompute(ctx, base.AddDate(0, 0, 2), 500)
	require.NoError(t, err)
	assert.Len(t, early, 3)

	_, err = tracker.ListNeedingRecompute(ctx, asOf, 0)
	assert.ErrorIs(t, err, ErrValidation)
}
