package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/models"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	d, err := models.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTransactionRollsBackOnError(t *testing.T) {
	repos, store := NewRepositories()
	ctx := context.Background()
	boom := errors.New("boom")

	err := repos.WithinTransaction(ctx, func(tx *repository.Repositories) error {
		require.NoError(t, tx.Company.Create(ctx, &models.Company{Name: "acme"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	companies, err := repos.Company.ListAfter(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, companies)
	assert.Zero(t, store.nextID)
}

func TestNestedTransactionRollsBackOwnWrites(t *testing.T) {
	repos, _ := NewRepositories()
	ctx := context.Background()

	err := repos.WithinTransaction(ctx, func(outer *repository.Repositories) error {
		require.NoError(t, outer.Company.Create(ctx, &models.Company{Name: "kept"}))
		inner := outer.WithinTransaction(ctx, func(tx *repository.Repositories) error {
			require.NoError(t, tx.Company.Create(ctx, &models.Company{Name: "dropped"}))
			return errors.New("inner failure")
		})
		require.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	companies, err := repos.Company.ListAfter(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, "kept", companies[0].Name)
}

func TestTransactionHonorsCancelledContext(t *testing.T) {
	repos, _ := NewRepositories()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := repos.WithinTransaction(ctx, func(*repository.Repositories) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMarkDirtyMergesPendingRequests(t *testing.T) {
	repos, store := NewRepositories()
	ctx := context.Background()
	early := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	require.NoError(t, repos.Summary.MarkDirty(ctx, 1, day("2021-02-10"), 5, late))
	require.NoError(t, repos.Summary.MarkDirty(ctx, 1, day("2021-02-10"), 3, early))
	require.NoError(t, repos.Summary.MarkDirty(ctx, 1, day("2021-02-10"), 9, late))

	rows := store.Summaries()
	require.Len(t, rows, 1)
	assert.True(t, rows[0].NeedsRecompute)
	assert.Equal(t, 9, rows[0].DaysToCompute)
	assert.Equal(t, early, *rows[0].RecomputeRequestedAt)
	assert.Equal(t, late, *rows[0].LastRequestedAt)
}

func TestSaveComputedLeavesMarker(t *testing.T) {
	repos, store := NewRepositories()
	ctx := context.Background()
	requested := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)
	computedAt := requested.Add(time.Hour)

	require.NoError(t, repos.Summary.MarkDirty(ctx, 1, day("2021-02-10"), 4, requested))
	d := day("2021-02-10")
	require.NoError(t, repos.Summary.SaveComputed(ctx, &models.FinancialSummary{CompanyID: 1, Date: &d, LoansCount: 3, ComputedAt: &computedAt}))

	rows := store.Summaries()
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].LoansCount)
	assert.Equal(t, computedAt, *rows[0].ComputedAt)
	assert.True(t, rows[0].NeedsRecompute)
	assert.Equal(t, 4, rows[0].DaysToCompute)
	assert.Equal(t, requested, *rows[0].RecomputeRequestedAt)
}

func TestClearMarkerKeepsRequestsNewerThanComputation(t *testing.T) {
	repos, store := NewRepositories()
	ctx := context.Background()
	t0 := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	t3 := t0.Add(3 * time.Minute)

	// the second request lands on an already dirty row while the computation runs
	require.NoError(t, repos.Summary.MarkDirty(ctx, 1, day("2021-02-10"), 2, t0))
	require.NoError(t, repos.Summary.MarkDirty(ctx, 1, day("2021-02-10"), 1, t3))
	id := store.Summaries()[0].ID

	cleared, err := repos.Summary.ClearMarker(ctx, id, t1)
	require.NoError(t, err)
	assert.False(t, cleared)
	row := store.Summaries()[0]
	assert.True(t, row.NeedsRecompute)
	assert.Equal(t, 2, row.DaysToCompute)
	assert.Equal(t, t0, *row.RecomputeRequestedAt)
	assert.Equal(t, t3, *row.LastRequestedAt)

	cleared, err = repos.Summary.ClearMarker(ctx, id, t3)
	require.NoError(t, err)
	assert.True(t, cleared)
	row = store.Summaries()[0]
	assert.False(t, row.NeedsRecompute)
	assert.Zero(t, row.DaysToCompute)
	assert.Nil(t, row.RecomputeRequestedAt)
	assert.Nil(t, row.LastRequestedAt)

	cleared, err = repos.Summary.ClearMarker(ctx, id, t3)
	require.NoError(t, err)
	assert.False(t, cleared, "a clean row has nothing to clear")
}

func TestListNeedingRecomputeOrdersByRequest(t *testing.T) {
	repos, _ := NewRepositories()
	ctx := context.Background()
	base := time.Date(2021, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, repos.Summary.MarkDirty(ctx, 1, day("2021-02-03"), 1, base.Add(2*time.Second)))
	require.NoError(t, repos.Summary.MarkDirty(ctx, 2, day("2021-02-01"), 1, base))
	require.NoError(t, repos.Summary.MarkDirty(ctx, 3, day("2021-02-20"), 1, base.Add(time.Second)))

	page, err := repos.Summary.ListNeedingRecompute(ctx, day("2021-02-10"), nil, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint(2), page[0].CompanyID)
	assert.Equal(t, uint(1), page[1].CompanyID)

	next, err := repos.Summary.ListNeedingRecompute(ctx, day("2021-02-10"), &page[0], 10)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, uint(1), next[0].CompanyID)
}
