package services

import (
	"testing"
	"time"

	"github.com/sjperalta/fintera-ledger/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobService_EnqueueRejects(t *testing.T) {
	f := newLedgerFixture(t, day("2021-02-01"))
	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)
	svc := NewJobService(worker, f.svcs.Recompute)

	var verr *ValidationError
	_, err := svc.Enqueue("rebuild_everything", RecomputeOptions{})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Details["job"], "rebuild_everything")

	_, err = svc.Enqueue(JobRecomputeDate, RecomputeOptions{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "is required", verr.Details["target_date"])

	_, err = NewJobService(nil, f.svcs.Recompute).Enqueue(JobRecomputeDirty, RecomputeOptions{})
	assert.ErrorIs(t, err, ErrNoWorker)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestJobService_EnqueuedRunReportsItsID(t *testing.T) {
	f := newLedgerFixture(t, day("2021-02-01"))
	companyID := f.company("acme")
	f.contract(companyID, contractTerms{start: "2021-01-01", rate: "0.01"})
	f.fundedLoan(companyID, "1000", "2021-01-01")

	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)
	svc := NewJobService(worker, f.svcs.Recompute)

	runID, err := svc.Enqueue(JobRecomputeDirty, RecomputeOptions{TargetDate: day("2021-01-05")})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		last := f.svcs.Recompute.LastRun()
		return last != nil && last.RunID == runID
	}, 2*time.Second, 5*time.Millisecond)

	status := svc.GetStatus()
	last, ok := status["last_run"].(*RecomputeResult)
	require.True(t, ok)
	assert.Equal(t, JobRecomputeDirty, last.Job)
	assert.Empty(t, last.FatalError)
	assert.Len(t, last.DatesUpdated, 5)
	assert.Equal(t, 1, status["max_concurrent"])
}
