package storage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okapilabs/drainq/pkg/core"
)

func mustEnqueue(t *testing.T, store *GormStore, job *core.Job) *core.Job {
	t.Helper()
	if job.Family == "" {
		job.Family = "notifications"
	}
	require.NoError(t, store.Enqueue(context.Background(), job))
	return job
}

func getJob(t *testing.T, store *GormStore, id string) *core.Job {
	t.Helper()
	var job core.Job
	require.NoError(t, store.db.First(&job, "id = ?", id).Error)
	return &job
}

func TestEnqueue_Defaults(t *testing.T) {
	store := newTestStore(t)

	job := mustEnqueue(t, store, &core.Job{Payload: []byte(`{"to":"250788123456"}`)})

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, core.StatusQueued, job.Status)
	assert.Zero(t, job.Attempts)
}

func TestEnqueue_RejectsInvalidFamily(t *testing.T) {
	store := newTestStore(t)

	err := store.Enqueue(context.Background(), &core.Job{Family: "no spaces allowed"})
	assert.ErrorIs(t, err, core.ErrInvalidFamilyName)
}

func TestFetchDue_SelectsOnlyClaimable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	queued := mustEnqueue(t, store, &core.Job{})
	retry := mustEnqueue(t, store, &core.Job{Status: core.StatusRetry})
	mustEnqueue(t, store, &core.Job{Status: core.StatusProcessing})
	mustEnqueue(t, store, &core.Job{Status: core.StatusSucceeded})
	mustEnqueue(t, store, &core.Job{Status: core.StatusFailed})

	jobs, err := store.FetchDue(ctx, "notifications", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	ids := []string{jobs[0].ID, jobs[1].ID}
	assert.Contains(t, ids, queued.ID)
	assert.Contains(t, ids, retry.ID)
}

func TestFetchDue_HonorsNextAttemptAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)
	mustEnqueue(t, store, &core.Job{ID: "later", NextAttemptAt: &future})
	mustEnqueue(t, store, &core.Job{ID: "due", NextAttemptAt: &past})
	mustEnqueue(t, store, &core.Job{ID: "immediate"})

	jobs, err := store.FetchDue(ctx, "notifications", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, j := range jobs {
		assert.NotEqual(t, "later", j.ID)
	}
}

func TestFetchDue_OrdersByPriorityThenAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	older := time.Now().Add(-3 * time.Hour)
	mustEnqueue(t, store, &core.Job{ID: "low-old", Priority: 0, CreatedAt: older})
	mustEnqueue(t, store, &core.Job{ID: "high-new", Priority: 5})
	mustEnqueue(t, store, &core.Job{ID: "high-old", Priority: 5, CreatedAt: old})

	jobs, err := store.FetchDue(ctx, "notifications", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "high-old", jobs[0].ID)
	assert.Equal(t, "high-new", jobs[1].ID)
	assert.Equal(t, "low-old", jobs[2].ID)
}

func TestFetchDue_RespectsLimitAndFamily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mustEnqueue(t, store, &core.Job{})
	}
	mustEnqueue(t, store, &core.Job{Family: "ocr-jobs"})

	jobs, err := store.FetchDue(ctx, "notifications", 3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	jobs, err = store.FetchDue(ctx, "ocr-jobs", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestClaim_TransitionsAndIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{})

	claimed, err := store.Claim(ctx, job.ID, 0)
	require.NoError(t, err)
	assert.True(t, claimed)

	got := getJob(t, store, job.ID)
	assert.Equal(t, core.StatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.LastAttemptAt)
}

func TestClaim_SecondClaimantLoses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{})

	first, err := store.Claim(ctx, job.ID, 0)
	require.NoError(t, err)
	second, err := store.Claim(ctx, job.ID, 0)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second, "claim must fail once the row left queued/retry")
	assert.Equal(t, 1, getJob(t, store, job.ID).Attempts, "losing claim must not touch the row")
}

func TestClaim_StaleAttemptsView(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{Status: core.StatusRetry, Attempts: 2})

	claimed, err := store.Claim(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.False(t, claimed, "stale attempts view must not claim")

	claimed, err = store.Claim(ctx, job.ID, 2)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 3, getJob(t, store, job.ID).Attempts)
}

func TestClaim_ConcurrentClaimantsExactlyOneWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{})

	const claimants = 8
	results := make([]bool, claimants)
	errs := make([]error, claimants)
	var wg sync.WaitGroup
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Claim(ctx, job.ID, 0)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < claimants; i++ {
		require.NoError(t, errs[i])
		if results[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "compare-and-set must admit exactly one claimant")
}

func TestUpdateStatus_RetrySetsNextAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{})
	_, err := store.Claim(ctx, job.ID, 0)
	require.NoError(t, err)

	next := time.Now().Add(2 * time.Minute)
	require.NoError(t, store.UpdateStatus(ctx, job.ID, core.StatusUpdate{
		Status:        core.StatusRetry,
		NextAttemptAt: &next,
		LastError:     "attempt 1: gateway timeout",
	}))

	got := getJob(t, store, job.ID)
	assert.Equal(t, core.StatusRetry, got.Status)
	require.NotNil(t, got.NextAttemptAt)
	assert.WithinDuration(t, next, *got.NextAttemptAt, time.Second)
	assert.Equal(t, "attempt 1: gateway timeout", got.LastError)
	assert.Nil(t, got.ProcessedAt)
}

func TestUpdateStatus_TerminalStampsProcessedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{})
	_, err := store.Claim(ctx, job.ID, 0)
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, job.ID, core.StatusUpdate{Status: core.StatusSucceeded}))

	got := getJob(t, store, job.ID)
	assert.Equal(t, core.StatusSucceeded, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.NextAttemptAt)
}

func TestUpdateStatus_DoubleSucceedIsSafe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{})
	update := core.StatusUpdate{Status: core.StatusSucceeded}

	require.NoError(t, store.UpdateStatus(ctx, job.ID, update))
	require.NoError(t, store.UpdateStatus(ctx, job.ID, update))
	assert.Equal(t, core.StatusSucceeded, getJob(t, store, job.ID).Status)
}

func TestUpdateStatus_UnknownJob(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateStatus(context.Background(), "missing", core.StatusUpdate{Status: core.StatusFailed})
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestUpdateStatus_TruncatesTrail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := mustEnqueue(t, store, &core.Job{})
	require.NoError(t, store.UpdateStatus(ctx, job.ID, core.StatusUpdate{
		Status:    core.StatusFailed,
		LastError: strings.Repeat("e", 10000),
	}))

	assert.LessOrEqual(t, len(getJob(t, store, job.ID).LastError), 4096)
}

func TestCountDue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	mustEnqueue(t, store, &core.Job{})
	mustEnqueue(t, store, &core.Job{Status: core.StatusRetry})
	mustEnqueue(t, store, &core.Job{NextAttemptAt: &future})
	mustEnqueue(t, store, &core.Job{Status: core.StatusSucceeded})

	assert.Equal(t, 2, store.CountDue(ctx, "notifications"))
	assert.Equal(t, 0, store.CountDue(ctx, "ocr-jobs"))
}

func TestCountDue_SentinelOnQueryFailure(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.db.Migrator().DropTable(&core.Job{}))
	assert.Equal(t, -1, store.CountDue(context.Background(), "notifications"))
}

func TestRequeueStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := mustEnqueue(t, store, &core.Job{})
	_, err := store.Claim(ctx, stale.ID, 0)
	require.NoError(t, err)

	fresh := mustEnqueue(t, store, &core.Job{})
	_, err = store.Claim(ctx, fresh.ID, 0)
	require.NoError(t, err)

	// Age only the first claim.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, store.db.Model(&core.Job{}).Where("id = ?", stale.ID).
		Update("last_attempt_at", old).Error)

	n, err := store.RequeueStale(ctx, "notifications", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, core.StatusRetry, getJob(t, store, stale.ID).Status)
	assert.Equal(t, core.StatusProcessing, getJob(t, store, fresh.ID).Status)
}

func TestAcquireLease_GrantsWhenAbsent(t *testing.T) {
	store := newTestStore(t)

	res, err := store.AcquireLease(context.Background(), "notifications", "worker-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, "worker-a", res.HolderID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ExpiresAt, time.Second)
}

func TestAcquireLease_DeniesWhileHeld(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AcquireLease(ctx, "notifications", "worker-a", time.Minute)
	require.NoError(t, err)
	require.True(t, first.Granted)

	second, err := store.AcquireLease(ctx, "notifications", "worker-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, second.Granted)
	assert.Equal(t, "worker-a", second.HolderID)
	assert.Equal(t, first.ExpiresAt.Unix(), second.ExpiresAt.Unix())
}

func TestAcquireLease_ExpiredLeaseIsTakenOver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Worker A holds a 180s lease; worker B is denied 10s in and succeeds
	// once the TTL has lapsed.
	base := time.Now()
	store.now = func() time.Time { return base }
	granted, err := store.AcquireLease(ctx, "notifications", "worker-a", 180*time.Second)
	require.NoError(t, err)
	require.True(t, granted.Granted)

	store.now = func() time.Time { return base.Add(10 * time.Second) }
	denied, err := store.AcquireLease(ctx, "notifications", "worker-b", 180*time.Second)
	require.NoError(t, err)
	assert.False(t, denied.Granted)

	store.now = func() time.Time { return base.Add(190 * time.Second) }
	takeover, err := store.AcquireLease(ctx, "notifications", "worker-b", 180*time.Second)
	require.NoError(t, err)
	assert.True(t, takeover.Granted)
	assert.Equal(t, "worker-b", takeover.HolderID)
}

func TestReleaseLease(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.AcquireLease(ctx, "notifications", "worker-a", time.Hour)
	require.NoError(t, err)
	require.True(t, res.Granted)

	// A non-holder release is a no-op.
	require.NoError(t, store.ReleaseLease(ctx, "notifications", "worker-b"))
	denied, err := store.AcquireLease(ctx, "notifications", "worker-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, denied.Granted)

	// The holder's release frees the lease immediately.
	require.NoError(t, store.ReleaseLease(ctx, "notifications", "worker-a"))
	regrant, err := store.AcquireLease(ctx, "notifications", "worker-b", time.Hour)
	require.NoError(t, err)
	assert.True(t, regrant.Granted)
}

func TestLeases_IndependentPerName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.AcquireLease(ctx, "notifications", "worker-a", time.Hour)
	require.NoError(t, err)
	b, err := store.AcquireLease(ctx, "ocr-jobs", "worker-b", time.Hour)
	require.NoError(t, err)

	assert.True(t, a.Granted)
	assert.True(t, b.Granted)
}
