package store

import (
	"context"
	"testing"

	"github.com/cptnfren/teltubby/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterDedupNewHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.RegisterDedup(ctx, "sha-a", "key/a", 100, "image/jpeg", "unique-a")
	require.NoError(t, err)
	require.Equal(t, "key/a", rec.S3Key)

	got, ok, err := s.LookupBySHA256(ctx, "sha-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "key/a", got.S3Key)

	byUnique, ok, err := s.LookupByUniqueID(ctx, "unique-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sha-a", byUnique.SHA256)
}

func TestRegisterDedupIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterDedup(ctx, "sha-a", "key/a", 100, "image/jpeg", "")
	require.NoError(t, err)

	rec, err := s.RegisterDedup(ctx, "sha-a", "key/a", 100, "image/jpeg", "")
	require.NoError(t, err)
	require.Equal(t, "key/a", rec.S3Key)
}

func TestRegisterDedupConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterDedup(ctx, "sha-a", "key/a", 100, "image/jpeg", "")
	require.NoError(t, err)

	rec, err := s.RegisterDedup(ctx, "sha-a", "key/b", 100, "image/jpeg", "")
	require.ErrorIs(t, err, ErrDedupConflict)
	require.Equal(t, "key/a", rec.S3Key)
}

func TestLookupMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LookupBySHA256(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.LookupByUniqueID(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &types.Job{
		ID:     "job-1",
		UserID: 1,
		ChatID: 2,
	}
	require.NoError(t, s.EnqueueJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobPending, got.State)

	require.NoError(t, s.RecordState(ctx, "job-1", types.JobProcessing, ""))
	require.NoError(t, s.RecordState(ctx, "job-1", types.JobCompleted, ""))

	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.State)
}

func TestRecordStateRejectsInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &types.Job{ID: "job-2"}
	require.NoError(t, s.EnqueueJob(ctx, job))

	err := s.RecordState(ctx, "job-2", types.JobCompleted, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRetryFromFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &types.Job{ID: "job-3"}
	require.NoError(t, s.EnqueueJob(ctx, job))
	require.NoError(t, s.RecordState(ctx, "job-3", types.JobProcessing, ""))
	require.NoError(t, s.RecordState(ctx, "job-3", types.JobFailed, "boom"))

	got, err := s.RetryJob(ctx, "job-3")
	require.NoError(t, err)
	require.Equal(t, types.JobPending, got.State)
	require.Empty(t, got.LastError)
}

func TestRetryRejectsNonTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &types.Job{ID: "job-4"}
	require.NoError(t, s.EnqueueJob(ctx, job))

	_, err := s.RetryJob(ctx, "job-4")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelPendingAndProcessing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pending := &types.Job{ID: "job-5"}
	require.NoError(t, s.EnqueueJob(ctx, pending))
	got, err := s.CancelJob(ctx, "job-5")
	require.NoError(t, err)
	require.Equal(t, types.JobCancelled, got.State)

	processing := &types.Job{ID: "job-6"}
	require.NoError(t, s.EnqueueJob(ctx, processing))
	require.NoError(t, s.RecordState(ctx, "job-6", types.JobProcessing, ""))
	got, err = s.CancelJob(ctx, "job-6")
	require.NoError(t, err)
	require.Equal(t, types.JobCancellationRequested, got.State)

	err = s.RecordState(ctx, "job-6", types.JobCancelled, "")
	_ = got
	require.NoError(t, err)
}

func TestListRecentJobsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.EnqueueJob(ctx, &types.Job{ID: string(rune('a' + i))}))
	}

	jobs, err := s.ListRecentJobs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
}

func TestCountJobsByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueJob(ctx, &types.Job{ID: "job-7"}))
	require.NoError(t, s.EnqueueJob(ctx, &types.Job{ID: "job-8"}))
	require.NoError(t, s.RecordState(ctx, "job-8", types.JobProcessing, ""))

	counts, err := s.CountJobsByState(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[string(types.JobPending)])
	require.Equal(t, 1, counts[string(types.JobProcessing)])
}

func TestVacuumPreservesData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.RegisterDedup(ctx, "sha-vacuum", "key/vacuum", 10, "text/plain", "")
	require.NoError(t, err)

	require.NoError(t, s.Vacuum(ctx))

	rec, ok, err := s.LookupBySHA256(ctx, "sha-vacuum")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "key/vacuum", rec.S3Key)
}

func TestRecordMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordMessage(ctx, &types.MessageRecord{ChatID: 1, MessageID: 2})
	require.NoError(t, err)
}
