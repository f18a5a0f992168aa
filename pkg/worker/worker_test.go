package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cptnfren/teltubby/pkg/objectstore"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/types"
)

type fakeAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAck) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}
func (f *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

type fakeFetcher struct {
	content   []byte
	sessionOK bool
	healthy   bool
	fetchErr  error
}

func (f *fakeFetcher) EnsureSession(ctx context.Context) (bool, error) { return f.sessionOK, nil }
func (f *fakeFetcher) Fetch(ctx context.Context, job *types.Job) (io.ReadCloser, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}
func (f *fakeFetcher) SessionHealthy(ctx context.Context) (bool, error) { return f.healthy, nil }

type fakeGate struct{ open bool }

func (g fakeGate) Open(ctx context.Context) (bool, error) { return g.open, nil }

type fakeNotifier struct {
	chatMsgs  []string
	adminMsgs []string
}

func (n *fakeNotifier) NotifyChat(ctx context.Context, chatID int64, text string) error {
	n.chatMsgs = append(n.chatMsgs, text)
	return nil
}
func (n *fakeNotifier) NotifyAdmins(ctx context.Context, text string) error {
	n.adminMsgs = append(n.adminMsgs, text)
	return nil
}

func newTestWorker(t *testing.T, fetcher Fetcher, gate QuotaGate) (*Worker, store.Store, objectstore.ObjectStore, *fakeNotifier) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	objs := objectstore.NewMemory(0)
	notifier := &fakeNotifier{}
	w := New(st, objs, nil, fetcher, gate, notifier, Config{Bucket: "test-bucket"})
	return w, st, objs, notifier
}

func pendingJob(t *testing.T, st store.Store, fileUniqueID string) *types.Job {
	t.Helper()
	job := &types.Job{
		ID:        "job-" + fileUniqueID,
		UserID:    1,
		ChatID:    100,
		MessageID: 7,
		FileInfo: types.FileInfo{
			FileID: "fid-" + fileUniqueID, FileUniqueID: fileUniqueID,
			FileType: types.MediaVideo, MIMEType: "video/mp4",
		},
		JobMetadata: types.JobMetadata{CreatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), MaxRetries: 3},
	}
	require.NoError(t, st.EnqueueJob(context.Background(), job))
	return job
}

func delivery(t *testing.T, job *types.Job) (amqp.Delivery, *fakeAck) {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	ack := &fakeAck{}
	return amqp.Delivery{Acknowledger: ack, Body: body}, ack
}

func TestHandleDeliveryFreshUploadCompletes(t *testing.T) {
	content := []byte("big file contents")
	w, st, objs, notifier := newTestWorker(t, &fakeFetcher{content: content, sessionOK: true, healthy: true}, fakeGate{open: true})

	job := pendingJob(t, st, "uid-fresh")
	d, ack := delivery(t, job)

	w.handleDelivery(context.Background(), d)

	require.True(t, ack.acked)
	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.State)
	require.Len(t, notifier.chatMsgs, 1)

	keys, err := objs.ListPrefix(context.Background(), "teltubby/")
	require.NoError(t, err)
	require.NotEmpty(t, keys)
}

func TestHandleDeliveryFastPathDedupSkipsFetch(t *testing.T) {
	w, st, _, _ := newTestWorker(t, &fakeFetcher{sessionOK: true, healthy: true}, fakeGate{open: true})

	_, err := st.RegisterDedup(context.Background(), "deadbeef", "teltubby/existing/key.mp4", 999, "video/mp4", "uid-existing")
	require.NoError(t, err)

	job := pendingJob(t, st, "uid-existing")
	d, ack := delivery(t, job)

	w.handleDelivery(context.Background(), d)

	require.True(t, ack.acked)
	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.State)
}

func TestHandleDeliveryNoSessionHoldsForRedelivery(t *testing.T) {
	old := holdRetryDelay
	holdRetryDelay = time.Millisecond
	t.Cleanup(func() { holdRetryDelay = old })

	w, st, _, notifier := newTestWorker(t, &fakeFetcher{sessionOK: false}, fakeGate{open: true})

	job := pendingJob(t, st, "uid-nosession")
	d, ack := delivery(t, job)

	done := make(chan struct{})
	go func() { w.handleDelivery(context.Background(), d); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleDelivery did not return")
	}

	require.True(t, ack.nacked)
	require.True(t, ack.requeue)
	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobPending, got.State)
	require.NotEmpty(t, notifier.adminMsgs)
}

func TestHandleDeliveryMalformedEnvelopeDeadLetters(t *testing.T) {
	w, _, _, _ := newTestWorker(t, &fakeFetcher{sessionOK: true, healthy: true}, fakeGate{open: true})
	ack := &fakeAck{}
	d := amqp.Delivery{Acknowledger: ack, Body: []byte("not json")}

	w.handleDelivery(context.Background(), d)

	require.True(t, ack.nacked)
	require.False(t, ack.requeue)
}

// TestProcessCancellationRequestedBeforeFetch exercises process()'s own
// cooperative checkpoint directly: a row already in CANCELLATION_REQUESTED
// (set, e.g., by an admin cancel while this worker holds the delivery)
// must short-circuit before any fetch is attempted.
func TestProcessCancellationRequestedBeforeFetch(t *testing.T) {
	w, st, _, _ := newTestWorker(t, &fakeFetcher{content: []byte("x"), sessionOK: true, healthy: true}, fakeGate{open: true})

	job := pendingJob(t, st, "uid-cancel")
	require.NoError(t, st.RecordState(context.Background(), job.ID, types.JobProcessing, ""))
	_, err := st.CancelJob(context.Background(), job.ID)
	require.NoError(t, err)

	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCancellationRequested, got.State)

	out := w.process(context.Background(), zerolog.Nop(), got)
	require.Equal(t, outcomeCancelled, out.kind)
}

func TestHandleDeliveryAlreadyProcessingSkipsRework(t *testing.T) {
	w, st, _, _ := newTestWorker(t, &fakeFetcher{sessionOK: true, healthy: true}, fakeGate{open: true})
	job := pendingJob(t, st, "uid-inflight")
	require.NoError(t, st.RecordState(context.Background(), job.ID, types.JobProcessing, ""))

	d, ack := delivery(t, job)
	w.handleDelivery(context.Background(), d)

	require.True(t, ack.acked)
	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobProcessing, got.State)
}

func TestHandleDeliveryQuotaClosedRequeues(t *testing.T) {
	old := holdRetryDelay
	holdRetryDelay = time.Millisecond
	t.Cleanup(func() { holdRetryDelay = old })

	w, st, _, _ := newTestWorker(t, &fakeFetcher{sessionOK: true, healthy: true}, fakeGate{open: false})

	job := pendingJob(t, st, "uid-quota")
	d, ack := delivery(t, job)

	done := make(chan struct{})
	go func() { w.handleDelivery(context.Background(), d); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handleDelivery did not return")
	}
	require.True(t, ack.nacked)
	require.True(t, ack.requeue)
}

func TestHandleDeliveryExhaustsRetriesThenFails(t *testing.T) {
	w, st, _, _ := newTestWorker(t, &fakeFetcher{sessionOK: true, healthy: true, fetchErr: errors.New("boom")}, fakeGate{open: true})

	job := pendingJob(t, st, "uid-flaky")

	var got *types.Job
	for i := 0; i < job.JobMetadata.MaxRetries; i++ {
		d, ack := delivery(t, job)
		w.handleDelivery(context.Background(), d)
		require.True(t, ack.nacked, "attempt %d", i+1)

		var err error
		got, err = st.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
	}

	require.Equal(t, types.JobFailed, got.State)
	// The Nth attempt (RetryCount == MaxRetries-1) is the one that trips the
	// MaxRetries ceiling and fails the job outright instead of requeueing,
	// so RetryCount never reaches MaxRetries itself.
	require.Equal(t, job.JobMetadata.MaxRetries-1, got.JobMetadata.RetryCount)
}
