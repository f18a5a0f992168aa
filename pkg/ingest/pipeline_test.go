package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cptnfren/teltubby/pkg/objectstore"
	"github.com/cptnfren/teltubby/pkg/router"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	content  []byte
	probeErr error
	fetchErr error
}

func (f *fakeFetcher) Probe(ctx context.Context, item *types.Item) error {
	return f.probeErr
}

func (f *fakeFetcher) Fetch(ctx context.Context, item *types.Item) (io.ReadCloser, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

type fakeGate struct{ open bool }

func (g fakeGate) Open(ctx context.Context) (bool, error) { return g.open, nil }

// fakeEnqueuer mimics pkg/queue.Client's Enqueue: insert the local row,
// then "publish" (just record it here).
type fakeEnqueuer struct {
	store       store.Store
	published   []*types.Job
	failPublish bool
}

func (p *fakeEnqueuer) Enqueue(ctx context.Context, job *types.Job) error {
	if err := p.store.EnqueueJob(ctx, job); err != nil {
		return err
	}
	if p.failPublish {
		p.store.RecordState(ctx, job.ID, types.JobFailed, "enqueue_failed")
		return errors.New("publish failed")
	}
	p.published = append(p.published, job)
	return nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestPipelineWithStore(st store.Store, fetcher Fetcher, gate QuotaGate, enqueuer Enqueuer) (*Pipeline, objectstore.ObjectStore) {
	objs := objectstore.NewMemory(0)
	p := New(st, objs, fetcher, gate, enqueuer, "test-bucket", Config{
		MaxFileBytes:     4 << 30,
		InlineLimitBytes: 50 << 20,
		JobMaxRetries:    5,
	})
	return p, objs
}

func newTestPipeline(t *testing.T, fetcher Fetcher, gate QuotaGate, enqueuer Enqueuer) (*Pipeline, store.Store, objectstore.ObjectStore) {
	t.Helper()
	st := newTestStore(t)
	p, objs := newTestPipelineWithStore(st, fetcher, gate, enqueuer)
	return p, st, objs
}

func unitWithItem(item *types.Item) *types.MessageUnit {
	return &types.MessageUnit{
		ChatID:      100,
		MessageID:   1,
		CuratorID:   7,
		CuratorName: "curator",
		Timestamp:   time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		Items:       []*types.Item{item},
	}
}

func TestProcessInlineFreshUpload(t *testing.T) {
	content := []byte("hello world")
	p, _, objs := newTestPipeline(t, &fakeFetcher{content: content}, fakeGate{open: true}, nil)

	unit := unitWithItem(&types.Item{
		Ordinal: 1, Kind: types.MediaPhoto, MIMEType: "image/jpeg",
		File: types.FileRef{FileID: "fid1", FileUniqueID: "uid1"},
	})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.False(t, ack.Rejected)
	require.Equal(t, 1, ack.FilesCount)
	require.Equal(t, int64(len(content)), ack.TotalBytesUploaded)
	require.Len(t, ack.Items, 1)
	require.NotEmpty(t, ack.Items[0].S3Key)

	data, err := objs.GetStream(context.Background(), ack.Items[0].S3Key)
	require.NoError(t, err)
	got, _ := io.ReadAll(data)
	require.Equal(t, content, got)

	msgData, err := objs.GetStream(context.Background(), unit.KeyPrefix+"message.json")
	require.NoError(t, err)
	raw, _ := io.ReadAll(msgData)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, "1.0", doc["schema_version"])
}

func TestProcessFastPathDedupByUniqueID(t *testing.T) {
	content := []byte("duplicate me")
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])

	p, st, _ := newTestPipeline(t, &fakeFetcher{fetchErr: errors.New("fetch must not be called")}, fakeGate{open: true}, nil)
	_, err := st.RegisterDedup(context.Background(), sha, "teltubby/existing/key.jpg", int64(len(content)), "image/jpeg", "uid-existing")
	require.NoError(t, err)

	unit := unitWithItem(&types.Item{
		Ordinal: 1, Kind: types.MediaPhoto,
		File: types.FileRef{FileID: "fid2", FileUniqueID: "uid-existing"},
	})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, 0, ack.FilesCount)
	require.Equal(t, "teltubby/existing/key.jpg", ack.Items[0].DuplicateOf)
	require.Equal(t, types.DedupUniqueID, ack.Items[0].DedupReason)
}

func TestProcessSlowPathDedupBySHA256(t *testing.T) {
	content := []byte("same bytes, different message")
	sum := sha256.Sum256(content)
	sha := hex.EncodeToString(sum[:])

	p, st, _ := newTestPipeline(t, &fakeFetcher{content: content}, fakeGate{open: true}, nil)
	_, err := st.RegisterDedup(context.Background(), sha, "teltubby/existing/other.jpg", int64(len(content)), "image/jpeg", "uid-other")
	require.NoError(t, err)

	unit := unitWithItem(&types.Item{
		Ordinal: 1, Kind: types.MediaPhoto,
		File: types.FileRef{FileID: "fid3", FileUniqueID: "uid-fresh"},
	})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, 0, ack.FilesCount)
	require.Equal(t, "teltubby/existing/other.jpg", ack.Items[0].DuplicateOf)
	require.Equal(t, types.DedupSHA256, ack.Items[0].DedupReason)
}

func TestProcessQuotaFullRejectsUnit(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeFetcher{}, fakeGate{open: false}, nil)
	unit := unitWithItem(&types.Item{Ordinal: 1, Kind: types.MediaPhoto, File: types.FileRef{FileUniqueID: "u"}})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.True(t, ack.Rejected)
	require.Equal(t, "quota_full", ack.RejectReason)
}

func TestProcessOversizeItemSkipped(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeFetcher{content: []byte("x")}, fakeGate{open: true}, nil)
	p.cfg.MaxFileBytes = 10

	unit := unitWithItem(&types.Item{
		Ordinal: 1, Kind: types.MediaVideo, SizeHint: 1000,
		File: types.FileRef{FileUniqueID: "big"},
	})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.True(t, ack.Rejected)
	require.Contains(t, ack.RejectReason, "oversize_configured")
	require.Equal(t, 0, ack.FilesCount)
}

func TestProcessAlbumRejectedWholeOnPreValidationFailure(t *testing.T) {
	p, _, objStore := newTestPipeline(t, &fakeFetcher{content: []byte("ok")}, fakeGate{open: true}, nil)
	p.cfg.MaxFileBytes = 10

	unit := &types.MessageUnit{
		ChatID: 1, MessageID: 1, Timestamp: time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		CuratorID: 1, CuratorName: "curator",
		Items: []*types.Item{
			{Ordinal: 1, Kind: types.MediaPhoto, SizeHint: 1, File: types.FileRef{FileUniqueID: "a"}},
			{Ordinal: 2, Kind: types.MediaVideo, SizeHint: 1000, File: types.FileRef{FileUniqueID: "b"}},
			{Ordinal: 3, Kind: types.MediaPhoto, SizeHint: 1, File: types.FileRef{FileUniqueID: "c"}},
		},
	}

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.True(t, ack.Rejected)
	require.Contains(t, ack.RejectReason, "2:")
	require.Contains(t, ack.RejectReason, "oversize_configured")

	// Zero uploads: the other two items, which would have passed
	// pre-validation on their own, must never reach the object store once
	// any sibling in the unit fails.
	keys, err := objStore.ListPrefix(context.Background(), unit.KeyPrefix)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestProcessQueueRoutedEnqueuesJob(t *testing.T) {
	st := newTestStore(t)
	enq := &fakeEnqueuer{store: st}
	p, _ := newTestPipelineWithStore(st, &fakeFetcher{}, fakeGate{open: true}, enq)

	unit := unitWithItem(&types.Item{
		Ordinal: 1, Kind: types.MediaVideo, SizeHint: 100 << 20,
		File: types.FileRef{FileID: "big-fid", FileUniqueID: "big-uid"},
	})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.Len(t, enq.published, 1)
	require.Equal(t, "big-fid", enq.published[0].FileInfo.FileID)

	job, err := st.GetJob(context.Background(), enq.published[0].ID)
	require.NoError(t, err)
	require.Equal(t, types.JobPending, job.State)
	require.Empty(t, ack.Items[0].FailReason)
}

func TestProcessQueueRoutedPublishFailureMarksJobFailed(t *testing.T) {
	st := newTestStore(t)
	enq := &fakeEnqueuer{store: st, failPublish: true}
	p, _ := newTestPipelineWithStore(st, &fakeFetcher{}, fakeGate{open: true}, enq)

	unit := unitWithItem(&types.Item{
		Ordinal: 1, Kind: types.MediaVideo, SizeHint: 100 << 20,
		File: types.FileRef{FileID: "big-fid3", FileUniqueID: "big-uid3"},
	})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, "enqueue_failed", ack.Items[0].FailReason)
}

func TestProcessQueueRoutedWithoutPublisherFails(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeFetcher{}, fakeGate{open: true}, nil)

	unit := unitWithItem(&types.Item{
		Ordinal: 1, Kind: types.MediaVideo, SizeHint: 100 << 20,
		File: types.FileRef{FileID: "big-fid2", FileUniqueID: "big-uid2"},
	})

	ack, err := p.Process(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, "queue_unavailable", ack.Items[0].FailReason)
}

var _ router.Prober = (*fakeFetcher)(nil)
