package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cptnfren/teltubby/pkg/events"
	"github.com/cptnfren/teltubby/pkg/layout"
	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/metrics"
	"github.com/cptnfren/teltubby/pkg/objectstore"
	"github.com/cptnfren/teltubby/pkg/router"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/types"
	"github.com/google/uuid"
)

// uploadRetryBackoff is the fixed retry schedule for a transient upload
// failure: three attempts after the first, spaced 1s/3s/9s apart.
var uploadRetryBackoff = []time.Duration{1 * time.Second, 3 * time.Second, 9 * time.Second}

// Fetcher is the transport capability the pipeline needs to resolve an
// inline item's binary payload. It doubles as a router.Prober: Probe is a
// cheap, idempotent, metadata-only call, while Fetch streams the payload.
type Fetcher interface {
	router.Prober
	Fetch(ctx context.Context, item *types.Item) (io.ReadCloser, error)
}

// QuotaGate is the admission capability (C9): Open reports whether new
// ingestion is currently permitted.
type QuotaGate interface {
	Open(ctx context.Context) (bool, error)
}

// Enqueuer is C7's enqueue operation: given a job whose id the pipeline
// has already assigned, it inserts the local PENDING row and publishes the
// persistent broker message, marking the row FAILED if publish fails after
// the insert.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *types.Job) error
}

// Config bounds the pipeline's behavior; it is a narrow read-only view of
// pkg/config.Config so pipeline tests don't need the whole process config.
type Config struct {
	MaxFileBytes     int64
	InlineLimitBytes int64
	JobMaxRetries    int
}

// Pipeline implements the ingestion pipeline (C5): admission, pre-
// validation and routing, per-item dedup/upload/register, and the
// message.json commit.
type Pipeline struct {
	store    store.Store
	objects  objectstore.ObjectStore
	fetcher  Fetcher
	gate     QuotaGate
	enqueuer Enqueuer
	bucket   string
	cfg      Config
	broker   *events.Broker
}

// New creates a Pipeline. enqueuer may be nil if the deployment has no
// queue-routed path configured; any item routed to queue then fails with
// "queue_unavailable". bucket is recorded verbatim into every message.json
// this pipeline writes.
func New(st store.Store, objects objectstore.ObjectStore, fetcher Fetcher, gate QuotaGate, enqueuer Enqueuer, bucket string, cfg Config) *Pipeline {
	return &Pipeline{store: st, objects: objects, fetcher: fetcher, gate: gate, enqueuer: enqueuer, bucket: bucket, cfg: cfg}
}

// SetBroker attaches the event broker unit-committed/rejected and
// job-enqueued events are published to. Safe to leave unset.
func (p *Pipeline) SetBroker(b *events.Broker) {
	p.broker = b
}

func (p *Pipeline) publish(evt *events.Event) {
	if p.broker != nil {
		p.broker.Publish(evt)
	}
}

// Process runs one message/album unit through the full pipeline and
// returns its structured ack. Process never returns an error for
// unit-local failures — those are reported in the ack itself — only for
// conditions that prevent any useful ack from being produced at all.
func (p *Pipeline) Process(ctx context.Context, unit *types.MessageUnit) (*types.AckSummary, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PipelineDuration)

	logger := log.WithChatID(unit.ChatID)

	open, err := p.gate.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota gate check: %w", err)
	}
	if !open {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		p.publish(&events.Event{Type: events.EventUnitRejected, ChatID: unit.ChatID, Message: "quota_full"})
		return &types.AckSummary{Rejected: true, RejectReason: "quota_full"}, nil
	}

	unit.KeyPrefix = layout.Prefix(unit.Timestamp, p.chatSlug(unit), unit.MessageID)

	for _, item := range unit.Items {
		p.preValidate(ctx, item)
	}

	// A unit is emitted whole or not at all: if any item fails
	// pre-validation, no item in the unit is uploaded or enqueued and no
	// message.json is written, so a curator never gets a manifest covering
	// only part of what they sent.
	if reason, ok := firstPreValidationFailure(unit.Items); ok {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		p.publish(&events.Event{Type: events.EventUnitRejected, ChatID: unit.ChatID, Message: reason})
		return &types.AckSummary{Rejected: true, RejectReason: reason}, nil
	}

	for _, item := range unit.Items {
		switch item.Route {
		case types.RouteQueue:
			p.enqueue(ctx, unit, item)
		case types.RouteInline:
			p.resolveInline(ctx, unit, item)
		}
	}

	ack := p.buildAck(unit)

	if err := p.commitMetadata(ctx, unit, ack); err != nil {
		logger.Error().Err(err).Msg("metadata write failed")
		ack.Notes = appendNote(ack.Notes, "metadata_write_failed")
		ack.RejectReason = "metadata_write_failed"
	}

	rec := &types.MessageRecord{ChatID: unit.ChatID, MessageID: unit.MessageID, MediaGroupID: unit.MediaGroupID, CreatedAt: time.Now().UTC()}
	if err := p.store.RecordMessage(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("record message audit row failed")
	}

	result := "committed"
	if ack.RejectReason != "" {
		result = "partial"
	} else {
		for _, it := range unit.Items {
			if it.Skip != "" || it.Failed != "" {
				result = "partial"
				break
			}
		}
	}
	metrics.MessagesTotal.WithLabelValues(result).Inc()

	if result == "committed" {
		p.publish(&events.Event{Type: events.EventUnitCommitted, ChatID: unit.ChatID, Message: fmt.Sprintf("archived %d file(s)", ack.FilesCount)})
	}

	return ack, nil
}

func (p *Pipeline) chatSlug(unit *types.MessageUnit) string {
	var fwdUsername, fwdTitle string
	if unit.ForwardOrigin != nil {
		fwdUsername = unit.ForwardOrigin.ChatUsername
		fwdTitle = unit.ForwardOrigin.ChatTitle
	}
	return layout.ChatSlug(fwdUsername, fwdTitle, unit.CuratorName, unit.CuratorID)
}

// preValidate applies the declared-size ceiling and the size router (C6)
// to one item. It never touches the network beyond the router's probe.
func (p *Pipeline) preValidate(ctx context.Context, item *types.Item) {
	if p.cfg.MaxFileBytes > 0 && item.SizeHint > p.cfg.MaxFileBytes {
		item.Skip = "oversize_configured"
		metrics.ItemsSkippedTotal.WithLabelValues("oversize_configured").Inc()
		return
	}

	route, err := router.Route(ctx, item, p.cfg.InlineLimitBytes, p.fetcher)
	if err != nil {
		item.Failed = "route_probe_failed"
		item.Notes = append(item.Notes, err.Error())
		metrics.ErrorsTotal.WithLabelValues("route_probe_failed").Inc()
		return
	}
	item.Route = route
}

// firstPreValidationFailure reports the first item that preValidate marked
// Skip or Failed, identified by its 1-based ordinal. A unit is emitted whole
// or not at all, so one bad item is enough to reject everything else in it.
func firstPreValidationFailure(items []*types.Item) (string, bool) {
	for _, item := range items {
		reason := item.Skip
		if reason == "" {
			reason = item.Failed
		}
		if reason != "" {
			return fmt.Sprintf("%d: %s", item.Ordinal, reason), true
		}
	}
	return "", false
}

// resolveInline runs the fast-path/slow-path dedup and upload for one
// inline item.
func (p *Pipeline) resolveInline(ctx context.Context, unit *types.MessageUnit, item *types.Item) {
	metrics.ItemsTotal.WithLabelValues(string(item.Kind), string(types.RouteInline)).Inc()

	if rec, ok, err := p.store.LookupByUniqueID(ctx, item.File.FileUniqueID); err == nil && ok {
		applyDedup(item, rec, types.DedupUniqueID)
		metrics.DedupHitsTotal.WithLabelValues(string(types.DedupUniqueID)).Inc()
		return
	}

	spoolPath, sha, size, err := p.fetchAndHash(ctx, item)
	if err != nil {
		item.Failed = "fetch_failed"
		item.Notes = append(item.Notes, err.Error())
		metrics.ErrorsTotal.WithLabelValues("fetch_failed").Inc()
		return
	}
	defer os.Remove(spoolPath)

	if rec, ok, err := p.store.LookupBySHA256(ctx, sha); err == nil && ok {
		applyDedup(item, rec, types.DedupSHA256)
		metrics.DedupHitsTotal.WithLabelValues(string(types.DedupSHA256)).Inc()
		return
	}

	filename := layout.Filename(layout.NameInput{
		Timestamp: unit.Timestamp,
		ChatSlug:  p.chatSlug(unit),
		Sender:    unit.CuratorName,
		MessageID: unit.MessageID,
		GroupID:   unit.MediaGroupID,
		Ordinal:   item.Ordinal,
		Caption:   unit.CaptionPlain,
		Extension: extensionFor(item),
	})
	key := layout.BuildKey(unit.KeyPrefix, filename)

	if err := p.uploadWithRetry(ctx, key, spoolPath, item.MIMEType, size); err != nil {
		item.Failed = "upload_failed"
		item.Notes = append(item.Notes, err.Error())
		metrics.ErrorsTotal.WithLabelValues("upload_failed").Inc()
		return
	}

	rec, err := p.store.RegisterDedup(ctx, sha, key, size, item.MIMEType, item.File.FileUniqueID)
	if err != nil && errors.Is(err, store.ErrDedupConflict) {
		// Another unit registered this content first; the just-uploaded
		// blob is redundant. Best-effort cleanup, canonical record wins.
		if delErr := p.objects.Delete(ctx, key); delErr != nil {
			log.Logger.Warn().Err(delErr).Str("key", key).Msg("cleanup of redundant upload failed")
		}
		applyDedup(item, rec, types.DedupSHA256)
		return
	}
	if err != nil {
		item.Failed = "dedup_register_failed"
		item.Notes = append(item.Notes, err.Error())
		metrics.ErrorsTotal.WithLabelValues("dedup_register_failed").Inc()
		return
	}

	item.SHA256 = sha
	item.S3Key = key
	item.ActualSize = size
	metrics.BytesUploadedTotal.Add(float64(size))
}

// applyDedup marks an item as resolved against an existing dedup record
// rather than a fresh upload.
func applyDedup(item *types.Item, rec *types.DedupRecord, reason types.DedupReason) {
	item.SHA256 = rec.SHA256
	item.S3Key = rec.S3Key
	item.ActualSize = rec.Size
	item.DuplicateOf = rec.S3Key
	item.DedupReason = reason
}

func extensionFor(item *types.Item) string {
	if item.OriginalFilename != "" {
		for i := len(item.OriginalFilename) - 1; i >= 0; i-- {
			if item.OriginalFilename[i] == '.' {
				return item.OriginalFilename[i+1:]
			}
		}
	}
	return mimeExtension(item.MIMEType)
}

// fetchAndHash streams the item's payload to a spooled temp file while
// computing its SHA-256, so the pipeline never holds a whole payload in
// memory and never re-fetches to hash and upload separately.
func (p *Pipeline) fetchAndHash(ctx context.Context, item *types.Item) (path string, sha string, size int64, err error) {
	rc, err := p.fetcher.Fetch(ctx, item)
	if err != nil {
		return "", "", 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "teltubby-spool-*")
	if err != nil {
		return "", "", 0, err
	}
	defer tmp.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), rc)
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", 0, err
	}
	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), n, nil
}

func (p *Pipeline) uploadWithRetry(ctx context.Context, key, spoolPath, mime string, size int64) error {
	attempt := func() error {
		f, err := os.Open(spoolPath)
		if err != nil {
			return err
		}
		defer f.Close()
		timer := metrics.NewTimer()
		defer timer.ObserveDuration(metrics.UploadDuration)
		return p.objects.Put(ctx, key, f, size, mime)
	}

	var lastErr error
	for i := 0; i <= len(uploadRetryBackoff); i++ {
		lastErr = attempt()
		if lastErr == nil {
			return nil
		}
		if !objectstore.IsTransient(lastErr) {
			return lastErr
		}
		if i == len(uploadRetryBackoff) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(uploadRetryBackoff[i]):
		}
	}
	return lastErr
}

func (p *Pipeline) enqueue(ctx context.Context, unit *types.MessageUnit, item *types.Item) {
	metrics.ItemsTotal.WithLabelValues(string(item.Kind), string(types.RouteQueue)).Inc()

	if p.enqueuer == nil {
		item.Failed = "queue_unavailable"
		return
	}

	job := &types.Job{
		ID:        uuid.NewString(),
		UserID:    unit.CuratorID,
		ChatID:    unit.ChatID,
		MessageID: unit.MessageID,
		FileInfo: types.FileInfo{
			FileID:       item.File.FileID,
			FileUniqueID: item.File.FileUniqueID,
			FileSize:     item.SizeHint,
			FileType:     item.Kind,
			FileName:     item.OriginalFilename,
			MIMEType:     item.MIMEType,
		},
		TelegramContext: types.TelegramContext{
			ForwardOrigin: unit.ForwardOrigin,
			Caption:       unit.CaptionPlain,
			Entities:      unit.Entities,
			MediaGroupID:  unit.MediaGroupID,
		},
		JobMetadata: types.JobMetadata{
			CreatedAt:  time.Now().UTC(),
			MaxRetries: p.cfg.JobMaxRetries,
		},
	}

	if err := p.enqueuer.Enqueue(ctx, job); err != nil {
		item.Failed = "enqueue_failed"
		item.Notes = append(item.Notes, err.Error())
		return
	}
	item.S3Key = "" // resolved later by the worker
	item.Notes = append(item.Notes, "queued: job "+job.ID)
	p.publish(&events.Event{Type: events.EventJobEnqueued, JobID: job.ID, ChatID: unit.ChatID})
}

func (p *Pipeline) buildAck(unit *types.MessageUnit) *types.AckSummary {
	ack := &types.AckSummary{KeyPrefix: unit.KeyPrefix}
	for _, item := range unit.Items {
		ai := types.AckItem{Ordinal: item.Ordinal, S3Key: item.S3Key, DuplicateOf: item.DuplicateOf, DedupReason: item.DedupReason, SkipReason: item.Skip, FailReason: item.Failed}
		if item.S3Key != "" && item.DuplicateOf == "" {
			ack.FilesCount++
			ack.TotalBytesUploaded += item.ActualSize
		}
		ack.Items = append(ack.Items, ai)
	}
	return ack
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "; " + note
}
