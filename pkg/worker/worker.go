package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/cptnfren/teltubby/pkg/events"
	"github.com/cptnfren/teltubby/pkg/health"
	"github.com/cptnfren/teltubby/pkg/layout"
	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/metrics"
	"github.com/cptnfren/teltubby/pkg/objectstore"
	"github.com/cptnfren/teltubby/pkg/store"
	"github.com/cptnfren/teltubby/pkg/types"
)

// sessionChecker adapts Fetcher.SessionHealthy to health.Checker so the
// worker's hold decision goes through the same hysteresis every other
// liveness probe in the process uses, rather than flipping hold on a
// single flaky probe.
type sessionChecker struct {
	fetcher Fetcher
}

func (c sessionChecker) Check(ctx context.Context) health.Result {
	start := time.Now()
	healthy, err := c.fetcher.SessionHealthy(ctx)
	msg := "user-protocol session authenticated"
	if err != nil {
		healthy = false
		msg = err.Error()
	} else if !healthy {
		msg = "user-protocol session not authenticated"
	}
	return health.Result{Healthy: healthy, Message: msg, CheckedAt: start, Duration: time.Since(start)}
}

func (c sessionChecker) Type() health.CheckType { return health.CheckTypeHTTP }

// holdRetryDelay is how long an unauthenticated-session hold waits before
// the worker checks the session again. Auth failures do not consume a
// job's retry budget (§4.8 retry policy).
var holdRetryDelay = 30 * time.Second

// Source is the broker consumption capability (C7's Consume), narrowed so
// the worker never depends on pkg/queue's reconnect/topology machinery
// directly.
type Source interface {
	Consume(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error)
}

// Fetcher is the user-protocol transport capability (§4.8 step 4/6): a
// session the worker establishes once and reuses, streaming a job's
// payload and periodically reporting its own health.
type Fetcher interface {
	// EnsureSession returns whether an authenticated user-protocol session
	// is currently available. false means the worker must hold the
	// delivery rather than proceed to fetch.
	EnsureSession(ctx context.Context) (bool, error)

	// Fetch streams a job's binary payload. The user-protocol transport
	// resolves the source document by re-looking up (chat_id, message_id)
	// rather than trusting the bot-protocol file_id, which is opaque and
	// session-scoped to the bot rather than the user-protocol client.
	Fetch(ctx context.Context, job *types.Job) (io.ReadCloser, error)

	// SessionHealthy is the periodic probe (§4.8 "session health"); a
	// detected invalidation moves the worker into the hold state.
	SessionHealthy(ctx context.Context) (bool, error)
}

// QuotaGate is C9's admission capability; while closed the worker
// processes no delivery: each one it receives is requeued after
// holdRetryDelay, and the broker consumer itself stays subscribed.
type QuotaGate interface {
	Open(ctx context.Context) (bool, error)
}

// Notifier is the bot-surface capability used to reach chats and
// administrators (§4.8 steps 4 and 10).
type Notifier interface {
	NotifyChat(ctx context.Context, chatID int64, text string) error
	NotifyAdmins(ctx context.Context, text string) error
}

// Config bounds worker behavior.
type Config struct {
	Bucket        string
	Concurrency   int // number of concurrent consumers, default 1
	ConsumerTag   string
	PollInterval  time.Duration // session-health probe cadence
}

// Worker is the queue worker (C8): it consumes jobs from the broker and
// runs each through §4.8's ten-step algorithm.
type Worker struct {
	store    store.Store
	objects  objectstore.ObjectStore
	source   Source
	fetcher  Fetcher
	gate     QuotaGate
	notifier Notifier
	cfg      Config

	holdMu        sync.RWMutex
	hold          bool
	sessionStatus *health.Status
	sessionCfg    health.Config

	broker *events.Broker
	stopCh chan struct{}
}

// SetBroker attaches the event broker job-lifecycle and session-hold events
// are published to. Safe to leave unset: a nil broker makes publish a no-op.
func (w *Worker) SetBroker(b *events.Broker) {
	w.broker = b
}

func (w *Worker) publish(evt *events.Event) {
	if w.broker != nil {
		w.broker.Publish(evt)
	}
}

// New creates a Worker. notifier may be nil in which case chat/admin
// notifications are skipped (logged instead).
func New(st store.Store, objects objectstore.ObjectStore, source Source, fetcher Fetcher, gate QuotaGate, notifier Notifier, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "teltubby-worker"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	sessionCfg := health.DefaultConfig()
	sessionCfg.Retries = 2 // two consecutive unhealthy probes before holding
	return &Worker{
		store: st, objects: objects, source: source, fetcher: fetcher,
		gate: gate, notifier: notifier, cfg: cfg, stopCh: make(chan struct{}),
		sessionStatus: health.NewStatus(), sessionCfg: sessionCfg,
	}
}

// Run starts cfg.Concurrency consumer loops and the session-health
// poller, blocking until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.source.Consume(ctx, w.cfg.ConsumerTag)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consumeLoop(ctx, deliveries)
		}()
	}

	go w.healthLoop(ctx)

	<-ctx.Done()
	close(w.stopCh)
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.handleDelivery(ctx, d)
		}
	}
}

// healthLoop is the periodic session probe (§4.8 "session health"): an
// invalidation moves the worker into the hold state until the next
// successful probe, during which no job in flight through handleDelivery
// is processed past its own cooperative checkpoint.
func (w *Worker) healthLoop(ctx context.Context) {
	checker := sessionChecker{fetcher: w.fetcher}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			wasHealthy := w.sessionStatus.Healthy
			result := checker.Check(ctx)
			w.sessionStatus.Update(result, w.sessionCfg)

			if !w.sessionStatus.Healthy {
				w.setHold(true)
				metrics.WorkerSessionHealthy.Set(0)
				if wasHealthy {
					log.Logger.Warn().Str("detail", result.Message).Msg("user-protocol session unhealthy; holding worker")
					w.publish(&events.Event{Type: events.EventWorkerSessionHold, Message: "user-protocol session invalidated, processing held"})
					w.notify(ctx, func(ctx context.Context) error {
						return w.notifier.NotifyAdmins(ctx, "teltubby worker: user-protocol session invalidated, processing held")
					})
				}
				continue
			}
			w.setHold(false)
			metrics.WorkerSessionHealthy.Set(1)
		}
	}
}

func (w *Worker) setHold(v bool) {
	w.holdMu.Lock()
	w.hold = v
	w.holdMu.Unlock()
}

func (w *Worker) isHeld() bool {
	w.holdMu.RLock()
	defer w.holdMu.RUnlock()
	return w.hold
}

// handleDelivery runs one job through §4.8's algorithm and resolves the
// delivery with exactly one of Ack/Nack.
func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PipelineDuration)

	var job types.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Logger.Error().Err(err).Msg("malformed job envelope, dead-lettering")
		metrics.JobsProcessedTotal.WithLabelValues("parse_failed").Inc()
		_ = d.Nack(false, false) // permanent failure, no requeue: routed to DLX
		return
	}
	logger := log.WithJobID(job.ID)

	if w.isHeld() {
		// The background health probe already knows the session is
		// invalidated; don't even attempt EnsureSession per delivery.
		logger.Warn().Msg("worker held: session invalidated, requeueing")
		time.Sleep(holdRetryDelay)
		_ = d.Nack(false, true)
		return
	}

	if open, err := w.gate.Open(ctx); err != nil || !open {
		// Quota closed: leave the job queued, requeue for a later worker
		// cycle rather than spinning tight on the same delivery.
		logger.Warn().Msg("quota gate closed, requeueing job")
		time.Sleep(holdRetryDelay)
		_ = d.Nack(false, true)
		return
	}

	current, err := w.store.GetJob(ctx, job.ID)
	if err != nil {
		logger.Error().Err(err).Msg("job row missing, dead-lettering")
		_ = d.Nack(false, false)
		return
	}
	if current.State != types.JobPending {
		// Already handled (retried elsewhere, cancelled, or a redelivery
		// of a completed job): ack without repeating work.
		_ = d.Ack(false)
		return
	}

	if err := w.store.RecordState(ctx, job.ID, types.JobProcessing, ""); err != nil {
		logger.Error().Err(err).Msg("transition to PROCESSING failed, requeueing")
		_ = d.Nack(false, true)
		return
	}

	outcome := w.process(ctx, logger, current)

	switch outcome.kind {
	case outcomeCompleted:
		if err := w.store.RecordState(ctx, job.ID, types.JobCompleted, ""); err != nil {
			logger.Error().Err(err).Msg("failed to record COMPLETED")
		}
		metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
		w.publish(&events.Event{Type: events.EventJobCompleted, JobID: job.ID, ChatID: current.ChatID, Message: fmt.Sprintf("archived: %s", outcome.s3Key)})
		w.notify(ctx, func(ctx context.Context) error {
			return w.notifier.NotifyChat(ctx, current.ChatID, fmt.Sprintf("archived: %s", outcome.s3Key))
		})
		_ = d.Ack(false)

	case outcomeCancelled:
		if err := w.store.RecordState(ctx, job.ID, types.JobCancelled, ""); err != nil {
			logger.Error().Err(err).Msg("failed to record CANCELLED")
		}
		metrics.JobsProcessedTotal.WithLabelValues("cancelled").Inc()
		w.publish(&events.Event{Type: events.EventJobCancelled, JobID: job.ID, ChatID: current.ChatID})
		_ = d.Ack(false)

	case outcomeHold:
		logger.Warn().Msg("session unauthenticated, holding job for redelivery")
		if err := w.store.RecordState(ctx, job.ID, types.JobPending, ""); err != nil {
			logger.Error().Err(err).Msg("failed to revert to PENDING for hold")
		}
		w.notify(ctx, func(ctx context.Context) error {
			return w.notifier.NotifyAdmins(ctx, fmt.Sprintf("teltubby worker: job %s held, no authenticated session", job.ID))
		})
		time.Sleep(holdRetryDelay)
		_ = d.Nack(false, true)

	case outcomePermanent:
		if err := w.store.RecordState(ctx, job.ID, types.JobFailed, outcome.reason); err != nil {
			logger.Error().Err(err).Msg("failed to record FAILED")
		}
		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
		w.publish(&events.Event{Type: events.EventJobFailed, JobID: job.ID, ChatID: current.ChatID, Message: outcome.reason})
		_ = d.Nack(false, false)

	case outcomeTransient:
		if current.JobMetadata.RetryCount+1 >= current.JobMetadata.MaxRetries {
			if err := w.store.RecordState(ctx, job.ID, types.JobFailed, outcome.reason); err != nil {
				logger.Error().Err(err).Msg("failed to record FAILED after exhausting retries")
			}
			metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
			w.publish(&events.Event{Type: events.EventJobFailed, JobID: job.ID, ChatID: current.ChatID, Message: outcome.reason})
			_ = d.Nack(false, false)
			return
		}
		if err := w.store.RecordState(ctx, job.ID, types.JobPending, outcome.reason); err != nil {
			logger.Error().Err(err).Msg("failed to revert to PENDING for retry")
		}
		metrics.JobsProcessedTotal.WithLabelValues("retry").Inc()
		_ = d.Nack(false, true)
	}
}

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeCancelled
	outcomeHold
	outcomePermanent
	outcomeTransient
)

type outcome struct {
	kind   outcomeKind
	reason string
	s3Key  string
}

// process runs steps 4-9 of §4.8 for one job. Cancellation is checked at
// the two coarse checkpoints the spec names: before fetching, and before
// the upload/register commit.
func (w *Worker) process(ctx context.Context, logger zerolog.Logger, job *types.Job) outcome {
	if job.FileInfo.FileType == "" || job.FileInfo.FileUniqueID == "" {
		return outcome{kind: outcomePermanent, reason: "payload_invalid"}
	}

	healthy, err := w.fetcher.EnsureSession(ctx)
	if err != nil || !healthy {
		return outcome{kind: outcomeHold}
	}

	if w.cancellationRequested(ctx, job.ID) {
		return outcome{kind: outcomeCancelled}
	}
	if w.isHeld() {
		return outcome{kind: outcomeHold}
	}

	if rec, ok, err := w.store.LookupByUniqueID(ctx, job.FileInfo.FileUniqueID); err == nil && ok {
		return w.commit(ctx, job, rec.S3Key, rec.SHA256, rec.Size, types.DedupUniqueID)
	}

	spoolPath, sha, size, err := w.fetchAndHash(ctx, job)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("fetch_failed").Inc()
		return outcome{kind: outcomeTransient, reason: "fetch_failed"}
	}
	defer os.Remove(spoolPath)

	if w.cancellationRequested(ctx, job.ID) {
		return outcome{kind: outcomeCancelled}
	}
	if w.isHeld() {
		return outcome{kind: outcomeHold}
	}

	if rec, ok, err := w.store.LookupBySHA256(ctx, sha); err == nil && ok {
		return w.commit(ctx, job, rec.S3Key, rec.SHA256, rec.Size, types.DedupSHA256)
	}

	chatSlug := layout.ChatSlug("", "", "", job.ChatID)
	if job.TelegramContext.ForwardOrigin != nil {
		chatSlug = layout.ChatSlug(job.TelegramContext.ForwardOrigin.ChatUsername, job.TelegramContext.ForwardOrigin.ChatTitle, "", job.ChatID)
	}
	prefix := layout.Prefix(job.JobMetadata.CreatedAt, chatSlug, job.MessageID)
	filename := layout.Filename(layout.NameInput{
		Timestamp: job.JobMetadata.CreatedAt,
		ChatSlug:  chatSlug,
		MessageID: job.MessageID,
		GroupID:   job.TelegramContext.MediaGroupID,
		Ordinal:   1,
		Caption:   job.TelegramContext.Caption,
		Extension: extensionFor(job.FileInfo),
	})
	key := layout.BuildKey(prefix, filename)

	f, err := os.Open(spoolPath)
	if err != nil {
		return outcome{kind: outcomeTransient, reason: "spool_reopen_failed"}
	}
	defer f.Close()

	timer := metrics.NewTimer()
	putErr := w.objects.Put(ctx, key, f, size, job.FileInfo.MIMEType)
	timer.ObserveDuration(metrics.UploadDuration)
	if putErr != nil {
		metrics.ErrorsTotal.WithLabelValues("upload_failed").Inc()
		if objectstore.IsTransient(putErr) {
			return outcome{kind: outcomeTransient, reason: "upload_failed"}
		}
		return outcome{kind: outcomePermanent, reason: "upload_failed"}
	}

	rec, err := w.store.RegisterDedup(ctx, sha, key, size, job.FileInfo.MIMEType, job.FileInfo.FileUniqueID)
	if err != nil && errors.Is(err, store.ErrDedupConflict) {
		if delErr := w.objects.Delete(ctx, key); delErr != nil {
			logger.Warn().Err(delErr).Str("key", key).Msg("cleanup of redundant upload failed")
		}
		return w.commitResolved(ctx, job, prefix, rec.S3Key, rec.SHA256, rec.Size, types.DedupSHA256)
	}
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("dedup_register_failed").Inc()
		return outcome{kind: outcomeTransient, reason: "dedup_register_failed"}
	}

	metrics.BytesUploadedTotal.Add(float64(size))
	return w.commitResolved(ctx, job, prefix, key, sha, size, types.DedupNone)
}

func (w *Worker) cancellationRequested(ctx context.Context, jobID string) bool {
	row, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return row.State == types.JobCancellationRequested
}

func (w *Worker) fetchAndHash(ctx context.Context, job *types.Job) (path, sha string, size int64, err error) {
	rc, err := w.fetcher.Fetch(ctx, job)
	if err != nil {
		return "", "", 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "teltubby-worker-spool-*")
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

// commit is the dedup-hit path: no key prefix has been computed yet since
// no download occurred, so it is derived here before writing message.json.
func (w *Worker) commit(ctx context.Context, job *types.Job, s3Key, sha string, size int64, reason types.DedupReason) outcome {
	chatSlug := layout.ChatSlug("", "", "", job.ChatID)
	if job.TelegramContext.ForwardOrigin != nil {
		chatSlug = layout.ChatSlug(job.TelegramContext.ForwardOrigin.ChatUsername, job.TelegramContext.ForwardOrigin.ChatTitle, "", job.ChatID)
	}
	prefix := layout.Prefix(job.JobMetadata.CreatedAt, chatSlug, job.MessageID)
	return w.commitResolved(ctx, job, prefix, s3Key, sha, size, reason)
}

func (w *Worker) commitResolved(ctx context.Context, job *types.Job, prefix, s3Key, sha string, size int64, reason types.DedupReason) outcome {
	if err := w.writeMetadata(ctx, job, prefix, s3Key, sha, size, reason); err != nil {
		log.WithJobID(job.ID).Error().Err(err).Msg("metadata write failed")
		return outcome{kind: outcomeTransient, reason: "metadata_write_failed"}
	}

	rec := &types.MessageRecord{ChatID: job.ChatID, MessageID: job.MessageID, MediaGroupID: job.TelegramContext.MediaGroupID, CreatedAt: time.Now().UTC()}
	if err := w.store.RecordMessage(ctx, rec); err != nil {
		log.WithJobID(job.ID).Warn().Err(err).Msg("record message audit row failed")
	}
	return outcome{kind: outcomeCompleted, s3Key: s3Key}
}

func (w *Worker) notify(ctx context.Context, fn func(ctx context.Context) error) {
	if w.notifier == nil {
		return
	}
	if err := fn(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("notification failed")
	}
}

func extensionFor(info types.FileInfo) string {
	if info.FileName != "" {
		for i := len(info.FileName) - 1; i >= 0; i-- {
			if info.FileName[i] == '.' {
				return info.FileName[i+1:]
			}
		}
	}
	return mimeExtension(info.MIMEType)
}
