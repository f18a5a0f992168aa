package store

import (
	"context"
	"errors"

	"github.com/cptnfren/teltubby/pkg/types"
)

// ErrDedupConflict is returned by RegisterDedup when sha256 already maps to
// a different key than the one the caller is trying to register. The
// caller treats the existing record as canonical (spec's dedup_conflict).
var ErrDedupConflict = errors.New("dedup conflict")

// ErrNotFound is returned by single-row reads that find nothing.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned by RecordState, RetryJob, and CancelJob
// when the requested change violates the job state graph (I6).
var ErrInvalidTransition = errors.New("invalid job state transition")

// Store is the persistence contract behind the dedup index (C2) and the
// local job table (C7). Both share one BoltDB file, guarded by bbolt's
// single-writer file lock, so only one process holds it open at a time;
// the bot, the worker and the offline admin subcommands each open it
// through NewBoltStore.
type Store interface {
	// RegisterDedup performs the insert-or-ignore register() described by
	// the dedup index: if sha256 is new, it is inserted under the given
	// key and (when uniqueID is non-empty) tg_map is updated too, and the
	// new record is returned. If sha256 already maps to the same key, the
	// existing record is returned with no error. If it maps to a
	// different key, ErrDedupConflict is returned alongside the existing
	// canonical record.
	RegisterDedup(ctx context.Context, sha256, s3Key string, size int64, mime, uniqueID string) (rec *types.DedupRecord, err error)

	// LookupByUniqueID is the fast-path dedup check by transport-unique-id.
	LookupByUniqueID(ctx context.Context, uniqueID string) (*types.DedupRecord, bool, error)

	// LookupBySHA256 is the slow-path dedup check by content hash.
	LookupBySHA256(ctx context.Context, sha256 string) (*types.DedupRecord, bool, error)

	// RecordMessage appends the per-(chat,message) audit row. It does not
	// participate in dedup resolution.
	RecordMessage(ctx context.Context, rec *types.MessageRecord) error

	// Vacuum compacts the database file; admin-triggered via db_maint.
	Vacuum(ctx context.Context) error

	// EnqueueJob inserts a new job row in state PENDING. The caller has
	// already assigned job.ID (a UUID) and populated the payload; this
	// call only persists it.
	EnqueueJob(ctx context.Context, job *types.Job) error

	// RecordState applies a state transition, enforcing I6. lastErr is
	// stored on the row when non-empty.
	RecordState(ctx context.Context, jobID string, newState types.JobState, lastErr string) error

	// GetJob returns one job row.
	GetJob(ctx context.Context, jobID string) (*types.Job, error)

	// ListRecentJobs returns up to limit jobs, most recently updated first.
	ListRecentJobs(ctx context.Context, limit int) ([]*types.Job, error)

	// RetryJob transitions a FAILED or CANCELLED job back to PENDING and
	// returns the row so the caller can re-publish its stored payload.
	RetryJob(ctx context.Context, jobID string) (*types.Job, error)

	// CancelJob marks a PENDING job CANCELLED outright, or a PROCESSING
	// job CANCELLATION_REQUESTED (advisory; the worker checks
	// cooperatively). Any other current state is a no-op error.
	CancelJob(ctx context.Context, jobID string) (*types.Job, error)

	// CountJobsByState returns the number of job rows per JobState, used
	// to keep the jobs-by-state gauge current.
	CountJobsByState(ctx context.Context) (map[string]int, error)

	// Close releases the underlying database file.
	Close() error
}
