package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cptnfren/teltubby/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketFiles    = []byte("files")    // sha256 -> DedupRecord
	bucketTgMap    = []byte("tg_map")   // unique_id -> sha256
	bucketMessages = []byte("messages") // "chatID:messageID" -> MessageRecord
	bucketJobs     = []byte("jobs")     // job_id -> Job
)

// BoltStore implements Store on a single BoltDB file shared by the dedup
// index and the local job table. bbolt's own file lock is the mechanism
// that enforces the single-writer discipline the dedup index requires.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the teltubby.db file under
// dataDir and ensures all buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "teltubby.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFiles, bucketTgMap, bucketMessages, bucketJobs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// RegisterDedup implements Store.
func (s *BoltStore) RegisterDedup(ctx context.Context, sha256, s3Key string, size int64, mime, uniqueID string) (*types.DedupRecord, error) {
	var rec *types.DedupRecord
	var conflict bool

	err := s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)

		if existing := files.Get([]byte(sha256)); existing != nil {
			var cur types.DedupRecord
			if err := json.Unmarshal(existing, &cur); err != nil {
				return fmt.Errorf("decode existing dedup record: %w", err)
			}
			if cur.S3Key != s3Key {
				rec = &cur
				conflict = true
				return nil
			}
			rec = &cur
		} else {
			cur := types.DedupRecord{
				SHA256:    sha256,
				S3Key:     s3Key,
				Size:      size,
				MIMEType:  mime,
				CreatedAt: time.Now().UTC(),
			}
			data, err := json.Marshal(&cur)
			if err != nil {
				return err
			}
			if err := files.Put([]byte(sha256), data); err != nil {
				return err
			}
			rec = &cur
		}

		if uniqueID != "" {
			tgMap := tx.Bucket(bucketTgMap)
			if tgMap.Get([]byte(uniqueID)) == nil {
				if err := tgMap.Put([]byte(uniqueID), []byte(sha256)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if conflict {
		return rec, ErrDedupConflict
	}
	return rec, nil
}

// LookupByUniqueID implements Store.
func (s *BoltStore) LookupByUniqueID(ctx context.Context, uniqueID string) (*types.DedupRecord, bool, error) {
	var rec *types.DedupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		sha := tx.Bucket(bucketTgMap).Get([]byte(uniqueID))
		if sha == nil {
			return nil
		}
		data := tx.Bucket(bucketFiles).Get(sha)
		if data == nil {
			return nil
		}
		var cur types.DedupRecord
		if err := json.Unmarshal(data, &cur); err != nil {
			return err
		}
		rec = &cur
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

// LookupBySHA256 implements Store.
func (s *BoltStore) LookupBySHA256(ctx context.Context, sha256 string) (*types.DedupRecord, bool, error) {
	var rec *types.DedupRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get([]byte(sha256))
		if data == nil {
			return nil
		}
		var cur types.DedupRecord
		if err := json.Unmarshal(data, &cur); err != nil {
			return err
		}
		rec = &cur
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

// RecordMessage implements Store.
func (s *BoltStore) RecordMessage(ctx context.Context, rec *types.MessageRecord) error {
	key := messageKey(rec.ChatID, rec.MessageID)
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessages).Put([]byte(key), data)
	})
}

func messageKey(chatID, messageID int64) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

// EnqueueJob implements Store.
func (s *BoltStore) EnqueueJob(ctx context.Context, job *types.Job) error {
	job.State = types.JobPending
	job.UpdatedAt = time.Now().UTC()
	return s.putJob(job)
}

func (s *BoltStore) putJob(job *types.Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
}

func (s *BoltStore) getJobTx(tx *bolt.Tx, jobID string) (*types.Job, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(jobID))
	if data == nil {
		return nil, ErrNotFound
	}
	var job types.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// validTransitions encodes the I6 state graph for RecordState. Retry and
// cancel are handled separately since they originate from the admin
// surface rather than the worker's processing loop.
var validTransitions = map[types.JobState]map[types.JobState]bool{
	types.JobPending:               {types.JobProcessing: true},
	types.JobProcessing:            {types.JobCompleted: true, types.JobFailed: true, types.JobCancellationRequested: true, types.JobPending: true},
	types.JobCancellationRequested: {types.JobCancelled: true, types.JobCompleted: true, types.JobFailed: true},
}

// RecordState implements Store.
func (s *BoltStore) RecordState(ctx context.Context, jobID string, newState types.JobState, lastErr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		job, err := s.getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		if !validTransitions[job.State][newState] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, newState)
		}
		if job.State == types.JobProcessing && newState == types.JobPending && lastErr != "" {
			// PROCESSING -> PENDING with a reason is a transient-failure
			// retry; the same transition with no reason is a session hold,
			// which doesn't count against MaxRetries.
			job.JobMetadata.RetryCount++
		}
		job.State = newState
		job.LastError = lastErr
		job.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketJobs).Put([]byte(jobID), data)
	})
}

// GetJob implements Store.
func (s *BoltStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		j, err := s.getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// ListRecentJobs implements Store.
func (s *BoltStore) ListRecentJobs(ctx context.Context, limit int) ([]*types.Job, error) {
	var jobs []*types.Job
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// RetryJob implements Store.
func (s *BoltStore) RetryJob(ctx context.Context, jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := s.getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		if j.State != types.JobFailed && j.State != types.JobCancelled {
			return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, j.State)
		}
		j.State = types.JobPending
		j.LastError = ""
		j.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(jobID), data); err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// CancelJob implements Store.
func (s *BoltStore) CancelJob(ctx context.Context, jobID string) (*types.Job, error) {
	var job *types.Job
	err := s.db.Update(func(tx *bolt.Tx) error {
		j, err := s.getJobTx(tx, jobID)
		if err != nil {
			return err
		}
		switch j.State {
		case types.JobPending:
			j.State = types.JobCancelled
		case types.JobProcessing:
			j.State = types.JobCancellationRequested
		default:
			return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, j.State)
		}
		j.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(j)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketJobs).Put([]byte(jobID), data); err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// CountJobsByState implements Store.
func (s *BoltStore) CountJobsByState(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{
		string(types.JobPending):               0,
		string(types.JobProcessing):            0,
		string(types.JobCompleted):              0,
		string(types.JobFailed):                 0,
		string(types.JobCancelled):              0,
		string(types.JobCancellationRequested): 0,
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job types.Job
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			counts[string(job.State)]++
			return nil
		})
	})
	return counts, err
}
