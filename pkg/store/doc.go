/*
Package store is the dedup index (C2) and local job table (C7), both
backed by one BoltDB file under the configured data directory.

# Buckets

  - files: sha256 -> DedupRecord, the canonical hash-to-key mapping.
  - tg_map: transport-unique-id -> sha256, the fast-path lookup.
  - messages: "chatID:messageID" -> MessageRecord, an audit trail that
    never feeds dedup decisions.
  - jobs: job_id -> Job, the durable row the worker and the admin retry/
    cancel commands read and mutate.

# Dedup register semantics

RegisterDedup is insert-or-ignore: a brand-new hash is stored under the
caller's key; a hash that already maps to the same key is a no-op; a hash
that maps to a different key is ErrDedupConflict, and the caller must
treat the existing record as canonical rather than retry with a new key.

# Job state graph

RecordState, RetryJob, and CancelJob enforce the PENDING -> PROCESSING ->
{COMPLETED, FAILED} graph, with retry as the only path back to PENDING
from a terminal state and CANCELLATION_REQUESTED as the advisory
in-between state a cooperative worker checks for.

# Maintenance

Vacuum backs up teltubby.db, compacts into a fresh file, and swaps it in.
It is the only destructive-looking operation in this package and it never
deletes a row; it is wired to the admin db_maint command.

# Concurrency

bbolt holds one writer and many readers per process, and its file lock
keeps a second process from opening teltubby.db at the same time — the
transactional store the dedup engine's single-writer discipline requires.

# See also

  - pkg/ingest for the pipeline that calls RegisterDedup and RecordMessage
  - pkg/queue and pkg/worker for the job rows EnqueueJob/RecordState feed
*/
package store
