/*
Package worker is the queue worker (C8): a separate process from the bot
that consumes the large_files queue and resolves each job through the same
fetch/dedup/upload/commit shape as the inline ingestion pipeline, using the
user-protocol transport instead of the bot-protocol one.

# Algorithm (§4.8)

For each delivery: skip jobs no longer PENDING (already handled elsewhere);
transition to PROCESSING; ensure an authenticated user-protocol session or
hold the delivery for later redelivery; fast-path dedup by unique id;
fetch-and-hash when it misses; slow-path dedup by SHA-256; otherwise upload
and register; write message.json as the commit point; ack the broker and
transition to COMPLETED, notifying the originating chat.

Cancellation is checked at the two coarse checkpoints named in §5: before
the fetch, and again after it but before the upload/register commit. A
CANCELLATION_REQUESTED row observed at either point discards the spooled
download and the job becomes CANCELLED without ever reaching the broker's
requeue path.

# Retry policy

Transient failures (fetch, upload, dedup-register, metadata-write) requeue
the job (Nack with requeue) until job_metadata.max_retries is reached, at
which point it is marked FAILED and rejected without requeue, which
dead-letters it.
Permanent failures (malformed envelope, unsupported kind) dead-letter
immediately. Authentication holds never touch the retry count — they are
not a job failure, just a wait for the session to come back.

# Session health

A background probe (Fetcher.SessionHealthy) runs on its own interval
independent of any in-flight job; an invalidation sets a hold flag and
notifies administrators, mirroring the same hold-and-notify shape used for
a per-job authentication failure.

# Capability interfaces

Worker depends on Source (C7's Consume), Fetcher (the user-protocol
session), QuotaGate (C9), and Notifier (the bot surface) as narrow
interfaces rather than concrete pkg/queue/pkg/transport/pkg/quota/pkg/bot
types, the same pattern pkg/ingest uses for its own collaborators.
*/
package worker
