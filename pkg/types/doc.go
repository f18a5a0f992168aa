/*
Package types defines the data model shared across every teltubby component.

It holds three families of shapes:

  - The ingestion shapes a chat update is assembled into: MessageUnit and its
    Items, ForwardOrigin, EntitySpan, FileRef. These carry both the
    declared, transport-supplied hints (size, width, MIME) and the fields the
    ingestion pipeline fills in once an item is resolved (SHA256, S3Key,
    DuplicateOf).

  - The durable job shape C7/C8 pass back and forth: Job, FileInfo,
    TelegramContext, JobMetadata, and the JobState graph. A Job's payload is
    a complete snapshot of everything a retry needs to redo the work without
    touching the originating chat again.

  - The index records C2 persists: DedupRecord (hash to stored key) and
    MessageRecord (per-message audit row), plus AckItem/AckSummary, the
    structured result the ingestion pipeline hands to pkg/bot for rendering.

Nothing in this package performs I/O. It is pure data plus the tagged
variants (MediaKind, DedupReason, Route, JobState, ForwardOriginKind) the
rest of the tree switches on instead of reaching for interfaces and dynamic
dispatch.

# Enumeration pattern

Enumerations are typed string constants, not ints, so they serialize
legibly into message.json and job rows:

	type JobState string
	const (
		JobPending    JobState = "PENDING"
		JobProcessing JobState = "PROCESSING"
	)

# Optional fields

Optional structure uses pointers: ForwardOrigin is nil when a message was
not forwarded; MessageUnit.Items entries are always non-nil.

# Integration points

  - pkg/store persists DedupRecord, MessageRecord and Job to BoltDB.
  - pkg/ingest builds and resolves MessageUnit and Item.
  - pkg/queue and pkg/worker exchange Job across the broker.
  - pkg/bot renders AckSummary to chat text.
*/
package types
