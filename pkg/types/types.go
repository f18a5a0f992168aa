package types

import "time"

// MediaKind is the tagged variant for the kind of binary payload an Item
// carries, as declared by the chat transport.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaAnimation MediaKind = "animation"
	MediaVideoNote MediaKind = "video_note"
	MediaSticker   MediaKind = "sticker"
	MediaOther     MediaKind = "other"
)

// DedupReason names why an item was resolved as a duplicate rather than
// freshly uploaded.
type DedupReason string

const (
	DedupNone     DedupReason = ""
	DedupUniqueID DedupReason = "unique_id"
	DedupSHA256   DedupReason = "sha256"
)

// Route is the size router's (C6) verdict for one item.
type Route string

const (
	RouteInline Route = "inline"
	RouteQueue  Route = "queue"
)

// ForwardOriginKind distinguishes the shapes a Telegram forward-origin
// snapshot can take.
type ForwardOriginKind string

const (
	ForwardOriginUser       ForwardOriginKind = "user"
	ForwardOriginHiddenUser ForwardOriginKind = "hidden_user"
	ForwardOriginChat       ForwardOriginKind = "chat"
	ForwardOriginChannel    ForwardOriginKind = "channel"
)

// ForwardOrigin is the structured snapshot of a forwarded message's origin,
// as preserved in message.json's telegram.forward_origin field. It is never
// fully opaque: the layout builder (C3) reads ChatUsername/ChatTitle/
// SenderName to resolve chat_slug when the curator's own chat is hidden.
type ForwardOrigin struct {
	Kind         ForwardOriginKind `json:"kind"`
	ChatID       int64             `json:"chat_id,omitempty"`
	ChatTitle    string            `json:"chat_title,omitempty"`
	ChatUsername string            `json:"chat_username,omitempty"`
	SenderName   string            `json:"sender_name,omitempty"`
	Date         time.Time         `json:"date,omitempty"`
}

// EntitySpan is one caption formatting/entity span (bold, mention, url, ...).
type EntitySpan struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

// FileRef is the transport handle needed to fetch an item's binary payload.
// FileUniqueID is stable for identical content across messages and chats;
// FileID is transport-session-scoped and only valid for a bounded time.
type FileRef struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
}

// Item is one binary payload within a MessageUnit.
type Item struct {
	Ordinal          int       `json:"ordinal"`
	Kind             MediaKind `json:"type"`
	MIMEType         string    `json:"mime_type,omitempty"`
	SizeHint         int64     `json:"size_bytes,omitempty"`
	Width            int       `json:"width,omitempty"`
	Height           int       `json:"height,omitempty"`
	DurationSeconds  int       `json:"duration,omitempty"`
	File             FileRef   `json:"-"`
	OriginalFilename string    `json:"original_filename,omitempty"`

	// Populated once the item is resolved by the ingestion pipeline.
	SHA256        string      `json:"sha256,omitempty"`
	S3Key         string      `json:"s3_key,omitempty"`
	ActualSize    int64       `json:"-"`
	DuplicateOf   string      `json:"duplicate_of,omitempty"`
	DedupReason   DedupReason `json:"dedup_reason,omitempty"`
	Route         Route       `json:"-"`
	Skip          string      `json:"-"` // non-empty => item rejected pre-upload, reason stays here
	Failed        string      `json:"-"` // non-empty => transient retries exhausted
	Notes         []string    `json:"-"`
}

// MessageUnit is the atomic archival object assembled from one message, or
// one album, before commit.
type MessageUnit struct {
	ChatID        int64
	MessageID     int64
	MediaGroupID  string // empty if the message is not part of an album
	CuratorID     int64
	CuratorName   string
	Timestamp     time.Time
	CaptionPlain  string
	CaptionSpans  []EntitySpan
	Entities      []EntitySpan
	ForwardOrigin *ForwardOrigin
	Items         []*Item

	// Resolved once by the layout builder (C3) and reused across items.
	KeyPrefix string
}

// JobState is a node in the durable job's state graph (I6).
type JobState string

const (
	JobPending               JobState = "PENDING"
	JobProcessing            JobState = "PROCESSING"
	JobCompleted             JobState = "COMPLETED"
	JobFailed                JobState = "FAILED"
	JobCancelled             JobState = "CANCELLED"
	JobCancellationRequested JobState = "CANCELLATION_REQUESTED"
)

// TelegramContext is the snapshot of chat context carried in a Job's
// payload so a retry reconstructs identical work without re-touching the
// originating chat.
type TelegramContext struct {
	ForwardOrigin *ForwardOrigin `json:"forward_origin,omitempty"`
	Caption       string         `json:"caption,omitempty"`
	Entities      []EntitySpan   `json:"entities,omitempty"`
	MediaGroupID  string         `json:"media_group_id,omitempty"`
}

// FileInfo is the file descriptor carried in a Job's payload.
type FileInfo struct {
	FileID       string    `json:"file_id"`
	FileUniqueID string    `json:"file_unique_id"`
	FileSize     int64     `json:"file_size,omitempty"`
	FileType     MediaKind `json:"file_type"`
	FileName     string    `json:"file_name,omitempty"`
	MIMEType     string    `json:"mime_type,omitempty"`
}

// JobMetadata is the bookkeeping sub-object carried in a Job's payload.
type JobMetadata struct {
	CreatedAt  time.Time `json:"created_at"`
	Priority   int       `json:"priority"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
}

// Job is a durable work item for oversize media (C7's local row and the
// envelope published to the broker share this shape).
type Job struct {
	ID              string          `json:"job_id"`
	UserID          int64           `json:"user_id"`
	ChatID          int64           `json:"chat_id"`
	MessageID       int64           `json:"message_id"`
	FileInfo        FileInfo        `json:"file_info"`
	TelegramContext TelegramContext `json:"telegram_context"`
	JobMetadata     JobMetadata     `json:"job_metadata"`

	State     JobState  `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupRecord is C2's canonical mapping from content hash to stored key.
type DedupRecord struct {
	SHA256    string    `json:"sha256"`
	S3Key     string    `json:"s3_key"`
	Size      int64     `json:"size"`
	MIMEType  string    `json:"mime"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageRecord is the audit row C2 keeps per (chat, message) for admin
// queries; it does not participate in dedup resolution.
type MessageRecord struct {
	ChatID       int64     `json:"chat_id"`
	MessageID    int64     `json:"message_id"`
	MediaGroupID string    `json:"media_group_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AckItem is one row of the structured ack returned by the ingestion
// pipeline and rendered to chat text by pkg/bot.
type AckItem struct {
	Ordinal     int         `json:"ordinal"`
	S3Key       string      `json:"s3_key,omitempty"`
	DuplicateOf string      `json:"duplicate_of,omitempty"`
	DedupReason DedupReason `json:"dedup_reason,omitempty"`
	SkipReason  string      `json:"skip_reason,omitempty"`
	FailReason  string      `json:"fail_reason,omitempty"`
	JobID       string      `json:"job_id,omitempty"`
}

// AckSummary is C5 step 6's structured ack: what happened to a whole unit.
type AckSummary struct {
	KeyPrefix         string    `json:"key_prefix"`
	FilesCount        int       `json:"files_count"`
	TotalBytesUploaded int64    `json:"total_bytes_uploaded"`
	Items             []AckItem `json:"items"`
	Notes             string    `json:"notes,omitempty"`
	Rejected          bool      `json:"rejected"`
	RejectReason      string    `json:"reject_reason,omitempty"`
}
