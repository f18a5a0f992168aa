package ingest

// Kind names one of §7's error-taxonomy labels so callers (metrics, the
// ack formatter, admin notifications) have a single stable vocabulary
// instead of matching on ad-hoc strings.
type Kind string

const (
	KindUnauthorizedCurator Kind = "unauthorized_curator"
	KindGroupChatIgnored    Kind = "group_chat_ignored"
	KindQuotaFull           Kind = "quota_full"

	KindOversizeConfigured Kind = "oversize_configured"
	KindUnsupportedKind    Kind = "unsupported_kind"
	KindMissingMedia       Kind = "missing_media"

	KindFetchTransient Kind = "fetch_transient"
	KindFetchPermanent Kind = "fetch_permanent"
	KindFetchTooBig    Kind = "fetch_too_big"

	KindUploadTransient   Kind = "upload_transient"
	KindUploadPermanent   Kind = "upload_permanent"
	KindQuotaExceededAtPut Kind = "quota_exceeded_at_put"

	KindDedupConflict    Kind = "dedup_conflict"
	KindDedupUnavailable Kind = "dedup_unavailable"

	KindMetadataWriteFailed Kind = "metadata_write_failed"

	KindEnqueueFailed  Kind = "enqueue_failed"
	KindPayloadInvalid Kind = "payload_invalid"
	KindUnknownJob     Kind = "unknown_job"
)

// Error wraps a pipeline failure with its taxonomy Kind, so the ack
// formatter and metrics can label on Kind without re-deriving it from a
// message string.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an Error with the given Kind, message, and optional cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
