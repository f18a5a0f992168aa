package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/cptnfren/teltubby/pkg/types"
)

const schemaVersion = "1.0"

// messageDoc mirrors message.json's shape for a job-routed unit: always a
// single item, since albums are split at the size router and only the
// oversize items are queued individually (§4.8 step 9).
type messageDoc struct {
	SchemaVersion       string      `json:"schema_version"`
	ArchiveTimestampUTC time.Time   `json:"archive_timestamp_utc"`
	MessageTimestampUTC time.Time   `json:"message_timestamp_utc"`
	Bucket              string      `json:"bucket"`
	BasePath            string      `json:"base_path"`
	FilesCount          int         `json:"files_count"`
	TotalBytesUploaded  int64       `json:"total_bytes_uploaded"`
	Keys                []string    `json:"keys"`
	DuplicateOf         *string     `json:"duplicate_of"`
	DedupReason         *string     `json:"dedup_reason"`
	Telegram            telegramDoc `json:"telegram"`
}

type telegramDoc struct {
	MessageID       int64                `json:"message_id"`
	MediaGroupID    string               `json:"media_group_id,omitempty"`
	ChatID          int64                `json:"chat_id"`
	ChatTitle       string               `json:"chat_title,omitempty"`
	ChatUsername    string               `json:"chat_username,omitempty"`
	SenderID        int64                `json:"sender_id"`
	ForwardOrigin   *types.ForwardOrigin `json:"forward_origin,omitempty"`
	CaptionPlain    string               `json:"caption_plain,omitempty"`
	CaptionEntities []types.EntitySpan   `json:"caption_entities"`
	Items           []itemDoc            `json:"items"`
}

type itemDoc struct {
	Ordinal          int               `json:"ordinal"`
	Type             types.MediaKind   `json:"type"`
	MIMEType         string            `json:"mime_type,omitempty"`
	SizeBytes        int64             `json:"size_bytes,omitempty"`
	FileID           string            `json:"file_id"`
	FileUniqueID     string            `json:"file_unique_id"`
	OriginalFilename string            `json:"original_filename,omitempty"`
	SHA256           string            `json:"sha256"`
	S3Key            string            `json:"s3_key"`
	DuplicateOf      string            `json:"duplicate_of,omitempty"`
	DedupReason      types.DedupReason `json:"dedup_reason,omitempty"`
}

// writeMetadata writes message.json for a job-routed unit (§4.8 step 9):
// the commit point, using the telegram context stored in the job's
// payload rather than re-touching the originating chat.
func (w *Worker) writeMetadata(ctx context.Context, job *types.Job, prefix, s3Key, sha string, size int64, reason types.DedupReason) error {
	doc := messageDoc{
		SchemaVersion:       schemaVersion,
		ArchiveTimestampUTC: time.Now().UTC(),
		MessageTimestampUTC: job.JobMetadata.CreatedAt.UTC(),
		Bucket:              w.cfg.Bucket,
		BasePath:            prefix,
		Keys:                []string{s3Key},
		Telegram: telegramDoc{
			MessageID:       job.MessageID,
			MediaGroupID:    job.TelegramContext.MediaGroupID,
			ChatID:          job.ChatID,
			SenderID:        job.UserID,
			ForwardOrigin:   job.TelegramContext.ForwardOrigin,
			CaptionPlain:    job.TelegramContext.Caption,
			CaptionEntities: orEmpty(job.TelegramContext.Entities),
			Items: []itemDoc{{
				Ordinal:          1,
				Type:             job.FileInfo.FileType,
				MIMEType:         job.FileInfo.MIMEType,
				SizeBytes:        size,
				FileID:           job.FileInfo.FileID,
				FileUniqueID:     job.FileInfo.FileUniqueID,
				OriginalFilename: job.FileInfo.FileName,
				SHA256:           sha,
				S3Key:            s3Key,
				DedupReason:      reason,
			}},
		},
	}
	if job.TelegramContext.ForwardOrigin != nil {
		doc.Telegram.ChatTitle = job.TelegramContext.ForwardOrigin.ChatTitle
		doc.Telegram.ChatUsername = job.TelegramContext.ForwardOrigin.ChatUsername
	}

	if reason == types.DedupNone {
		doc.FilesCount = 1
		doc.TotalBytesUploaded = size
	} else {
		dup := s3Key
		doc.DuplicateOf = &dup
		r := string(reason)
		doc.DedupReason = &r
		doc.Telegram.Items[0].DuplicateOf = s3Key
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	key := path.Join(prefix, "message.json")
	return w.objects.Put(ctx, key, bytes.NewReader(buf), int64(len(buf)), "application/json")
}

func orEmpty(spans []types.EntitySpan) []types.EntitySpan {
	if spans == nil {
		return []types.EntitySpan{}
	}
	return spans
}

// mimeExtension maps a small set of MIME types Telegram commonly declares
// to a file extension, mirroring pkg/ingest's table for the inline path.
func mimeExtension(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "video/mp4":
		return "mp4"
	case "video/quicktime":
		return "mov"
	case "audio/mpeg":
		return "mp3"
	case "application/pdf":
		return "pdf"
	default:
		if idx := strings.LastIndex(mime, "/"); idx >= 0 && idx+1 < len(mime) {
			return mime[idx+1:]
		}
		return "bin"
	}
}
