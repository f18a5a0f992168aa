package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/cptnfren/teltubby/pkg/types"
)

// schemaVersion is message.json's schema_version; bump only on a
// breaking change to the shape below.
const schemaVersion = "1.0"

// messageDoc mirrors message.json's top-level shape.
type messageDoc struct {
	SchemaVersion       string        `json:"schema_version"`
	ArchiveTimestampUTC time.Time     `json:"archive_timestamp_utc"`
	MessageTimestampUTC time.Time     `json:"message_timestamp_utc"`
	Bucket              string        `json:"bucket"`
	BasePath            string        `json:"base_path"`
	FilesCount          int           `json:"files_count"`
	TotalBytesUploaded  int64         `json:"total_bytes_uploaded"`
	Keys                []string      `json:"keys"`
	DuplicateOf         *string       `json:"duplicate_of"`
	DedupReason         *string       `json:"dedup_reason"`
	Notes               *string       `json:"notes"`
	Telegram            telegramDoc   `json:"telegram"`
}

type telegramDoc struct {
	MessageID       int64              `json:"message_id"`
	MediaGroupID    string             `json:"media_group_id,omitempty"`
	ChatID          int64              `json:"chat_id"`
	ChatTitle       string             `json:"chat_title,omitempty"`
	ChatUsername    string             `json:"chat_username,omitempty"`
	SenderID        int64              `json:"sender_id"`
	SenderUsername  string             `json:"sender_username,omitempty"`
	ForwardOrigin   *types.ForwardOrigin `json:"forward_origin,omitempty"`
	CaptionPlain    string             `json:"caption_plain,omitempty"`
	CaptionEntities []types.EntitySpan `json:"caption_entities"`
	Entities        []types.EntitySpan `json:"entities"`
	Items           []itemDoc          `json:"items"`
}

type itemDoc struct {
	Ordinal          int               `json:"ordinal"`
	Type             types.MediaKind   `json:"type"`
	MIMEType         string            `json:"mime_type,omitempty"`
	SizeBytes        int64             `json:"size_bytes,omitempty"`
	Width            int               `json:"width,omitempty"`
	Height           int               `json:"height,omitempty"`
	Duration         int               `json:"duration,omitempty"`
	FileID           string            `json:"file_id"`
	FileUniqueID     string            `json:"file_unique_id"`
	OriginalFilename string            `json:"original_filename,omitempty"`
	SHA256           string            `json:"sha256"`
	S3Key            string            `json:"s3_key"`
	DuplicateOf      string            `json:"duplicate_of,omitempty"`
	DedupReason      types.DedupReason `json:"dedup_reason,omitempty"`
}

// commitMetadata writes message.json — the commit point for the whole
// unit (§4.5 step 5). A failure here is fatal for the unit but never
// rolls back items already uploaded or dedup-registered.
func (p *Pipeline) commitMetadata(ctx context.Context, unit *types.MessageUnit, ack *types.AckSummary) error {
	doc := messageDoc{
		SchemaVersion:       schemaVersion,
		ArchiveTimestampUTC: time.Now().UTC(),
		MessageTimestampUTC: unit.Timestamp.UTC(),
		Bucket:              p.bucket,
		BasePath:            unit.KeyPrefix,
		FilesCount:          ack.FilesCount,
		TotalBytesUploaded:  ack.TotalBytesUploaded,
		Telegram: telegramDoc{
			MessageID:       unit.MessageID,
			MediaGroupID:    unit.MediaGroupID,
			ChatID:          unit.ChatID,
			SenderID:        unit.CuratorID,
			SenderUsername:  unit.CuratorName,
			ForwardOrigin:   unit.ForwardOrigin,
			CaptionPlain:    unit.CaptionPlain,
			CaptionEntities: orEmpty(unit.CaptionSpans),
			Entities:        orEmpty(unit.Entities),
		},
	}
	if unit.ForwardOrigin != nil {
		doc.Telegram.ChatTitle = unit.ForwardOrigin.ChatTitle
		doc.Telegram.ChatUsername = unit.ForwardOrigin.ChatUsername
	}

	allDuplicate := len(unit.Items) > 0
	var commonReason types.DedupReason
	for i, item := range unit.Items {
		id := itemDoc{
			Ordinal:          item.Ordinal,
			Type:             item.Kind,
			MIMEType:         item.MIMEType,
			SizeBytes:        item.ActualSize,
			Width:            item.Width,
			Height:           item.Height,
			Duration:         item.DurationSeconds,
			FileID:           item.File.FileID,
			FileUniqueID:     item.File.FileUniqueID,
			OriginalFilename: item.OriginalFilename,
			SHA256:           item.SHA256,
			S3Key:            item.S3Key,
			DuplicateOf:      item.DuplicateOf,
			DedupReason:      item.DedupReason,
		}
		doc.Telegram.Items = append(doc.Telegram.Items, id)
		if item.S3Key != "" {
			doc.Keys = append(doc.Keys, item.S3Key)
		}

		if item.DuplicateOf == "" {
			allDuplicate = false
		} else if i == 0 {
			commonReason = item.DedupReason
		} else if item.DedupReason != commonReason {
			allDuplicate = false
		}
	}

	if allDuplicate && len(unit.Items) > 0 {
		first := unit.Items[0].DuplicateOf
		doc.DuplicateOf = &first
		reason := string(commonReason)
		doc.DedupReason = &reason
	}

	if ack.Notes != "" {
		notes := ack.Notes
		doc.Notes = &notes
	}

	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	key := path.Join(unit.KeyPrefix, "message.json")
	return p.objects.Put(ctx, key, bytes.NewReader(buf), int64(len(buf)), "application/json")
}

func orEmpty(spans []types.EntitySpan) []types.EntitySpan {
	if spans == nil {
		return []types.EntitySpan{}
	}
	return spans
}

// mimeExtension maps a small set of MIME types Telegram commonly declares
// to a file extension, for items with no original filename to borrow one
// from. Unrecognized types fall back to "bin".
func mimeExtension(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch mime {
	case "image/jpeg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "video/quicktime":
		return "mov"
	case "audio/mpeg":
		return "mp3"
	case "audio/ogg":
		return "ogg"
	case "application/pdf":
		return "pdf"
	default:
		if idx := strings.LastIndex(mime, "/"); idx >= 0 && idx+1 < len(mime) {
			return mime[idx+1:]
		}
		return "bin"
	}
}
