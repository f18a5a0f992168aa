package layout

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MaxFilenameLen is the per-item filename length ceiling (§4.3).
	MaxFilenameLen = 120
	// MaxKeyLen is the full object key length ceiling (§4.3).
	MaxKeyLen = 512
)

// Prefix builds the bucket key prefix a unit's items are stored under:
// teltubby/{YYYY}/{MM}/{chat_slug}/{message_id}/
func Prefix(messageTimestamp time.Time, chatSlug string, messageID int64) string {
	ts := messageTimestamp.UTC()
	return fmt.Sprintf("teltubby/%04d/%02d/%s/%d/", ts.Year(), int(ts.Month()), Slug(chatSlug), messageID)
}

// NameInput is everything Filename needs to build one item's filename.
type NameInput struct {
	Timestamp time.Time
	ChatSlug  string
	Sender    string
	MessageID int64
	GroupID   string // empty when the item is not part of an album
	Ordinal   int
	Caption   string
	// Extension is the original transport filename's extension, preserved
	// verbatim even when it disagrees with the declared MIME type.
	Extension string
}

// Filename builds one item's filename:
// YYYYMMDD-HHMMSS_{chat_or_source}_{sender}_m{message_id}[-g{group_id}]_{NNN}_{caption-6-words}.{ext}
func Filename(in NameInput) string {
	ts := in.Timestamp.UTC().Format("20060102-150405")

	msgPart := fmt.Sprintf("m%d", in.MessageID)
	if in.GroupID != "" {
		msgPart += fmt.Sprintf("-g%s", Slug(in.GroupID))
	}

	parts := []string{
		ts,
		Slug(in.ChatSlug),
		Slug(in.Sender),
		msgPart,
		fmt.Sprintf("%03d", in.Ordinal),
	}
	base := strings.Join(parts, "_")

	if snippet := CaptionSnippet(in.Caption, 6); snippet != "" {
		base += "_" + snippet
	}

	ext := strings.TrimPrefix(in.Extension, ".")
	return fitFilename(base, ext, MaxFilenameLen)
}

// fitFilename truncates base so that "base.ext" (or bare base when ext is
// empty) fits within maxLen, always keeping the extension intact.
func fitFilename(base, ext string, maxLen int) string {
	suffix := ""
	if ext != "" {
		suffix = "." + ext
	}
	if len(base)+len(suffix) <= maxLen {
		return base + suffix
	}
	keep := maxLen - len(suffix)
	if keep < 1 {
		// Extension alone doesn't fit; give up on the base entirely
		// rather than truncate into the extension.
		return suffix
	}
	return strings.TrimRight(base[:keep], "_-.") + suffix
}

// BuildKey joins prefix and filename into a full object key, shortening
// filename further if needed so the result never exceeds MaxKeyLen.
func BuildKey(prefix, filename string) string {
	key := prefix + filename
	if len(key) <= MaxKeyLen {
		return key
	}
	overflow := len(key) - MaxKeyLen
	ext := ""
	if dot := strings.LastIndexByte(filename, '.'); dot >= 0 {
		ext = filename[dot:]
	}
	base := strings.TrimSuffix(filename, ext)
	keep := len(base) - overflow
	if keep < 1 {
		keep = 1
	}
	trimmed := strings.TrimRight(base[:keep], "_-.") + ext
	return prefix + trimmed
}

// ChatSlug resolves the directory-friendly chat identifier: the
// forward-origin chat's username or title when known, otherwise the
// curator's username, otherwise their numeric id.
func ChatSlug(forwardChatUsername, forwardChatTitle, curatorUsername string, curatorID int64) string {
	switch {
	case forwardChatUsername != "":
		return Slug(forwardChatUsername)
	case forwardChatTitle != "":
		return Slug(forwardChatTitle)
	case curatorUsername != "":
		return Slug(curatorUsername)
	default:
		return fmt.Sprintf("%d", curatorID)
	}
}
