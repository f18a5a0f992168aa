package layout

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlugBasic(t *testing.T) {
	require.Equal(t, "hello-world", Slug("Hello World"))
	require.Equal(t, "cafe-au-lait", Slug("Café au Lait"))
	require.Equal(t, "a.b-c", Slug("a.b  --  c"))
}

func TestSlugDropsUnfoldable(t *testing.T) {
	require.Equal(t, "", Slug("日本語"))
	require.Equal(t, "hi", Slug("hi 日本語"))
}

func TestCaptionSnippetLimitsWords(t *testing.T) {
	got := CaptionSnippet("one two three four five six seven eight", 6)
	require.Equal(t, "one-two-three-four-five-six", got)
}

func TestCaptionSnippetEmpty(t *testing.T) {
	require.Equal(t, "", CaptionSnippet("", 6))
	require.Equal(t, "", CaptionSnippet("   ", 6))
}

func TestPrefixFormat(t *testing.T) {
	ts := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	got := Prefix(ts, "My Chat", 12345)
	require.Equal(t, "teltubby/2026/07/my-chat/12345/", got)
}

func TestFilenameBasic(t *testing.T) {
	ts := time.Date(2026, 7, 30, 10, 20, 30, 0, time.UTC)
	got := Filename(NameInput{
		Timestamp: ts,
		ChatSlug:  "My Chat",
		Sender:    "alice",
		MessageID: 5,
		Ordinal:   1,
		Caption:   "a cute cat photo",
		Extension: "jpg",
	})
	require.Equal(t, "20260730-102030_my-chat_alice_m5_001_a-cute-cat-photo.jpg", got)
}

func TestFilenameWithGroup(t *testing.T) {
	ts := time.Date(2026, 7, 30, 10, 20, 30, 0, time.UTC)
	got := Filename(NameInput{
		Timestamp: ts,
		ChatSlug:  "chat",
		Sender:    "bob",
		MessageID: 5,
		GroupID:   "999",
		Ordinal:   2,
		Extension: "mp4",
	})
	require.Equal(t, "20260730-102030_chat_bob_m5-g999_002.mp4", got)
}

func TestFilenameRespectsMaxLength(t *testing.T) {
	ts := time.Date(2026, 7, 30, 10, 20, 30, 0, time.UTC)
	longCaption := strings.Repeat("verylongword ", 20)
	got := Filename(NameInput{
		Timestamp: ts,
		ChatSlug:  "chat",
		Sender:    "bob",
		MessageID: 5,
		Ordinal:   1,
		Caption:   longCaption,
		Extension: "jpg",
	})
	require.LessOrEqual(t, len(got), MaxFilenameLen)
	require.True(t, strings.HasSuffix(got, ".jpg"))
}

func TestBuildKeyWithinLimit(t *testing.T) {
	key := BuildKey("teltubby/2026/07/chat/1/", "file.jpg")
	require.Equal(t, "teltubby/2026/07/chat/1/file.jpg", key)
}

func TestBuildKeyTruncatesOverLimit(t *testing.T) {
	prefix := "teltubby/2026/07/" + strings.Repeat("x", 400) + "/1/"
	filename := strings.Repeat("y", 100) + ".jpg"
	key := BuildKey(prefix, filename)
	require.LessOrEqual(t, len(key), MaxKeyLen)
	require.True(t, strings.HasSuffix(key, ".jpg"))
}

func TestChatSlugPriority(t *testing.T) {
	require.Equal(t, "chatuser", ChatSlug("chatuser", "Chat Title", "curator", 1))
	require.Equal(t, "chat-title", ChatSlug("", "Chat Title", "curator", 1))
	require.Equal(t, "curator", ChatSlug("", "", "curator", 1))
	require.Equal(t, "42", ChatSlug("", "", "", 42))
}
