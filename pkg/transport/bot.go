package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/router"
	"github.com/cptnfren/teltubby/pkg/types"
)

// BotTransport is the bot-protocol path (C5's inline transport): it
// receives message events over long polling, converts them to the
// ingestion pipeline's types, and fetches inline-routed items by
// streaming straight off Telegram's file CDN. It also implements
// worker.Notifier so completed queue jobs can be reported back to the
// originating chat through the same bot.
type BotTransport struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	curatorIDs map[int64]struct{}
	adminIDs   map[int64]struct{}
}

// New dials the Bot API with token and restricts admission to curatorIDs
// (AdminIDs is the subset additionally allowed to issue retry/cancel/
// db_maint).
func New(token string, curatorIDs, adminIDs map[int64]struct{}, ioTimeout time.Duration) (*BotTransport, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to bot api: %w", err)
	}
	return &BotTransport{
		bot:        bot,
		httpClient: &http.Client{Timeout: ioTimeout},
		curatorIDs: curatorIDs,
		adminIDs:   adminIDs,
	}, nil
}

// Updates starts long polling and returns the raw update channel. Callers
// convert each update with Resolve; BotTransport itself holds no
// aggregation state (that belongs to pkg/aggregator).
func (t *BotTransport) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	return t.bot.GetUpdatesChan(u)
}

// IsCurator reports whether userID may submit media at all.
func (t *BotTransport) IsCurator(userID int64) bool {
	_, ok := t.curatorIDs[userID]
	return ok
}

// IsAdmin reports whether userID may issue retry/cancel/db_maint.
func (t *BotTransport) IsAdmin(userID int64) bool {
	_, ok := t.adminIDs[userID]
	return ok
}

// Resolve converts a private-chat message into a MessageUnit. It returns
// ok=false for messages the admission rules silently drop: non-private
// chats (§1 Non-goals: no group-chat ingestion) and messages with no
// media at all (§3: "a unit with no media is dropped").
func Resolve(msg *tgbotapi.Message) (unit *types.MessageUnit, ok bool) {
	if msg == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return nil, false
	}

	item := itemFromMessage(msg)
	if item == nil {
		return nil, false
	}

	unit = &types.MessageUnit{
		ChatID:       msg.Chat.ID,
		MessageID:    int64(msg.MessageID),
		MediaGroupID: msg.MediaGroupID,
		CuratorID:    msg.From.ID,
		Timestamp:    time.Unix(int64(msg.Date), 0).UTC(),
		CaptionPlain: msg.Caption,
		CaptionSpans: entitySpans(msg.CaptionEntities),
		Entities:     entitySpans(msg.Entities),
		Items:        []*types.Item{item},
	}
	if msg.From != nil {
		unit.CuratorName = msg.From.UserName
	}
	if fo := forwardOrigin(msg); fo != nil {
		unit.ForwardOrigin = fo
	}
	return unit, true
}

func forwardOrigin(msg *tgbotapi.Message) *types.ForwardOrigin {
	switch {
	case msg.ForwardFromChat != nil:
		return &types.ForwardOrigin{
			Kind:         types.ForwardOriginChannel,
			ChatID:       msg.ForwardFromChat.ID,
			ChatTitle:    msg.ForwardFromChat.Title,
			ChatUsername: msg.ForwardFromChat.UserName,
			Date:         time.Unix(int64(msg.ForwardDate), 0).UTC(),
		}
	case msg.ForwardFrom != nil:
		return &types.ForwardOrigin{
			Kind:       types.ForwardOriginUser,
			SenderName: msg.ForwardFrom.UserName,
			Date:       time.Unix(int64(msg.ForwardDate), 0).UTC(),
		}
	case msg.ForwardSenderName != "":
		return &types.ForwardOrigin{
			Kind:       types.ForwardOriginHiddenUser,
			SenderName: msg.ForwardSenderName,
			Date:       time.Unix(int64(msg.ForwardDate), 0).UTC(),
		}
	default:
		return nil
	}
}

func entitySpans(entities []tgbotapi.MessageEntity) []types.EntitySpan {
	if len(entities) == 0 {
		return nil
	}
	spans := make([]types.EntitySpan, 0, len(entities))
	for _, e := range entities {
		spans = append(spans, types.EntitySpan{Type: e.Type, Offset: e.Offset, Length: e.Length, URL: e.URL})
	}
	return spans
}

// itemFromMessage extracts the one media payload a Telegram message may
// carry. Telegram sends at most one non-photo media kind per message;
// multiple photo sizes collapse to the largest.
func itemFromMessage(msg *tgbotapi.Message) *types.Item {
	switch {
	case len(msg.Photo) > 0:
		p := largestPhoto(msg.Photo)
		return &types.Item{
			Ordinal: 1, Kind: types.MediaPhoto, MIMEType: "image/jpeg",
			SizeHint: int64(p.FileSize), Width: p.Width, Height: p.Height,
			File: types.FileRef{FileID: p.FileID, FileUniqueID: p.FileUniqueID},
		}
	case msg.Video != nil:
		v := msg.Video
		return &types.Item{
			Ordinal: 1, Kind: types.MediaVideo, MIMEType: v.MimeType, SizeHint: v.FileSize,
			Width: v.Width, Height: v.Height, DurationSeconds: v.Duration,
			File: types.FileRef{FileID: v.FileID, FileUniqueID: v.FileUniqueID},
		}
	case msg.Document != nil:
		d := msg.Document
		return &types.Item{
			Ordinal: 1, Kind: types.MediaDocument, MIMEType: d.MimeType, SizeHint: d.FileSize,
			OriginalFilename: d.FileName,
			File:             types.FileRef{FileID: d.FileID, FileUniqueID: d.FileUniqueID},
		}
	case msg.Audio != nil:
		a := msg.Audio
		return &types.Item{
			Ordinal: 1, Kind: types.MediaAudio, MIMEType: a.MimeType, SizeHint: a.FileSize,
			DurationSeconds: a.Duration, OriginalFilename: a.FileName,
			File: types.FileRef{FileID: a.FileID, FileUniqueID: a.FileUniqueID},
		}
	case msg.Voice != nil:
		v := msg.Voice
		return &types.Item{
			Ordinal: 1, Kind: types.MediaVoice, MIMEType: v.MimeType, SizeHint: v.FileSize,
			DurationSeconds: v.Duration,
			File:            types.FileRef{FileID: v.FileID, FileUniqueID: v.FileUniqueID},
		}
	case msg.Animation != nil:
		a := msg.Animation
		return &types.Item{
			Ordinal: 1, Kind: types.MediaAnimation, MIMEType: a.MimeType, SizeHint: a.FileSize,
			Width: a.Width, Height: a.Height, DurationSeconds: a.Duration,
			OriginalFilename: a.FileName,
			File:             types.FileRef{FileID: a.FileID, FileUniqueID: a.FileUniqueID},
		}
	case msg.VideoNote != nil:
		v := msg.VideoNote
		return &types.Item{
			Ordinal: 1, Kind: types.MediaVideoNote, SizeHint: int64(v.FileSize),
			Width: v.Length, Height: v.Length, DurationSeconds: v.Duration,
			File: types.FileRef{FileID: v.FileID, FileUniqueID: v.FileUniqueID},
		}
	case msg.Sticker != nil:
		s := msg.Sticker
		return &types.Item{
			Ordinal: 1, Kind: types.MediaSticker, SizeHint: int64(s.FileSize),
			Width: s.Width, Height: s.Height,
			File: types.FileRef{FileID: s.FileID, FileUniqueID: s.FileUniqueID},
		}
	default:
		return nil
	}
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.FileSize > best.FileSize {
			best = s
		}
	}
	return best
}

// Probe implements router.Prober: a metadata-only call to getFile, which
// resolves the file's authoritative size without downloading its bytes.
// Telegram's bot API refuses getFile outright for files above its own
// 20MB download ceiling, which Route must see as router.ErrTooBig rather
// than a generic probe failure so oversize items still route to the queue.
func (t *BotTransport) Probe(ctx context.Context, item *types.Item) error {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: item.File.FileID})
	if err != nil {
		if isFileTooBig(err) {
			return router.ErrTooBig
		}
		return fmt.Errorf("probe file: %w", err)
	}
	if file.FileSize > 0 {
		item.SizeHint = file.FileSize
	}
	return nil
}

// isFileTooBig recognizes Telegram's getFile refusal for files past its own
// download ceiling, returned as the API description "Bad Request: file is
// too big" regardless of how the client library wraps it.
func isFileTooBig(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "file is too big")
}

// Fetch implements pkg/ingest.Fetcher: it streams the file's bytes
// directly from Telegram's file CDN without buffering them in memory.
func (t *BotTransport) Fetch(ctx context.Context, item *types.Item) (io.ReadCloser, error) {
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: item.File.FileID})
	if err != nil {
		return nil, fmt.Errorf("resolve file: %w", err)
	}
	link := file.Link(t.bot.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch file: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// NotifyChat implements worker.Notifier: it sends a plain-text message to
// the originating chat reporting a queue job's outcome.
func (t *BotTransport) NotifyChat(ctx context.Context, chatID int64, text string) error {
	_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// NotifyAdmins implements worker.Notifier: it reaches every configured
// admin individually, logging (rather than failing) per-admin delivery
// errors so one blocked chat doesn't swallow the rest.
func (t *BotTransport) NotifyAdmins(ctx context.Context, text string) error {
	for adminID := range t.adminIDs {
		if _, err := t.bot.Send(tgbotapi.NewMessage(adminID, text)); err != nil {
			log.Logger.Warn().Err(err).Int64("admin_id", adminID).Msg("admin notification failed")
		}
	}
	return nil
}
