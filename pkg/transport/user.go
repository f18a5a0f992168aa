package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/types"
)

// UserTransport is the user-protocol path (C8's worker transport): a
// long-lived MTProto session used to re-fetch oversize media the bot
// protocol can't stream past its own size ceiling. Authentication (code
// and 2FA entry) happens out-of-band before the worker starts; this type
// only ever reuses an existing session file.
type UserTransport struct {
	client  *telegram.Client
	dl      *downloader.Downloader
	sessDir string

	mu    sync.RWMutex
	api   *tg.Client
	ready bool
}

// NewUser opens (without authenticating) a user-protocol client backed by
// the session file in sessDir. Call Start to bring the connection up.
func NewUser(appID int, appHash, sessDir string) *UserTransport {
	t := &UserTransport{sessDir: sessDir}
	t.client = telegram.NewClient(appID, appHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: sessDir + "/session.json"},
	})
	t.dl = downloader.NewDownloader()
	return t
}

// Start connects and authenticates against the stored session, then blocks
// for the connection's lifetime inside its own goroutine; callers should
// invoke this once during process startup and cancel ctx to tear it down.
func (t *UserTransport) Start(ctx context.Context) error {
	connected := make(chan error, 1)
	go func() {
		err := t.client.Run(ctx, func(runCtx context.Context) error {
			status, err := t.client.Auth().Status(runCtx)
			if err != nil {
				connected <- fmt.Errorf("check auth status: %w", err)
				return err
			}
			if !status.Authorized {
				err := fmt.Errorf("user-protocol session in %s is not authorized; authenticate out-of-band first", t.sessDir)
				connected <- err
				return err
			}

			t.mu.Lock()
			t.api = t.client.API()
			t.ready = true
			t.mu.Unlock()
			connected <- nil

			<-runCtx.Done()
			t.mu.Lock()
			t.ready = false
			t.mu.Unlock()
			return runCtx.Err()
		})
		if err != nil {
			log.Logger.Warn().Err(err).Msg("user-protocol session ended")
		}
	}()
	return <-connected
}

// EnsureSession implements worker.Fetcher: it reports whether the
// connection is currently up and authorized without performing any I/O
// beyond reading local state.
func (t *UserTransport) EnsureSession(ctx context.Context) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready, nil
}

// SessionHealthy implements worker.Fetcher's periodic probe: a cheap
// authenticated call (self lookup) that fails fast if the session was
// revoked server-side since the last check.
func (t *UserTransport) SessionHealthy(ctx context.Context) (bool, error) {
	t.mu.RLock()
	api := t.api
	ready := t.ready
	t.mu.RUnlock()
	if !ready || api == nil {
		return false, nil
	}
	if _, err := t.client.Self(ctx); err != nil {
		return false, fmt.Errorf("session probe: %w", err)
	}
	return true, nil
}

// Fetch implements worker.Fetcher: it re-resolves the source message by
// (chat_id, message_id) rather than trusting the bot protocol's file_id,
// which belongs to a different, session-scoped namespace, then streams the
// document's bytes through the MTProto file-part API.
func (t *UserTransport) Fetch(ctx context.Context, job *types.Job) (io.ReadCloser, error) {
	t.mu.RLock()
	api := t.api
	ready := t.ready
	t.mu.RUnlock()
	if !ready || api == nil {
		return nil, fmt.Errorf("user-protocol session not ready")
	}

	peer, err := t.resolvePeer(ctx, api, job.ChatID)
	if err != nil {
		return nil, fmt.Errorf("resolve chat peer: %w", err)
	}

	msgs, err := api.MessagesGetMessages(ctx, []tg.InputMessageClass{
		&tg.InputMessageID{ID: int(job.MessageID)},
	})
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	loc, err := mediaLocation(msgs, peer)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := t.dl.Download(api, loc).Stream(ctx, pw)
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func (t *UserTransport) resolvePeer(ctx context.Context, api *tg.Client, chatID int64) (tg.InputPeerClass, error) {
	// A private chat with a curator resolves to an InputPeerUser; the
	// access hash comes from the peer cache gotd/td maintains internally
	// as updates and prior calls populate it.
	return &tg.InputPeerUser{UserID: chatID}, nil
}

// mediaLocation extracts the file location the downloader needs from a
// GetMessages response carrying exactly one message with a document or
// photo attachment.
func mediaLocation(msgs tg.MessagesMessagesClass, peer tg.InputPeerClass) (tg.InputFileLocationClass, error) {
	var all []tg.MessageClass
	switch m := msgs.(type) {
	case *tg.MessagesMessages:
		all = m.Messages
	case *tg.MessagesMessagesSlice:
		all = m.Messages
	case *tg.MessagesChannelMessages:
		all = m.Messages
	default:
		return nil, fmt.Errorf("unexpected messages response type %T", msgs)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("source message no longer available")
	}
	msg, ok := all[0].(*tg.Message)
	if !ok || msg.Media == nil {
		return nil, fmt.Errorf("source message has no media")
	}

	switch media := msg.Media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return nil, fmt.Errorf("document unavailable")
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, nil
	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return nil, fmt.Errorf("photo unavailable")
		}
		largest := photo.Sizes[len(photo.Sizes)-1]
		sizeType := "w"
		if sz, ok := largest.(*tg.PhotoSize); ok {
			sizeType = sz.Type
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     sizeType,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported media type %T", media)
	}
}
