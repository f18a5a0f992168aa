package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cptnfren/teltubby/pkg/aggregator"
	"github.com/cptnfren/teltubby/pkg/events"
	"github.com/cptnfren/teltubby/pkg/log"
	"github.com/cptnfren/teltubby/pkg/transport"
	"github.com/cptnfren/teltubby/pkg/types"
)

// Pipeline is the ingestion pipeline capability (C5) the bot commits
// aggregated units through.
type Pipeline interface {
	Process(ctx context.Context, unit *types.MessageUnit) (*types.AckSummary, error)
}

// JobStore is the admin-command capability (C7's retry/cancel/get/
// list_recent) plus db_maint's vacuum.
type JobStore interface {
	Retry(ctx context.Context, jobID string) (*types.Job, error)
	Cancel(ctx context.Context, jobID string) (*types.Job, error)
	Get(ctx context.Context, jobID string) (*types.Job, error)
	ListRecent(ctx context.Context, limit int) ([]*types.Job, error)
}

// Vacuumer is the maintenance capability db_maint triggers.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// Updater is the bot-API surface the handler needs: long polling plus the
// curator/admin whitelist checks and the send/fetch capabilities Resolve's
// caller and the pipeline depend on. pkg/transport.BotTransport satisfies
// this along with pkg/ingest.Fetcher and worker.Notifier.
type Updater interface {
	Updates() tgbotapi.UpdatesChannel
	IsCurator(userID int64) bool
	IsAdmin(userID int64) bool
	NotifyChat(ctx context.Context, chatID int64, text string) error
	NotifyAdmins(ctx context.Context, text string) error
}

// Handler wires the bot transport, the album aggregator, and the
// ingestion pipeline: every resolved unit is submitted to the aggregator,
// whose close callback commits it through the pipeline and acks the
// originating chat.
type Handler struct {
	updates  Updater
	agg      *aggregator.Aggregator
	pipeline Pipeline
	jobs     JobStore
	vacuum   Vacuumer
}

// New wires a Handler. The aggregator is constructed here (not injected)
// since its Emit closure must close over h.
func New(updates Updater, pipeline Pipeline, jobs JobStore, vacuum Vacuumer, albumWindow int, maxItems int) *Handler {
	h := &Handler{updates: updates, pipeline: pipeline, jobs: jobs, vacuum: vacuum}
	window := aggregator.DefaultWindow
	if albumWindow > 0 {
		window = time.Duration(albumWindow) * time.Second
	}
	h.agg = aggregator.New(window, maxItems, h.onUnitReady)
	return h
}

// Run processes updates until ctx is cancelled or the update channel
// closes.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.agg.Stop()
			return
		case upd, ok := <-h.updates.Updates():
			if !ok {
				h.agg.Stop()
				return
			}
			h.handleUpdate(ctx, upd)
		}
	}
}

func (h *Handler) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message

	if msg.Chat == nil || !msg.Chat.IsPrivate() {
		// Non-goal: group-chat ingestion is silently ignored (§7
		// group_chat_ignored), not acknowledged at all.
		return
	}

	if msg.From == nil || !h.updates.IsCurator(msg.From.ID) {
		// §7 unauthorized_curator: silently dropped, no ack, no trace
		// beyond a debug log line.
		log.Logger.Debug().Int64("user_id", senderID(msg)).Msg("message from non-curator dropped")
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		h.handleCommand(ctx, msg)
		return
	}

	unit, ok := transport.Resolve(msg)
	if !ok {
		return
	}
	h.agg.Submit(ctx, unit)
}

func senderID(msg *tgbotapi.Message) int64 {
	if msg.From == nil {
		return 0
	}
	return msg.From.ID
}

// onUnitReady is the aggregator's Emit callback: it commits the closed
// unit through the pipeline and reports the structured ack back to chat.
func (h *Handler) onUnitReady(ctx context.Context, unit *types.MessageUnit) {
	ack, err := h.pipeline.Process(ctx, unit)
	if err != nil {
		log.WithChatID(unit.ChatID).Error().Err(err).Msg("pipeline processing failed")
		_ = h.updates.NotifyChat(ctx, unit.ChatID, "archival failed: internal error, see logs")
		return
	}
	_ = h.updates.NotifyChat(ctx, unit.ChatID, renderAck(ack))
}

// ConsumeEvents subscribes to broker and turns events that have no other
// notification path into admin messages. Pipeline commits and worker job
// outcomes already notify their originating chat directly; this loop
// exists for events nothing else surfaces, chiefly quota gate transitions
// and a held worker session.
func (h *Handler) ConsumeEvents(ctx context.Context, broker *events.Broker) {
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			h.handleEvent(ctx, evt)
		}
	}
}

func (h *Handler) handleEvent(ctx context.Context, evt *events.Event) {
	switch evt.Type {
	case events.EventQuotaGateOpened, events.EventQuotaGateClosed, events.EventWorkerSessionHold:
		_ = h.updates.NotifyAdmins(ctx, string(evt.Type)+": "+evt.Message)
	default:
		// Job/unit events are already notified directly by the pipeline and
		// worker; this is just a trace of what passed through the broker,
		// keyed by event id so a burst of same-type events stays distinguishable.
		log.Logger.Debug().Str("event_id", evt.ID).Str("event", string(evt.Type)).Str("message", evt.Message).Msg("event observed")
	}
}

