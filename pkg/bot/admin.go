package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cptnfren/teltubby/pkg/log"
)

// handleCommand dispatches one of the admin slash commands (§6): /retry,
// /cancel, /status, /db_maint. Every command beyond plain curator
// submission requires admin rank; a curator who isn't also an admin gets
// a plain denial reply rather than a silent drop, since they did address
// the bot directly.
func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(strings.SplitN(fields[0], "@", 2)[0])

	if !h.updates.IsAdmin(msg.From.ID) {
		_ = h.updates.NotifyChat(ctx, msg.Chat.ID, "that command requires admin rank")
		return
	}

	if h.jobs == nil && cmd != "/db_maint" {
		_ = h.updates.NotifyChat(ctx, msg.Chat.ID, "job queue is not configured on this deployment")
		return
	}

	switch cmd {
	case "/retry":
		h.cmdRetry(ctx, msg.Chat.ID, fields)
	case "/cancel":
		h.cmdCancel(ctx, msg.Chat.ID, fields)
	case "/job":
		h.cmdJob(ctx, msg.Chat.ID, fields)
	case "/status":
		h.cmdStatus(ctx, msg.Chat.ID, fields)
	case "/db_maint":
		h.cmdDBMaint(ctx, msg.Chat.ID)
	default:
		_ = h.updates.NotifyChat(ctx, msg.Chat.ID, "unknown command: "+cmd)
	}
}

func (h *Handler) cmdRetry(ctx context.Context, chatID int64, fields []string) {
	if len(fields) != 2 {
		_ = h.updates.NotifyChat(ctx, chatID, "usage: /retry <job_id>")
		return
	}
	job, err := h.jobs.Retry(ctx, fields[1])
	if err != nil {
		log.Logger.Warn().Err(err).Str("job_id", fields[1]).Msg("admin retry failed")
		_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("retry failed: %v", err))
		return
	}
	_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("job %s requeued, state=%s", job.ID, job.State))
}

func (h *Handler) cmdCancel(ctx context.Context, chatID int64, fields []string) {
	if len(fields) != 2 {
		_ = h.updates.NotifyChat(ctx, chatID, "usage: /cancel <job_id>")
		return
	}
	job, err := h.jobs.Cancel(ctx, fields[1])
	if err != nil {
		log.Logger.Warn().Err(err).Str("job_id", fields[1]).Msg("admin cancel failed")
		_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("cancel failed: %v", err))
		return
	}
	_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("job %s state=%s", job.ID, job.State))
}

func (h *Handler) cmdJob(ctx context.Context, chatID int64, fields []string) {
	if len(fields) != 2 {
		_ = h.updates.NotifyChat(ctx, chatID, "usage: /job <job_id>")
		return
	}
	job, err := h.jobs.Get(ctx, fields[1])
	if err != nil {
		_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("lookup failed: %v", err))
		return
	}
	_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("job %s state=%s last_error=%q", job.ID, job.State, job.LastError))
}

func (h *Handler) cmdStatus(ctx context.Context, chatID int64, fields []string) {
	limit := 10
	if len(fields) == 2 {
		if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := h.jobs.ListRecent(ctx, limit)
	if err != nil {
		_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("list failed: %v", err))
		return
	}
	if len(jobs) == 0 {
		_ = h.updates.NotifyChat(ctx, chatID, "no recent jobs")
		return
	}
	var b strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&b, "%s  %s\n", j.ID, j.State)
	}
	_ = h.updates.NotifyChat(ctx, chatID, b.String())
}

func (h *Handler) cmdDBMaint(ctx context.Context, chatID int64) {
	if h.vacuum == nil {
		_ = h.updates.NotifyChat(ctx, chatID, "db_maint unavailable")
		return
	}
	if err := h.vacuum.Vacuum(ctx); err != nil {
		_ = h.updates.NotifyChat(ctx, chatID, fmt.Sprintf("vacuum failed: %v", err))
		return
	}
	_ = h.updates.NotifyChat(ctx, chatID, "database vacuumed")
}
