package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/services"
)

const (
	adminStats = "admin:stats"
	adminFlows = "admin:flows"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type AdminUserStore interface {
	UserStore
	Counter
}

type AdminHandler struct {
	api         BotAPI
	adminID     int64
	sessions    *services.SessionManager
	persistence *services.PersistenceAdapter
	users       AdminUserStore
	progress    Counter
	logger      logrus.FieldLogger
}

// NewAdminHandler builds the admin panel. progress may be nil when the
// progress store cannot count its records.
func NewAdminHandler(
	api BotAPI,
	adminID int64,
	sessions *services.SessionManager,
	persistence *services.PersistenceAdapter,
	users AdminUserStore,
	progress Counter,
	logger logrus.FieldLogger,
) *AdminHandler {
	return &AdminHandler{
		api:         api,
		adminID:     adminID,
		sessions:    sessions,
		persistence: persistence,
		users:       users,
		progress:    progress,
		logger:      log.For(logger, "handlers.AdminHandler"),
	}
}

func (h *AdminHandler) HandleCommand(ctx context.Context, msg *tgmodels.Message) bool {
	if msg.From == nil || msg.From.ID != h.adminID {
		return false
	}

	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "/admin":
		h.showStats(ctx, msg.Chat.ID, 0)
		return true
	case "/user":
		if len(fields) != 2 {
			h.sendMessage(ctx, msg.Chat.ID, "Usage: /user &lt;telegram id&gt;", nil)
			return true
		}
		userID, err := parseInt64(fields[1])
		if err != nil {
			h.sendMessage(ctx, msg.Chat.ID, "⚠️ Not a user id: "+services.FormatCode(fields[1]), nil)
			return true
		}
		h.showUser(ctx, msg.Chat.ID, userID)
		return true
	}
	return false
}

func (h *AdminHandler) HandleCallback(ctx context.Context, callback *tgmodels.CallbackQuery) bool {
	if callback.From.ID != h.adminID || !strings.HasPrefix(callback.Data, "admin:") {
		return false
	}

	msg := callback.Message.Message
	if msg == nil {
		return false
	}

	h.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callback.ID,
	})

	switch callback.Data {
	case adminStats:
		h.showStats(ctx, msg.Chat.ID, msg.ID)
	case adminFlows:
		h.showFlows(ctx, msg.Chat.ID, msg.ID)
	default:
		return false
	}
	return true
}

func (h *AdminHandler) editOrSend(ctx context.Context, chatID int64, messageID int, text string, keyboard *tgmodels.InlineKeyboardMarkup) {
	if messageID > 0 {
		params := &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: messageID,
			Text:      text,
			ParseMode: tgmodels.ParseModeHTML,
		}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		_, err := h.api.EditMessageText(ctx, params)
		if err == nil {
			return
		}
		h.logger.Debugf("EditMessageText error: %v", err)
	}
	h.sendMessage(ctx, chatID, text, keyboard)
}

func (h *AdminHandler) sendMessage(ctx context.Context, chatID int64, text string, keyboard *tgmodels.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	if _, err := h.api.SendMessage(ctx, params); err != nil {
		h.logger.Warningf("SendMessage error: %v", err)
	}
}

func adminKeyboard() *tgmodels.InlineKeyboardMarkup {
	return &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{
			{button("🔄 Refresh", adminStats), button("📚 Tutorials", adminFlows)},
		},
	}
}

func (h *AdminHandler) showStats(ctx context.Context, chatID int64, messageID int) {
	h.editOrSend(ctx, chatID, messageID, h.FormatStats(ctx), adminKeyboard())
}

// FormatStats reports users, stored progress, open wizards and the health of
// the last save.
func (h *AdminHandler) FormatStats(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("🔧 " + services.FormatBold("Tutor admin") + "\n\n")

	if n, err := h.users.Count(ctx); err == nil {
		sb.WriteString(fmt.Sprintf("👥 Users: %d\n", n))
	} else {
		sb.WriteString("👥 Users: unavailable\n")
	}
	if h.progress != nil {
		if n, err := h.progress.Count(ctx); err == nil {
			sb.WriteString(fmt.Sprintf("💾 Saved progress records: %d\n", n))
		}
	}
	sb.WriteString(fmt.Sprintf("🟢 Open wizards: %d\n", h.sessions.Len()))
	sb.WriteString(fmt.Sprintf("📚 Tutorials: %d\n", len(h.sessions.Catalog().Flows())))

	if h.persistence != nil {
		at := h.persistence.LastSaveAt()
		switch {
		case at.IsZero():
			sb.WriteString("\nNo saves yet.")
		case h.persistence.LastSaveOK():
			sb.WriteString(fmt.Sprintf("\n✅ Last save %s ago", services.FormatDuration(time.Since(at))))
		default:
			sb.WriteString(fmt.Sprintf("\n⚠️ Last save failed %s ago: %s",
				services.FormatDuration(time.Since(at)), services.FormatCode(h.persistence.LastSaveError().Error())))
		}
	}
	return sb.String()
}

func (h *AdminHandler) showFlows(ctx context.Context, chatID int64, messageID int) {
	var sb strings.Builder
	sb.WriteString("📚 " + services.FormatBold("Tutorials") + "\n")
	for _, reg := range h.sessions.Catalog().Flows() {
		sb.WriteString(fmt.Sprintf("\n%s %s, %d steps", services.FormatCode(reg.ID()), services.Escape(reg.Title()), reg.Len()))
	}
	kb := &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{button("« Back", adminStats)}},
	}
	h.editOrSend(ctx, chatID, messageID, sb.String(), kb)
}

func (h *AdminHandler) showUser(ctx context.Context, chatID int64, userID int64) {
	name := fmt.Sprintf("[%d]", userID)
	if user, err := h.users.GetByID(ctx, userID); err == nil {
		name = user.DisplayName()
	}

	var sb strings.Builder
	sb.WriteString("👤 " + services.FormatBold(name) + "\n\n")
	sb.WriteString(services.FormatSummary(h.sessions.Summary(ctx, userID)))
	if s, ok := h.sessions.Get(userID); ok {
		sb.WriteString(fmt.Sprintf("\n\n🟢 Open: %s, idle %s",
			services.FormatCode(s.FlowID), services.FormatDuration(time.Since(s.LastActive()))))
	}
	h.sendMessage(ctx, chatID, sb.String(), nil)
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
