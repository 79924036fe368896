package services

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/ad/go-telegram-tutor/internal/log"
)

const adminMessageLimit = 4000

// MessageSender is the part of *bot.Bot the services send through.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// ErrorManager reports handler panics and undeliverable messages to the admin
// chat. Without an admin id reports only go to the log.
type ErrorManager struct {
	sender  MessageSender
	adminID int64
	logger  logrus.FieldLogger

	// Location describes where userID is in the tutor, for panic reports.
	Location func(userID int64) string
}

func NewErrorManager(sender MessageSender, adminID int64, logger logrus.FieldLogger) *ErrorManager {
	return &ErrorManager{
		sender:  sender,
		adminID: adminID,
		logger:  log.For(logger, "services.ErrorManager"),
	}
}

func (e *ErrorManager) NotifyAdmin(ctx context.Context, panicValue interface{}, update *tgmodels.Update) {
	userID, userInfo := describeSender(update)
	location := "unknown"
	if e.Location != nil && userID != 0 {
		location = e.Location(userID)
	}

	e.logger.Errorf("Panic handling update from %s at %s: %v", userInfo, location, panicValue)

	msg := fmt.Sprintf("🚨 Panic in handler\nUser: %s\nAt: %s\nError: %v\n\nStack trace:\n%s",
		userInfo, location, panicValue, string(debug.Stack()))
	e.send(ctx, msg)
}

func (e *ErrorManager) NotifyAdminWithCurl(ctx context.Context, chatID int64, request interface{}, err error) {
	e.logger.Warningf("Could not deliver message to %d: %v", chatID, err)

	msg := fmt.Sprintf("❌ Failed to send message\nUser: [%d]\nError: %v\n\nCurl:\n%s",
		chatID, err, buildCurlCommand(request))
	e.send(ctx, msg)
}

func (e *ErrorManager) send(ctx context.Context, msg string) {
	if e.sender == nil || e.adminID == 0 {
		return
	}
	if len(msg) > adminMessageLimit {
		msg = msg[:adminMessageLimit] + "\n... (truncated)"
	}
	if _, err := e.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: e.adminID,
		Text:   msg,
	}); err != nil {
		e.logger.Warningf("Could not notify admin: %v", err)
	}
}

func describeSender(update *tgmodels.Update) (int64, string) {
	if update == nil {
		return 0, "unknown"
	}
	var from *tgmodels.User
	switch {
	case update.Message != nil && update.Message.From != nil:
		from = update.Message.From
	case update.CallbackQuery != nil && update.CallbackQuery.From.ID != 0:
		from = &update.CallbackQuery.From
	default:
		return 0, "unknown"
	}

	info := fmt.Sprintf("[%d]", from.ID)
	if from.FirstName != "" {
		info = from.FirstName + " " + info
	}
	if from.Username != "" {
		info += " @" + from.Username
	}
	return from.ID, info
}

func buildCurlCommand(request interface{}) string {
	jsonData, err := json.MarshalIndent(request, "", "  ")
	if err != nil {
		return fmt.Sprintf("# Failed to serialize request: %v", err)
	}

	return fmt.Sprintf("curl -X POST 'https://api.telegram.org/bot[BOT_TOKEN]/sendMessage' \\\n  -H 'Content-Type: application/json' \\\n  -d '%s'",
		string(jsonData))
}
