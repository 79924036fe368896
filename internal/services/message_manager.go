package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/ad/go-telegram-tutor/internal/db"
	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/models"
)

var ErrSendFailed = errors.New("failed to send message after retry")

// TelegramAPI is the part of *bot.Bot the wizard message needs.
type TelegramAPI interface {
	MessageSender
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*tgmodels.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
}

// ChatStateStore remembers which message renders each chat's wizard.
type ChatStateStore interface {
	Get(ctx context.Context, userID int64) (*models.ChatState, error)
	Save(ctx context.Context, state *models.ChatState) error
}

// MessageManager keeps one wizard message per chat and edits it in place,
// sending a fresh one when the old message is gone.
type MessageManager struct {
	api       TelegramAPI
	chatState ChatStateStore
	errMgr    *ErrorManager
	maxRetry  int
	logger    logrus.FieldLogger
}

func NewMessageManager(api TelegramAPI, chatState ChatStateStore, errMgr *ErrorManager, logger logrus.FieldLogger) *MessageManager {
	return &MessageManager{
		api:       api,
		chatState: chatState,
		errMgr:    errMgr,
		maxRetry:  2,
		logger:    log.For(logger, "services.MessageManager"),
	}
}

func (m *MessageManager) SendWithRetry(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	var lastErr error
	for attempt := 0; attempt < m.maxRetry; attempt++ {
		msg, err := m.api.SendMessage(ctx, params)
		if err == nil {
			return msg, nil
		}
		lastErr = err
	}
	if m.errMgr != nil {
		chatID, _ := params.ChatID.(int64)
		m.errMgr.NotifyAdminWithCurl(ctx, chatID, params, lastErr)
	}
	return nil, errors.Join(ErrSendFailed, lastErr)
}

// SendHTML sends a standalone HTML message.
func (m *MessageManager) SendHTML(ctx context.Context, chatID int64, text string, keyboard *tgmodels.InlineKeyboardMarkup) (*tgmodels.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	return m.SendWithRetry(ctx, params)
}

// ShowWizard renders text as the chat's wizard message and returns its id.
func (m *MessageManager) ShowWizard(ctx context.Context, chatID int64, text string, keyboard *tgmodels.InlineKeyboardMarkup) (int, error) {
	state, err := m.chatState.Get(ctx, chatID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			m.logger.Warningf("Could not read chat state of %d: %v", chatID, err)
		}
		state = &models.ChatState{UserID: chatID}
	}

	if state.WizardMessageID > 0 {
		params := &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: state.WizardMessageID,
			Text:      text,
			ParseMode: tgmodels.ParseModeHTML,
		}
		if keyboard != nil {
			params.ReplyMarkup = keyboard
		}
		_, err := m.api.EditMessageText(ctx, params)
		if err == nil || isNotModifiedError(err) {
			return state.WizardMessageID, nil
		}
		m.logger.Debugf("Edit of wizard message %d failed, sending a new one: %v", state.WizardMessageID, err)
	}

	msg, err := m.SendHTML(ctx, chatID, text, keyboard)
	if err != nil {
		return 0, err
	}

	state.WizardMessageID = msg.ID
	if err := m.chatState.Save(ctx, state); err != nil {
		m.logger.Warningf("Could not remember wizard message of %d: %v", chatID, err)
	}
	return msg.ID, nil
}

// CloseWizard removes the wizard keyboard by replacing the message with text.
func (m *MessageManager) CloseWizard(ctx context.Context, chatID int64, text string) {
	state, err := m.chatState.Get(ctx, chatID)
	if err != nil || state.WizardMessageID == 0 {
		return
	}
	if _, err := m.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: state.WizardMessageID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	}); err != nil && !isNotModifiedError(err) {
		m.logger.Debugf("Could not close wizard message of %d: %v", chatID, err)
	}
	state.WizardMessageID = 0
	if err := m.chatState.Save(ctx, state); err != nil {
		m.logger.Warningf("Could not forget wizard message of %d: %v", chatID, err)
	}
}

func (m *MessageManager) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := m.api.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	return err
}

func isNotModifiedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
