package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/ad/go-telegram-tutor/internal/db"
	"github.com/ad/go-telegram-tutor/internal/fsm"
	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/services"
)

// BotAPI is the part of *bot.Bot the handlers call.
type BotAPI interface {
	services.TelegramAPI
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

type UserStore interface {
	Touch(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type ChatStateStore interface {
	services.ChatStateStore
	Clear(ctx context.Context, userID int64) error
}

type BotHandlerConfig struct {
	API          BotAPI
	AdminID      int64
	Sessions     *services.SessionManager
	Messages     *services.MessageManager
	ErrorManager *services.ErrorManager
	Users        UserStore
	ChatState    ChatStateStore
	Admin        *AdminHandler
	Logger       logrus.FieldLogger
}

type BotHandler struct {
	api          BotAPI
	adminID      int64
	sessions     *services.SessionManager
	msgManager   *services.MessageManager
	errorManager *services.ErrorManager
	users        UserStore
	chatState    ChatStateStore
	adminHandler *AdminHandler
	logger       logrus.FieldLogger

	// notices collects step completions raised while handling one update so
	// the re-rendered wizard can mention them.
	mu      sync.Mutex
	notices map[int64][]string
}

func NewBotHandler(cfg BotHandlerConfig) *BotHandler {
	return &BotHandler{
		api:          cfg.API,
		adminID:      cfg.AdminID,
		sessions:     cfg.Sessions,
		msgManager:   cfg.Messages,
		errorManager: cfg.ErrorManager,
		users:        cfg.Users,
		chatState:    cfg.ChatState,
		adminHandler: cfg.Admin,
		logger:       log.For(cfg.Logger, "handlers.BotHandler"),
		notices:      make(map[int64][]string),
	}
}

func (h *BotHandler) HandleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	defer h.recoverPanic(ctx, update)

	if update.Message != nil {
		h.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		h.handleCallback(ctx, update.CallbackQuery)
	}
}

func (h *BotHandler) recoverPanic(ctx context.Context, update *tgmodels.Update) {
	if r := recover(); r != nil {
		if h.errorManager != nil {
			h.errorManager.NotifyAdmin(ctx, r, update)
			return
		}
		h.logger.Errorf("Panic in handler: %v", r)
	}
}

// Location describes where userID is, for panic reports.
func (h *BotHandler) Location(userID int64) string {
	s, ok := h.sessions.Get(userID)
	if !ok {
		return "no open tutorial"
	}
	step, ok := s.Engine().CurrentStep()
	if !ok {
		return s.FlowID
	}
	return s.FlowID + "/" + step.ID
}

// OnStepComplete queues a notice for the next render of userID's wizard.
func (h *BotHandler) OnStepComplete(s *services.Session, stepID string) {
	step, ok := s.Engine().Registry().Step(stepID)
	if !ok {
		return
	}
	h.mu.Lock()
	h.notices[s.UserID] = append(h.notices[s.UserID], fmt.Sprintf("✅ %s done!", step.Title))
	h.mu.Unlock()
}

// OnFlowComplete congratulates the learner and tells the admin.
func (h *BotHandler) OnFlowComplete(s *services.Session, final models.OverallProgress) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg := s.Engine().Registry()
	text, kb := RenderFlowComplete(reg.Title(), final)
	if _, err := h.msgManager.SendHTML(ctx, s.UserID, text, kb); err != nil {
		h.logger.Warningf("Could not congratulate %d: %v", s.UserID, err)
	}
	h.notifyAdminFlowCompleted(ctx, s.UserID, reg.Title(), final)
}

func (h *BotHandler) takeNotices(userID int64) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	notices := h.notices[userID]
	delete(h.notices, userID)
	return strings.Join(notices, " ")
}

func (h *BotHandler) handleMessage(ctx context.Context, msg *tgmodels.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID

	if userID == h.adminID && h.adminHandler != nil {
		if h.adminHandler.HandleCommand(ctx, msg) {
			return
		}
	}

	switch command(msg.Text) {
	case "/start":
		h.handleStart(ctx, msg)
		return
	case "/progress":
		h.handleProgress(ctx, msg)
		return
	case "/reset":
		h.handleResetFlow(ctx, msg)
		return
	case "/stop":
		h.handleStop(ctx, msg)
		return
	case "":
	default:
		// Unknown commands are never taken as an answer.
		h.msgManager.SendHTML(ctx, msg.Chat.ID, "Unknown command. Try /start, /progress, /reset or /stop.", nil)
		return
	}

	if msg.Text != "" {
		h.handleTextInput(ctx, msg)
	}
}

// command strips a bot mention such as /start@tutor_bot.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(strings.Fields(text + " ")[0], "@")
	return cmd
}

func (h *BotHandler) handleStart(ctx context.Context, msg *tgmodels.Message) {
	user := &models.User{
		ID:        msg.From.ID,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
		Username:  msg.From.Username,
	}
	if err := h.users.Touch(ctx, user); err != nil {
		h.logger.Warningf("Could not register user %d: %v", user.ID, err)
	}

	// A fresh menu message becomes the wizard message once a flow is picked.
	h.sessions.Close(ctx, user.ID)
	text, kb := RenderFlowMenu(user.Salutation(), h.sessions.Summary(ctx, user.ID))
	sent, err := h.msgManager.SendHTML(ctx, msg.Chat.ID, text, kb)
	if err != nil {
		return
	}
	h.updateChatState(ctx, user.ID, func(s *models.ChatState) {
		s.WizardMessageID = sent.ID
		s.State = fsm.StateMenu
		s.AwaitingInputStep = ""
	})
}

func (h *BotHandler) handleProgress(ctx context.Context, msg *tgmodels.Message) {
	text := services.FormatSummary(h.sessions.Summary(ctx, msg.From.ID))
	h.msgManager.SendHTML(ctx, msg.Chat.ID, text, nil)
}

func (h *BotHandler) handleResetFlow(ctx context.Context, msg *tgmodels.Message) {
	s, ok := h.session(ctx, msg.From.ID)
	if !ok {
		h.msgManager.SendHTML(ctx, msg.Chat.ID, "Open a tutorial with /start first.", nil)
		return
	}
	s.Engine().ResetProgress()
	s.Engine().Start()
	h.render(ctx, s, "Progress reset. Starting over from the first step.")
}

func (h *BotHandler) handleStop(ctx context.Context, msg *tgmodels.Message) {
	userID := msg.From.ID
	h.sessions.Close(ctx, userID)
	h.msgManager.CloseWizard(ctx, userID, "⏸ Paused. Your progress is saved, send /start to continue.")
	h.updateChatState(ctx, userID, func(s *models.ChatState) {
		s.State = fsm.StateClosed
		s.AwaitingInputStep = ""
	})
}

func (h *BotHandler) handleTextInput(ctx context.Context, msg *tgmodels.Message) {
	s, ok := h.session(ctx, msg.From.ID)
	if !ok {
		h.msgManager.SendHTML(ctx, msg.Chat.ID, "Send /start to pick a tutorial.", nil)
		return
	}
	step, ok := s.Engine().CurrentStep()
	if !ok || step.Kind != models.StepKindDataEntry {
		h.msgManager.SendHTML(ctx, msg.Chat.ID, "Use the buttons above to work through the steps.", nil)
		return
	}

	notice := "Saved."
	if err := s.Wizard.SubmitInput(step.ID, msg.Text); err != nil {
		notice = "Please send a non-empty answer."
	} else if s.Wizard.HasLookup() {
		notice = "Saved. Tap “Test connection” to check it."
	}
	// The wizard message moves below the learner's answer.
	h.updateChatState(ctx, s.UserID, func(cs *models.ChatState) { cs.WizardMessageID = 0 })
	h.render(ctx, s, notice)
}

func (h *BotHandler) handleCallback(ctx context.Context, callback *tgmodels.CallbackQuery) {
	if h.adminHandler != nil && h.adminHandler.HandleCallback(ctx, callback) {
		return
	}

	toast := ""
	defer func() {
		h.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: callback.ID,
			Text:            toast,
		})
	}()

	cb, ok := ParseCallback(callback.Data)
	if !ok {
		h.logger.Debugf("Ignoring callback %q", callback.Data)
		return
	}
	userID := callback.From.ID

	switch cb.Action {
	case ActionFlow:
		toast = h.openFlow(ctx, callback, cb.FlowID)
		return
	case ActionMenu:
		h.showMenu(ctx, callback)
		return
	}

	s, ok := h.session(ctx, userID)
	if !ok {
		toast = "This tutorial is closed. Send /start to pick one."
		return
	}
	e := s.Engine()
	notice := ""

	switch cb.Action {
	case ActionToggle:
		snap := e.Snapshot()
		checked := true
		if sp, ok := snap.Steps[cb.StepID]; ok && sp.HasItem(cb.ItemID) {
			checked = false
		}
		e.ToggleItem(cb.StepID, cb.ItemID, checked)
	case ActionNext:
		e.AdvanceStep()
	case ActionPrev:
		e.RetreatStep()
	case ActionJump:
		e.JumpToStep(cb.StepID)
	case ActionDone:
		e.MarkStepComplete(cb.StepID)
	case ActionReset:
		e.ResetStep(cb.StepID)
		notice = "Step reset."
	case ActionFinish:
		switch err := s.Wizard.Finish(); {
		case errors.Is(err, services.ErrFinalStepOpen):
			toast = "Check every item of this step first."
		case err != nil:
			toast = "Finish is on the last step."
		}
	case ActionTest:
		notice = h.testConnection(ctx, s)
	case ActionSteps:
		text, kb := RenderStepList(s.Wizard)
		h.showInPlace(ctx, userID, text, kb)
		return
	case ActionShow:
	}

	h.render(ctx, s, notice)
}

func (h *BotHandler) openFlow(ctx context.Context, callback *tgmodels.CallbackQuery, flowID string) string {
	userID := callback.From.ID
	s, err := h.sessions.Open(ctx, userID, flowID)
	if err != nil {
		h.logger.Warningf("Could not open %s for %d: %v", flowID, userID, err)
		return "This tutorial is no longer available."
	}
	if msg := callback.Message.Message; msg != nil {
		h.updateChatState(ctx, userID, func(cs *models.ChatState) { cs.WizardMessageID = msg.ID })
	}
	h.render(ctx, s, "")
	return ""
}

func (h *BotHandler) showMenu(ctx context.Context, callback *tgmodels.CallbackQuery) {
	userID := callback.From.ID
	h.sessions.Close(ctx, userID)

	salutation := callback.From.FirstName
	if salutation == "" {
		salutation = (&models.User{}).Salutation()
	}
	text, kb := RenderFlowMenu(salutation, h.sessions.Summary(ctx, userID))
	h.showInPlace(ctx, userID, text, kb)
	h.updateChatState(ctx, userID, func(cs *models.ChatState) {
		cs.State = fsm.StateMenu
		cs.AwaitingInputStep = ""
	})
}

func (h *BotHandler) testConnection(ctx context.Context, s *services.Session) string {
	identifier := s.Wizard.LookupIdentifier()
	if identifier == "" {
		return "Enter your username first."
	}
	profile, err := s.Wizard.TestConnection(ctx, identifier)
	if err != nil {
		if errors.Is(err, services.ErrNoLookup) {
			return "This tutorial has no connection test."
		}
		h.logger.Infof("Connection test for %d failed: %v", s.UserID, err)
		return DescribeLookupError(err)
	}
	return fmt.Sprintf("Connection works! Hello, %s.", profile.Name())
}

// render shows the current step of s in the chat's wizard message.
func (h *BotHandler) render(ctx context.Context, s *services.Session, notice string) {
	if queued := h.takeNotices(s.UserID); queued != "" {
		notice = strings.TrimSpace(queued + " " + notice)
	}
	text, kb := RenderStep(s.Wizard, notice)
	h.showInPlace(ctx, s.UserID, text, kb)

	state, awaiting := fsm.StateViewing, ""
	if step, ok := s.Engine().CurrentStep(); ok && step.Kind == models.StepKindDataEntry {
		state, awaiting = fsm.StateAwaitingInput, step.ID
	}
	if s.Wizard.Finished() && s.Wizard.IsOnLastStep() {
		state = fsm.StateFinished
	}
	h.updateChatState(ctx, s.UserID, func(cs *models.ChatState) {
		cs.ActiveFlowID = s.FlowID
		cs.State = state
		cs.AwaitingInputStep = awaiting
	})
}

func (h *BotHandler) showInPlace(ctx context.Context, userID int64, text string, kb *tgmodels.InlineKeyboardMarkup) {
	if _, err := h.msgManager.ShowWizard(ctx, userID, text, kb); err != nil {
		h.logger.Warningf("Could not show wizard to %d: %v", userID, err)
	}
}

// session returns the open session of userID, reopening the flow the chat
// last had open after a restart or idle sweep.
func (h *BotHandler) session(ctx context.Context, userID int64) (*services.Session, bool) {
	if s, ok := h.sessions.Get(userID); ok {
		return s, true
	}
	state, err := h.chatState.Get(ctx, userID)
	if err != nil || state.ActiveFlowID == "" || !fsm.IsOpen(state.State) && state.State != fsm.StateFinished {
		return nil, false
	}
	s, err := h.sessions.Open(ctx, userID, state.ActiveFlowID)
	if err != nil {
		return nil, false
	}
	return s, true
}

func (h *BotHandler) updateChatState(ctx context.Context, userID int64, fn func(*models.ChatState)) {
	state, err := h.chatState.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.logger.Warningf("Could not read chat state of %d: %v", userID, err)
		}
		state = &models.ChatState{UserID: userID}
	}
	fn(state)
	if err := h.chatState.Save(ctx, state); err != nil {
		h.logger.Warningf("Could not save chat state of %d: %v", userID, err)
	}
}

func (h *BotHandler) notifyAdminFlowCompleted(ctx context.Context, userID int64, title string, final models.OverallProgress) {
	if h.adminID == 0 {
		return
	}
	name := fmt.Sprintf("[%d]", userID)
	if user, err := h.users.GetByID(ctx, userID); err == nil {
		name = user.DisplayName()
	}
	text := fmt.Sprintf("🏁 %s finished %s in %s",
		services.Escape(name), services.FormatBold(title), services.FormatSeconds(final.TotalTimeSpentSeconds))
	h.msgManager.SendHTML(ctx, h.adminID, text, nil)
}
