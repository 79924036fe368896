package handlers

import (
	"errors"
	"fmt"
	"strings"

	tgmodels "github.com/go-telegram/bot/models"

	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/services"
)

func button(text, data string) tgmodels.InlineKeyboardButton {
	return tgmodels.InlineKeyboardButton{Text: text, CallbackData: data}
}

// RenderStep draws the current step of w: header, overall bar, the step body
// and a keyboard with one toggle per item plus navigation.
func RenderStep(w *services.Wizard, notice string) (string, *tgmodels.InlineKeyboardMarkup) {
	e := w.Engine()
	reg := w.Registry()

	step, ok := e.CurrentStep()
	if !ok {
		return FormatEmptyFlow(reg.Title()), &tgmodels.InlineKeyboardMarkup{
			InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{button("🏠 Menu", ActionMenu)}},
		}
	}

	snap := e.Snapshot()
	index := e.CurrentIndex()
	sp := snap.Steps[step.ID]
	if sp == nil {
		sp = &models.StepProgress{}
	}
	complete := snap.IsStepCompleted(step.ID)

	var sb strings.Builder
	sb.WriteString(services.FormatBold(reg.Title()))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s %s\n\n", services.ProgressBar(e.OverallPercent()), services.FormatPercent(e.OverallPercent())))

	title := fmt.Sprintf("Step %d of %d: %s", index+1, reg.Len(), step.Title)
	sb.WriteString(services.FormatBold(title))
	if complete {
		sb.WriteString(" ✅")
	}
	sb.WriteString("\n")
	if step.Description != "" {
		sb.WriteString(services.Escape(step.Description))
		sb.WriteString("\n")
	}

	for _, item := range step.Items {
		if item.Description == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n• %s: %s", services.FormatBold(item.Label), services.Escape(item.Description)))
	}
	if hasItemDescriptions(step) {
		sb.WriteString("\n")
	}

	if step.Kind == models.StepKindDataEntry {
		sb.WriteString("\n✏️ ")
		prompt := step.InputPrompt
		if prompt == "" {
			prompt = "Send your answer as a message."
		}
		sb.WriteString(services.Escape(prompt))
		if v := snap.Inputs[step.ID]; v != "" {
			sb.WriteString("\nSaved: " + services.FormatCode(v))
		}
		sb.WriteString("\n")
	}

	if w.HasLookup() && snap.Profile != nil {
		sb.WriteString(fmt.Sprintf("\n🔌 Connected as %s (@%s, %d public repos)\n",
			services.FormatBold(snap.Profile.Name()), services.Escape(snap.Profile.Login), snap.Profile.PublicRepos))
	}

	sb.WriteString("\n⏱ ")
	var times []string
	if step.EstimatedDuration != "" {
		times = append(times, "about "+services.Escape(step.EstimatedDuration))
	}
	times = append(times,
		"this step "+services.FormatSeconds(sp.TimeSpentSeconds),
		"total "+services.FormatSeconds(snap.TotalTimeSpentSeconds),
	)
	sb.WriteString(strings.Join(times, " · "))

	if w.Finished() {
		sb.WriteString("\n\n🎉 " + services.FormatBold("Tutorial complete!"))
	}
	if notice != "" {
		sb.WriteString("\n\n" + services.FormatItalic(notice))
	}

	return sb.String(), stepKeyboard(w, step, sp, complete, index, snap)
}

func hasItemDescriptions(step *models.Step) bool {
	for _, item := range step.Items {
		if item.Description != "" {
			return true
		}
	}
	return false
}

func stepKeyboard(w *services.Wizard, step *models.Step, sp *models.StepProgress, complete bool, index int, snap models.OverallProgress) *tgmodels.InlineKeyboardMarkup {
	var rows [][]tgmodels.InlineKeyboardButton

	for _, item := range step.Items {
		mark := "⬜"
		if sp.HasItem(item.ID) {
			mark = "✅"
		}
		rows = append(rows, []tgmodels.InlineKeyboardButton{button(mark+" "+item.Label, toggleData(step.ID, item.ID))})
	}

	if !complete && !step.Kind.CompletesByChecklist() && step.Kind != models.StepKindDataEntry {
		rows = append(rows, []tgmodels.InlineKeyboardButton{button("✔️ Mark as done", doneData(step.ID))})
	}
	if step.Kind == models.StepKindDataEntry && w.HasLookup() && snap.Inputs[step.ID] != "" {
		rows = append(rows, []tgmodels.InlineKeyboardButton{button("🔌 Test connection", ActionTest)})
	}

	var nav []tgmodels.InlineKeyboardButton
	if index > 0 {
		nav = append(nav, button("◀️ Back", ActionPrev))
	}
	nav = append(nav, button("📋 Steps", ActionSteps))
	if w.IsOnLastStep() {
		nav = append(nav, button("🏁 Finish", ActionFinish))
	} else if w.CanAdvance() {
		nav = append(nav, button("✅ Next ▶️", ActionNext))
	} else {
		nav = append(nav, button("Next ▶️", ActionNext))
	}
	rows = append(rows, nav)

	rows = append(rows, []tgmodels.InlineKeyboardButton{
		button("↺ Reset step", resetData(step.ID)),
		button("🏠 Menu", ActionMenu),
	})

	return &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// RenderStepList draws every step of the flow as a jump button.
func RenderStepList(w *services.Wizard) (string, *tgmodels.InlineKeyboardMarkup) {
	e := w.Engine()
	reg := w.Registry()
	current := e.CurrentIndex()

	var rows [][]tgmodels.InlineKeyboardButton
	for i := 0; i < reg.Len(); i++ {
		step, _ := reg.StepAt(i)
		mark := "▫️"
		switch {
		case e.IsStepComplete(step.ID):
			mark = "✅"
		case i == current:
			mark = "👉"
		}
		label := fmt.Sprintf("%s %d. %s", mark, i+1, step.Title)
		if len(step.Items) > 0 {
			label += " · " + services.FormatPercent(e.StepPercent(step.ID))
		}
		rows = append(rows, []tgmodels.InlineKeyboardButton{button(label, jumpData(step.ID))})
	}
	rows = append(rows, []tgmodels.InlineKeyboardButton{button("◀️ Back to step", ActionShow)})

	text := fmt.Sprintf("%s\n%s %s\n\nJump to any step:",
		services.FormatBold(reg.Title()), services.ProgressBar(e.OverallPercent()), services.FormatPercent(e.OverallPercent()))
	return text, &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// RenderFlowMenu lists the tutorials with the learner's progress in each.
func RenderFlowMenu(salutation string, flows []services.FlowSummary) (string, *tgmodels.InlineKeyboardMarkup) {
	var rows [][]tgmodels.InlineKeyboardButton
	for _, f := range flows {
		mark := "⚪"
		switch {
		case f.Complete:
			mark = "✅"
		case f.Started:
			mark = "🔵"
		}
		rows = append(rows, []tgmodels.InlineKeyboardButton{
			button(fmt.Sprintf("%s %s · %s", mark, f.Title, services.FormatPercent(f.Percent)), flowData(f.FlowID)),
		})
	}

	text := fmt.Sprintf("👋 Hi, %s!\n\nPick a tutorial. Progress is saved as you go, so you can leave and come back any time.",
		services.Escape(salutation))
	if len(flows) == 0 {
		text = "No tutorials available yet."
	}
	return text, &tgmodels.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// RenderFlowComplete is the separate congratulation sent when a flow ends.
func RenderFlowComplete(title string, final models.OverallProgress) (string, *tgmodels.InlineKeyboardMarkup) {
	text := fmt.Sprintf("🎉 You finished %s!\n\n⏱ Total time: %s",
		services.FormatBold(title), services.FormatSeconds(final.TotalTimeSpentSeconds))
	if final.Profile != nil {
		text += fmt.Sprintf("\n🔌 Connected as %s", services.FormatBold(final.Profile.Name()))
	}
	return text, &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{{button("📚 More tutorials", ActionMenu)}},
	}
}

func FormatEmptyFlow(title string) string {
	return fmt.Sprintf("%s\n\nThis tutorial has no steps yet.", services.FormatBold(title))
}

// DescribeLookupError turns a connection test failure into text for the learner.
func DescribeLookupError(err error) string {
	var lerr *services.LookupError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, services.ErrProfileNotFound):
		return "No GitHub account with that username. Check the spelling and try again."
	case errors.Is(err, services.ErrInvalidLogin):
		return "That does not look like a GitHub username."
	case errors.Is(err, services.ErrLookupThrottled):
		return "Too many tests right now, wait a moment and try again."
	case errors.As(err, &lerr) && lerr.Status != 0:
		return fmt.Sprintf("GitHub answered with status %d. Try again later.", lerr.Status)
	}
	return "Could not reach GitHub. Try again later."
}
