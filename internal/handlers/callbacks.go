package handlers

import (
	"strings"

	"github.com/ad/go-telegram-tutor/internal/registry"
)

// Callback actions carried in inline keyboard data.
const (
	ActionFlow   = "flow"
	ActionToggle = "toggle"
	ActionNext   = "next"
	ActionPrev   = "prev"
	ActionJump   = "jump"
	ActionDone   = "done"
	ActionReset  = "reset"
	ActionFinish = "finish"
	ActionTest   = "test"
	ActionSteps  = "steps"
	ActionShow   = "show"
	ActionMenu   = "menu"
)

// Telegram rejects callback data longer than this many bytes.
const maxCallbackData = registry.MaxCallbackData

type Callback struct {
	Action string
	FlowID string
	StepID string
	ItemID string
}

// ParseCallback decodes keyboard data. Unknown or malformed data returns false.
func ParseCallback(data string) (Callback, bool) {
	action, rest, hasArgs := strings.Cut(data, registry.IDSeparator)
	switch action {
	case ActionNext, ActionPrev, ActionFinish, ActionTest, ActionSteps, ActionShow, ActionMenu:
		if hasArgs {
			return Callback{}, false
		}
		return Callback{Action: action}, true
	case ActionFlow:
		if rest == "" {
			return Callback{}, false
		}
		return Callback{Action: action, FlowID: rest}, true
	case ActionJump, ActionDone, ActionReset:
		if rest == "" {
			return Callback{}, false
		}
		return Callback{Action: action, StepID: rest}, true
	case ActionToggle:
		stepID, itemID, ok := strings.Cut(rest, registry.IDSeparator)
		if !ok || stepID == "" || itemID == "" {
			return Callback{}, false
		}
		return Callback{Action: action, StepID: stepID, ItemID: itemID}, true
	}
	return Callback{}, false
}

func (c Callback) String() string {
	switch c.Action {
	case ActionFlow:
		return c.Action + ":" + c.FlowID
	case ActionJump, ActionDone, ActionReset:
		return c.Action + ":" + c.StepID
	case ActionToggle:
		return c.Action + ":" + c.StepID + ":" + c.ItemID
	}
	return c.Action
}

func flowData(flowID string) string { return Callback{Action: ActionFlow, FlowID: flowID}.String() }
func jumpData(stepID string) string { return Callback{Action: ActionJump, StepID: stepID}.String() }
func doneData(stepID string) string { return Callback{Action: ActionDone, StepID: stepID}.String() }
func resetData(stepID string) string { return Callback{Action: ActionReset, StepID: stepID}.String() }
func toggleData(stepID, itemID string) string {
	return Callback{Action: ActionToggle, StepID: stepID, ItemID: itemID}.String()
}
