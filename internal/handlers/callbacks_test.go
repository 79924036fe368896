package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/registry"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want Callback
		ok   bool
	}{
		{"next", Callback{Action: ActionNext}, true},
		{"menu", Callback{Action: ActionMenu}, true},
		{"flow:html-basics", Callback{Action: ActionFlow, FlowID: "html-basics"}, true},
		{"jump:intro", Callback{Action: ActionJump, StepID: "intro"}, true},
		{"done:intro", Callback{Action: ActionDone, StepID: "intro"}, true},
		{"reset:intro", Callback{Action: ActionReset, StepID: "intro"}, true},
		{"toggle:install:node", Callback{Action: ActionToggle, StepID: "install", ItemID: "node"}, true},
		{"next:extra", Callback{}, false},
		{"flow:", Callback{}, false},
		{"toggle:install", Callback{}, false},
		{"toggle::node", Callback{}, false},
		{"admin:stats", Callback{}, false},
		{"", Callback{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, ok := ParseCallback(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProperty8_CallbackDataRoundTrip(t *testing.T) {
	id := rapid.StringMatching(`[a-z0-9][a-z0-9-]{0,15}`)
	rapid.Check(t, func(rt *rapid.T) {
		action := rapid.SampledFrom([]string{
			ActionFlow, ActionToggle, ActionNext, ActionPrev, ActionJump, ActionDone,
			ActionReset, ActionFinish, ActionTest, ActionSteps, ActionShow, ActionMenu,
		}).Draw(rt, "action")

		cb := Callback{Action: action}
		switch action {
		case ActionFlow:
			cb.FlowID = id.Draw(rt, "flow")
		case ActionJump, ActionDone, ActionReset:
			cb.StepID = id.Draw(rt, "step")
		case ActionToggle:
			cb.StepID = id.Draw(rt, "step")
			cb.ItemID = id.Draw(rt, "item")
		}

		got, ok := ParseCallback(cb.String())
		if !ok {
			rt.Fatalf("%q did not parse", cb.String())
		}
		if got != cb {
			rt.Fatalf("round trip changed %+v into %+v", cb, got)
		}
	})
}

func TestDefaultCatalogFitsCallbackData(t *testing.T) {
	catalog, err := registry.Default()
	require.NoError(t, err)

	for _, reg := range catalog.Flows() {
		assert.LessOrEqual(t, len(flowData(reg.ID())), maxCallbackData, reg.ID())
		for i := 0; i < reg.Len(); i++ {
			step, _ := reg.StepAt(i)
			assert.LessOrEqual(t, len(resetData(step.ID)), maxCallbackData, step.ID)
			for _, item := range step.Items {
				data := toggleData(step.ID, item.ID)
				assert.LessOrEqual(t, len(data), maxCallbackData, data)
			}
		}
	}
}

func TestProperty9_AcceptedCatalogIDsRoundTrip(t *testing.T) {
	id := rapid.StringMatching(`[a-z:]{1,40}`)
	rapid.Check(t, func(rt *rapid.T) {
		flowID := id.Draw(rt, "flow")
		stepID := id.Draw(rt, "step")
		itemID := id.Draw(rt, "item")

		reg, err := registry.New(flowID, "Flow", "", []models.Step{
			{ID: stepID, Items: []models.ChecklistItem{{ID: itemID, Label: "x"}}},
		})
		if err != nil {
			return
		}

		for _, data := range []string{flowData(reg.ID()), resetData(stepID), toggleData(stepID, itemID)} {
			if len(data) > maxCallbackData {
				rt.Fatalf("%q exceeds %d bytes", data, maxCallbackData)
			}
		}
		got, ok := ParseCallback(toggleData(stepID, itemID))
		if !ok || got.StepID != stepID || got.ItemID != itemID {
			rt.Fatalf("toggle for %q/%q parsed as %+v", stepID, itemID, got)
		}
		if !reg.HasItem(got.StepID, got.ItemID) {
			rt.Fatalf("parsed toggle %+v does not name a registry item", got)
		}
	})
}
