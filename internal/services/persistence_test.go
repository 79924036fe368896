package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ad/go-telegram-tutor/internal/db"
	"github.com/ad/go-telegram-tutor/internal/models"
)

func TestInstanceKey(t *testing.T) {
	assert.Equal(t, "github-connection-checklist:42", InstanceKey("github-connection", 42))
}

func TestProperty4_PersistenceRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := genRegistry(rt)
		adapter := NewPersistenceAdapter(db.NewMemoryProgressRepository(), nil)
		key := InstanceKey(reg.ID(), rapid.Int64Range(1, 1<<40).Draw(rt, "user"))

		e := NewProgressEngine(reg, nil, WithPersistence(adapter, key))
		for i := 0; i < rapid.IntRange(0, 40).Draw(rt, "ops"); i++ {
			if rapid.IntRange(0, 9).Draw(rt, fmt.Sprintf("reset%d", i)) == 0 {
				step, _ := reg.StepAt(rapid.IntRange(0, reg.Len()-1).Draw(rt, fmt.Sprintf("resetStep%d", i)))
				e.ResetStep(step.ID)
				continue
			}
			applyRandomOp(rt, e, reg, fmt.Sprintf("op%d", i))
		}
		e.Flush(context.Background())

		loaded, ok := adapter.Load(context.Background(), key, reg)
		if !ok {
			rt.Fatalf("nothing loaded for %s", key)
		}
		if !sameProgress(e.Snapshot(), *loaded) {
			rt.Fatalf("loaded state differs:\n got %+v\nwant %+v", *loaded, e.Snapshot())
		}
		if !adapter.LastSaveOK() {
			rt.Fatalf("last save not ok: %v", adapter.LastSaveError())
		}
	})
}

func TestLoadMissingOrUnreadable(t *testing.T) {
	reg := mustRegistry(t, "flow", checklist("a", "x"))
	ctx := context.Background()

	tests := map[string]struct {
		store ProgressStore
	}{
		"Nothing stored should start fresh.":        {store: rawStore{}},
		"A failing store should start fresh.":       {store: failingStore{}},
		"Malformed JSON should be discarded.":       {store: rawStore{"k": []byte(`{"steps":`)}},
		"Negative total time should be discarded.":  {store: rawStore{"k": []byte(`{"totalTimeSpentSeconds":-1}`)}},
		"Negative step time should be discarded.":   {store: rawStore{"k": []byte(`{"steps":{"a":{"timeSpentSeconds":-5}}}`)}},
		"A null step entry should be discarded.":    {store: rawStore{"k": []byte(`{"steps":{"a":null}}`)}},
		"A wrong field type should be discarded.":   {store: rawStore{"k": []byte(`{"completedStepIds":"a"}`)}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			adapter := NewPersistenceAdapter(test.store, nil)
			state, ok := adapter.Load(ctx, "k", reg)
			assert.False(t, ok)
			assert.Nil(t, state)
		})
	}
}

func TestLoadPrunesStaleIDs(t *testing.T) {
	reg := mustRegistry(t, "flow", checklist("a", "x", "y"), checklist("b", "z"))
	payload := `{
		"currentStepId": "removed",
		"completedStepIds": ["removed", "a", "a"],
		"steps": {
			"a": {"completedItemIds": ["y", "gone", "x", "x"], "timeSpentSeconds": 12},
			"removed": {"completedItemIds": ["q"], "timeSpentSeconds": 3}
		},
		"totalTimeSpentSeconds": 15,
		"inputs": {"removed": "v"}
	}`
	adapter := NewPersistenceAdapter(rawStore{"k": []byte(payload)}, nil)

	state, ok := adapter.Load(context.Background(), "k", reg)
	require.True(t, ok)

	require.NotNil(t, state.CurrentStepID)
	assert.Equal(t, "a", *state.CurrentStepID, "a removed current step falls back to the first step")
	assert.Equal(t, []string{"a"}, state.CompletedStepIDs)
	assert.Equal(t, []string{"x", "y"}, state.Steps["a"].CompletedItemIDs)
	assert.Equal(t, int64(12), state.Steps["a"].TimeSpentSeconds)
	assert.NotContains(t, state.Steps, "removed")
	assert.Empty(t, state.Inputs)
	assert.Equal(t, int64(15), state.TotalTimeSpentSeconds, "time already spent is kept")
}

func TestPruneKeepsCompletionWhenItemsAreAdded(t *testing.T) {
	reg := mustRegistry(t, "flow", checklist("a", "x", "new"))
	state := models.NewOverallProgress()
	state.SetCurrentStep("a")
	state.Step("a").SetItem("x", true)
	state.SetStepCompleted("a", true)

	assert.Zero(t, PruneStale(reg, state))
	assert.True(t, state.IsStepCompleted("a"))
	assert.Equal(t, 0.5, state.Steps["a"].PercentComplete(mustStep(t, reg, "a")))
}

func TestProperty5_LoadToleratesAnyStaleIDs(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		reg := genRegistry(rt)
		id := rapid.StringMatching(`[a-z][a-z0-9]{0,4}`)

		state := models.NewOverallProgress()
		if rapid.Bool().Draw(rt, "started") {
			state.SetCurrentStep(id.Draw(rt, "current"))
		}
		for i := 0; i < rapid.IntRange(0, 6).Draw(rt, "steps"); i++ {
			sp := state.Step(id.Draw(rt, fmt.Sprintf("step%d", i)))
			for j := 0; j < rapid.IntRange(0, 4).Draw(rt, fmt.Sprintf("items%d", i)); j++ {
				sp.SetItem(id.Draw(rt, fmt.Sprintf("item%d_%d", i, j)), true)
			}
			if rapid.Bool().Draw(rt, fmt.Sprintf("done%d", i)) {
				state.SetStepCompleted(id.Draw(rt, fmt.Sprintf("doneID%d", i)), true)
			}
		}

		PruneStale(reg, state)

		if state.CurrentStepID != nil && !reg.HasStep(*state.CurrentStepID) {
			rt.Fatalf("current step %s survived pruning", *state.CurrentStepID)
		}
		for _, stepID := range state.CompletedStepIDs {
			if !reg.HasStep(stepID) {
				rt.Fatalf("completed step %s survived pruning", stepID)
			}
		}
		for stepID, sp := range state.Steps {
			if !reg.HasStep(stepID) {
				rt.Fatalf("step %s survived pruning", stepID)
			}
			for _, itemID := range sp.CompletedItemIDs {
				if !reg.HasItem(stepID, itemID) {
					rt.Fatalf("item %s/%s survived pruning", stepID, itemID)
				}
			}
		}

		e := NewProgressEngine(reg, state)
		if p := e.OverallPercent(); p < 0 || p > 1 {
			rt.Fatalf("overall percent out of range: %v", p)
		}
		e.AdvanceStep()
	})
}

func TestSaveAndClear(t *testing.T) {
	ctx := context.Background()
	repo := db.NewMemoryProgressRepository()
	adapter := NewPersistenceAdapter(repo, nil)
	reg := mustRegistry(t, "flow", checklist("a", "x"))

	assert.False(t, adapter.LastSaveOK(), "no save yet")
	assert.True(t, adapter.LastSaveAt().IsZero())

	state := models.NewOverallProgress()
	state.SetCurrentStep("a")
	require.NoError(t, adapter.Save(ctx, "k", state))
	assert.True(t, adapter.LastSaveOK())
	assert.False(t, adapter.LastSaveAt().IsZero())

	_, ok := adapter.Load(ctx, "k", reg)
	assert.True(t, ok)

	require.NoError(t, adapter.Clear(ctx, "k"))
	_, ok = adapter.Load(ctx, "k", reg)
	assert.False(t, ok)
}

func TestSaveFailureIsReported(t *testing.T) {
	adapter := NewPersistenceAdapter(failingStore{}, nil)
	err := adapter.Save(context.Background(), "k", models.NewOverallProgress())

	assert.ErrorIs(t, err, errStoreDown)
	assert.False(t, adapter.LastSaveOK())
	assert.Error(t, adapter.Clear(context.Background(), "k"))
}

func mustStep(t *testing.T, reg interface {
	Step(string) (*models.Step, bool)
}, id string) *models.Step {
	t.Helper()
	step, ok := reg.Step(id)
	require.True(t, ok)
	return step
}
