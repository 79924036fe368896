package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ad/go-telegram-tutor/internal/db"
	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/registry"
)

func checklist(id string, itemIDs ...string) models.Step {
	step := models.Step{ID: id, Title: id, Kind: models.StepKindChecklist}
	for _, itemID := range itemIDs {
		step.Items = append(step.Items, models.ChecklistItem{ID: itemID, Label: itemID})
	}
	return step
}

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	Helper()
	Errorf(format string, args ...any)
	FailNow()
}

func mustRegistry(t tb, id string, steps ...models.Step) *registry.Registry {
	t.Helper()
	reg, err := registry.New(id, id, "", steps)
	require.NoError(t, err)
	return reg
}

// genRegistry draws a flow of 1..5 checklist steps with 1..4 items each.
func genRegistry(rt *rapid.T) *registry.Registry {
	n := rapid.IntRange(1, 5).Draw(rt, "steps")
	steps := make([]models.Step, 0, n)
	for i := 0; i < n; i++ {
		k := rapid.IntRange(1, 4).Draw(rt, fmt.Sprintf("items%d", i))
		var ids []string
		for j := 0; j < k; j++ {
			ids = append(ids, fmt.Sprintf("i%d", j))
		}
		steps = append(steps, checklist(fmt.Sprintf("s%d", i), ids...))
	}
	reg, err := registry.New("flow", "Flow", "", steps)
	if err != nil {
		rt.Fatalf("registry: %v", err)
	}
	return reg
}

// drawStepItem picks an existing step and one of its items.
func drawStepItem(rt *rapid.T, reg *registry.Registry, label string) (string, string) {
	step, _ := reg.StepAt(rapid.IntRange(0, reg.Len()-1).Draw(rt, label+"Step"))
	item := rapid.SampledFrom(step.ItemIDs()).Draw(rt, label+"Item")
	return step.ID, item
}

// applyRandomOp runs one navigation or checklist operation on e.
func applyRandomOp(rt *rapid.T, e *ProgressEngine, reg *registry.Registry, label string) {
	switch rapid.IntRange(0, 6).Draw(rt, label) {
	case 0:
		e.AdvanceStep()
	case 1:
		e.RetreatStep()
	case 2:
		step, _ := reg.StepAt(rapid.IntRange(0, reg.Len()-1).Draw(rt, label+"Jump"))
		e.JumpToStep(step.ID)
	case 3, 4:
		stepID, itemID := drawStepItem(rt, reg, label)
		e.ToggleItem(stepID, itemID, rapid.Bool().Draw(rt, label+"Checked"))
	case 5:
		step, _ := reg.StepAt(rapid.IntRange(0, reg.Len()-1).Draw(rt, label+"Done"))
		e.MarkStepComplete(step.ID)
	case 6:
		e.Tick(rapid.Int64Range(1, 30).Draw(rt, label+"Tick"))
	}
}

// sameProgress compares two states treating nil and empty collections alike.
func sameProgress(a, b models.OverallProgress) bool {
	if (a.CurrentStepID == nil) != (b.CurrentStepID == nil) {
		return false
	}
	if a.CurrentStepID != nil && *a.CurrentStepID != *b.CurrentStepID {
		return false
	}
	if !slices.Equal(a.CompletedStepIDs, b.CompletedStepIDs) || a.TotalTimeSpentSeconds != b.TotalTimeSpentSeconds {
		return false
	}
	if len(a.Steps) != len(b.Steps) {
		return false
	}
	for id, sa := range a.Steps {
		sb, ok := b.Steps[id]
		if !ok || sa.TimeSpentSeconds != sb.TimeSpentSeconds || !slices.Equal(sa.CompletedItemIDs, sb.CompletedItemIDs) {
			return false
		}
	}
	if len(a.Inputs) != len(b.Inputs) || (len(a.Inputs) > 0 && !maps.Equal(a.Inputs, b.Inputs)) {
		return false
	}
	if (a.Profile == nil) != (b.Profile == nil) {
		return false
	}
	return a.Profile == nil || *a.Profile == *b.Profile
}

type recordingPersister struct {
	mu    sync.Mutex
	saves []models.OverallProgress
}

func (r *recordingPersister) Save(_ context.Context, _ string, state *models.OverallProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, *state.Clone())
	return nil
}

func (r *recordingPersister) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingPersister) last() models.OverallProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}

var errStoreDown = errors.New("store unavailable")

// failingStore rejects every write and read.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errStoreDown }
func (failingStore) Put(context.Context, string, []byte) error   { return errStoreDown }
func (failingStore) Delete(context.Context, string) error        { return errStoreDown }

// rawStore serves fixed payloads.
type rawStore map[string][]byte

func (s rawStore) Get(_ context.Context, key string) ([]byte, error) {
	p, ok := s[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (s rawStore) Put(_ context.Context, key string, payload []byte) error {
	s[key] = payload
	return nil
}

func (s rawStore) Delete(_ context.Context, key string) error {
	delete(s, key)
	return nil
}
