package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/registry"
)

var (
	ErrNoLookup       = errors.New("this flow has no connection test")
	ErrNotDataEntry   = errors.New("step does not accept input")
	ErrEmptyInput     = errors.New("input is empty")
	ErrNotOnFinalStep = errors.New("finish is only available on the last step")
	ErrFinalStepOpen  = errors.New("check every item of the last step first")
)

type WizardOption func(*Wizard)

func WithLookup(l Lookup) WizardOption {
	return func(w *Wizard) { w.lookup = l }
}

// WithFlowCompleteHook is called once each time the final step is finished.
func WithFlowCompleteHook(fn func(final models.OverallProgress)) WizardOption {
	return func(w *Wizard) { w.onFlowComplete = append(w.onFlowComplete, fn) }
}

// WithWizardStepCompleteHook forwards the engine's step completion signal.
func WithWizardStepCompleteHook(fn func(stepID string)) WizardOption {
	return func(w *Wizard) { w.onStepComplete = append(w.onStepComplete, fn) }
}

// Wizard is one guided flow: a registry, its progress engine and the rule for
// when the flow counts as finished.
type Wizard struct {
	reg    *registry.Registry
	engine *ProgressEngine
	lookup Lookup

	onFlowComplete []func(models.OverallProgress)
	onStepComplete []func(string)

	mu       sync.Mutex
	finished bool
}

// NewWizard builds the engine with hooks wired to the wizard. engineOpts are
// passed through to NewProgressEngine.
func NewWizard(reg *registry.Registry, state *models.OverallProgress, engineOpts []EngineOption, opts ...WizardOption) *Wizard {
	w := &Wizard{reg: reg}
	for _, opt := range opts {
		opt(w)
	}

	engineOpts = append(engineOpts,
		WithStepCompleteHook(w.stepCompleted),
		WithStepReopenedHook(w.stepReopened),
	)
	w.engine = NewProgressEngine(reg, state, engineOpts...)

	if last, ok := reg.Last(); ok {
		w.finished = w.engine.IsStepComplete(last.ID)
	}
	return w
}

func (w *Wizard) Engine() *ProgressEngine      { return w.engine }
func (w *Wizard) Registry() *registry.Registry { return w.reg }
func (w *Wizard) HasLookup() bool              { return w.lookup != nil }

// Finished reports whether the final step is currently complete.
func (w *Wizard) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

// CanAdvance reports whether the current step is complete. Navigation is never
// blocked; the UI uses this to highlight the next button.
func (w *Wizard) CanAdvance() bool {
	step, ok := w.engine.CurrentStep()
	if !ok {
		return true
	}
	return w.engine.IsStepComplete(step.ID)
}

func (w *Wizard) IsOnLastStep() bool {
	return w.engine.CurrentIndex() == w.reg.Len()-1
}

// Finish is the explicit finish action on the last step. Steps without a
// checklist are marked complete; a checklist step must already be at 100%.
func (w *Wizard) Finish() error {
	step, ok := w.engine.CurrentStep()
	if !ok || !w.IsOnLastStep() {
		return ErrNotOnFinalStep
	}

	if w.engine.IsStepComplete(step.ID) {
		w.fireFlowComplete()
		return nil
	}
	if step.Kind.CompletesByChecklist() {
		return ErrFinalStepOpen
	}
	w.engine.MarkStepComplete(step.ID)
	return nil
}

// SubmitInput stores free-form input for a data entry step and completes it.
func (w *Wizard) SubmitInput(stepID, value string) error {
	step, ok := w.reg.Step(stepID)
	if !ok || step.Kind != models.StepKindDataEntry {
		return ErrNotDataEntry
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrEmptyInput
	}
	w.engine.SetInput(stepID, value)
	w.engine.MarkStepComplete(stepID)
	return nil
}

// TestConnection runs one lookup. A found profile is stored with the progress;
// any failure is returned untouched for the learner to see and retry.
func (w *Wizard) TestConnection(ctx context.Context, identifier string) (*models.Profile, error) {
	if w.lookup == nil {
		return nil, ErrNoLookup
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrEmptyInput
	}
	profile, err := w.lookup.Attempt(ctx, identifier)
	if err != nil {
		return nil, err
	}
	w.engine.SetProfile(profile)
	return profile, nil
}

// LookupIdentifier returns the latest data entry value of the flow, used as
// the default connection test input.
func (w *Wizard) LookupIdentifier() string {
	for i := w.reg.Len() - 1; i >= 0; i-- {
		step, _ := w.reg.StepAt(i)
		if step.Kind != models.StepKindDataEntry {
			continue
		}
		if v := w.engine.Input(step.ID); v != "" {
			return v
		}
	}
	return ""
}

func (w *Wizard) stepCompleted(stepID string) {
	for _, fn := range w.onStepComplete {
		fn(stepID)
	}
	if last, ok := w.reg.Last(); ok && last.ID == stepID {
		w.fireFlowComplete()
	}
}

func (w *Wizard) stepReopened(stepID string) {
	if last, ok := w.reg.Last(); ok && last.ID == stepID {
		w.mu.Lock()
		w.finished = false
		w.mu.Unlock()
	}
}

func (w *Wizard) fireFlowComplete() {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return
	}
	w.finished = true
	w.mu.Unlock()

	final := w.engine.Snapshot()
	for _, fn := range w.onFlowComplete {
		fn(final)
	}
}
