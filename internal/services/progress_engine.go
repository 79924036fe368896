package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/registry"
)

const DefaultTickSaveInterval = 5 * time.Second

// Persister writes the durable copy of a tutorial instance.
type Persister interface {
	Save(ctx context.Context, key string, state *models.OverallProgress) error
}

type EngineOption func(*ProgressEngine)

// WithPersistence saves state under key after every mutation.
func WithPersistence(p Persister, key string) EngineOption {
	return func(e *ProgressEngine) {
		e.persister = p
		e.key = key
	}
}

// WithStepCompleteHook registers fn for every transition of a step into the
// complete state.
func WithStepCompleteHook(fn func(stepID string)) EngineOption {
	return func(e *ProgressEngine) {
		e.onComplete = append(e.onComplete, fn)
	}
}

// WithStepReopenedHook registers fn for every transition of a step out of the
// complete state (un-check, reset).
func WithStepReopenedHook(fn func(stepID string)) EngineOption {
	return func(e *ProgressEngine) {
		e.onReopened = append(e.onReopened, fn)
	}
}

// WithTickSaveInterval limits how often elapsed-time ticks are persisted.
func WithTickSaveInterval(d time.Duration) EngineOption {
	return func(e *ProgressEngine) {
		e.tickSave = &rate.Sometimes{Interval: d}
	}
}

func WithEngineLogger(l logrus.FieldLogger) EngineOption {
	return func(e *ProgressEngine) {
		e.logger = l
	}
}

type stepEvent struct {
	stepID   string
	complete bool
}

// ProgressEngine owns the in-memory progress of one tutorial instance and the
// step state machine. Unknown step or item ids are ignored so a content update
// can never break a learner with older saved progress.
type ProgressEngine struct {
	reg *registry.Registry

	mu    sync.Mutex
	state *models.OverallProgress

	// saveMu orders snapshots and writes so a slower save never overwrites
	// a newer one.
	saveMu    sync.Mutex
	persister Persister
	key       string
	tickSave  *rate.Sometimes

	onComplete []func(string)
	onReopened []func(string)
	logger     logrus.FieldLogger
}

// NewProgressEngine builds an engine over reg. A nil state starts fresh; a
// non-nil state is used as is and must already be pruned against reg.
func NewProgressEngine(reg *registry.Registry, state *models.OverallProgress, opts ...EngineOption) *ProgressEngine {
	if state == nil {
		state = models.NewOverallProgress()
	}
	e := &ProgressEngine{
		reg:      reg,
		state:    state,
		tickSave: &rate.Sometimes{Interval: DefaultTickSaveInterval},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.For(e.logger, "services.ProgressEngine").WithField("flow", reg.ID())
	return e
}

func (e *ProgressEngine) Registry() *registry.Registry {
	return e.reg
}

// Start moves NotStarted to the first step.
func (e *ProgressEngine) Start() {
	e.mutate(func() []stepEvent {
		if e.state.IsStarted() {
			return nil
		}
		e.activate(0)
		return nil
	})
}

func (e *ProgressEngine) AdvanceStep() {
	e.mutate(func() []stepEvent {
		if !e.state.IsStarted() {
			e.activate(0)
			return nil
		}
		i := e.reg.Index(*e.state.CurrentStepID)
		if i+1 < e.reg.Len() {
			e.activate(i + 1)
		}
		return nil
	})
}

func (e *ProgressEngine) RetreatStep() {
	e.mutate(func() []stepEvent {
		if !e.state.IsStarted() {
			return nil
		}
		i := e.reg.Index(*e.state.CurrentStepID)
		if i > 0 {
			e.activate(i - 1)
		}
		return nil
	})
}

func (e *ProgressEngine) JumpToStep(stepID string) {
	e.mutate(func() []stepEvent {
		i := e.reg.Index(stepID)
		if i < 0 {
			e.logger.Debugf("Ignoring jump to unknown step %q", stepID)
			return nil
		}
		e.activate(i)
		return nil
	})
}

// ToggleItem checks or unchecks one item. Reaching 100% on a checklist step
// completes it; dropping below 100% reopens a completed step.
func (e *ProgressEngine) ToggleItem(stepID, itemID string, checked bool) {
	e.mutate(func() []stepEvent {
		step, ok := e.reg.Step(stepID)
		if !ok || !step.HasItem(itemID) {
			e.logger.Debugf("Ignoring toggle of unknown item %q/%q", stepID, itemID)
			return nil
		}

		sp := e.state.Step(stepID)
		if !sp.SetItem(itemID, checked) {
			return nil
		}

		full := sp.PercentComplete(step) >= 1
		switch {
		case full && step.Kind.CompletesByChecklist() && e.state.SetStepCompleted(stepID, true):
			return []stepEvent{{stepID: stepID, complete: true}}
		case !full && e.state.SetStepCompleted(stepID, false):
			return []stepEvent{{stepID: stepID, complete: false}}
		}
		return nil
	})
}

// MarkStepComplete completes a step regardless of its checklist, checking
// every defined item.
func (e *ProgressEngine) MarkStepComplete(stepID string) {
	e.mutate(func() []stepEvent {
		step, ok := e.reg.Step(stepID)
		if !ok {
			e.logger.Debugf("Ignoring completion of unknown step %q", stepID)
			return nil
		}
		sp := e.state.Step(stepID)
		for _, item := range step.Items {
			sp.SetItem(item.ID, true)
		}
		if e.state.SetStepCompleted(stepID, true) {
			return []stepEvent{{stepID: stepID, complete: true}}
		}
		return nil
	})
}

// ResetStep clears the items and elapsed time of one step and its completion.
// The current step and every other step are untouched.
func (e *ProgressEngine) ResetStep(stepID string) {
	e.mutate(func() []stepEvent {
		if !e.reg.HasStep(stepID) {
			return nil
		}
		sp := e.state.Step(stepID)
		sp.CompletedItemIDs = []string{}
		sp.TimeSpentSeconds = 0
		if e.state.Inputs != nil {
			delete(e.state.Inputs, stepID)
		}
		if e.state.SetStepCompleted(stepID, false) {
			return []stepEvent{{stepID: stepID, complete: false}}
		}
		return nil
	})
}

// ResetProgress discards everything, returning the instance to NotStarted.
func (e *ProgressEngine) ResetProgress() {
	e.mutate(func() []stepEvent {
		var events []stepEvent
		for _, id := range e.state.CompletedStepIDs {
			events = append(events, stepEvent{stepID: id, complete: false})
		}
		e.state = models.NewOverallProgress()
		return events
	})
}

// SetInput records the value a learner entered on a data entry step.
func (e *ProgressEngine) SetInput(stepID, value string) {
	e.mutate(func() []stepEvent {
		if !e.reg.HasStep(stepID) {
			return nil
		}
		if e.state.Inputs == nil {
			e.state.Inputs = make(map[string]string)
		}
		e.state.Inputs[stepID] = value
		return nil
	})
}

func (e *ProgressEngine) Input(stepID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Inputs[stepID]
}

func (e *ProgressEngine) SetProfile(profile *models.Profile) {
	e.mutate(func() []stepEvent {
		if profile == nil {
			e.state.Profile = nil
			return nil
		}
		p := *profile
		e.state.Profile = &p
		return nil
	})
}

// Tick credits elapsed seconds to the total and to the current step. Ticks
// are persisted at most once per tick save interval.
func (e *ProgressEngine) Tick(seconds int64) {
	if seconds <= 0 {
		return
	}
	e.mu.Lock()
	e.state.TotalTimeSpentSeconds += seconds
	if e.state.IsStarted() {
		e.state.Step(*e.state.CurrentStepID).TimeSpentSeconds += seconds
	}
	e.mu.Unlock()

	e.tickSave.Do(func() { e.persist(context.Background()) })
}

// Flush persists the current state unconditionally.
func (e *ProgressEngine) Flush(ctx context.Context) {
	e.persist(ctx)
}

func (e *ProgressEngine) StepPercent(stepID string) float64 {
	step, ok := e.reg.Step(stepID)
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sp, ok := e.state.Steps[stepID]
	if !ok {
		sp = &models.StepProgress{}
	}
	return sp.PercentComplete(step)
}

// OverallPercent is the share of registry steps that are complete, computed
// on every call.
func (e *ProgressEngine) OverallPercent() float64 {
	if e.reg.Len() == 0 {
		return 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	done := 0
	for _, id := range e.state.CompletedStepIDs {
		if e.reg.HasStep(id) {
			done++
		}
	}
	return float64(done) / float64(e.reg.Len())
}

func (e *ProgressEngine) IsStepComplete(stepID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.IsStepCompleted(stepID)
}

func (e *ProgressEngine) IsFlowComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.reg.StepIDs() {
		if !e.state.IsStepCompleted(id) {
			return false
		}
	}
	return true
}

// CurrentStep returns the active step, or false before the tutorial starts.
func (e *ProgressEngine) CurrentStep() (*models.Step, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.IsStarted() {
		return nil, false
	}
	return e.reg.Step(*e.state.CurrentStepID)
}

func (e *ProgressEngine) CurrentIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.IsStarted() {
		return -1
	}
	return e.reg.Index(*e.state.CurrentStepID)
}

// Snapshot returns a deep copy of the current state.
func (e *ProgressEngine) Snapshot() models.OverallProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.state.Clone()
}

func (e *ProgressEngine) activate(i int) {
	step, ok := e.reg.StepAt(i)
	if !ok {
		return
	}
	e.state.SetCurrentStep(step.ID)
	e.state.Step(step.ID)
}

// mutate applies fn under the lock, persists, then runs hooks for the
// completion transitions fn reported. Hooks run on the caller's goroutine
// after the state is saved and may call back into the engine.
func (e *ProgressEngine) mutate(fn func() []stepEvent) {
	e.mu.Lock()
	events := fn()
	e.mu.Unlock()

	e.persist(context.Background())

	for _, ev := range events {
		hooks := e.onReopened
		if ev.complete {
			e.logger.Infof("Step %s complete", ev.stepID)
			hooks = e.onComplete
		}
		for _, hook := range hooks {
			hook(ev.stepID)
		}
	}
}

func (e *ProgressEngine) persist(ctx context.Context) {
	if e.persister == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	snapshot := e.state.Clone()
	e.mu.Unlock()

	if err := e.persister.Save(ctx, e.key, snapshot); err != nil {
		e.logger.Warningf("Progress kept in memory only, save failed: %v", err)
	}
}
