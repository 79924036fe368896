package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/ad/go-telegram-tutor/internal/db"
	"github.com/ad/go-telegram-tutor/internal/log"
	"github.com/ad/go-telegram-tutor/internal/models"
	"github.com/ad/go-telegram-tutor/internal/registry"
)

// ProgressStore is the durable key/value medium behind the adapter.
// Implementations return db.ErrNotFound for missing keys.
type ProgressStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, payload []byte) error
	Delete(ctx context.Context, key string) error
}

// InstanceKey namespaces one learner's progress in one flow.
func InstanceKey(flowID string, userID int64) string {
	return fmt.Sprintf("%s-checklist:%d", flowID, userID)
}

// PersistenceAdapter is the only reader and writer of stored progress. Saves
// are best effort: a failing store leaves the in-memory state authoritative
// and is reported through LastSaveError.
type PersistenceAdapter struct {
	store  ProgressStore
	logger logrus.FieldLogger

	mu         sync.Mutex
	lastErr    error
	lastSaveAt time.Time
	saved      bool
}

func NewPersistenceAdapter(store ProgressStore, logger logrus.FieldLogger) *PersistenceAdapter {
	return &PersistenceAdapter{
		store:  store,
		logger: log.For(logger, "services.PersistenceAdapter"),
	}
}

// Load returns the stored progress pruned against reg, or false when nothing
// usable is stored. Read and decode failures are logged, never returned.
func (p *PersistenceAdapter) Load(ctx context.Context, key string, reg *registry.Registry) (*models.OverallProgress, bool) {
	payload, err := p.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			p.logger.Warningf("Could not read progress %s, starting fresh: %v", key, err)
		}
		return nil, false
	}

	state, err := decodeProgress(payload)
	if err != nil {
		p.logger.Warningf("Discarding unreadable progress %s: %v", key, err)
		return nil, false
	}

	if dropped := PruneStale(reg, state); dropped > 0 {
		p.logger.Infof("Dropped %d stale references from progress %s", dropped, key)
	}
	return state, true
}

func (p *PersistenceAdapter) Save(ctx context.Context, key string, state *models.OverallProgress) error {
	payload, err := json.Marshal(state)
	if err == nil {
		err = p.store.Put(ctx, key, payload)
	}

	p.mu.Lock()
	p.lastErr = err
	if err == nil {
		p.lastSaveAt = time.Now()
		p.saved = true
	}
	p.mu.Unlock()

	if err != nil {
		return fmt.Errorf("could not save progress %s: %w", key, err)
	}
	return nil
}

func (p *PersistenceAdapter) Clear(ctx context.Context, key string) error {
	if err := p.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("could not clear progress %s: %w", key, err)
	}
	return nil
}

// LastSaveOK reports whether the most recent save reached the store.
func (p *PersistenceAdapter) LastSaveOK() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved && p.lastErr == nil
}

func (p *PersistenceAdapter) LastSaveError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *PersistenceAdapter) LastSaveAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSaveAt
}

func decodeProgress(payload []byte) (*models.OverallProgress, error) {
	var state models.OverallProgress
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, err
	}
	if state.TotalTimeSpentSeconds < 0 {
		return nil, fmt.Errorf("negative total time %d", state.TotalTimeSpentSeconds)
	}
	for id, sp := range state.Steps {
		if sp == nil {
			return nil, fmt.Errorf("step %s has no progress", id)
		}
		if sp.TimeSpentSeconds < 0 {
			return nil, fmt.Errorf("step %s has negative time %d", id, sp.TimeSpentSeconds)
		}
	}
	if state.CompletedStepIDs == nil {
		state.CompletedStepIDs = []string{}
	}
	if state.Steps == nil {
		state.Steps = make(map[string]*models.StepProgress)
	}
	return &state, nil
}

// PruneStale removes every reference to steps or items reg no longer defines
// and returns how many were dropped. A current step that disappeared moves the
// learner back to the first step.
func PruneStale(reg *registry.Registry, state *models.OverallProgress) int {
	dropped := 0

	for stepID, sp := range state.Steps {
		step, ok := reg.Step(stepID)
		if !ok {
			delete(state.Steps, stepID)
			dropped++
			continue
		}
		kept := make([]string, 0, len(sp.CompletedItemIDs))
		for _, itemID := range sp.CompletedItemIDs {
			if step.HasItem(itemID) {
				kept = append(kept, itemID)
			} else {
				dropped++
			}
		}
		// Rebuild through SetItem so the set is sorted and unique even if the
		// payload was edited by hand.
		sp.CompletedItemIDs = []string{}
		for _, itemID := range kept {
			sp.SetItem(itemID, true)
		}
	}

	completed := make([]string, 0, len(state.CompletedStepIDs))
	for _, stepID := range state.CompletedStepIDs {
		if reg.HasStep(stepID) {
			completed = append(completed, stepID)
		} else {
			dropped++
		}
	}
	state.CompletedStepIDs = []string{}
	for _, stepID := range completed {
		state.SetStepCompleted(stepID, true)
	}

	for stepID := range state.Inputs {
		if !reg.HasStep(stepID) {
			delete(state.Inputs, stepID)
			dropped++
		}
	}

	if state.CurrentStepID != nil && !reg.HasStep(*state.CurrentStepID) {
		dropped++
		state.CurrentStepID = nil
		if first, ok := reg.StepAt(0); ok {
			state.SetCurrentStep(first.ID)
			state.Step(first.ID)
		}
	}

	return dropped
}
