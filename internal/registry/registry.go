// Package registry holds the static, ordered step definitions of every
// tutorial flow. Registries are immutable once built; a content update
// produces a new Catalog rather than changing an existing one.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ad/go-telegram-tutor/internal/models"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

// Flow, step and item ids travel in Telegram callback data such as
// "toggle:<step>:<item>", which is capped at MaxCallbackData bytes.
const (
	MaxCallbackData = 64
	IDSeparator     = ":"
	// longestAction is the widest action prefix, "toggle:".
	longestAction = len("toggle") + len(IDSeparator)
)

func checkID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s without id", ErrInvalidCatalog, kind)
	}
	if strings.Contains(id, IDSeparator) {
		return fmt.Errorf("%w: %s id %q contains %q", ErrInvalidCatalog, kind, id, IDSeparator)
	}
	if longestAction+len(id) > MaxCallbackData {
		return fmt.Errorf("%w: %s id %q is too long", ErrInvalidCatalog, kind, id)
	}
	return nil
}

// Registry is the ordered step catalog of one flow.
type Registry struct {
	id          string
	title       string
	description string
	steps       []models.Step
	index       map[string]int
}

// New validates steps and builds a registry. Step ids must be unique within
// the flow and item ids unique within their step; checklist steps need at
// least one item.
func New(id, title, description string, steps []models.Step) (*Registry, error) {
	if err := checkID("flow", id); err != nil {
		return nil, err
	}

	r := &Registry{
		id:          id,
		title:       title,
		description: description,
		steps:       make([]models.Step, 0, len(steps)),
		index:       make(map[string]int, len(steps)),
	}

	for _, step := range steps {
		if err := checkID("step", step.ID); err != nil {
			return nil, fmt.Errorf("flow %s: %w", id, err)
		}
		if _, dup := r.index[step.ID]; dup {
			return nil, fmt.Errorf("%w: flow %s: duplicate step %s", ErrInvalidCatalog, id, step.ID)
		}
		if step.Kind == "" {
			step.Kind = models.StepKindChecklist
		}
		if !step.Kind.IsValid() {
			return nil, fmt.Errorf("%w: flow %s: step %s has unknown kind %q", ErrInvalidCatalog, id, step.ID, step.Kind)
		}
		if step.Kind == models.StepKindChecklist && len(step.Items) == 0 {
			return nil, fmt.Errorf("%w: flow %s: checklist step %s has no items", ErrInvalidCatalog, id, step.ID)
		}

		seen := make(map[string]bool, len(step.Items))
		for _, item := range step.Items {
			if err := checkID("item", item.ID); err != nil {
				return nil, fmt.Errorf("flow %s: step %s: %w", id, step.ID, err)
			}
			if longestAction+len(step.ID)+len(IDSeparator)+len(item.ID) > MaxCallbackData {
				return nil, fmt.Errorf("%w: flow %s: step %s: ids of item %s do not fit in callback data", ErrInvalidCatalog, id, step.ID, item.ID)
			}
			if seen[item.ID] {
				return nil, fmt.Errorf("%w: flow %s: step %s: duplicate item %s", ErrInvalidCatalog, id, step.ID, item.ID)
			}
			seen[item.ID] = true
		}

		step.Items = slices.Clone(step.Items)
		r.index[step.ID] = len(r.steps)
		r.steps = append(r.steps, step)
	}

	return r, nil
}

func (r *Registry) ID() string          { return r.id }
func (r *Registry) Title() string       { return r.title }
func (r *Registry) Description() string { return r.description }
func (r *Registry) Len() int            { return len(r.steps) }

// Step returns a copy of the step definition.
func (r *Registry) Step(stepID string) (*models.Step, bool) {
	i, ok := r.index[stepID]
	if !ok {
		return nil, false
	}
	return r.stepCopy(i), true
}

func (r *Registry) stepCopy(i int) *models.Step {
	step := r.steps[i]
	step.Items = slices.Clone(step.Items)
	return &step
}

// StepAt returns the step at position i, or false when i is out of range.
func (r *Registry) StepAt(i int) (*models.Step, bool) {
	if i < 0 || i >= len(r.steps) {
		return nil, false
	}
	return r.stepCopy(i), true
}

// Index returns the position of stepID, or -1.
func (r *Registry) Index(stepID string) int {
	i, ok := r.index[stepID]
	if !ok {
		return -1
	}
	return i
}

func (r *Registry) HasStep(stepID string) bool {
	_, ok := r.index[stepID]
	return ok
}

func (r *Registry) HasItem(stepID, itemID string) bool {
	i, ok := r.index[stepID]
	if !ok {
		return false
	}
	return r.steps[i].HasItem(itemID)
}

func (r *Registry) StepIDs() []string {
	ids := make([]string, len(r.steps))
	for i, step := range r.steps {
		ids[i] = step.ID
	}
	return ids
}

func (r *Registry) Last() (*models.Step, bool) {
	return r.StepAt(len(r.steps) - 1)
}
