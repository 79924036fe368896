package models

import "slices"

// StepProgress is the mutable progress of one step. CompletedItemIDs is kept
// sorted and free of duplicates so two progress values with the same set of
// checked items compare equal.
type StepProgress struct {
	CompletedItemIDs []string `json:"completedItemIds"`
	TimeSpentSeconds int64    `json:"timeSpentSeconds"`
}

func (p *StepProgress) HasItem(itemID string) bool {
	_, found := slices.BinarySearch(p.CompletedItemIDs, itemID)
	return found
}

// SetItem adds or removes itemID and reports whether the set changed.
func (p *StepProgress) SetItem(itemID string, checked bool) bool {
	i, found := slices.BinarySearch(p.CompletedItemIDs, itemID)
	switch {
	case checked && !found:
		p.CompletedItemIDs = slices.Insert(p.CompletedItemIDs, i, itemID)
		return true
	case !checked && found:
		p.CompletedItemIDs = slices.Delete(p.CompletedItemIDs, i, i+1)
		return true
	}
	return false
}

// PercentComplete returns the checked share of the step's defined items in
// the range [0, 1]. Ids that the step no longer defines are not counted. A
// step without items counts as complete.
func (p *StepProgress) PercentComplete(step *Step) float64 {
	if len(step.Items) == 0 {
		return 1
	}
	done := 0
	for _, item := range step.Items {
		if p.HasItem(item.ID) {
			done++
		}
	}
	return float64(done) / float64(len(step.Items))
}

func (p *StepProgress) Clone() *StepProgress {
	return &StepProgress{
		CompletedItemIDs: slices.Clone(p.CompletedItemIDs),
		TimeSpentSeconds: p.TimeSpentSeconds,
	}
}

// OverallProgress is the complete persisted state of one tutorial instance.
type OverallProgress struct {
	CurrentStepID         *string                  `json:"currentStepId"`
	CompletedStepIDs      []string                 `json:"completedStepIds"`
	Steps                 map[string]*StepProgress `json:"steps"`
	TotalTimeSpentSeconds int64                    `json:"totalTimeSpentSeconds"`
	Inputs                map[string]string        `json:"inputs,omitempty"`
	Profile               *Profile                 `json:"profile,omitempty"`
}

func NewOverallProgress() *OverallProgress {
	return &OverallProgress{
		CompletedStepIDs: []string{},
		Steps:            make(map[string]*StepProgress),
	}
}

func (o *OverallProgress) IsStarted() bool {
	return o.CurrentStepID != nil
}

func (o *OverallProgress) IsStepCompleted(stepID string) bool {
	_, found := slices.BinarySearch(o.CompletedStepIDs, stepID)
	return found
}

// SetStepCompleted adds or removes stepID and reports whether the set changed.
func (o *OverallProgress) SetStepCompleted(stepID string, completed bool) bool {
	i, found := slices.BinarySearch(o.CompletedStepIDs, stepID)
	switch {
	case completed && !found:
		o.CompletedStepIDs = slices.Insert(o.CompletedStepIDs, i, stepID)
		return true
	case !completed && found:
		o.CompletedStepIDs = slices.Delete(o.CompletedStepIDs, i, i+1)
		return true
	}
	return false
}

// Step returns the progress of stepID, creating an empty one on first use.
func (o *OverallProgress) Step(stepID string) *StepProgress {
	if o.Steps == nil {
		o.Steps = make(map[string]*StepProgress)
	}
	p, ok := o.Steps[stepID]
	if !ok {
		p = &StepProgress{CompletedItemIDs: []string{}}
		o.Steps[stepID] = p
	}
	return p
}

func (o *OverallProgress) SetCurrentStep(stepID string) {
	id := stepID
	o.CurrentStepID = &id
}

func (o *OverallProgress) Clone() *OverallProgress {
	c := &OverallProgress{
		CompletedStepIDs:      slices.Clone(o.CompletedStepIDs),
		Steps:                 make(map[string]*StepProgress, len(o.Steps)),
		TotalTimeSpentSeconds: o.TotalTimeSpentSeconds,
	}
	if c.CompletedStepIDs == nil {
		c.CompletedStepIDs = []string{}
	}
	if o.CurrentStepID != nil {
		c.SetCurrentStep(*o.CurrentStepID)
	}
	for id, p := range o.Steps {
		c.Steps[id] = p.Clone()
	}
	if o.Inputs != nil {
		c.Inputs = make(map[string]string, len(o.Inputs))
		for k, v := range o.Inputs {
			c.Inputs[k] = v
		}
	}
	if o.Profile != nil {
		profile := *o.Profile
		c.Profile = &profile
	}
	return c
}
