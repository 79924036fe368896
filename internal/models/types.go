package models

type StepKind string

const (
	StepKindChecklist StepKind = "checklist"
	StepKindDataEntry StepKind = "data_entry"
	StepKindInfo      StepKind = "info"
)

func (k StepKind) IsValid() bool {
	switch k {
	case StepKindChecklist, StepKindDataEntry, StepKindInfo:
		return true
	default:
		return false
	}
}

// CompletesByChecklist reports whether checking every item is enough to finish
// a step of this kind. Other kinds only finish through an explicit action.
func (k StepKind) CompletesByChecklist() bool {
	return k == StepKindChecklist
}
