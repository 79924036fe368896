package models

type Step struct {
	ID                string
	Title             string
	Description       string
	EstimatedDuration string
	Kind              StepKind
	Items             []ChecklistItem
	InputPrompt       string
}

type ChecklistItem struct {
	ID          string
	Label       string
	Description string
}

func (s *Step) HasItem(itemID string) bool {
	for _, item := range s.Items {
		if item.ID == itemID {
			return true
		}
	}
	return false
}

func (s *Step) ItemIDs() []string {
	ids := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		ids = append(ids, item.ID)
	}
	return ids
}
