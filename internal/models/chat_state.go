package models

import "time"

// ChatState remembers which wizard a chat has open and which message renders it.
type ChatState struct {
	UserID            int64
	ActiveFlowID      string
	WizardMessageID   int
	State             string
	AwaitingInputStep string
	UpdatedAt         time.Time
}
