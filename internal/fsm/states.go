// Package fsm names the states a chat moves through while using the tutor.
package fsm

const (
	// StateMenu shows the list of flows; nothing is tracked.
	StateMenu = "menu"
	// StateViewing has a wizard message open and the timer running.
	StateViewing = "viewing"
	// StateAwaitingInput is StateViewing on a data entry step: the next text
	// message is taken as the step's input.
	StateAwaitingInput = "awaiting_input"
	// StateFinished shows the completion message of a flow.
	StateFinished = "finished"
	// StateClosed is a wizard closed by /stop or the idle sweep.
	StateClosed = "closed"
)

var known = map[string]bool{
	StateMenu:          true,
	StateViewing:       true,
	StateAwaitingInput: true,
	StateFinished:      true,
	StateClosed:        true,
}

func IsValid(state string) bool {
	return known[state]
}

// IsOpen reports whether a wizard message is live in this state.
func IsOpen(state string) bool {
	return state == StateViewing || state == StateAwaitingInput
}
