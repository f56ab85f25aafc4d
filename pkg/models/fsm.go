package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[RunStatus]map[RunStatus]bool{
	RunStatusQueued: {
		RunStatusRunning:  true, // Queued → Running (worker slot free)
		RunStatusCanceled: true, // Queued → Canceled (user cancels before start)
	},
	RunStatusRunning: {
		RunStatusCompleted: true, // Running → Completed (all draws collected)
		RunStatusFailed:    true, // Running → Failed (kernel or storage error)
		RunStatusCanceled:  true, // Running → Canceled (user cancels mid-run)
	},
	// Terminal states (no transitions allowed)
	RunStatusCompleted: {},
	RunStatusFailed:    {},
	RunStatusCanceled:  {},
}

// ValidateTransition checks if a run state transition is valid
func ValidateTransition(from, to RunStatus) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if the state is terminal (no further transitions)
func IsTerminalState(state RunStatus) bool {
	return state == RunStatusCompleted || state == RunStatusFailed || state == RunStatusCanceled
}

// IsActiveState returns true if the run is actively being advanced
func IsActiveState(state RunStatus) bool {
	return state == RunStatusRunning
}

// CanCancel returns true if a run can be canceled from this state
func CanCancel(state RunStatus) bool {
	return state == RunStatusQueued || state == RunStatusRunning
}
