package models

import (
	"fmt"
	"time"
)

// RunStatus represents the status of a sampling run
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"    // Run accepted, waiting for a worker slot
	RunStatusRunning   RunStatus = "running"   // Chain is being advanced
	RunStatusCompleted RunStatus = "completed" // All requested draws collected
	RunStatusFailed    RunStatus = "failed"    // Kernel or storage failure
	RunStatusCanceled  RunStatus = "canceled"  // Explicitly canceled by user
)

// KernelSpec describes the chain a run should execute: the target
// distribution, the random-walk proposal, and the discard policy.
type KernelSpec struct {
	Target              string  `json:"target" yaml:"target"`
	Dims                int     `json:"dims" yaml:"dims"`
	StepSize            float64 `json:"step_size" yaml:"step_size"`
	BurninSteps         int64   `json:"burnin_steps" yaml:"burnin_steps"`
	StepsBetweenResults int64   `json:"steps_between_results" yaml:"steps_between_results"`
	NumResults          int     `json:"num_results" yaml:"num_results"`
	Seed                int64   `json:"seed" yaml:"seed"`
}

// Validate checks a spec before a run is accepted.
func (s *KernelSpec) Validate() error {
	if s.Target == "" {
		return fmt.Errorf("target is required")
	}
	if s.Dims <= 0 {
		return fmt.Errorf("dims must be positive, got %d", s.Dims)
	}
	if s.StepSize <= 0 {
		return fmt.Errorf("step_size must be positive, got %v", s.StepSize)
	}
	if s.BurninSteps < 0 {
		return fmt.Errorf("burnin_steps must be non-negative, got %d", s.BurninSteps)
	}
	if s.StepsBetweenResults < 0 {
		return fmt.Errorf("steps_between_results must be non-negative, got %d", s.StepsBetweenResults)
	}
	if s.NumResults <= 0 {
		return fmt.Errorf("num_results must be positive, got %d", s.NumResults)
	}
	return nil
}

// Run represents one sampling run through its lifecycle
type Run struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Spec             KernelSpec        `json:"spec"`
	Status           RunStatus         `json:"status"`
	Progress         int               `json:"progress"` // surfaced draws so far
	AcceptanceRate   float64           `json:"acceptance_rate,omitempty"`
	Error            string            `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	StateTransitions []StateTransition `json:"state_transitions,omitempty"`
}

// RunRequest represents a request to submit a new run
type RunRequest struct {
	Name string     `json:"name,omitempty"`
	Spec KernelSpec `json:"spec"`
}

// Sample is one surfaced draw of a run, with the diagnostics captured
// from the kernel's results record at that draw.
type Sample struct {
	RunID         string    `json:"run_id"`
	Index         int       `json:"index"`
	State         []float64 `json:"state"`
	TargetLogProb float64   `json:"target_log_prob"`
	Accepted      bool      `json:"accepted"`
}

// StateTransition tracks run state changes with timestamps
type StateTransition struct {
	From      RunStatus `json:"from"`
	To        RunStatus `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}
