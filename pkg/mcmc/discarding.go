package mcmc

import (
	"errors"
	"fmt"
)

// ErrNilInnerKernel indicates a wrapper was constructed without an inner kernel.
var ErrNilInnerKernel = errors.New("inner kernel must not be nil")

// ErrNegativeSteps indicates a negative burn-in or thinning count.
var ErrNegativeSteps = errors.New("step counts must be non-negative")

// DiscardingResults is the results record of SampleDiscardingKernel.
//
// CallCounter counts outer OneStep calls since the record was produced by
// BootstrapResults. It never resets on its own; only a fresh
// BootstrapResults call starts a new lineage at zero.
type DiscardingResults struct {
	CallCounter uint64
	Inner       KernelResults
}

// InnerResults returns the wrapped kernel's record for the last inner step.
func (r DiscardingResults) InnerResults() KernelResults { return r.Inner }

// SampleDiscardingKernel wraps a kernel and discards samples, exposing only
// every (thinning+1)-th inner step and swallowing an initial burn-in run.
//
// The first OneStep after BootstrapResults takes
// burnin + thinning + 1 inner steps; every later OneStep takes
// thinning + 1. Which case applies is recovered entirely from the
// CallCounter in the threaded results record, so the kernel itself holds
// no mutable state and works inside any caller-owned loop, including one
// that re-enters the call body with opaque values.
type SampleDiscardingKernel struct {
	inner                  TransitionKernel
	numBurninSteps         uint64
	numStepsBetweenResults uint64
}

// NewSampleDiscardingKernel wraps inner with burn-in and thinning.
// Negative counts are rejected here rather than surfacing later as a
// bad step count mid-run.
func NewSampleDiscardingKernel(inner TransitionKernel, numBurninSteps, numStepsBetweenResults int64) (*SampleDiscardingKernel, error) {
	if inner == nil {
		return nil, ErrNilInnerKernel
	}
	if numBurninSteps < 0 || numStepsBetweenResults < 0 {
		return nil, fmt.Errorf("%w: burnin=%d, between=%d", ErrNegativeSteps, numBurninSteps, numStepsBetweenResults)
	}
	return &SampleDiscardingKernel{
		inner:                  inner,
		numBurninSteps:         uint64(numBurninSteps),
		numStepsBetweenResults: uint64(numStepsBetweenResults),
	}, nil
}

// NumBurninSteps returns the configured burn-in count.
func (k *SampleDiscardingKernel) NumBurninSteps() uint64 { return k.numBurninSteps }

// NumStepsBetweenResults returns the configured thinning interval.
func (k *SampleDiscardingKernel) NumStepsBetweenResults() uint64 { return k.numStepsBetweenResults }

// BootstrapResults delegates to the inner kernel and starts the call
// counter at zero. No inner steps are taken; burn-in happens on the first
// OneStep.
//
// Calling BootstrapResults on an arbitrary state, including one taken
// mid-run from a previous chain, is a supported cold start: the next
// OneStep re-applies the full burn-in.
func (k *SampleDiscardingKernel) BootstrapResults(state State) (KernelResults, error) {
	inner, err := k.inner.BootstrapResults(state)
	if err != nil {
		return nil, err
	}
	return DiscardingResults{CallCounter: 0, Inner: inner}, nil
}

// OneStep advances the inner kernel the computed number of times and
// surfaces only the final inner state and results. If any inner step
// fails, the error is returned as-is and no partial results are produced.
func (k *SampleDiscardingKernel) OneStep(state State, previous KernelResults) (State, KernelResults, error) {
	prev, ok := previous.(DiscardingResults)
	if !ok {
		return nil, nil, fmt.Errorf("previous results have type %T, want mcmc.DiscardingResults", previous)
	}

	steps := k.numStepsBetweenResults + 1
	if prev.CallCounter == 0 {
		steps += k.numBurninSteps
	}

	current := state
	inner := prev.Inner
	var err error
	for i := uint64(0); i < steps; i++ {
		current, inner, err = k.inner.OneStep(current, inner)
		if err != nil {
			return nil, nil, err
		}
	}

	return current, DiscardingResults{
		CallCounter: prev.CallCounter + 1,
		Inner:       inner,
	}, nil
}

// IsCalibrated reports the inner kernel's flag unchanged; discarding
// samples does not affect calibration.
func (k *SampleDiscardingKernel) IsCalibrated() bool { return k.inner.IsCalibrated() }
