package mcmc

import (
	"errors"
	"fmt"

	"github.com/ksachdeva/probability/pkg/stats"
)

// ErrNoReducers indicates a reductions wrapper with nothing to reduce.
var ErrNoReducers = errors.New("at least one reducer is required")

// ReductionResults is the results record of WithReductionsKernel. It only
// nests the inner record; the reducers themselves accumulate in place.
type ReductionResults struct {
	Inner KernelResults
}

// InnerResults returns the wrapped kernel's record.
func (r ReductionResults) InnerResults() KernelResults { return r.Inner }

// WithReductionsKernel wraps a kernel and folds every surfaced state into
// a set of streaming reducers.
//
// Unlike the kernels below it, the reducers are mutable accumulators, so a
// WithReductionsKernel value belongs to exactly one chain. Stack it
// outermost: when composed over a SampleDiscardingKernel only the
// surviving samples are reduced, never the discarded inner steps.
type WithReductionsKernel struct {
	inner    TransitionKernel
	reducers []stats.Reducer
}

// NewWithReductionsKernel wraps inner with the given reducers.
func NewWithReductionsKernel(inner TransitionKernel, reducers ...stats.Reducer) (*WithReductionsKernel, error) {
	if inner == nil {
		return nil, ErrNilInnerKernel
	}
	if len(reducers) == 0 {
		return nil, ErrNoReducers
	}
	return &WithReductionsKernel{inner: inner, reducers: reducers}, nil
}

// BootstrapResults delegates to the inner kernel. The initial state is
// not folded into the reducers; only surfaced steps are.
func (k *WithReductionsKernel) BootstrapResults(state State) (KernelResults, error) {
	inner, err := k.inner.BootstrapResults(state)
	if err != nil {
		return nil, err
	}
	return ReductionResults{Inner: inner}, nil
}

// OneStep advances the inner kernel once and pushes the surfaced state
// into every reducer.
func (k *WithReductionsKernel) OneStep(state State, previous KernelResults) (State, KernelResults, error) {
	prev, ok := previous.(ReductionResults)
	if !ok {
		return nil, nil, fmt.Errorf("previous results have type %T, want mcmc.ReductionResults", previous)
	}

	next, inner, err := k.inner.OneStep(state, prev.Inner)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range k.reducers {
		if err := r.Push(next); err != nil {
			return nil, nil, fmt.Errorf("reduce surfaced state: %w", err)
		}
	}
	return next, ReductionResults{Inner: inner}, nil
}

// IsCalibrated reports the inner kernel's flag unchanged.
func (k *WithReductionsKernel) IsCalibrated() bool { return k.inner.IsCalibrated() }
