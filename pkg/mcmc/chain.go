package mcmc

import (
	"context"
	"errors"
)

// ErrInvalidNumResults indicates a non-positive number of requested draws.
var ErrInvalidNumResults = errors.New("number of results must be positive")

// StepFn receives each surfaced draw during RunChainFunc. Returning an
// error stops the chain.
type StepFn func(index int, state State, results KernelResults) error

// RunChainFunc bootstraps the kernel at initial and performs numResults
// sequential OneStep calls, invoking fn after each surfaced draw. It
// returns the final state and results.
//
// Cancellation is checked between outer calls only; an individual
// OneStep always runs to completion or fails.
func RunChainFunc(ctx context.Context, kernel TransitionKernel, initial State, numResults int, fn StepFn) (State, KernelResults, error) {
	if numResults <= 0 {
		return nil, nil, ErrInvalidNumResults
	}

	results, err := kernel.BootstrapResults(initial)
	if err != nil {
		return nil, nil, err
	}

	state := initial
	for i := 0; i < numResults; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		state, results, err = kernel.OneStep(state, results)
		if err != nil {
			return nil, nil, err
		}
		if fn != nil {
			if err := fn(i, state, results); err != nil {
				return nil, nil, err
			}
		}
	}
	return state, results, nil
}

// RunChain runs a chain and collects every surfaced draw.
func RunChain(ctx context.Context, kernel TransitionKernel, initial State, numResults int) ([]State, KernelResults, error) {
	if numResults <= 0 {
		return nil, nil, ErrInvalidNumResults
	}
	draws := make([]State, 0, numResults)
	_, results, err := RunChainFunc(ctx, kernel, initial, numResults, func(_ int, state State, _ KernelResults) error {
		draws = append(draws, state.Clone())
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return draws, results, nil
}
