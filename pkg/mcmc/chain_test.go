package mcmc

import (
	"context"
	"errors"
	"testing"
)

func TestRunChainCollectsDraws(t *testing.T) {
	draws, results, err := RunChain(context.Background(), testKernel{calibrated: true}, State{0}, 5)
	if err != nil {
		t.Fatalf("RunChain: %v", err)
	}
	if len(draws) != 5 {
		t.Fatalf("got %d draws, want 5", len(draws))
	}
	for i, d := range draws {
		if d[0] != float64(i+1) {
			t.Errorf("draw %d = %v, want %d", i, d[0], i+1)
		}
	}
	if got := results.(testKernelResults).Counter1; got != 5 {
		t.Errorf("final counter = %d, want 5", got)
	}
}

func TestRunChainFuncStopsOnCallbackError(t *testing.T) {
	sentinel := errors.New("stop here")
	calls := 0
	_, _, err := RunChainFunc(context.Background(), testKernel{}, State{0}, 10, func(i int, _ State, _ KernelResults) error {
		calls++
		if i == 2 {
			return sentinel
		}
		return nil
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if calls != 3 {
		t.Errorf("callback called %d times, want 3", calls)
	}
}

func TestRunChainHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := RunChainFunc(ctx, testKernel{}, State{0}, 100, func(i int, _ State, _ KernelResults) error {
		calls++
		if i == 4 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 5 {
		t.Errorf("took %d steps after cancel requested, want 5", calls)
	}
}

func TestRunChainValidatesNumResults(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, _, err := RunChain(context.Background(), testKernel{}, State{0}, n); !errors.Is(err, ErrInvalidNumResults) {
			t.Errorf("numResults=%d: err = %v, want %v", n, err, ErrInvalidNumResults)
		}
	}
}
