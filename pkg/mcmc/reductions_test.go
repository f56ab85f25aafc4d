package mcmc

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ksachdeva/probability/pkg/stats"
)

// Composes reductions over discarding over the counting kernel and checks
// that only surviving draws are reduced and that every layer of results
// stays reachable from the outermost record.
func TestReductionsOverDiscardingKernel(t *testing.T) {
	discarder, err := NewSampleDiscardingKernel(testKernel{calibrated: true}, 10, 2)
	if err != nil {
		t.Fatalf("NewSampleDiscardingKernel: %v", err)
	}
	cov := stats.NewCovariance()
	k, err := NewWithReductionsKernel(discarder, cov)
	if err != nil {
		t.Fatalf("NewWithReductionsKernel: %v", err)
	}

	state := State{0}
	results, err := k.BootstrapResults(state)
	if err != nil {
		t.Fatalf("BootstrapResults: %v", err)
	}
	for i := 0; i < 2; i++ {
		state, results, err = k.OneStep(state, results)
		if err != nil {
			t.Fatalf("OneStep %d: %v", i, err)
		}
	}

	// Draw 1 after 13 inner steps, draw 2 after 3 more.
	if state[0] != 16 {
		t.Errorf("final state = %v, want 16", state[0])
	}

	outer := results.(ReductionResults)
	mid := outer.InnerResults().(DiscardingResults)
	if mid.CallCounter != 2 {
		t.Errorf("call counter = %d, want 2", mid.CallCounter)
	}
	leaf := mid.InnerResults().(testKernelResults)
	if leaf.Counter1 != 16 || leaf.Counter2 != 32 {
		t.Errorf("leaf counters = %d/%d, want 16/32", leaf.Counter1, leaf.Counter2)
	}
	if got := LeafResults(results).(testKernelResults); got != leaf {
		t.Errorf("LeafResults = %+v, want %+v", got, leaf)
	}

	// Population variance of the surfaced draws {13, 16}.
	if got, want := cov.Finalize()[0], 2.25; math.Abs(got-want) > 1e-12 {
		t.Errorf("covariance = %v, want %v", got, want)
	}
	if cov.Count() != 2 {
		t.Errorf("reducer count = %d, want 2", cov.Count())
	}
}

func TestReductionsOnlySurfacedDraws(t *testing.T) {
	discarder, err := NewSampleDiscardingKernel(testKernel{calibrated: true}, 5, 4)
	if err != nil {
		t.Fatalf("NewSampleDiscardingKernel: %v", err)
	}
	mean := stats.NewMean()
	k, err := NewWithReductionsKernel(discarder, mean)
	if err != nil {
		t.Fatalf("NewWithReductionsKernel: %v", err)
	}

	if _, _, err := RunChain(context.Background(), k, State{0}, 3); err != nil {
		t.Fatalf("RunChain: %v", err)
	}
	// 20 inner steps were taken but only 3 draws surfaced.
	if mean.Count() != 3 {
		t.Errorf("reducer saw %d draws, want 3", mean.Count())
	}
	// Draws are 10, 15, 20.
	if got, want := mean.Finalize()[0], 15.0; math.Abs(got-want) > 1e-12 {
		t.Errorf("mean = %v, want %v", got, want)
	}
}

func TestReductionsConstructorValidation(t *testing.T) {
	if _, err := NewWithReductionsKernel(nil, stats.NewMean()); !errors.Is(err, ErrNilInnerKernel) {
		t.Errorf("nil inner: err = %v, want %v", err, ErrNilInnerKernel)
	}
	if _, err := NewWithReductionsKernel(testKernel{}); !errors.Is(err, ErrNoReducers) {
		t.Errorf("no reducers: err = %v, want %v", err, ErrNoReducers)
	}
}

func TestReductionsCalibrationPassthrough(t *testing.T) {
	for _, calibrated := range []bool{true, false} {
		k, err := NewWithReductionsKernel(testKernel{calibrated: calibrated}, stats.NewMean())
		if err != nil {
			t.Fatalf("NewWithReductionsKernel: %v", err)
		}
		if k.IsCalibrated() != calibrated {
			t.Errorf("IsCalibrated() = %v, want %v", k.IsCalibrated(), calibrated)
		}
	}
}
