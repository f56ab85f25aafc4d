package mcmc

import (
	"context"
	"errors"
	"testing"
)

// testKernelResults exposes per-step counters so tests can verify exactly
// how many inner steps a wrapper performed.
type testKernelResults struct {
	Counter1 int64
	Counter2 int64
}

// testKernel is a deterministic kernel: every step adds 1 to each state
// dimension, 1 to Counter1 and 2 to Counter2.
type testKernel struct {
	calibrated bool
}

func (k testKernel) BootstrapResults(state State) (KernelResults, error) {
	return testKernelResults{}, nil
}

func (k testKernel) OneStep(state State, previous KernelResults) (State, KernelResults, error) {
	prev := previous.(testKernelResults)
	next := make(State, len(state))
	for i, x := range state {
		next[i] = x + 1
	}
	return next, testKernelResults{
		Counter1: prev.Counter1 + 1,
		Counter2: prev.Counter2 + 2,
	}, nil
}

func (k testKernel) IsCalibrated() bool { return k.calibrated }

var errStepFailed = errors.New("step failed")

// failingKernel fails on the n-th OneStep call (1-based).
type failingKernel struct {
	failAt int64
}

func (k failingKernel) BootstrapResults(state State) (KernelResults, error) {
	return testKernelResults{}, nil
}

func (k failingKernel) OneStep(state State, previous KernelResults) (State, KernelResults, error) {
	prev := previous.(testKernelResults)
	if prev.Counter1+1 >= k.failAt {
		return nil, nil, errStepFailed
	}
	next := make(State, len(state))
	for i, x := range state {
		next[i] = x + 1
	}
	return next, testKernelResults{Counter1: prev.Counter1 + 1, Counter2: prev.Counter2 + 2}, nil
}

func (k failingKernel) IsCalibrated() bool { return true }

func mustDiscarder(t *testing.T, burnin, between int64) *SampleDiscardingKernel {
	t.Helper()
	k, err := NewSampleDiscardingKernel(testKernel{calibrated: true}, burnin, between)
	if err != nil {
		t.Fatalf("NewSampleDiscardingKernel: %v", err)
	}
	return k
}

func discardingStep(t *testing.T, k *SampleDiscardingKernel, state State, results KernelResults) (State, DiscardingResults) {
	t.Helper()
	next, res, err := k.OneStep(state, results)
	if err != nil {
		t.Fatalf("OneStep: %v", err)
	}
	return next, res.(DiscardingResults)
}

func checkDraw(t *testing.T, name string, state State, res DiscardingResults, wantState float64, wantCalls uint64, wantC1, wantC2 int64) {
	t.Helper()
	if state[0] != wantState {
		t.Errorf("%s: state = %v, want %v", name, state[0], wantState)
	}
	if res.CallCounter != wantCalls {
		t.Errorf("%s: call counter = %d, want %d", name, res.CallCounter, wantCalls)
	}
	inner := res.Inner.(testKernelResults)
	if inner.Counter1 != wantC1 || inner.Counter2 != wantC2 {
		t.Errorf("%s: inner counters = %d/%d, want %d/%d", name, inner.Counter1, inner.Counter2, wantC1, wantC2)
	}
}

func TestDiscardingThinning(t *testing.T) {
	k := mustDiscarder(t, 0, 1)

	results, err := k.BootstrapResults(State{0})
	if err != nil {
		t.Fatalf("BootstrapResults: %v", err)
	}

	first, res := discardingStep(t, k, State{0}, results)
	checkDraw(t, "first", first, res, 2, 1, 2, 4)

	second, res := discardingStep(t, k, first, res)
	checkDraw(t, "second", second, res, 4, 2, 4, 8)
}

func TestDiscardingBurnin(t *testing.T) {
	k := mustDiscarder(t, 5, 0)

	results, err := k.BootstrapResults(State{0})
	if err != nil {
		t.Fatalf("BootstrapResults: %v", err)
	}

	sample, res := discardingStep(t, k, State{0}, results)
	checkDraw(t, "first", sample, res, 6, 1, 6, 12)
}

func TestDiscardingNoThinningOrBurnin(t *testing.T) {
	k := mustDiscarder(t, 0, 0)

	results, err := k.BootstrapResults(State{0})
	if err != nil {
		t.Fatalf("BootstrapResults: %v", err)
	}

	first, res := discardingStep(t, k, State{0}, results)
	checkDraw(t, "first", first, res, 1, 1, 1, 2)

	second, res := discardingStep(t, k, first, res)
	checkDraw(t, "second", second, res, 2, 2, 2, 4)
}

func TestDiscardingBothThinningAndBurnin(t *testing.T) {
	k := mustDiscarder(t, 10, 1)

	results, err := k.BootstrapResults(State{0})
	if err != nil {
		t.Fatalf("BootstrapResults: %v", err)
	}

	first, res := discardingStep(t, k, State{0}, results)
	checkDraw(t, "first", first, res, 12, 1, 12, 24)

	second, res := discardingStep(t, k, first, res)
	checkDraw(t, "second", second, res, 14, 2, 14, 28)
}

// A fresh BootstrapResults on a mid-run state is a supported cold start:
// it resets the call counter and forces the full burn-in again.
func TestDiscardingColdStart(t *testing.T) {
	k := mustDiscarder(t, 10, 1)

	results, err := k.BootstrapResults(State{0})
	if err != nil {
		t.Fatalf("BootstrapResults: %v", err)
	}
	first, _ := discardingStep(t, k, State{0}, results)
	if first[0] != 12 {
		t.Fatalf("first draw = %v, want 12", first[0])
	}

	rebooted, err := k.BootstrapResults(first)
	if err != nil {
		t.Fatalf("BootstrapResults (cold start): %v", err)
	}
	second, res := discardingStep(t, k, first, rebooted)
	checkDraw(t, "cold restart", second, res, 24, 1, 12, 24)
}

func TestDiscardingCallCounterMonotonic(t *testing.T) {
	for _, tc := range []struct {
		name           string
		burnin, between int64
	}{
		{"no discarding", 0, 0},
		{"burnin only", 7, 0},
		{"thinning only", 0, 3},
		{"both", 4, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := mustDiscarder(t, tc.burnin, tc.between)
			results, err := k.BootstrapResults(State{0})
			if err != nil {
				t.Fatalf("BootstrapResults: %v", err)
			}
			if got := results.(DiscardingResults).CallCounter; got != 0 {
				t.Fatalf("call counter after bootstrap = %d, want 0", got)
			}

			state := State{0}
			var res DiscardingResults
			for i := uint64(1); i <= 5; i++ {
				state, res = discardingStep(t, k, state, results)
				if res.CallCounter != i {
					t.Fatalf("call counter after step %d = %d", i, res.CallCounter)
				}
				results = res
			}
		})
	}
}

func TestDiscardingIsCalibrated(t *testing.T) {
	for _, calibrated := range []bool{true, false} {
		k, err := NewSampleDiscardingKernel(testKernel{calibrated: calibrated}, 0, 0)
		if err != nil {
			t.Fatalf("NewSampleDiscardingKernel: %v", err)
		}
		if got := k.IsCalibrated(); got != calibrated {
			t.Errorf("IsCalibrated() = %v, want %v", got, calibrated)
		}
	}
}

func TestDiscardingConstructorValidation(t *testing.T) {
	tests := []struct {
		name            string
		inner           TransitionKernel
		burnin, between int64
		wantErr         error
	}{
		{"nil inner", nil, 0, 0, ErrNilInnerKernel},
		{"negative burnin", testKernel{}, -1, 0, ErrNegativeSteps},
		{"negative thinning", testKernel{}, 0, -2, ErrNegativeSteps},
		{"both negative", testKernel{}, -3, -4, ErrNegativeSteps},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSampleDiscardingKernel(tc.inner, tc.burnin, tc.between)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestDiscardingInnerErrorPropagates(t *testing.T) {
	// Fails on the 3rd inner step, mid-way through the cold call.
	k, err := NewSampleDiscardingKernel(failingKernel{failAt: 3}, 4, 0)
	if err != nil {
		t.Fatalf("NewSampleDiscardingKernel: %v", err)
	}

	results, err := k.BootstrapResults(State{0})
	if err != nil {
		t.Fatalf("BootstrapResults: %v", err)
	}

	state, res, err := k.OneStep(State{0}, results)
	if !errors.Is(err, errStepFailed) {
		t.Fatalf("err = %v, want %v", err, errStepFailed)
	}
	if state != nil || res != nil {
		t.Errorf("partial results returned: state=%v results=%v", state, res)
	}
}

func TestDiscardingRejectsForeignResults(t *testing.T) {
	k := mustDiscarder(t, 0, 0)
	if _, _, err := k.OneStep(State{0}, testKernelResults{}); err == nil {
		t.Fatal("OneStep accepted results of the wrong type")
	}
}

// Mirrors driving the kernel from an opaque outer loop: the discard
// decision must be recovered purely from the threaded results values.
func TestDiscardingUnderChainDriver(t *testing.T) {
	k := mustDiscarder(t, 10, 1)

	draws, results, err := RunChain(context.Background(), k, State{0}, 2)
	if err != nil {
		t.Fatalf("RunChain: %v", err)
	}
	if len(draws) != 2 {
		t.Fatalf("got %d draws, want 2", len(draws))
	}
	if draws[0][0] != 12 || draws[1][0] != 14 {
		t.Errorf("draws = %v/%v, want 12/14", draws[0][0], draws[1][0])
	}
	checkDraw(t, "final", draws[1], results.(DiscardingResults), 14, 2, 14, 28)
}
