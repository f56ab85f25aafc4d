package mcmc

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrNilTarget indicates a kernel was constructed without a target log-prob.
var ErrNilTarget = errors.New("target log-prob function must not be nil")

// ErrInvalidStepSize indicates a non-positive proposal scale.
var ErrInvalidStepSize = errors.New("step size must be positive")

// LogProbFn evaluates the unnormalized log-density of the target
// distribution at a state.
type LogProbFn func(state State) float64

// RandomWalkResults is the results record of RandomWalkMetropolis.
type RandomWalkResults struct {
	// TargetLogProb is the target log-density at the current state.
	TargetLogProb float64
	// LogAcceptRatio is the log acceptance ratio of the last proposal.
	LogAcceptRatio float64
	// Accepted reports whether the last proposal was accepted.
	Accepted bool
	// Steps counts chain steps taken since bootstrap.
	Steps uint64
	// Seed is the RNG seed for the next step. Threading the seed through
	// the record keeps OneStep a pure function of its inputs: replaying
	// a chain from any (state, results) pair reproduces it exactly.
	Seed int64
}

// RandomWalkMetropolis proposes a symmetric Gaussian perturbation of the
// current state and accepts or rejects it against the target density.
type RandomWalkMetropolis struct {
	target   LogProbFn
	stepSize float64
	seed     int64
}

// NewRandomWalkMetropolis builds a random-walk Metropolis kernel with the
// given proposal scale and base seed.
func NewRandomWalkMetropolis(target LogProbFn, stepSize float64, seed int64) (*RandomWalkMetropolis, error) {
	if target == nil {
		return nil, ErrNilTarget
	}
	if stepSize <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidStepSize, stepSize)
	}
	return &RandomWalkMetropolis{target: target, stepSize: stepSize, seed: seed}, nil
}

// BootstrapResults evaluates the target at the starting state and seeds
// the per-step RNG lineage.
func (k *RandomWalkMetropolis) BootstrapResults(state State) (KernelResults, error) {
	lp := k.target(state)
	if math.IsNaN(lp) {
		return nil, fmt.Errorf("target log-prob is NaN at initial state %v", state)
	}
	return RandomWalkResults{
		TargetLogProb: lp,
		Seed:          k.seed,
	}, nil
}

// OneStep proposes state + stepSize*N(0, I) and applies the Metropolis
// acceptance rule.
func (k *RandomWalkMetropolis) OneStep(state State, previous KernelResults) (State, KernelResults, error) {
	prev, ok := previous.(RandomWalkResults)
	if !ok {
		return nil, nil, fmt.Errorf("previous results have type %T, want mcmc.RandomWalkResults", previous)
	}

	rng := rand.New(rand.NewSource(prev.Seed))

	proposed := make(State, len(state))
	for i, x := range state {
		proposed[i] = x + k.stepSize*rng.NormFloat64()
	}

	proposedLogProb := k.target(proposed)
	logAcceptRatio := proposedLogProb - prev.TargetLogProb

	accepted := false
	if logAcceptRatio >= 0 || math.Log(rng.Float64()) < logAcceptRatio {
		accepted = true
	}

	next := RandomWalkResults{
		LogAcceptRatio: logAcceptRatio,
		Accepted:       accepted,
		Steps:          prev.Steps + 1,
		Seed:           rng.Int63(),
	}
	if accepted {
		next.TargetLogProb = proposedLogProb
		return proposed, next, nil
	}
	next.TargetLogProb = prev.TargetLogProb
	return state.Clone(), next, nil
}

// IsCalibrated is true: Metropolis acceptance targets the distribution itself.
func (k *RandomWalkMetropolis) IsCalibrated() bool { return true }
