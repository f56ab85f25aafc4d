// Package mcmc implements Markov chain Monte Carlo transition kernels
// and the wrappers used to compose them.
//
// A TransitionKernel advances a chain state one step at a time. Kernels
// compose by wrapping: a wrapper kernel drives its inner kernel and nests
// the inner kernel's results record inside its own, so diagnostics remain
// reachable through any depth of wrapping.
package mcmc

// State is a point in the chain's state space.
type State []float64

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	copy(out, s)
	return out
}

// KernelResults is the per-step results record produced by a kernel.
// Each kernel owns the concrete type of its own record; callers thread
// it between calls without inspecting it.
type KernelResults interface{}

// WrappedResults is implemented by results records of wrapper kernels.
// It exposes the nested inner record so consumers can walk down to the
// leaf kernel's diagnostics.
type WrappedResults interface {
	InnerResults() KernelResults
}

// LeafResults walks nested wrapper records down to the innermost one.
func LeafResults(results KernelResults) KernelResults {
	for {
		wrapped, ok := results.(WrappedResults)
		if !ok {
			return results
		}
		results = wrapped.InnerResults()
	}
}

// TransitionKernel is the contract every kernel implements.
//
// Kernels are immutable after construction. All chain state lives in the
// (State, KernelResults) pair threaded by the caller, so a single kernel
// value is safe to use concurrently on independent chains.
type TransitionKernel interface {
	// BootstrapResults produces a fresh results record for the given
	// starting state. It takes no chain steps.
	BootstrapResults(state State) (KernelResults, error)

	// OneStep advances the chain by one observable step, returning the
	// new state and the results record describing it. The previous
	// record must be one produced by this kernel (from BootstrapResults
	// or an earlier OneStep).
	OneStep(state State, previous KernelResults) (State, KernelResults, error)

	// IsCalibrated reports whether the kernel's stationary distribution
	// is the target distribution itself rather than some function of it.
	IsCalibrated() bool
}
