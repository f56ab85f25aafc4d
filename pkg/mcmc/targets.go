package mcmc

import (
	"fmt"
	"sort"
)

// Built-in target distributions, referenced by name from run specs and
// the CLI. All are unnormalized log-densities.
const (
	TargetStdNormal = "std-normal"
	TargetBanana    = "banana"
)

// StdNormalLogProb returns the log-density of an isotropic standard
// normal (up to the normalizing constant).
func StdNormalLogProb() LogProbFn {
	return func(state State) float64 {
		var sum float64
		for _, x := range state {
			sum += x * x
		}
		return -0.5 * sum
	}
}

// BananaLogProb returns Rosenbrock's banana-shaped density, a standard
// stress target for random-walk kernels. Requires at least 2 dimensions;
// dimensions past the second are standard normal.
func BananaLogProb() LogProbFn {
	return func(state State) float64 {
		if len(state) < 2 {
			// Degenerate 1-d case, fall back to a normal.
			return StdNormalLogProb()(state)
		}
		x, y := state[0], state[1]
		lp := -0.5*(x*x)/100 - 0.5*(y+0.03*x*x-3)*(y+0.03*x*x-3)
		for _, z := range state[2:] {
			lp += -0.5 * z * z
		}
		return lp
	}
}

var targets = map[string]func() LogProbFn{
	TargetStdNormal: StdNormalLogProb,
	TargetBanana:    BananaLogProb,
}

// TargetByName resolves a built-in target distribution.
func TargetByName(name string) (LogProbFn, error) {
	mk, ok := targets[name]
	if !ok {
		return nil, fmt.Errorf("unknown target %q (available: %v)", name, TargetNames())
	}
	return mk(), nil
}

// TargetNames lists the built-in target names, sorted.
func TargetNames() []string {
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
