// Package stats provides streaming reducers for chain output.
//
// Reducers accumulate surfaced states one at a time so that summary
// statistics never require holding a full chain in memory.
package stats

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch indicates a pushed vector does not match the
// dimension of earlier pushes.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Reducer folds a stream of state vectors into a summary statistic.
type Reducer interface {
	// Push folds one vector into the running statistic.
	Push(x []float64) error
	// Count returns the number of vectors pushed so far.
	Count() uint64
	// Finalize returns the current value of the statistic. It does not
	// consume the reducer; pushing may continue afterwards.
	Finalize() []float64
}

// Mean computes a running per-dimension mean.
type Mean struct {
	n    uint64
	mean []float64
}

// NewMean returns an empty mean reducer.
func NewMean() *Mean { return &Mean{} }

func (m *Mean) Push(x []float64) error {
	if m.mean == nil {
		m.mean = make([]float64, len(x))
	}
	if len(x) != len(m.mean) {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), len(m.mean))
	}
	m.n++
	for i, v := range x {
		m.mean[i] += (v - m.mean[i]) / float64(m.n)
	}
	return nil
}

func (m *Mean) Count() uint64 { return m.n }

func (m *Mean) Finalize() []float64 {
	out := make([]float64, len(m.mean))
	copy(out, m.mean)
	return out
}

// Variance computes a running per-dimension population variance using
// Welford's update.
type Variance struct {
	n    uint64
	mean []float64
	m2   []float64
}

// NewVariance returns an empty variance reducer.
func NewVariance() *Variance { return &Variance{} }

func (v *Variance) Push(x []float64) error {
	if v.mean == nil {
		v.mean = make([]float64, len(x))
		v.m2 = make([]float64, len(x))
	}
	if len(x) != len(v.mean) {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), len(v.mean))
	}
	v.n++
	for i, xi := range x {
		delta := xi - v.mean[i]
		v.mean[i] += delta / float64(v.n)
		v.m2[i] += delta * (xi - v.mean[i])
	}
	return nil
}

func (v *Variance) Count() uint64 { return v.n }

// Finalize returns the population variance per dimension (zero before any
// push).
func (v *Variance) Finalize() []float64 {
	out := make([]float64, len(v.m2))
	if v.n == 0 {
		return out
	}
	for i, m2 := range v.m2 {
		out[i] = m2 / float64(v.n)
	}
	return out
}

// Covariance computes a running population covariance matrix.
type Covariance struct {
	n    uint64
	mean []float64
	c    []float64 // row-major d x d co-moment matrix
	dim  int
}

// NewCovariance returns an empty covariance reducer.
func NewCovariance() *Covariance { return &Covariance{} }

func (c *Covariance) Push(x []float64) error {
	if c.mean == nil {
		c.dim = len(x)
		c.mean = make([]float64, c.dim)
		c.c = make([]float64, c.dim*c.dim)
	}
	if len(x) != c.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), c.dim)
	}
	c.n++
	delta := make([]float64, c.dim)
	for i, xi := range x {
		delta[i] = xi - c.mean[i]
		c.mean[i] += delta[i] / float64(c.n)
	}
	for i := 0; i < c.dim; i++ {
		for j := 0; j < c.dim; j++ {
			c.c[i*c.dim+j] += delta[i] * (x[j] - c.mean[j])
		}
	}
	return nil
}

func (c *Covariance) Count() uint64 { return c.n }

// Finalize returns the population covariance matrix, flattened row-major.
func (c *Covariance) Finalize() []float64 {
	out := make([]float64, len(c.c))
	if c.n == 0 {
		return out
	}
	for i, v := range c.c {
		out[i] = v / float64(c.n)
	}
	return out
}
