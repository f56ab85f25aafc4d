package stats

import (
	"errors"
	"math"
	"testing"
)

func push(t *testing.T, r Reducer, vecs ...[]float64) {
	t.Helper()
	for _, v := range vecs {
		if err := r.Push(v); err != nil {
			t.Fatalf("Push(%v): %v", v, err)
		}
	}
}

func almostEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func TestMean(t *testing.T) {
	m := NewMean()
	push(t, m, []float64{1, 10}, []float64{2, 20}, []float64{3, 30})

	if got, want := m.Finalize(), []float64{2, 20}; !almostEqual(got, want, 1e-12) {
		t.Errorf("mean = %v, want %v", got, want)
	}
	if m.Count() != 3 {
		t.Errorf("count = %d, want 3", m.Count())
	}
}

func TestVariance(t *testing.T) {
	tests := []struct {
		name string
		data [][]float64
		want []float64
	}{
		{"constant", [][]float64{{4}, {4}, {4}}, []float64{0}},
		{"two points", [][]float64{{13}, {16}}, []float64{2.25}},
		{"spread", [][]float64{{1, 0}, {2, 0}, {3, 0}, {4, 0}}, []float64{1.25, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := NewVariance()
			push(t, v, tc.data...)
			if got := v.Finalize(); !almostEqual(got, tc.want, 1e-12) {
				t.Errorf("variance = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestVarianceStreamingMatchesTwoPass(t *testing.T) {
	data := [][]float64{{0.1}, {-2.4}, {3.7}, {1.1}, {-0.6}, {2.2}}

	v := NewVariance()
	push(t, v, data...)

	var mean float64
	for _, x := range data {
		mean += x[0]
	}
	mean /= float64(len(data))
	var want float64
	for _, x := range data {
		want += (x[0] - mean) * (x[0] - mean)
	}
	want /= float64(len(data))

	if got := v.Finalize()[0]; math.Abs(got-want) > 1e-12 {
		t.Errorf("streaming variance = %v, two-pass = %v", got, want)
	}
}

func TestCovariance(t *testing.T) {
	c := NewCovariance()
	// Perfectly anti-correlated pair.
	push(t, c, []float64{1, -1}, []float64{2, -2}, []float64{3, -3})

	got := c.Finalize()
	want := []float64{
		2.0 / 3, -2.0 / 3,
		-2.0 / 3, 2.0 / 3,
	}
	if !almostEqual(got, want, 1e-12) {
		t.Errorf("covariance = %v, want %v", got, want)
	}
}

func TestCovarianceScalarMatchesVariance(t *testing.T) {
	c := NewCovariance()
	v := NewVariance()
	data := [][]float64{{13}, {16}}
	push(t, c, data...)
	push(t, v, data...)

	if got, want := c.Finalize()[0], v.Finalize()[0]; math.Abs(got-want) > 1e-12 {
		t.Errorf("scalar covariance = %v, variance = %v", got, want)
	}
}

func TestDimensionMismatch(t *testing.T) {
	for _, r := range []Reducer{NewMean(), NewVariance(), NewCovariance()} {
		if err := r.Push([]float64{1, 2}); err != nil {
			t.Fatalf("first push: %v", err)
		}
		if err := r.Push([]float64{1}); !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("%T: err = %v, want %v", r, err, ErrDimensionMismatch)
		}
	}
}

func TestFinalizeBeforePush(t *testing.T) {
	for _, r := range []Reducer{NewMean(), NewVariance(), NewCovariance()} {
		if got := r.Finalize(); len(got) != 0 {
			t.Errorf("%T: Finalize before any push = %v, want empty", r, got)
		}
		if r.Count() != 0 {
			t.Errorf("%T: count = %d, want 0", r, r.Count())
		}
	}
}
