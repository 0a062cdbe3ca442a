package safety

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// Lookup is a piecewise-linear table y = f(x). Inputs outside the first and
// last breakpoints clamp to the end values.
type Lookup struct {
	xs, ys []float64
	pl     interp.PiecewiseLinear
}

// NewLookup builds a table from breakpoints xs (strictly increasing) and
// their values ys.
func NewLookup(xs, ys []float64) (Lookup, error) {
	// interp panics on these; report them as errors instead.
	if len(xs) != len(ys) {
		return Lookup{}, fmt.Errorf("safety: lookup table: %d breakpoints, %d values", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return Lookup{}, errors.New("safety: lookup table: need at least two breakpoints")
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return Lookup{}, errors.New("safety: lookup table: breakpoints must strictly increase")
		}
	}
	l := Lookup{
		xs: append([]float64(nil), xs...),
		ys: append([]float64(nil), ys...),
	}
	if err := l.pl.Fit(l.xs, l.ys); err != nil {
		return Lookup{}, fmt.Errorf("safety: lookup table: %w", err)
	}
	return l, nil
}

// MustLookup is NewLookup for static tables; it panics on bad input.
func MustLookup(xs, ys []float64) Lookup {
	l, err := NewLookup(xs, ys)
	if err != nil {
		panic(err)
	}
	return l
}

// At interpolates the table at x.
func (l Lookup) At(x float64) float64 {
	if len(l.xs) == 0 {
		return 0
	}
	return l.pl.Predict(x)
}

// Points returns copies of the breakpoints and values.
func (l Lookup) Points() (xs, ys []float64) {
	return append([]float64(nil), l.xs...), append([]float64(nil), l.ys...)
}

// NonIncreasing reports whether the values never rise as x grows.
func (l Lookup) NonIncreasing() bool {
	for i := 1; i < len(l.ys); i++ {
		if l.ys[i] > l.ys[i-1] {
			return false
		}
	}
	return true
}
