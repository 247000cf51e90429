// Package bias holds the logarithm of the macrostate probability
// distribution (lnPI) and the statistics derived from it.
package bias

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Array is lnPI: one log-probability per macrostate bin.
type Array []float64

// New returns an array of n bins filled with value.
func New(n int, value float64) Array {
	a := make(Array, n)
	for i := range a {
		a[i] = value
	}
	return a
}

// Clone returns a deep copy.
func (a Array) Clone() Array {
	if a == nil {
		return nil
	}
	c := make(Array, len(a))
	copy(c, a)
	return c
}

// Normalize shifts a so that sum(exp(a)) == 1. The maximum is subtracted
// first to keep exp from overflowing.
func (a Array) Normalize() {
	if len(a) == 0 {
		return
	}
	floats.AddConst(-floats.Max(a), a)
	floats.AddConst(-math.Log(a.Area()), a)
}

// Normalized returns a normalized copy.
func (a Array) Normalized() Array {
	c := a.Clone()
	c.Normalize()
	return c
}

// LogArea returns ln(sum(exp(a))) without overflow.
func (a Array) LogArea() float64 {
	if len(a) == 0 {
		return math.Inf(-1)
	}
	return floats.LogSumExp(a)
}

// Area returns sum(exp(a)). It is 1 after Normalize.
func (a Array) Area() float64 {
	sum := 0.0
	for _, v := range a {
		sum += math.Exp(v)
	}
	return sum
}

// Average returns the probability weighted mean of value(i).
func (a Array) Average(value func(bin int) float64) float64 {
	av := 0.0
	for i, v := range a {
		av += value(i) * math.Exp(v)
	}
	return av / a.Area()
}

// Mean returns the probability weighted mean of per-bin data.
func (a Array) Mean(data []float64) (float64, error) {
	if len(data) != len(a) {
		return 0, fmt.Errorf("data size %d does not match lnPI size %d", len(data), len(a))
	}
	return a.Average(func(i int) float64 { return data[i] }), nil
}

// Shift adds the same constant to every bin.
func (a Array) Shift(c float64) {
	floats.AddConst(c, a)
}

// LocalMaxima returns the indices i that hold the maximum of the window
// [i-tol, i+tol], clamped to the array bounds.
func (a Array) LocalMaxima(tol int) []int {
	return extrema(a, tol, func(x, y float64) bool { return x > y })
}

// LocalMinima returns the indices i that hold the minimum of the window
// [i-tol, i+tol], clamped to the array bounds.
func (a Array) LocalMinima(tol int) []int {
	return extrema(a, tol, func(x, y float64) bool { return x < y })
}

func extrema(a Array, tol int, better func(x, y float64) bool) []int {
	var idx []int
	for i := range a {
		lower, upper := i-tol, i+tol
		if lower < 0 {
			lower = 0
		}
		if upper >= len(a) {
			upper = len(a) - 1
		}
		keep := true
		for j := lower; j <= upper; j++ {
			if better(a[j], a[i]) {
				keep = false
				break
			}
		}
		if keep {
			idx = append(idx, i)
		}
	}
	return idx
}

// ErrEmpty is returned when an operation needs at least one bin.
var ErrEmpty = errors.New("empty lnPI")

// CheckFinite returns an error naming the first non-finite bin.
func (a Array) CheckFinite() error {
	if len(a) == 0 {
		return ErrEmpty
	}
	for i, v := range a {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("lnPI[%d] = %v is not finite", i, v)
		}
	}
	return nil
}
