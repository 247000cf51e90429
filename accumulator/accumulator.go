package accumulator

import "math"

// Accumulator keeps the sufficient statistics of a stream of values so that
// mean and variance can be recovered exactly after a checkpoint round trip.
type Accumulator struct {
	n     int64
	sum   float64
	sumSq float64
}

// FromSums rebuilds an accumulator from stored sufficient statistics.
func FromSums(n int64, sum, sumSq float64) Accumulator {
	return Accumulator{n: n, sum: sum, sumSq: sumSq}
}

// Add records a value.
func (a *Accumulator) Add(v float64) {
	a.n++
	a.sum += v
	a.sumSq += v * v
}

// Merge folds the statistics of b into a.
func (a *Accumulator) Merge(b Accumulator) {
	a.n += b.n
	a.sum += b.sum
	a.sumSq += b.sumSq
}

// Reset clears all statistics.
func (a *Accumulator) Reset() {
	*a = Accumulator{}
}

// N returns the number of values.
func (a Accumulator) N() int64 { return a.n }

// Sum returns the sum of values.
func (a Accumulator) Sum() float64 { return a.sum }

// SumSq returns the sum of squared values.
func (a Accumulator) SumSq() float64 { return a.sumSq }

// Mean returns the average, or 0 without values.
func (a Accumulator) Mean() float64 {
	if a.n == 0 {
		return 0
	}
	return a.sum / float64(a.n)
}

// Fluctuation returns the population variance <v^2> - <v>^2, or 0 without values.
func (a Accumulator) Fluctuation() float64 {
	if a.n == 0 {
		return 0
	}
	n := float64(a.n)
	mean := a.sum / n
	return a.sumSq/n - mean*mean
}

// Stdev returns the sample standard deviation. Fewer than two values or a
// negative rounding residue give 0.
func (a Accumulator) Stdev() float64 {
	if a.n < 2 {
		return 0
	}
	fluct := a.Fluctuation()
	if fluct <= 0 {
		return 0
	}
	n := float64(a.n)
	return math.Sqrt(fluct * n / (n - 1))
}
