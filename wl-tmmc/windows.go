package wltmmc

import (
	"fmt"
	"math"

	"github.com/n0madic/go-wltmmc/accumulator"
	"github.com/n0madic/go-wltmmc/analysis"
	"github.com/n0madic/go-wltmmc/collection"
	"github.com/n0madic/go-wltmmc/macrostate"
)

// UpdateLnPIFrom reconstructs lnPI of c from the sum of its own collection
// matrix and those of others, which must sample the same axis (replicas).
// Only c's bias changes; no matrix is modified.
func (c *Criterion) UpdateLnPIFrom(others ...*Criterion) error {
	if c.axis == nil {
		return fmt.Errorf("%w: plain Metropolis has no collection matrix", ErrMismatch)
	}
	matrices := []*collection.Matrix{c.Collection()}
	for _, o := range others {
		if !c.axis.Equal(o.axis) {
			return fmt.Errorf("%w: criterion %s samples %v, %s samples %v",
				ErrMismatch, c.id, c.axis, o.id, o.axis)
		}
		matrices = append(matrices, o.Collection())
	}
	total, err := collection.Sum(matrices...)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.lnPI = total.LnPI()
	return nil
}

// MinNSweep returns the smallest sweep count among windows.
func MinNSweep(windows ...*Criterion) int {
	if len(windows) == 0 {
		return 0
	}
	n := math.MaxInt
	for _, w := range windows {
		n = min(n, w.NSweep())
	}
	return n
}

// MinWLFlat returns the smallest number of flatness events among windows.
func MinWLFlat(windows ...*Criterion) int {
	if len(windows) == 0 {
		return 0
	}
	n := math.MaxInt
	for _, w := range windows {
		n = min(n, w.WLFlat())
	}
	return n
}

// Splice joins windows covering adjacent, overlapping ranges of the same
// macrostate into one distribution. Windows must be ordered by range. Each
// window is shifted so that its first bin agrees with the same macrostate in
// the previous window, and the overlap is split evenly between the two.
func Splice(windows ...*Criterion) (analysis.Distribution, error) {
	if len(windows) == 0 {
		return analysis.Distribution{}, fmt.Errorf("%w: nothing to splice", ErrMismatch)
	}
	first := windows[0]
	if first.axis == nil {
		return analysis.Distribution{}, fmt.Errorf("%w: window %s has no macrostate axis", ErrMismatch, first.id)
	}

	prevW, prev := first, first.Distribution()
	lnPI := prev.LnPI.Clone()
	energy := append([]accumulator.Accumulator(nil), prev.Energy...)
	shift := 0.0
	for _, w := range windows[1:] {
		cur := w.Distribution()
		if err := compatible(prev, cur, prevW, w); err != nil {
			return analysis.Distribution{}, err
		}

		overlap := -1
		for i := 0; i < len(prev.LnPI); i++ {
			if math.Abs(prev.Axis.Value(i)-cur.Axis.Value(0)) < 1e-6*cur.Axis.Width() {
				overlap = len(prev.LnPI) - i
				shift += prev.LnPI[i] - cur.LnPI[0]
				break
			}
		}
		if overlap < 0 {
			return analysis.Distribution{}, fmt.Errorf("%w: window %s starting at %v does not overlap the previous window %v",
				ErrMismatch, w.id, cur.Axis.Value(0), prev.Axis)
		}
		if overlap >= len(cur.LnPI) {
			return analysis.Distribution{}, fmt.Errorf("%w: window %s does not extend past the previous window", ErrMismatch, w.id)
		}

		pop := (overlap - 1) / 2
		lnPI = lnPI[:len(lnPI)-pop]
		energy = energy[:len(energy)-pop]
		for i := overlap - pop; i < len(cur.LnPI); i++ {
			lnPI = append(lnPI, cur.LnPI[i]+shift)
			energy = append(energy, cur.Energy[i])
		}
		prevW, prev = w, cur
	}

	axis, err := macrostate.NewAxis(first.axis.Kind(), first.axis.Min(),
		first.axis.Min()+float64(len(lnPI))*first.axis.Width(), len(lnPI))
	if err != nil {
		return analysis.Distribution{}, err
	}
	lnPI.Normalize()
	out := analysis.Distribution{
		Axis:   axis,
		LnPI:   lnPI,
		Energy: energy,
		Beta:   first.beta,
	}
	if len(first.activity) == 1 {
		out.Activity = first.activity[0]
	}
	return out, nil
}

// compatible checks that two consecutive windows can be spliced.
func compatible(prev, cur analysis.Distribution, a, b *Criterion) error {
	if cur.Axis == nil {
		return fmt.Errorf("%w: window %s has no macrostate axis", ErrMismatch, b.id)
	}
	if cur.Axis.Kind() != prev.Axis.Kind() {
		return fmt.Errorf("%w: window %s samples %s, %s samples %s",
			ErrMismatch, a.id, prev.Axis.Kind(), b.id, cur.Axis.Kind())
	}
	if math.Abs(cur.Axis.Width()-prev.Axis.Width()) > 1e-9*prev.Axis.Width() {
		return fmt.Errorf("%w: bin widths %v and %v differ", ErrMismatch, prev.Axis.Width(), cur.Axis.Width())
	}
	if cur.Beta != prev.Beta || cur.Activity != prev.Activity {
		return fmt.Errorf("%w: window %s at beta=%v activity=%v, %s at beta=%v activity=%v",
			ErrMismatch, a.id, prev.Beta, prev.Activity, b.id, cur.Beta, cur.Activity)
	}
	return nil
}
