// Package analysis works on a finished (or live) lnPI: reweighting to a new
// activity, locating phase boundaries, splitting phases, pressures and the
// search for two-phase coexistence.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/n0madic/go-wltmmc/accumulator"
	"github.com/n0madic/go-wltmmc/bias"
	"github.com/n0madic/go-wltmmc/macrostate"
)

var (
	// ErrNotConjugate is returned when reweighting in activity is requested
	// for a macrostate that is not the molecule count.
	ErrNotConjugate = errors.New("macrostate is not conjugate to the activity")
	// ErrNoZeroBin is returned when a pressure needs the first bin to be the
	// empty system.
	ErrNoZeroBin = errors.New("first macrostate bin is not zero")
	// ErrInvalidDistribution is returned for inconsistent distributions.
	ErrInvalidDistribution = errors.New("invalid distribution")
)

// Distribution is a read-only view of a sampled macrostate distribution. A
// phase produced by Split is a Distribution over a sub-range of the axis.
type Distribution struct {
	Axis     *macrostate.Axis
	LnPI     bias.Array
	Energy   []accumulator.Accumulator // optional, one per bin
	Beta     float64
	Activity float64 // zero when the criterion had no single activity
}

// Validate checks that the arrays match the axis.
func (d Distribution) Validate() error {
	if d.Axis == nil {
		return fmt.Errorf("%w: no macrostate axis", ErrInvalidDistribution)
	}
	if len(d.LnPI) != d.Axis.NBins() {
		return fmt.Errorf("%w: lnPI has %d bins, axis %v has %d", ErrInvalidDistribution, len(d.LnPI), d.Axis, d.Axis.NBins())
	}
	if d.Energy != nil && len(d.Energy) != len(d.LnPI) {
		return fmt.Errorf("%w: energy has %d bins, lnPI has %d", ErrInvalidDistribution, len(d.Energy), len(d.LnPI))
	}
	return nil
}

// Clone returns a deep copy.
func (d Distribution) Clone() Distribution {
	c := d
	c.LnPI = d.LnPI.Clone()
	if d.Energy != nil {
		c.Energy = make([]accumulator.Accumulator, len(d.Energy))
		copy(c.Energy, d.Energy)
	}
	return c
}

// Area returns sum(exp(lnPI)).
func (d Distribution) Area() float64 { return d.LnPI.Area() }

// Average returns the ensemble averaged macrostate.
func (d Distribution) Average() float64 {
	return d.LnPI.Average(d.Axis.Value)
}

// Normalized returns a copy with sum(exp(lnPI)) == 1.
func (d Distribution) Normalized() Distribution {
	c := d.Clone()
	c.LnPI.Normalize()
	return c
}

// EnergyAverages returns the mean energy of each bin.
func (d Distribution) EnergyAverages() []float64 {
	if d.Energy == nil {
		return nil
	}
	out := make([]float64, len(d.Energy))
	for i, e := range d.Energy {
		out[i] = e.Mean()
	}
	return out
}

// Reweight shifts lnPI to a new activity using
// lnPI'(N) = lnPI(N) + N*(ln(activity) - ln(d.Activity)) and normalizes.
// It is only defined for the molecule-count macrostate.
func Reweight(d Distribution, activity float64) (Distribution, error) {
	if err := d.Validate(); err != nil {
		return Distribution{}, err
	}
	if d.Axis.Kind() != macrostate.NMol {
		return Distribution{}, fmt.Errorf("%w: %s", ErrNotConjugate, d.Axis.Kind())
	}
	if !(d.Activity > 0) || !(activity > 0) || math.IsInf(activity, 0) {
		return Distribution{}, fmt.Errorf("%w: activities must be positive, have %v and %v",
			ErrInvalidDistribution, d.Activity, activity)
	}
	rw := reweightLn(d, math.Log(activity))
	rw.Activity = activity
	return rw, nil
}

// reweightLn reweights to exp(lnActivity) without validation.
func reweightLn(d Distribution, lnActivity float64) Distribution {
	rw := d.Clone()
	delta := lnActivity - math.Log(d.Activity)
	if delta != 0 {
		for i := range rw.LnPI {
			rw.LnPI[i] += delta * d.Axis.Value(i)
		}
	}
	rw.LnPI.Normalize()
	rw.Activity = math.Exp(lnActivity)
	return rw
}
