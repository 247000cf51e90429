package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/n0madic/go-wltmmc/macrostate"
	"github.com/n0madic/go-wltmmc/minimize"
)

// ErrNoLiquidPeak is returned by ResizeWindow when lnPI does not hold exactly
// two maxima.
var ErrNoLiquidPeak = errors.New("lnPI does not have a vapor and a liquid peak")

// penalty keeps the saturation search away from single phase activities.
const penalty = 1e13

func (a *Analyzer) checkReweight(d Distribution) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Axis.Kind() != macrostate.NMol {
		return fmt.Errorf("%w: %s", ErrNotConjugate, d.Axis.Kind())
	}
	if !(d.Activity > 0) || math.IsInf(d.Activity, 0) {
		return fmt.Errorf("%w: activity must be positive, have %v", ErrInvalidDistribution, d.Activity)
	}
	return nil
}

// saturationObjective is zero when the two phases of the reweighted lnPI have
// equal areas. Activities that do not give two phases are penalized, with the
// difference between the end bins steering the search back.
func (a *Analyzer) saturationObjective(d Distribution) minimize.Func {
	return func(lnActivity float64) float64 {
		rw := reweightLn(d, lnActivity)
		phases, err := a.split(rw)
		if err != nil {
			return math.NaN()
		}
		if len(phases) != 2 {
			diff := rw.LnPI[0] - rw.LnPI[len(rw.LnPI)-1]
			return penalty + diff*diff
		}
		diff := phases[0].LnPI.LogArea() - phases[1].LnPI.LogArea()
		return diff * diff
	}
}

// FindSaturation searches the activity at which both phases of d carry the
// same probability and returns d reweighted to it. The search starts from
// d.Activity and runs in ln(activity).
func (a *Analyzer) FindSaturation(d Distribution) (Distribution, error) {
	if err := a.checkReweight(d); err != nil {
		return Distribution{}, err
	}
	lnz := math.Log(d.Activity)
	x, _, err := minimize.Minimize(a.saturationObjective(d), lnz, lnz+math.Log(1.1), a.tol)
	if err != nil {
		return Distribution{}, fmt.Errorf("saturation search: %w", err)
	}
	return reweightLn(d, x), nil
}

// FindPeak searches the activity whose reweighted average macrostate equals
// target, starting from lnGuess, and returns d reweighted to it.
func (a *Analyzer) FindPeak(d Distribution, target, lnGuess float64) (Distribution, error) {
	if err := a.checkReweight(d); err != nil {
		return Distribution{}, err
	}
	return a.findPeak(d, target, lnGuess)
}

func (a *Analyzer) findPeak(d Distribution, target, lnGuess float64) (Distribution, error) {
	f := func(lnActivity float64) float64 {
		diff := reweightLn(d, lnActivity).Average() - target
		return diff * diff
	}
	second := 1.05 * lnGuess
	if second == lnGuess {
		second = lnGuess + 0.05
	}
	x, _, err := minimize.Minimize(f, lnGuess, second, a.tol)
	if err != nil {
		return Distribution{}, fmt.Errorf("peak search for %v: %w", target, err)
	}
	return reweightLn(d, x), nil
}

// IsothermPoint is one state of an isotherm.
type IsothermPoint struct {
	Macrostate float64
	Activity   float64
	Density    float64
	Pressure   float64
}

// PressureIsotherm moves the peak of lnPI through every interior bin and
// returns the single phase pressure at each. Successive searches start from
// the previous activity.
func (a *Analyzer) PressureIsotherm(d Distribution, volume float64) ([]IsothermPoint, error) {
	if err := a.checkReweight(d); err != nil {
		return nil, err
	}
	if err := a.checkPressure(d, volume); err != nil {
		return nil, err
	}
	points := make([]IsothermPoint, 0, d.Axis.NBins())
	guess := 0.1 * math.Log(d.Activity)
	for i := 1; i < d.Axis.NBins()-1; i++ {
		n := d.Axis.Value(i)
		rw, err := a.findPeak(d, n, guess)
		if err != nil {
			return nil, err
		}
		p, err := PressureOnePhase(rw, volume)
		if err != nil {
			return nil, err
		}
		points = append(points, IsothermPoint{
			Macrostate: n,
			Activity:   rw.Activity,
			Density:    n / volume,
			Pressure:   p,
		})
		guess = math.Log(rw.Activity)
	}
	return points, nil
}

// GrandCanonicalAverage converts canonical averages data (one per bin) into
// grand canonical averages at the activity peaking lnPI at each interior bin.
// The first and last entries are left zero.
func (a *Analyzer) GrandCanonicalAverage(d Distribution, data []float64) ([]float64, error) {
	if err := a.checkReweight(d); err != nil {
		return nil, err
	}
	if len(data) != len(d.LnPI) {
		return nil, fmt.Errorf("%w: data has %d bins, lnPI has %d", ErrInvalidDistribution, len(data), len(d.LnPI))
	}
	out := make([]float64, len(data))
	guess := 0.1 * math.Log(d.Activity)
	for i := 1; i < len(data)-1; i++ {
		rw, err := a.findPeak(d, d.Axis.Value(i), guess)
		if err != nil {
			return nil, err
		}
		if out[i], err = rw.LnPI.Mean(data); err != nil {
			return nil, err
		}
		guess = math.Log(rw.Activity)
	}
	return out, nil
}

// EnergyIsotherm is GrandCanonicalAverage of the per bin mean energy.
func (a *Analyzer) EnergyIsotherm(d Distribution) ([]float64, error) {
	if d.Energy == nil {
		return nil, fmt.Errorf("%w: no energy statistics", ErrInvalidDistribution)
	}
	return a.GrandCanonicalAverage(d, d.EnergyAverages())
}

// ResizeWindow suggests a new upper bound for the macrostate range: the first
// bin past the liquid peak where lnPI has dropped by more than liquidDrop
// (a negative number), rounded up to the next multiple of round. When lnPI
// never drops that far the current maximum is extended by two rounds.
func (a *Analyzer) ResizeWindow(d Distribution, liquidDrop float64, round int) (int, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	if round <= 0 {
		return 0, fmt.Errorf("%w: round must be positive, have %d", ErrInvalidDistribution, round)
	}
	maxima := d.LnPI.LocalMaxima(a.smoothing)
	if len(maxima) != 2 {
		return 0, fmt.Errorf("%w: found %d maxima", ErrNoLiquidPeak, len(maxima))
	}
	peak := d.LnPI[maxima[1]]
	mx := d.Axis.Max() + float64(2*round)
	for m := maxima[1] + 1; m < len(d.LnPI); m++ {
		if d.LnPI[m]-peak < liquidDrop {
			mx = d.Axis.Value(m)
			break
		}
	}
	n := int(mx)
	return n - n%round + round, nil
}
