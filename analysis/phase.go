package analysis

import (
	"fmt"
	"math"

	"github.com/n0madic/go-wltmmc/bias"
	"github.com/n0madic/go-wltmmc/minimize"
)

// Analyzer locates phases in lnPI and searches thermodynamic conditions.
type Analyzer struct {
	smoothing int     // half width of the window used to find extrema
	boundary  int     // fixed phase boundary bin, 0 means detect
	tol       float64 // fractional tolerance of the golden-section search
}

// Option defines a functional option for configuring an Analyzer
type Option func(*Analyzer)

// WithSmoothing sets how many neighboring bins on each side an extremum must dominate
func WithSmoothing(n int) Option {
	return func(a *Analyzer) {
		a.smoothing = n
	}
}

// WithPhaseBoundary fixes the phase boundary bin instead of detecting it
func WithPhaseBoundary(bin int) Option {
	return func(a *Analyzer) {
		a.boundary = bin
	}
}

// WithTolerance sets the fractional tolerance of the 1-D searches
func WithTolerance(tol float64) Option {
	return func(a *Analyzer) {
		a.tol = tol
	}
}

// NewAnalyzer creates an Analyzer. Defaults: smoothing 10, detected boundary.
func NewAnalyzer(options ...Option) *Analyzer {
	a := &Analyzer{
		smoothing: 10,
		tol:       minimize.DefaultTolerance,
	}
	for _, opt := range options {
		opt(a)
	}
	if a.smoothing < 1 {
		a.smoothing = 1
	}
	return a
}

// PhaseBoundaries returns the interior local minima of lnPI. The first and
// last bins never count. When several interior minima exist only the first is
// kept, so at most two phases are reported.
func (a *Analyzer) PhaseBoundaries(lnPI bias.Array) []int {
	if a.boundary > 0 && a.boundary < len(lnPI)-1 {
		return []int{a.boundary}
	}
	mins := lnPI.LocalMinima(a.smoothing)
	if len(mins) > 0 && mins[0] == 0 {
		mins = mins[1:]
	}
	if len(mins) > 0 && mins[len(mins)-1] == len(lnPI)-1 {
		mins = mins[:len(mins)-1]
	}
	if len(mins) > 1 {
		mins = mins[:1]
	}
	return mins
}

// NumPhases returns the number of phases in lnPI.
func (a *Analyzer) NumPhases(lnPI bias.Array) int {
	return 1 + len(a.PhaseBoundaries(lnPI))
}

// Split partitions d at its phase boundaries. Each boundary bin belongs to the
// phase below it. Phases keep the unnormalized slice of d.LnPI so their areas
// add up to d's area.
func (a *Analyzer) Split(d Distribution) ([]Distribution, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return a.split(d)
}

func (a *Analyzer) split(d Distribution) ([]Distribution, error) {
	bounds := a.PhaseBoundaries(d.LnPI)
	phases := make([]Distribution, 0, len(bounds)+1)
	start := 0
	for i := 0; i <= len(bounds); i++ {
		end := len(d.LnPI) - 1
		if i < len(bounds) {
			end = bounds[i]
		}
		n := end - start + 1
		axis, err := d.Axis.Sub(start, n)
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", i, err)
		}
		p := Distribution{
			Axis:     axis,
			LnPI:     d.LnPI[start : end+1].Clone(),
			Beta:     d.Beta,
			Activity: d.Activity,
		}
		if d.Energy != nil {
			p.Energy = append(p.Energy, d.Energy[start:end+1]...)
		}
		phases = append(phases, p)
		start = end + 1
	}
	return phases, nil
}

func (a *Analyzer) checkPressure(d Distribution, volume float64) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if !(volume > 0) || !(d.Beta > 0) {
		return fmt.Errorf("%w: pressure needs positive volume and beta, have %v and %v",
			ErrInvalidDistribution, volume, d.Beta)
	}
	if v := d.Axis.Value(0); math.Abs(v) > 1e-9*math.Max(1, d.Axis.Width()) {
		return fmt.Errorf("%w: pressure needs the empty system in the first bin, have %v", ErrNoZeroBin, v)
	}
	return nil
}

// PressureVec returns (-lnPI[0] + ln(area of phase)) / (volume*beta) for each
// phase of d.
func (a *Analyzer) PressureVec(d Distribution, volume float64) ([]float64, error) {
	if err := a.checkPressure(d, volume); err != nil {
		return nil, err
	}
	phases, err := a.split(d)
	if err != nil {
		return nil, err
	}
	p := make([]float64, len(phases))
	for i, ph := range phases {
		p[i] = (-d.LnPI[0] + ph.LnPI.LogArea()) / volume / d.Beta
	}
	return p, nil
}

// Pressure returns the pressure of the phase with the largest area.
func (a *Analyzer) Pressure(d Distribution, volume float64) (float64, error) {
	if err := a.checkPressure(d, volume); err != nil {
		return 0, err
	}
	phases, err := a.split(d)
	if err != nil {
		return 0, err
	}
	bestArea := math.Inf(-1)
	for _, ph := range phases {
		if area := ph.LnPI.LogArea(); area > bestArea {
			bestArea = area
		}
	}
	return (-d.LnPI[0] + bestArea) / volume / d.Beta, nil
}

// PressureOnePhase returns the pressure treating all of d as a single phase.
func PressureOnePhase(d Distribution, volume float64) (float64, error) {
	if err := (&Analyzer{}).checkPressure(d, volume); err != nil {
		return 0, err
	}
	return (-d.LnPI[0] + d.LnPI.LogArea()) / volume / d.Beta, nil
}
