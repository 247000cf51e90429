package macrostate

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidAxis is returned for inconsistent axis bounds, widths or bin counts.
	ErrInvalidAxis = errors.New("invalid macrostate axis")
	// ErrUnknownKind is returned when a macrostate tag is not recognized.
	ErrUnknownKind = errors.New("unrecognized macrostate type")
	// ErrUnknownMove is returned when a move tag is not recognized or not
	// allowed for the axis kind.
	ErrUnknownMove = errors.New("unrecognized move type")
)

// Kind selects the observable that defines the macrostate.
// It fixes the collection matrix shape and how a trial's candidate value is derived.
type Kind int

const (
	// NMol is the number of molecules.
	NMol Kind = iota
	// NMolStage is the number of molecules including a partially grown one.
	NMolStage
	// Energy is the total potential energy.
	Energy
	// PairOrder is an order parameter computed by the energy model.
	PairOrder
	// Beta is the inverse temperature in a temperature expanded ensemble.
	Beta
	// Pressure is the thermodynamic pressure.
	Pressure
	// LnPressure is the logarithm of the pressure.
	LnPressure
)

var kindNames = map[Kind]string{
	NMol:       "nmol",
	NMolStage:  "nmolstage",
	Energy:     "energy",
	PairOrder:  "pairOrder",
	Beta:       "beta",
	Pressure:   "pressure",
	LnPressure: "lnpres",
}

// ParseKind converts a checkpoint tag such as "nmol" or "energy" into a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w (%q)", ErrUnknownKind, s)
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Banded reports whether only nearest-neighbor bin transitions are possible.
// Potential energy is the only global observable.
func (k Kind) Banded() bool {
	return k != Energy
}

// Discrete reports whether the candidate value follows from the move type
// alone (insertions and deletions shift it by one bin).
func (k Kind) Discrete() bool {
	return k == NMol || k == NMolStage
}

// MoveType tags a trial so the candidate macrostate can be derived.
type MoveType int

const (
	// Move keeps the macrostate unchanged (translation, rotation, ...).
	Move MoveType = iota
	// Add increases a discrete macrostate by one bin.
	Add
	// Delete decreases a discrete macrostate by one bin.
	Delete
	// Jump sets the macrostate to the proposed observable. Only valid for
	// continuous kinds.
	Jump
)

var moveNames = map[MoveType]string{
	Move:   "move",
	Add:    "add",
	Delete: "del",
	Jump:   "jump",
}

// ParseMoveType converts a trial tag ("move", "add", "del", "jump").
func ParseMoveType(s string) (MoveType, error) {
	for m, name := range moveNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w (%q)", ErrUnknownMove, s)
}

func (m MoveType) String() string {
	if name, ok := moveNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MoveType(%d)", int(m))
}

// StagedCount returns the molecule-count macrostate when a molecule is being
// grown in stages. Stage 0 means no partial molecule.
func StagedCount(nMol, stage int) float64 {
	m := float64(nMol)
	if stage != 0 {
		m += float64(stage - 1)
	}
	return m
}

// Axis maps a continuous observable onto equally sized bins in [min, max].
// It is immutable after construction.
type Axis struct {
	kind  Kind
	min   float64
	max   float64
	width float64
	nBins int
}

// NewAxis creates an axis spanning [min, max] with nBins equal bins.
func NewAxis(kind Kind, min, max float64, nBins int) (*Axis, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w (%d)", ErrUnknownKind, int(kind))
	}
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return nil, fmt.Errorf("%w: non-finite bounds min=%v max=%v", ErrInvalidAxis, min, max)
	}
	if min > max {
		return nil, fmt.Errorf("%w: min(%v) > max(%v)", ErrInvalidAxis, min, max)
	}
	if nBins <= 0 {
		return nil, fmt.Errorf("%w: number of bins must be positive, got %d", ErrInvalidAxis, nBins)
	}
	width := (max - min) / float64(nBins)
	if width <= 0 {
		return nil, fmt.Errorf("%w: bin width must be positive, got %v (min=%v max=%v nBin=%d)",
			ErrInvalidAxis, width, min, max, nBins)
	}
	return &Axis{kind: kind, min: min, max: max, width: width, nBins: nBins}, nil
}

// NewAxisWidth creates an axis from a bin width. The range must hold a whole
// number of bins.
func NewAxisWidth(kind Kind, min, max, width float64) (*Axis, error) {
	if width <= 0 || math.IsNaN(width) {
		return nil, fmt.Errorf("%w: bin width must be positive, got %v", ErrInvalidAxis, width)
	}
	n := (max - min) / width
	nBins := int(math.Round(n))
	if math.Abs(n-float64(nBins)) > 1e-9*math.Max(1, n) {
		return nil, fmt.Errorf("%w: range [%v, %v] is not a whole number of bins of width %v (%v)",
			ErrInvalidAxis, min, max, width, n)
	}
	return NewAxis(kind, min, max, nBins)
}

// NewAxisCenters creates an axis whose first and last bin centers are the
// given values.
func NewAxisCenters(kind Kind, minCenter, maxCenter float64, nBins int) (*Axis, error) {
	if nBins < 2 {
		return nil, fmt.Errorf("%w: at least two bins are needed to place centers, got %d", ErrInvalidAxis, nBins)
	}
	half := 0.5 * (maxCenter - minCenter) / float64(nBins-1)
	return NewAxis(kind, minCenter-half, maxCenter+half, nBins)
}

// NewIntegerAxis creates an axis with one bin per integer in [nMin, nMax].
func NewIntegerAxis(kind Kind, nMin, nMax int) (*Axis, error) {
	if nMin > nMax {
		return nil, fmt.Errorf("%w: nMin(%d) > nMax(%d)", ErrInvalidAxis, nMin, nMax)
	}
	return NewAxis(kind, float64(nMin)-0.5, float64(nMax)+0.5, nMax-nMin+1)
}

// Kind returns the macrostate kind.
func (a *Axis) Kind() Kind { return a.kind }

// Min returns the lower bound of the axis.
func (a *Axis) Min() float64 { return a.min }

// Max returns the upper bound of the axis.
func (a *Axis) Max() float64 { return a.max }

// Width returns the bin width.
func (a *Axis) Width() float64 { return a.width }

// NBins returns the number of bins.
func (a *Axis) NBins() int { return a.nBins }

// Banded reports whether the collection matrix for this axis is triple banded.
func (a *Axis) Banded() bool { return a.kind.Banded() }

// Bin returns the bin of value. The result may lie outside [0, NBins) when
// value is out of range; use Contains to check.
func (a *Axis) Bin(value float64) int {
	bin := int(math.Floor((value-a.Value(0))/a.width + 0.5))
	// both bounds belong to the edge bins
	switch {
	case bin < 0 && value >= a.min:
		bin = 0
	case bin >= a.nBins && value <= a.max:
		bin = a.nBins - 1
	}
	return bin
}

// Value returns the center of bin.
func (a *Axis) Value(bin int) float64 {
	return a.min + (float64(bin)+0.5)*a.width
}

// Last returns the center of the last bin.
func (a *Axis) Last() float64 {
	return a.Value(a.nBins - 1)
}

// Contains reports whether value lies within [min, max].
func (a *Axis) Contains(value float64) bool {
	return value >= a.min && value <= a.max
}

// ValidBin reports whether bin indexes the axis.
func (a *Axis) ValidBin(bin int) bool {
	return bin >= 0 && bin < a.nBins
}

// Sub returns the axis covering nBins bins starting at first, with the same width.
func (a *Axis) Sub(first, nBins int) (*Axis, error) {
	if first < 0 || nBins <= 0 || first+nBins > a.nBins {
		return nil, fmt.Errorf("%w: sub-range [%d, %d) outside [0, %d)", ErrInvalidAxis, first, first+nBins, a.nBins)
	}
	lo := a.min + float64(first)*a.width
	return &Axis{
		kind:  a.kind,
		min:   lo,
		max:   lo + float64(nBins)*a.width,
		width: a.width,
		nBins: nBins,
	}, nil
}

// Equal reports whether both axes describe the same bins.
func (a *Axis) Equal(b *Axis) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.kind == b.kind && a.nBins == b.nBins && a.min == b.min && a.max == b.max
}

func (a *Axis) String() string {
	return fmt.Sprintf("%s[%v, %v]/%d", a.kind, a.min, a.max, a.nBins)
}
