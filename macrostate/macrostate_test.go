package macrostate

import (
	"errors"
	"math"
	"testing"
)

func TestNewAxis(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		min     float64
		max     float64
		nBins   int
		wantErr bool
	}{
		{name: "nmol", kind: NMol, min: -0.5, max: 20.5, nBins: 21},
		{name: "energy", kind: Energy, min: 0, max: 1, nBins: 100},
		{name: "min greater than max", kind: NMol, min: 2, max: 1, nBins: 1, wantErr: true},
		{name: "zero bins", kind: NMol, min: 0, max: 1, nBins: 0, wantErr: true},
		{name: "zero width", kind: Beta, min: 1, max: 1, nBins: 3, wantErr: true},
		{name: "unknown kind", kind: Kind(42), min: 0, max: 1, nBins: 1, wantErr: true},
		{name: "NaN bound", kind: NMol, min: math.NaN(), max: 1, nBins: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAxis(tt.kind, tt.min, tt.max, tt.nBins)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewAxis() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if a.NBins() != tt.nBins {
				t.Errorf("NBins() = %d, want %d", a.NBins(), tt.nBins)
			}
			want := (tt.max - tt.min) / float64(tt.nBins)
			if math.Abs(a.Width()-want) > 1e-15 {
				t.Errorf("Width() = %v, want %v", a.Width(), want)
			}
		})
	}
}

func TestLastBinCenter(t *testing.T) {
	a, err := NewAxis(Energy, 0, 1, 100)
	if err != nil {
		t.Fatalf("NewAxis() error = %v", err)
	}
	if math.Abs(a.Last()-0.995) > 1e-12 {
		t.Errorf("Last() = %v, want 0.995", a.Last())
	}
}

func TestBinRoundTrip(t *testing.T) {
	axes := []*Axis{}
	for _, cfg := range []struct {
		kind     Kind
		min, max float64
		n        int
	}{
		{NMol, -0.5, 20.5, 21},
		{Energy, -120.3, 4.7, 250},
		{LnPressure, -3, 1, 7},
	} {
		a, err := NewAxis(cfg.kind, cfg.min, cfg.max, cfg.n)
		if err != nil {
			t.Fatalf("NewAxis() error = %v", err)
		}
		axes = append(axes, a)
	}

	for _, a := range axes {
		t.Run(a.String(), func(t *testing.T) {
			for b := 0; b < a.NBins(); b++ {
				if got := a.Bin(a.Value(b)); got != b {
					t.Errorf("Bin(Value(%d)) = %d", b, got)
				}
			}
			if got := a.Bin(a.Min()); got != 0 {
				t.Errorf("Bin(min) = %d, want 0", got)
			}
			if got := a.Bin(a.Max()); got != a.NBins()-1 {
				t.Errorf("Bin(max) = %d, want %d", got, a.NBins()-1)
			}
			steps := 1000
			for i := 0; i < steps; i++ {
				m := a.Min() + (a.Max()-a.Min())*float64(i)/float64(steps)
				if !a.ValidBin(a.Bin(m)) {
					t.Fatalf("Bin(%v) = %d, outside [0, %d)", m, a.Bin(m), a.NBins())
				}
				diff := math.Abs(a.Value(a.Bin(m)) - m)
				if diff > 0.5*a.Width()+1e-12 {
					t.Errorf("|Value(Bin(%v)) - %v| = %v, exceeds half width %v", m, m, diff, 0.5*a.Width())
				}
			}
		})
	}
}

func TestAxisConstructors(t *testing.T) {
	a, err := NewIntegerAxis(NMol, 0, 20)
	if err != nil {
		t.Fatalf("NewIntegerAxis() error = %v", err)
	}
	if a.NBins() != 21 || a.Min() != -0.5 || a.Max() != 20.5 {
		t.Errorf("NewIntegerAxis() = %v, want nmol[-0.5, 20.5]/21", a)
	}

	c1, err := NewAxis(Beta, 1-2.25, 10+2.25, 3)
	if err != nil {
		t.Fatalf("NewAxis() error = %v", err)
	}
	c2, err := NewAxisCenters(Beta, 1, 10, 3)
	if err != nil {
		t.Fatalf("NewAxisCenters() error = %v", err)
	}
	if c1.Width() != c2.Width() || c1.Max() != c2.Max() {
		t.Errorf("center construction mismatch: %v vs %v", c1, c2)
	}

	if _, err := NewAxisWidth(NMol, -0.5, 10.5, 1); err != nil {
		t.Errorf("NewAxisWidth() error = %v", err)
	}
	if _, err := NewAxisWidth(NMol, -0.5, 10.5, 0.7); !errors.Is(err, ErrInvalidAxis) {
		t.Errorf("NewAxisWidth() with fractional bin count error = %v, want ErrInvalidAxis", err)
	}
	if _, err := NewIntegerAxis(NMol, 5, 4); !errors.Is(err, ErrInvalidAxis) {
		t.Errorf("NewIntegerAxis(5, 4) error = %v, want ErrInvalidAxis", err)
	}
}

func TestContains(t *testing.T) {
	a, _ := NewIntegerAxis(NMol, 0, 20)
	for _, m := range []float64{0, 20, -0.5, 20.5} {
		if !a.Contains(m) {
			t.Errorf("Contains(%v) = false", m)
		}
	}
	for _, m := range []float64{-1, 21} {
		if a.Contains(m) {
			t.Errorf("Contains(%v) = true", m)
		}
	}
}

func TestSub(t *testing.T) {
	a, _ := NewIntegerAxis(NMol, 0, 99)
	s, err := a.Sub(51, 49)
	if err != nil {
		t.Fatalf("Sub() error = %v", err)
	}
	if s.Value(0) != 51 || s.Last() != 99 || s.Width() != 1 {
		t.Errorf("Sub() = %v, first center %v", s, s.Value(0))
	}
	if _, err := a.Sub(90, 20); err == nil {
		t.Errorf("Sub() beyond the axis should fail")
	}
}

func TestParse(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(name)
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseKind("volume"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("ParseKind(volume) error = %v", err)
	}
	for m, name := range moveNames {
		got, err := ParseMoveType(name)
		if err != nil || got != m {
			t.Errorf("ParseMoveType(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseMoveType("swap"); !errors.Is(err, ErrUnknownMove) {
		t.Errorf("ParseMoveType(swap) error = %v", err)
	}
}

func TestKindProperties(t *testing.T) {
	if Energy.Banded() {
		t.Errorf("energy axes must use a dense collection matrix")
	}
	if !NMol.Banded() || !PairOrder.Banded() || !LnPressure.Banded() {
		t.Errorf("non-energy axes must be banded")
	}
	if !NMolStage.Discrete() || Beta.Discrete() {
		t.Errorf("Discrete() mismatch")
	}
	if StagedCount(10, 0) != 10 || StagedCount(10, 3) != 12 {
		t.Errorf("StagedCount() mismatch")
	}
}
