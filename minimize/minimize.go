// Package minimize provides a derivative-free one dimensional minimizer:
// downhill bracketing followed by golden-section search.
package minimize

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNonFinite is returned when the objective evaluates to NaN or Inf.
	ErrNonFinite = errors.New("objective is not finite")
	// ErrNoBracket is returned when no bracketing triplet is found.
	ErrNoBracket = errors.New("failed to bracket a minimum")
)

// Func is a scalar objective.
type Func func(x float64) float64

const (
	gold   = 1.618034
	gLimit = 100.0
	tiny   = 1e-20
	ratio  = 0.61803399

	// DefaultTolerance is the fractional precision of the golden-section search.
	DefaultTolerance = 3.0e-8
	// MaxIterations bounds both the bracketing and the golden-section loops.
	MaxIterations = 10000
)

// Bracket holds a < b < c (or c < b < a) with f(b) below f(a) and f(c).
type Bracket struct {
	A, B, C    float64
	FA, FB, FC float64
}

func eval(f Func, x float64) (float64, error) {
	v := f(x)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v, fmt.Errorf("%w: f(%v) = %v", ErrNonFinite, x, v)
	}
	return v, nil
}

// FindBracket searches downhill from the initial points a and b, with
// parabolic extrapolation, until a minimum is enclosed.
func FindBracket(f Func, a, b float64) (Bracket, error) {
	if a == b {
		return Bracket{}, fmt.Errorf("%w: initial points coincide (%v)", ErrNoBracket, a)
	}
	fa, err := eval(f, a)
	if err != nil {
		return Bracket{}, err
	}
	fb, err := eval(f, b)
	if err != nil {
		return Bracket{}, err
	}
	if fb > fa {
		a, b = b, a
		fa, fb = fb, fa
	}
	c := b + gold*(b-a)
	fc, err := eval(f, c)
	if err != nil {
		return Bracket{}, err
	}

	for iter := 0; fb > fc; iter++ {
		if iter >= MaxIterations {
			return Bracket{}, fmt.Errorf("%w after %d steps (last %v, %v, %v)", ErrNoBracket, iter, a, b, c)
		}
		r := (b - a) * (fb - fc)
		q := (b - c) * (fb - fa)
		u := b - ((b-c)*q-(b-a)*r)/(2*math.Copysign(math.Max(math.Abs(q-r), tiny), q-r))
		ulim := b + gLimit*(c-b)
		var fu float64

		switch {
		case (b-u)*(u-c) > 0:
			if fu, err = eval(f, u); err != nil {
				return Bracket{}, err
			}
			if fu < fc {
				return Bracket{A: b, B: u, C: c, FA: fb, FB: fu, FC: fc}, nil
			} else if fu > fb {
				return Bracket{A: a, B: b, C: u, FA: fa, FB: fb, FC: fu}, nil
			}
			u = c + gold*(c-b)
			if fu, err = eval(f, u); err != nil {
				return Bracket{}, err
			}
		case (c-u)*(u-ulim) > 0:
			if fu, err = eval(f, u); err != nil {
				return Bracket{}, err
			}
			if fu < fc {
				b, c, u = c, u, u+gold*(u-c)
				fb, fc = fc, fu
				if fu, err = eval(f, u); err != nil {
					return Bracket{}, err
				}
			}
		case (u-ulim)*(ulim-c) >= 0:
			u = ulim
			if fu, err = eval(f, u); err != nil {
				return Bracket{}, err
			}
		default:
			u = c + gold*(c-b)
			if fu, err = eval(f, u); err != nil {
				return Bracket{}, err
			}
		}
		a, b, c = b, c, u
		fa, fb, fc = fb, fc, fu
	}
	return Bracket{A: a, B: b, C: c, FA: fa, FB: fb, FC: fc}, nil
}

// Golden narrows br by golden-section search until the interval is below
// tol times the magnitude of the abscissa, and returns the best point.
func Golden(f Func, br Bracket, tol float64) (x, fx float64, err error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	const c = 1 - ratio
	x0, x3 := br.A, br.C
	var x1, x2 float64
	if math.Abs(br.C-br.B) > math.Abs(br.B-br.A) {
		x1 = br.B
		x2 = br.B + c*(br.C-br.B)
	} else {
		x2 = br.B
		x1 = br.B - c*(br.B-br.A)
	}
	f1, err := eval(f, x1)
	if err != nil {
		return 0, 0, err
	}
	f2, err := eval(f, x2)
	if err != nil {
		return 0, 0, err
	}

	for iter := 0; math.Abs(x3-x0) > tol*(math.Abs(x1)+math.Abs(x2)) && math.Abs(x3-x0) > tiny; iter++ {
		if iter >= MaxIterations {
			break
		}
		if f2 < f1 {
			x0, x1, x2 = x1, x2, ratio*x2+c*x3
			f1 = f2
			if f2, err = eval(f, x2); err != nil {
				return 0, 0, err
			}
		} else {
			x3, x2, x1 = x2, x1, ratio*x1+c*x0
			f2 = f1
			if f1, err = eval(f, x1); err != nil {
				return 0, 0, err
			}
		}
	}
	if f1 < f2 {
		return x1, f1, nil
	}
	return x2, f2, nil
}

// Minimize brackets a minimum starting from a and b, then refines it.
func Minimize(f Func, a, b, tol float64) (x, fx float64, err error) {
	br, err := FindBracket(f, a, b)
	if err != nil {
		return 0, 0, err
	}
	return Golden(f, br, tol)
}
