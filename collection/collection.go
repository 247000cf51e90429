// Package collection implements the transition-matrix collection matrix and
// the detailed-balance reconstruction of lnPI from it.
package collection

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-wltmmc/bias"
)

// ErrSizeMismatch is returned when matrices of different shapes are combined.
var ErrSizeMismatch = errors.New("collection matrix size mismatch")

// Matrix accumulates acceptance probability mass per origin bin. A banded
// matrix stores three columns per row (to i-1, to i, to i+1); a dense one
// stores a full row of nBins columns.
type Matrix struct {
	nBins  int
	banded bool
	c      *mat.Dense
}

// New returns a zeroed matrix for nBins macrostate bins.
func New(nBins int, banded bool) *Matrix {
	return &Matrix{
		nBins:  nBins,
		banded: banded,
		c:      mat.NewDense(nBins, width(nBins, banded), nil),
	}
}

func width(nBins int, banded bool) int {
	if banded {
		return 3
	}
	return nBins
}

// FromData builds a matrix from row-major data of nBins rows.
func FromData(nBins int, banded bool, data []float64) (*Matrix, error) {
	cols := width(nBins, banded)
	if nBins <= 0 || len(data) != nBins*cols {
		return nil, fmt.Errorf("%w: %d values for %d x %d", ErrSizeMismatch, len(data), nBins, cols)
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return &Matrix{nBins: nBins, banded: banded, c: mat.NewDense(nBins, cols, buf)}, nil
}

// NBins returns the number of rows.
func (m *Matrix) NBins() int { return m.nBins }

// Cols returns the number of stored columns per row.
func (m *Matrix) Cols() int { return width(m.nBins, m.banded) }

// Banded reports whether the matrix is triple banded.
func (m *Matrix) Banded() bool { return m.banded }

// column maps a transition from -> to onto a stored column.
func (m *Matrix) column(from, to int) (int, error) {
	if from < 0 || from >= m.nBins || to < 0 || to >= m.nBins {
		return 0, fmt.Errorf("transition %d -> %d outside [0, %d)", from, to, m.nBins)
	}
	if !m.banded {
		return to, nil
	}
	switch to - from {
	case -1:
		return 0, nil
	case 0:
		return 1, nil
	case 1:
		return 2, nil
	}
	return 0, fmt.Errorf("transition %d -> %d is not between neighboring bins of a banded matrix", from, to)
}

// Update records one trial from bin "from" proposing bin "to" with Metropolis
// probability pMet: min(1, pMet) goes to the transition and the rest stays
// in "from".
func (m *Matrix) Update(from, to int, pMet float64) error {
	col, err := m.column(from, to)
	if err != nil {
		return err
	}
	self, _ := m.column(from, from)
	p := math.Min(1, pMet)
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	m.c.Set(from, col, m.c.At(from, col)+p)
	m.c.Set(from, self, m.c.At(from, self)+1-p)
	return nil
}

// Transition returns the mass accumulated for from -> to, or 0 for a
// transition the matrix cannot store.
func (m *Matrix) Transition(from, to int) float64 {
	col, err := m.column(from, to)
	if err != nil {
		return 0
	}
	return m.c.At(from, col)
}

// Row returns a copy of the stored row.
func (m *Matrix) Row(i int) []float64 {
	row := make([]float64, m.Cols())
	copy(row, m.c.RawRowView(i))
	return row
}

// SetRow overwrites a stored row.
func (m *Matrix) SetRow(i int, values []float64) error {
	if i < 0 || i >= m.nBins || len(values) != m.Cols() {
		return fmt.Errorf("%w: row %d with %d values for %d x %d", ErrSizeMismatch, i, len(values), m.nBins, m.Cols())
	}
	m.c.SetRow(i, values)
	return nil
}

// RowSum returns the number of trials recorded from bin i.
func (m *Matrix) RowSum(i int) float64 {
	return floats.Sum(m.c.RawRowView(i))
}

// Data returns a row-major copy of all stored values.
func (m *Matrix) Data() []float64 {
	raw := m.c.RawMatrix()
	out := make([]float64, 0, m.nBins*raw.Cols)
	for i := 0; i < m.nBins; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+raw.Cols]...)
	}
	return out
}

// Fill sets every entry to constant.
func (m *Matrix) Fill(constant float64) {
	raw := m.c.RawMatrix()
	for i := 0; i < m.nBins; i++ {
		row := raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols]
		for j := range row {
			row[j] = constant
		}
	}
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	return &Matrix{nBins: m.nBins, banded: m.banded, c: mat.DenseCopyOf(m.c)}
}

// SameShape reports whether m and o can be combined element-wise.
func (m *Matrix) SameShape(o *Matrix) bool {
	return m.nBins == o.nBins && m.banded == o.banded
}

// Add sums o into m element-wise.
func (m *Matrix) Add(o *Matrix) error {
	if !m.SameShape(o) {
		return fmt.Errorf("%w: %d bins (banded %t) vs %d bins (banded %t)",
			ErrSizeMismatch, m.nBins, m.banded, o.nBins, o.banded)
	}
	m.c.Add(m.c, o.c)
	return nil
}

// Sum returns the element-wise sum of matrices covering the same bins.
func Sum(ms ...*Matrix) (*Matrix, error) {
	if len(ms) == 0 {
		return nil, fmt.Errorf("%w: nothing to sum", ErrSizeMismatch)
	}
	total := ms[0].Clone()
	for i, m := range ms[1:] {
		if err := total.Add(m); err != nil {
			return nil, fmt.Errorf("matrix %d: %w", i+1, err)
		}
	}
	return total, nil
}

// LnPI reconstructs the normalized macrostate distribution from detailed
// balance, PI[i-1]*p(i-1 -> i) == PI[i]*p(i -> i-1), starting at lnPI[0] = 0.
// Bins whose neighbors were never sampled, or with no recorded transition in
// either direction, carry the previous value forward.
func (m *Matrix) LnPI() bias.Array {
	lnPI := make(bias.Array, m.nBins)
	for i := 1; i < m.nBins; i++ {
		lnPI[i] = lnPI[i-1]
		sumDown, sumUp := m.RowSum(i-1), m.RowSum(i)
		if sumDown == 0 || sumUp == 0 {
			continue
		}
		pDown := m.Transition(i-1, i) / sumDown
		pUp := m.Transition(i, i-1) / sumUp
		if pUp == 0 || pDown == 0 {
			continue
		}
		lnPI[i] += math.Log(pDown / pUp)
	}
	lnPI.Normalize()
	return lnPI
}
