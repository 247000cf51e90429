package collection

import (
	"errors"
	"math"
	"testing"
)

func TestUpdateBanded(t *testing.T) {
	m := New(5, true)

	if err := m.Update(2, 3, 0.25); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := m.Update(2, 1, 4); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := m.Update(2, 2, 1); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	want := []float64{1, 1.75, 0.25}
	got := m.Row(2)
	for j := range want {
		if math.Abs(got[j]-want[j]) > 1e-15 {
			t.Errorf("row 2 = %v, want %v", got, want)
			break
		}
	}
	if m.RowSum(2) != 3 {
		t.Errorf("RowSum(2) = %v, want 3 (one per trial)", m.RowSum(2))
	}
	if m.Transition(2, 3) != 0.25 {
		t.Errorf("Transition(2, 3) = %v", m.Transition(2, 3))
	}

	if err := m.Update(2, 4, 1); err == nil {
		t.Errorf("Update() across two bins of a banded matrix should fail")
	}
	if err := m.Update(4, 5, 1); err == nil {
		t.Errorf("Update() beyond the last bin should fail")
	}
}

func TestUpdateDense(t *testing.T) {
	m := New(4, false)
	if err := m.Update(0, 3, 0.5); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if m.Transition(0, 3) != 0.5 || m.Transition(0, 0) != 0.5 {
		t.Errorf("row 0 = %v", m.Row(0))
	}
	if m.Cols() != 4 {
		t.Errorf("Cols() = %d, want 4", m.Cols())
	}
}

func TestDetailedBalanceBanded(t *testing.T) {
	const n = 12
	m := New(n, true)
	for i := 0; i < n; i++ {
		if err := m.SetRow(i, []float64{0.4, 0, 0.6}); err != nil {
			t.Fatalf("SetRow() error = %v", err)
		}
	}

	lnPI := m.LnPI()
	want := math.Log(0.6 / 0.4)
	for i := 1; i < n; i++ {
		if diff := lnPI[i] - lnPI[i-1]; math.Abs(diff-want) > 1e-12 {
			t.Errorf("lnPI[%d] - lnPI[%d] = %v, want %v", i, i-1, diff, want)
		}
	}
	if area := lnPI.Area(); math.Abs(area-1) > 1e-12 {
		t.Errorf("Area() = %v, want 1", area)
	}
}

func TestDetailedBalanceDense(t *testing.T) {
	const n = 6
	m := New(n, false)
	for i := 0; i < n; i++ {
		row := make([]float64, n)
		if i > 0 {
			row[i-1] = 0.3
		}
		if i < n-1 {
			row[i+1] = 0.6
		}
		row[i] = 1 - 0.9
		if err := m.SetRow(i, row); err != nil {
			t.Fatalf("SetRow() error = %v", err)
		}
	}
	lnPI := m.LnPI()
	for i := 2; i < n-1; i++ {
		if diff := lnPI[i] - lnPI[i-1]; math.Abs(diff-math.Log(2)) > 1e-12 {
			t.Errorf("lnPI[%d] - lnPI[%d] = %v, want ln 2", i, i-1, diff)
		}
	}
}

func TestUnsampledRowsCarryForward(t *testing.T) {
	m := New(5, true)
	_ = m.SetRow(0, []float64{0, 1, 1})
	_ = m.SetRow(1, []float64{1, 2, 1})
	// rows 2 and 3 never visited
	_ = m.SetRow(4, []float64{1, 1, 0})

	lnPI := m.LnPI()
	for i, v := range lnPI {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("lnPI[%d] = %v, want finite", i, v)
		}
	}
	if lnPI[2] != lnPI[1] || lnPI[3] != lnPI[1] || lnPI[4] != lnPI[1] {
		t.Errorf("unsampled bins should carry the previous value forward: %v", lnPI)
	}
	// p(0->1) = 1/2, p(1->0) = 1/4
	if diff := lnPI[1] - lnPI[0]; math.Abs(diff-math.Log(2)) > 1e-12 {
		t.Errorf("lnPI[1] - lnPI[0] = %v, want ln 2", diff)
	}
}

func TestZeroTransitionCarriesForward(t *testing.T) {
	tests := []struct {
		name string
		rows [][]float64
	}{
		{
			name: "never moved up",
			rows: [][]float64{{0, 5, 0}, {2, 3, 1}, {1, 3, 0}},
		},
		{
			name: "never moved down",
			rows: [][]float64{{0, 3, 2}, {0, 5, 1}, {1, 3, 0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(3, true)
			for i, row := range tt.rows {
				if err := m.SetRow(i, row); err != nil {
					t.Fatalf("SetRow(%d) error = %v", i, err)
				}
			}
			lnPI := m.LnPI()
			for i, v := range lnPI {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("lnPI[%d] = %v, want finite", i, v)
				}
			}
			if lnPI[1] != lnPI[0] {
				t.Errorf("lnPI[1] = %v, want lnPI[0] = %v carried forward", lnPI[1], lnPI[0])
			}
			// p(1->2) = 1/6, p(2->1) = 1/4 in both cases
			if diff := lnPI[2] - lnPI[1]; math.Abs(diff-math.Log(4.0/6)) > 1e-12 {
				t.Errorf("lnPI[2] - lnPI[1] = %v, want ln(2/3)", diff)
			}
		})
	}
}

func TestSum(t *testing.T) {
	a, b := New(3, true), New(3, true)
	_ = a.Update(0, 1, 0.5)
	_ = b.Update(0, 1, 0.25)
	_ = b.Update(1, 0, 1)

	total, err := Sum(a, b)
	if err != nil {
		t.Fatalf("Sum() error = %v", err)
	}
	if total.Transition(0, 1) != 0.75 || total.Transition(1, 0) != 1 || total.RowSum(0) != 2 {
		t.Errorf("Sum() rows = %v %v", total.Row(0), total.Row(1))
	}
	if a.Transition(0, 1) != 0.5 {
		t.Errorf("Sum() must not modify its inputs")
	}

	if _, err := Sum(a, New(4, true)); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Sum() with different sizes error = %v, want ErrSizeMismatch", err)
	}
	if _, err := Sum(a, New(3, false)); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Sum() with different shapes error = %v, want ErrSizeMismatch", err)
	}
}

func TestDataRoundTrip(t *testing.T) {
	m := New(3, false)
	_ = m.Update(0, 2, 0.125)
	_ = m.Update(2, 1, 0.5)
	m2, err := FromData(3, false, m.Data())
	if err != nil {
		t.Fatalf("FromData() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if m.Transition(i, j) != m2.Transition(i, j) {
				t.Errorf("entry (%d,%d) = %v, want %v", i, j, m2.Transition(i, j), m.Transition(i, j))
			}
		}
	}
	if _, err := FromData(3, true, []float64{1}); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("FromData() with short data error = %v", err)
	}

	m.Fill(2)
	if m.RowSum(1) != 6 {
		t.Errorf("Fill(2) RowSum = %v, want 6", m.RowSum(1))
	}
}
