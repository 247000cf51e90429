package wltmmc

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0madic/go-wltmmc/macrostate"
)

// sampled returns a criterion after a short ideal gas run in the given stage.
func sampled(t *testing.T, options ...Option) *Criterion {
	t.Helper()
	opts := append([]Option{WithActivity(0.02), WithRandomSeed(9)}, options...)
	c, err := New(1.25, nmolAxis(t, 0, 12), opts...)
	require.NoError(t, err)
	idealGasRun(t, c, 4, 20000, 21)
	return c
}

func TestCheckpointRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		stage   Stage
	}{
		{"wang-landau", nil, WangLandau},
		{"collecting", []Option{WithCollectionFromStart()}, WangLandauCollecting},
		{"tmmc", []Option{WithCollectAt(2), WithTMMCAt(2), WithUpdateFreq(100)}, TMMC},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampled(t, tt.options...)
			require.Equal(t, tt.stage, c.Stage())

			var first bytes.Buffer
			require.NoError(t, c.WriteCheckpoint(&first))

			restored, err := ReadCheckpoint(bytes.NewReader(first.Bytes()))
			require.NoError(t, err)

			var second bytes.Buffer
			require.NoError(t, restored.WriteCheckpoint(&second))
			assert.Equal(t, first.String(), second.String())

			assert.Equal(t, c.ID(), restored.ID())
			assert.Equal(t, c.Stage(), restored.Stage())
			assert.Equal(t, c.LnF(), restored.LnF())
			assert.Equal(t, c.WLFlat(), restored.WLFlat())
			assert.Equal(t, c.NSweep(), restored.NSweep())
			assert.Equal(t, c.NTunnels(), restored.NTunnels())
			assert.Equal(t, c.Histogram(), restored.Histogram())
			assert.Equal(t, c.Energy(), restored.Energy())
			assert.Equal(t, c.Collection().Data(), restored.Collection().Data())
			assert.Equal(t, c.LnPI(), restored.LnPI())
			assert.Equal(t, c.Activities(), restored.Activities())
			assert.Equal(t, c.Beta(), restored.Beta())
		})
	}
}

func TestCheckpointHeader(t *testing.T) {
	c := sampled(t, WithCollectionFromStart())
	var buf bytes.Buffer
	require.NoError(t, c.WriteCheckpoint(&buf))
	text := buf.String()

	for _, line := range []string{
		"# class CriteriaWLTMMC\n",
		"# beta 1.25\n",
		"# activity 0.02\n",
		"# mType nmol\n",
		"# mMin -0.5\n",
		"# mMax 12.5\n",
		"# nBin 13\n",
		"# collect 1\n",
		"# tmmc 0\n",
		"# gwlmod 0.5\n",
		"# wlFlatFactor 0.8\n",
		"# nSweepVisPerBin 100\n",
		"# macrostate(nmol) lnPi(m) pe pe_stdev colMat(m-1) colMat(m) colMat(m+1) lnPIwlcomp h peNvalues peSum peSumSq\n",
	} {
		assert.Contains(t, text, line)
	}
}

func TestCheckpointMultipleActivities(t *testing.T) {
	c, err := New(1, nmolAxis(t, 0, 3), WithActivity(0.1, 0.2))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, c.WriteCheckpoint(&buf))
	assert.Contains(t, buf.String(), "# activity0 0.1\n# activity1 0.2\n")

	restored, err := ReadCheckpoint(&buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, restored.Activities())
}

func TestCheckpointLnActivity(t *testing.T) {
	c := sampled(t)
	var buf bytes.Buffer
	require.NoError(t, c.WriteCheckpoint(&buf))

	text := strings.Replace(buf.String(), "# activity 0.02\n",
		"# lnActivity "+strconv.FormatFloat(math.Log(0.02), 'g', -1, 64)+"\n", 1)
	require.NotEqual(t, buf.String(), text)
	restored, err := ReadCheckpoint(strings.NewReader(text))
	require.NoError(t, err)
	require.Len(t, restored.Activities(), 1)
	assert.InDelta(t, 0.02, restored.Activities()[0], 1e-15)
	assert.Equal(t, c.LnPI(), restored.LnPI())

	multi, err := New(1, nmolAxis(t, 0, 3), WithActivity(0.1, 0.2))
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, multi.WriteCheckpoint(&buf))
	text = strings.Replace(buf.String(), "# activity0 0.1\n# activity1 0.2\n",
		"# lnActivity0 -1\n# lnActivity1 1\n", 1)
	restored, err = ReadCheckpoint(strings.NewReader(text))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{math.Exp(-1), math.Exp(1)}, restored.Activities(), 1e-15)
}

func TestCheckpointDense(t *testing.T) {
	axis, err := macrostate.NewAxis(macrostate.Energy, -4, 0, 4)
	require.NoError(t, err)
	c, err := New(1, axis, WithCollectionFromStart(), WithRand(&fixedRand{v: 0.5}))
	require.NoError(t, err)

	for _, e := range []float64{-3.5, -0.5, -1.5, -2.5} {
		require.NoError(t, c.Store(-3.5, -3.5))
		_, err := c.Accept(-0.1, e, macrostate.Move, false)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, c.WriteCheckpoint(&buf))
	assert.Contains(t, buf.String(), "colMat[0] colMat[1] colMat[2] colMat[3]")

	restored, err := ReadCheckpoint(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.False(t, restored.Collection().Banded())
	assert.Equal(t, c.Collection().Data(), restored.Collection().Data())
}

func TestCheckpointExtraColumns(t *testing.T) {
	c := sampled(t)
	var buf bytes.Buffer
	require.NoError(t, c.WriteCheckpoint(&buf))

	// append reweighted, density and pressure columns as analysis tools do
	var edited strings.Builder
	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "# macrostate"):
			edited.WriteString(strings.TrimSuffix(line, "\n") + " lnPIrw rho pressure\n")
		case strings.HasPrefix(line, "#"):
			edited.WriteString(line)
		default:
			edited.WriteString(strings.TrimSuffix(line, "\n") + " -1 0.5 0.25\n")
		}
	}

	restored, err := ReadCheckpoint(strings.NewReader(edited.String()))
	require.NoError(t, err)
	assert.Equal(t, c.Histogram(), restored.Histogram())
	assert.Equal(t, c.LnPI(), restored.LnPI())
}

func TestCheckpointErrors(t *testing.T) {
	c := sampled(t)
	var buf bytes.Buffer
	require.NoError(t, c.WriteCheckpoint(&buf))
	text := buf.String()

	tests := []struct {
		name string
		edit func(string) string
		is   error
	}{
		{
			name: "wrong class",
			edit: func(s string) string { return strings.Replace(s, "CriteriaWLTMMC", "CriteriaMayer", 1) },
			is:   ErrMismatch,
		},
		{
			name: "missing row",
			edit: func(s string) string { return strings.Replace(s, "# nBin 13", "# nBin 14", 1) },
			is:   ErrMismatch,
		},
		{
			name: "unknown macrostate",
			edit: func(s string) string { return strings.Replace(s, "# mType nmol", "# mType volume", 1) },
			is:   macrostate.ErrUnknownKind,
		},
		{
			name: "no table header",
			edit: func(s string) string { return strings.Replace(s, "# macrostate(nmol)", "# table", 1) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCheckpoint(strings.NewReader(tt.edit(text)))
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}

	m, err := NewMetropolis(1)
	require.NoError(t, err)
	assert.ErrorIs(t, m.WriteCheckpoint(&buf), macrostate.ErrInvalidAxis)
}

func TestSaveLoad(t *testing.T) {
	c := sampled(t, WithCollectionFromStart(), WithPressure(0.3))

	var buf bytes.Buffer
	require.NoError(t, c.Save(&buf))
	loaded, err := Load(&buf, WithRandomSeed(4))
	require.NoError(t, err)

	want := c.Snapshot()
	got := loaded.Snapshot()
	assert.Equal(t, want, got)
	assert.Equal(t, 0.3, loaded.Pressure())

	// both continue identically from the same random stream
	a, err := c.Clone(WithRandomSeed(8))
	require.NoError(t, err)
	b, err := loaded.Clone(WithRandomSeed(8))
	require.NoError(t, err)
	idealGasRun(t, a, 4, 5000, 2)
	idealGasRun(t, b, 4, 5000, 2)
	assert.Equal(t, a.Snapshot(), b.Snapshot())

	_, err = Load(strings.NewReader("not gob"))
	assert.Error(t, err)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := sampled(t, WithCollectionFromStart())
	st := c.Snapshot()
	st.LnPI[0] = 1e9
	st.H[0] = 1e9
	st.Collection[0] = 1e9

	again := c.Snapshot()
	assert.NotEqual(t, st.LnPI[0], again.LnPI[0])
	assert.NotEqual(t, st.H[0], again.H[0])
	assert.NotEqual(t, st.Collection[0], again.Collection[0])

	m, err := NewMetropolis(2, WithActivity(0.5))
	require.NoError(t, err)
	clone, err := m.Clone()
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot(), clone.Snapshot())
}
