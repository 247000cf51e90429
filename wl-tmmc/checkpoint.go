package wltmmc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/n0madic/go-wltmmc/bias"
	"github.com/n0madic/go-wltmmc/macrostate"
)

const checkpointClass = "CriteriaWLTMMC"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// WriteCheckpoint writes the criterion as a text checkpoint: "# key value"
// header lines followed by one row per bin. The lnPi column holds the bias
// exactly as sampled, up to an additive constant. The whole document is
// rendered before anything is written to w.
func (c *Criterion) WriteCheckpoint(w io.Writer) error {
	if c.axis == nil {
		return fmt.Errorf("%w: plain Metropolis has no checkpoint", macrostate.ErrInvalidAxis)
	}

	c.mu.Lock()
	var buf bytes.Buffer
	c.renderCheckpoint(&buf)
	c.mu.Unlock()

	_, err := w.Write(buf.Bytes())
	return err
}

func (c *Criterion) renderCheckpoint(buf *bytes.Buffer) {
	header := func(key string, value any) {
		if v, ok := value.(float64); ok {
			value = formatFloat(v)
		}
		fmt.Fprintf(buf, "# %s %v\n", key, value)
	}

	header("class", checkpointClass)
	header("id", c.id.String())
	header("beta", c.beta)
	if len(c.activity) == 1 {
		header("activity", c.activity[0])
	} else {
		for i, a := range c.activity {
			header("activity"+strconv.Itoa(i), a)
		}
	}
	header("pressure", c.pressure)
	header("mType", c.axis.Kind().String())
	header("mMin", c.axis.Min())
	header("mMax", c.axis.Max())
	header("nBin", c.axis.NBins())
	header("collect", boolInt(c.s.stage >= WangLandauCollecting))
	header("tmmc", boolInt(c.s.stage == TMMC))
	header("nSweep", c.s.nSweep)
	header("wlFlat", c.s.wlFlat)
	header("lnf", c.s.lnf)
	header("gwlmod", c.g)
	header("lnfCollect", c.lnfCollect)
	header("lnfTMMC", c.lnfTMMC)
	header("wlFlatFactor", c.flatFactor)
	header("nSweepVisPerBin", c.sweepVisits)
	header("nTunnels", c.s.nTunnels)
	header("tunnelPrev", c.s.tunnelPrev)
	header("lnfInit", c.lnfStart)
	header("collectFromStart", boolInt(c.collectFromStart))
	header("updateFreq", c.updateFreq)
	header("trials", c.s.trials)
	header("accepted", c.s.accepted)

	var wlcomp bias.Array
	if c.s.stage == WangLandauCollecting {
		wlcomp = c.s.c.LnPI()
	}

	cols := []string{"macrostate(" + c.axis.Kind().String() + ")", "lnPi(m)", "pe", "pe_stdev"}
	if c.s.c.Banded() {
		cols = append(cols, "colMat(m-1)", "colMat(m)", "colMat(m+1)")
	} else {
		for j := 0; j < c.s.c.Cols(); j++ {
			cols = append(cols, "colMat["+strconv.Itoa(j)+"]")
		}
	}
	if wlcomp != nil {
		cols = append(cols, "lnPIwlcomp")
	}
	cols = append(cols, "h", "peNvalues", "peSum", "peSumSq")
	buf.WriteString("# " + strings.Join(cols, " ") + "\n")

	row := make([]string, 0, len(cols))
	for i := 0; i < c.axis.NBins(); i++ {
		e := c.s.energy[i]
		row = append(row[:0],
			formatFloat(c.axis.Value(i)),
			formatFloat(c.s.lnPI[i]),
			formatFloat(e.Mean()),
			formatFloat(e.Stdev()),
		)
		for _, v := range c.s.c.Row(i) {
			row = append(row, formatFloat(v))
		}
		if wlcomp != nil {
			row = append(row, formatFloat(wlcomp[i]))
		}
		row = append(row,
			strconv.FormatInt(c.s.h[i], 10),
			strconv.FormatInt(e.N(), 10),
			formatFloat(e.Sum()),
			formatFloat(e.SumSq()),
		)
		buf.WriteString(strings.Join(row, " ") + "\n")
	}
}

// checkpointHeader holds the "# key value" directives of a checkpoint.
type checkpointHeader map[string]string

func (h checkpointHeader) float(key string) (float64, error) {
	s, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("checkpoint header %q missing", key)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("checkpoint header %q: %w", key, err)
	}
	return v, nil
}

func (h checkpointHeader) int(key string) (int, error) {
	s, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("checkpoint header %q missing", key)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("checkpoint header %q: %w", key, err)
	}
	return v, nil
}

// optionalInt returns def when key is absent.
func (h checkpointHeader) optionalInt(key string, def int) (int, error) {
	if _, ok := h[key]; !ok {
		return def, nil
	}
	return h.int(key)
}

func (h checkpointHeader) optionalFloat(key string, def float64) (float64, error) {
	if _, ok := h[key]; !ok {
		return def, nil
	}
	return h.float(key)
}

// ReadCheckpoint restores a criterion written by WriteCheckpoint. Columns
// are located by their header names, so extra columns such as lnPIrw, rho or
// pressure are ignored. Options are applied after the stored configuration.
func ReadCheckpoint(r io.Reader, options ...Option) (*Criterion, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<28)

	header := checkpointHeader{}
	var cols []string
	var rows [][]string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == "#" {
			if len(fields) < 2 {
				continue
			}
			if strings.HasPrefix(fields[1], "macrostate") {
				cols = fields[1:]
				continue
			}
			header[fields[1]] = strings.Join(fields[2:], " ")
			continue
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cols == nil {
		return nil, fmt.Errorf("checkpoint has no column header")
	}

	st, err := headerState(header)
	if err != nil {
		return nil, err
	}
	if len(rows) != st.NBins {
		return nil, fmt.Errorf("%w: checkpoint has %d rows for %d bins", ErrMismatch, len(rows), st.NBins)
	}
	kind, err := macrostate.ParseKind(st.Kind)
	if err != nil {
		return nil, err
	}
	axis, err := macrostate.NewAxis(kind, st.Min, st.Max, st.NBins)
	if err != nil {
		return nil, err
	}
	if err := fillColumns(&st, axis, cols, rows); err != nil {
		return nil, err
	}
	return FromState(st, options...)
}

// headerState fills the configuration and scalar fields of a State.
func headerState(h checkpointHeader) (State, error) {
	st := State{Version: stateVersion, HasAxis: true}
	if class := h["class"]; class != checkpointClass {
		return st, fmt.Errorf("%w: checkpoint class %q", ErrMismatch, class)
	}
	if id, ok := h["id"]; ok {
		if _, err := uuid.Parse(id); err != nil {
			return st, fmt.Errorf("checkpoint id: %w", err)
		}
		st.ID = id
	}

	var err error
	floatFields := []struct {
		key string
		dst *float64
	}{
		{"beta", &st.Beta},
		{"mMin", &st.Min},
		{"mMax", &st.Max},
		{"lnf", &st.LnF},
		{"gwlmod", &st.G},
		{"lnfCollect", &st.LnFCollect},
		{"lnfTMMC", &st.LnFTMMC},
		{"wlFlatFactor", &st.FlatFactor},
	}
	for _, f := range floatFields {
		if *f.dst, err = h.float(f.key); err != nil {
			return st, err
		}
	}
	if st.Pressure, err = h.optionalFloat("pressure", 0); err != nil {
		return st, err
	}
	if st.LnFStart, err = h.optionalFloat("lnfInit", DefaultLnF); err != nil {
		return st, err
	}

	intFields := []struct {
		key string
		dst *int
		def int
	}{
		{"nSweep", &st.NSweep, 0},
		{"wlFlat", &st.WLFlat, 0},
		{"nTunnels", &st.NTunnels, 0},
		{"tunnelPrev", &st.TunnelPrev, -1},
		{"updateFreq", &st.UpdateFreq, 0},
	}
	for _, f := range intFields {
		if *f.dst, err = h.optionalInt(f.key, f.def); err != nil {
			return st, err
		}
	}
	if st.NBins, err = h.int("nBin"); err != nil {
		return st, err
	}
	visits, err := h.optionalInt("nSweepVisPerBin", DefaultSweepVisits)
	if err != nil {
		return st, err
	}
	st.SweepVisits = int64(visits)
	collect, err := h.optionalInt("collect", 0)
	if err != nil {
		return st, err
	}
	tmmc, err := h.optionalInt("tmmc", 0)
	if err != nil {
		return st, err
	}
	fromStart, err := h.optionalInt("collectFromStart", 0)
	if err != nil {
		return st, err
	}
	st.CollectFromStart = fromStart == 1
	switch {
	case tmmc == 1:
		st.Stage = int(TMMC)
	case collect == 1:
		st.Stage = int(WangLandauCollecting)
	default:
		st.Stage = int(WangLandau)
	}
	counters := []struct {
		key string
		dst *int64
	}{
		{"trials", &st.Trials},
		{"accepted", &st.Accepted},
	}
	for _, f := range counters {
		s, ok := h[f.key]
		if !ok {
			continue
		}
		if *f.dst, err = strconv.ParseInt(s, 10, 64); err != nil {
			return st, fmt.Errorf("checkpoint header %q: %w", f.key, err)
		}
	}

	st.Kind = h["mType"]
	if a, ok := h["activity"]; ok {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return st, fmt.Errorf("checkpoint header %q: %w", "activity", err)
		}
		st.Activity = []float64{v}
	}
	for i := 0; ; i++ {
		key := "activity" + strconv.Itoa(i)
		if _, ok := h[key]; !ok {
			break
		}
		v, err := h.float(key)
		if err != nil {
			return st, err
		}
		st.Activity = append(st.Activity, v)
	}
	if len(st.Activity) > 0 {
		return st, nil
	}

	// activities may also be given as ln(activity)
	if _, ok := h["lnActivity"]; ok {
		v, err := h.float("lnActivity")
		if err != nil {
			return st, err
		}
		st.Activity = []float64{math.Exp(v)}
	}
	for i := 0; ; i++ {
		key := "lnActivity" + strconv.Itoa(i)
		if _, ok := h[key]; !ok {
			break
		}
		v, err := h.float(key)
		if err != nil {
			return st, err
		}
		st.Activity = append(st.Activity, math.Exp(v))
	}
	return st, nil
}

// fillColumns parses the per-bin table into st.
func fillColumns(st *State, axis *macrostate.Axis, cols []string, rows [][]string) error {
	index := make(map[string]int, len(cols))
	for i, name := range cols {
		index[name] = i
	}
	column := func(name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return 0, fmt.Errorf("checkpoint column %q missing", name)
		}
		return i, nil
	}

	var colMat []int
	if axis.Banded() {
		for _, name := range []string{"colMat(m-1)", "colMat(m)", "colMat(m+1)"} {
			i, err := column(name)
			if err != nil {
				return err
			}
			colMat = append(colMat, i)
		}
	} else {
		for j := 0; j < axis.NBins(); j++ {
			i, err := column("colMat[" + strconv.Itoa(j) + "]")
			if err != nil {
				return err
			}
			colMat = append(colMat, i)
		}
	}
	lnPICol, err := column("lnPi(m)")
	if err != nil {
		return err
	}
	hCol, err := column("h")
	if err != nil {
		return err
	}
	nCol, hasN := index["peNvalues"]
	sumCol, hasSum := index["peSum"]
	sumSqCol, hasSumSq := index["peSumSq"]
	hasEnergy := hasN && hasSum && hasSumSq

	n := axis.NBins()
	st.LnPI = make([]float64, n)
	st.H = make([]int64, n)
	st.Collection = make([]float64, 0, n*len(colMat))
	st.EnergyN = make([]int64, n)
	st.EnergySum = make([]float64, n)
	st.EnergySumSq = make([]float64, n)

	for i, row := range rows {
		if len(row) != len(cols) {
			return fmt.Errorf("%w: checkpoint row %d has %d columns, header has %d", ErrMismatch, i, len(row), len(cols))
		}
		parse := func(col int) (float64, error) {
			v, err := strconv.ParseFloat(row[col], 64)
			if err != nil {
				return 0, fmt.Errorf("checkpoint row %d column %q: %w", i, cols[col], err)
			}
			return v, nil
		}

		m, err := parse(0)
		if err != nil {
			return err
		}
		if math.Abs(m-axis.Value(i)) > 1e-6*axis.Width() {
			return fmt.Errorf("%w: checkpoint row %d has macrostate %v, axis expects %v", ErrMismatch, i, m, axis.Value(i))
		}
		if st.LnPI[i], err = parse(lnPICol); err != nil {
			return err
		}
		h, err := parse(hCol)
		if err != nil {
			return err
		}
		st.H[i] = int64(h)
		for _, col := range colMat {
			v, err := parse(col)
			if err != nil {
				return err
			}
			st.Collection = append(st.Collection, v)
		}
		if !hasEnergy {
			continue
		}
		nv, err := parse(nCol)
		if err != nil {
			return err
		}
		st.EnergyN[i] = int64(nv)
		if st.EnergySum[i], err = parse(sumCol); err != nil {
			return err
		}
		if st.EnergySumSq[i], err = parse(sumSqCol); err != nil {
			return err
		}
	}
	return nil
}
