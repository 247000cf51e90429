package wltmmc

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/n0madic/go-wltmmc/accumulator"
	"github.com/n0madic/go-wltmmc/bias"
	"github.com/n0madic/go-wltmmc/collection"
	"github.com/n0madic/go-wltmmc/macrostate"
)

const stateVersion = 1

// State is the serializable snapshot of a Criterion. Thresholds are stored
// after flatness-count options were converted to lnf values.
type State struct {
	Version  int       `gob:"version"`
	ID       string    `gob:"id"`
	Beta     float64   `gob:"beta"`
	Activity []float64 `gob:"activity"`
	Pressure float64   `gob:"pressure"`

	HasAxis bool    `gob:"has_axis"`
	Kind    string  `gob:"kind"`
	Min     float64 `gob:"min"`
	Max     float64 `gob:"max"`
	NBins   int     `gob:"n_bins"`

	LnFStart         float64 `gob:"lnf_start"`
	G                float64 `gob:"g"`
	FlatFactor       float64 `gob:"flat_factor"`
	LnFCollect       float64 `gob:"lnf_collect"`
	LnFTMMC          float64 `gob:"lnf_tmmc"`
	CollectFromStart bool    `gob:"collect_from_start"`
	SweepVisits      int64   `gob:"sweep_visits"`
	UpdateFreq       int     `gob:"update_freq"`

	Stage       int       `gob:"stage"`
	LnF         float64   `gob:"lnf"`
	LnPI        []float64 `gob:"lnpi"`
	H           []int64   `gob:"h"`
	Collection  []float64 `gob:"collection"`
	EnergyN     []int64   `gob:"energy_n"`
	EnergySum   []float64 `gob:"energy_sum"`
	EnergySumSq []float64 `gob:"energy_sum_sq"`
	WLFlat      int       `gob:"wl_flat"`
	NSweep      int       `gob:"n_sweep"`
	NTunnels    int       `gob:"n_tunnels"`
	TunnelPrev  int       `gob:"tunnel_prev"`
	Trials      int64     `gob:"trials"`
	Accepted    int64     `gob:"accepted"`
	SinceUpdate int       `gob:"since_update"`
}

// Snapshot returns a deep copy of the configuration and sampling state.
// It is taken between trials, so a pending Store is not part of it.
func (c *Criterion) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Version:          stateVersion,
		ID:               c.id.String(),
		Beta:             c.beta,
		Activity:         append([]float64(nil), c.activity...),
		Pressure:         c.pressure,
		LnFStart:         c.lnfStart,
		G:                c.g,
		FlatFactor:       c.flatFactor,
		LnFCollect:       c.lnfCollect,
		LnFTMMC:          c.lnfTMMC,
		CollectFromStart: c.collectFromStart,
		SweepVisits:      c.sweepVisits,
		UpdateFreq:       c.updateFreq,
		Stage:            int(c.s.stage),
		LnF:              c.s.lnf,
		WLFlat:           c.s.wlFlat,
		NSweep:           c.s.nSweep,
		NTunnels:         c.s.nTunnels,
		TunnelPrev:       c.s.tunnelPrev,
		Trials:           c.s.trials,
		Accepted:         c.s.accepted,
		SinceUpdate:      c.s.sinceUpdate,
	}
	if c.axis == nil {
		return st
	}

	st.HasAxis = true
	st.Kind = c.axis.Kind().String()
	st.Min = c.axis.Min()
	st.Max = c.axis.Max()
	st.NBins = c.axis.NBins()
	st.LnPI = c.s.lnPI.Clone()
	st.H = append([]int64(nil), c.s.h...)
	st.Collection = c.s.c.Data()
	n := len(c.s.energy)
	st.EnergyN = make([]int64, n)
	st.EnergySum = make([]float64, n)
	st.EnergySumSq = make([]float64, n)
	for i, e := range c.s.energy {
		st.EnergyN[i] = e.N()
		st.EnergySum[i] = e.Sum()
		st.EnergySumSq[i] = e.SumSq()
	}
	return st
}

// options converts the configuration part of st back into options.
func (st State) options() ([]Option, error) {
	opts := []Option{
		WithPressure(st.Pressure),
		WithInitialLnF(st.LnFStart),
		WithModificationFactor(st.G),
		WithFlatnessFactor(st.FlatFactor),
		WithCollectAt(st.LnFCollect),
		WithTMMCAt(st.LnFTMMC),
		WithSweepVisits(int(st.SweepVisits)),
		WithUpdateFreq(st.UpdateFreq),
	}
	if len(st.Activity) > 0 {
		opts = append(opts, WithActivity(st.Activity...))
	}
	if st.CollectFromStart {
		opts = append(opts, WithCollectionFromStart())
	}
	if st.ID != "" {
		id, err := uuid.Parse(st.ID)
		if err != nil {
			return nil, fmt.Errorf("criterion id: %w", err)
		}
		opts = append(opts, WithID(id))
	}
	return opts, nil
}

// FromState rebuilds a Criterion from a snapshot. Extra options, such as a
// random source or a logger, are applied after the stored configuration.
func FromState(st State, options ...Option) (*Criterion, error) {
	opts, err := st.options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, options...)

	if !st.HasAxis {
		c, err := NewMetropolis(st.Beta, opts...)
		if err != nil {
			return nil, err
		}
		c.s.trials, c.s.accepted = st.Trials, st.Accepted
		return c, nil
	}

	kind, err := macrostate.ParseKind(st.Kind)
	if err != nil {
		return nil, err
	}
	axis, err := macrostate.NewAxis(kind, st.Min, st.Max, st.NBins)
	if err != nil {
		return nil, err
	}
	c, err := New(st.Beta, axis, opts...)
	if err != nil {
		return nil, err
	}

	n := axis.NBins()
	if len(st.LnPI) != n || len(st.H) != n || len(st.EnergyN) != n ||
		len(st.EnergySum) != n || len(st.EnergySumSq) != n {
		return nil, fmt.Errorf("%w: state arrays do not have %d bins", ErrMismatch, n)
	}
	if st.Stage < int(WangLandau) || st.Stage > int(TMMC) {
		return nil, fmt.Errorf("%w: stage %d", ErrMismatch, st.Stage)
	}
	m, err := collection.FromData(n, axis.Banded(), st.Collection)
	if err != nil {
		return nil, err
	}

	c.s.stage = Stage(st.Stage)
	c.s.lnf = st.LnF
	c.s.lnPI = bias.Array(st.LnPI).Clone()
	c.s.h = append([]int64(nil), st.H...)
	c.s.c = m
	for i := range c.s.energy {
		c.s.energy[i] = accumulator.FromSums(st.EnergyN[i], st.EnergySum[i], st.EnergySumSq[i])
	}
	c.s.wlFlat = st.WLFlat
	c.s.nSweep = st.NSweep
	c.s.nTunnels = st.NTunnels
	c.s.tunnelPrev = st.TunnelPrev
	c.s.trials = st.Trials
	c.s.accepted = st.Accepted
	c.s.sinceUpdate = st.SinceUpdate
	return c, nil
}

// Clone returns an independent deep copy. The copy gets its own random
// source unless one is passed in options.
func (c *Criterion) Clone(options ...Option) (*Criterion, error) {
	return FromState(c.Snapshot(), options...)
}

// Save serializes the criterion state to gob format
func (c *Criterion) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(c.Snapshot())
}

// Load deserializes a criterion saved with Save.
func Load(r io.Reader, options ...Option) (*Criterion, error) {
	var st State
	if err := gob.NewDecoder(r).Decode(&st); err != nil {
		return nil, err
	}
	if st.Version != stateVersion {
		return nil, errors.New("unsupported gob version")
	}
	return FromState(st, options...)
}
