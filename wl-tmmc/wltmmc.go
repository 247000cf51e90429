// Package wltmmc implements a flat-histogram acceptance criterion combining
// Wang-Landau (WL) bias growth with Transition-Matrix Monte Carlo (TMMC).
//
// A Criterion decides whether trial moves of a Monte Carlo simulation are
// accepted. Along a macrostate axis it keeps:
//   - a bias array lnPI estimating the log-probability of each bin
//   - a visit histogram that drives the WL flatness test and lnf decay
//   - a collection matrix of transition probabilities, reconstructed into lnPI
//     by detailed balance once the run switches to TMMC
//
// A Criterion built without an axis is plain Metropolis.
package wltmmc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/n0madic/go-wltmmc/accumulator"
	"github.com/n0madic/go-wltmmc/analysis"
	"github.com/n0madic/go-wltmmc/bias"
	"github.com/n0madic/go-wltmmc/collection"
	"github.com/n0madic/go-wltmmc/macrostate"
)

var (
	// ErrNotStored is returned by Accept when Store was not called for the trial.
	ErrNotStored = errors.New("macrostate of the current configuration was not stored")
	// ErrOutOfRange is returned by Store for a macrostate outside the axis.
	ErrOutOfRange = errors.New("macrostate is beyond the axis limits")
	// ErrMismatch is returned when criteria that must share an axis do not.
	ErrMismatch = errors.New("criteria do not match")
	// ErrNoActivity is returned when a single activity is requested but the
	// criterion holds none or several.
	ErrNoActivity = errors.New("criterion does not hold exactly one activity")
)

// Stage is the sampling stage of a Criterion. Stages only advance.
type Stage int

const (
	// Metropolis is the permanent stage of a criterion without an axis.
	Metropolis Stage = iota
	// WangLandau grows lnPI at every visited bin.
	WangLandau
	// WangLandauCollecting also fills the collection matrix.
	WangLandauCollecting
	// TMMC derives lnPI from the collection matrix.
	TMMC
)

var stageNames = [...]string{"metropolis", "wl", "wlc", "tmmc"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Uniform is a source of uniform random numbers in [0, 1).
type Uniform interface {
	Float64() float64
}

// Default schedule parameters.
const (
	DefaultLnF            = 1.0
	DefaultModification   = 0.5
	DefaultFlatnessFactor = 0.8
	DefaultLnFCollect     = 1e-6
	DefaultLnFTMMC        = 1e-99
	DefaultSweepVisits    = 100
)

// state groups everything that changes while sampling. It is only mutated by
// Store, Accept, FlatnessCheck, UpdateLnPI and the maintenance methods.
type state struct {
	stage      Stage
	lnf        float64
	lnPI       bias.Array
	h          []int64
	c          *collection.Matrix
	energy     []accumulator.Accumulator
	wlFlat     int
	nSweep     int
	nTunnels   int
	tunnelPrev int // -1 before either end was visited, 0 at the low end, 1 at the high end

	stored    bool
	oldValue  float64
	oldBin    int
	oldEnergy float64

	trials      int64
	accepted    int64
	sinceUpdate int
}

// Criterion is an adaptive-bias acceptance criterion. It is safe for
// concurrent use, though trials must be fed in order by one sampler.
type Criterion struct {
	id       uuid.UUID
	beta     float64
	activity []float64
	pressure float64
	axis     *macrostate.Axis

	lnfStart         float64
	g                float64
	flatFactor       float64
	lnfCollect       float64
	lnfTMMC          float64
	collectAfterFlat int
	tmmcAfterFlat    int
	collectFromStart bool
	sweepVisits      int64
	updateFreq       int

	rng    Uniform
	logger *slog.Logger

	s  state
	mu sync.Mutex
}

// Option defines a functional option for configuring a Criterion
type Option func(*Criterion)

// WithActivity sets the activity of each species
func WithActivity(activity ...float64) Option {
	return func(c *Criterion) {
		c.activity = append([]float64(nil), activity...)
	}
}

// WithPressure sets the pressure
func WithPressure(pressure float64) Option {
	return func(c *Criterion) {
		c.pressure = pressure
	}
}

// WithInitialLnF sets the starting WL increment
func WithInitialLnF(lnf float64) Option {
	return func(c *Criterion) {
		c.lnfStart = lnf
	}
}

// WithModificationFactor sets g, the factor lnf is multiplied by on each flatness event
func WithModificationFactor(g float64) Option {
	return func(c *Criterion) {
		c.g = g
	}
}

// WithFlatnessFactor sets the fraction of the mean the histogram minimum must exceed
func WithFlatnessFactor(f float64) Option {
	return func(c *Criterion) {
		c.flatFactor = f
	}
}

// WithCollectAt starts filling the collection matrix once lnf drops below lnf
func WithCollectAt(lnf float64) Option {
	return func(c *Criterion) {
		c.lnfCollect = lnf
		c.collectAfterFlat = 0
	}
}

// WithCollectAfterFlat starts filling the collection matrix after n flatness events
func WithCollectAfterFlat(n int) Option {
	return func(c *Criterion) {
		c.collectAfterFlat = n
	}
}

// WithTMMCAt switches to TMMC once lnf drops below lnf
func WithTMMCAt(lnf float64) Option {
	return func(c *Criterion) {
		c.lnfTMMC = lnf
		c.tmmcAfterFlat = 0
	}
}

// WithTMMCAfterFlat switches to TMMC after n flatness events
func WithTMMCAfterFlat(n int) Option {
	return func(c *Criterion) {
		c.tmmcAfterFlat = n
	}
}

// WithCollectionFromStart fills the collection matrix from the first trial
func WithCollectionFromStart() Option {
	return func(c *Criterion) {
		c.collectFromStart = true
	}
}

// WithSweepVisits sets the visits every bin needs in TMMC for one sweep
func WithSweepVisits(n int) Option {
	return func(c *Criterion) {
		c.sweepVisits = int64(n)
	}
}

// WithUpdateFreq reconstructs lnPI every n trials once in TMMC. Zero leaves
// reconstruction to the caller.
func WithUpdateFreq(n int) Option {
	return func(c *Criterion) {
		c.updateFreq = n
	}
}

// WithRandomSeed sets the random seed for reproducibility
func WithRandomSeed(seed int64) Option {
	return func(c *Criterion) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		c.rng = rand.New(rand.NewSource(seed))
	}
}

// WithRand uses u as the source of uniform random numbers
func WithRand(u Uniform) Option {
	return func(c *Criterion) {
		c.rng = u
	}
}

// WithLogger enables structured logging of schedule events
func WithLogger(logger *slog.Logger) Option {
	return func(c *Criterion) {
		c.logger = logger
	}
}

// WithID sets the identifier written to checkpoints
func WithID(id uuid.UUID) Option {
	return func(c *Criterion) {
		c.id = id
	}
}

// lnfAfterFlat returns a threshold lnf crosses on the n-th flatness event.
func lnfAfterFlat(lnf, g float64, n int) float64 {
	return lnf * (math.Pow(g, float64(n)) + math.Pow(g, float64(n-1))) / 2
}

// New creates a WL-TMMC criterion sampling the macrostate axis at inverse
// temperature beta.
func New(beta float64, axis *macrostate.Axis, options ...Option) (*Criterion, error) {
	if axis == nil {
		return nil, fmt.Errorf("%w: WL-TMMC needs a macrostate axis", macrostate.ErrInvalidAxis)
	}
	return newCriterion(beta, axis, options...)
}

// NewMetropolis creates a plain Metropolis criterion.
func NewMetropolis(beta float64, options ...Option) (*Criterion, error) {
	return newCriterion(beta, nil, options...)
}

func newCriterion(beta float64, axis *macrostate.Axis, options ...Option) (*Criterion, error) {
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return nil, fmt.Errorf("beta must be finite, got %v", beta)
	}

	c := &Criterion{
		id:          uuid.New(),
		beta:        beta,
		axis:        axis,
		lnfStart:    DefaultLnF,
		g:           DefaultModification,
		flatFactor:  DefaultFlatnessFactor,
		lnfCollect:  DefaultLnFCollect,
		lnfTMMC:     DefaultLnFTMMC,
		sweepVisits: DefaultSweepVisits,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.logger = c.logger.With("criterion", c.id.String())

	if !(c.g > 0 && c.g < 1) {
		return nil, fmt.Errorf("modification factor must be in (0, 1), got %v", c.g)
	}
	if !(c.lnfStart > 0) || math.IsInf(c.lnfStart, 0) {
		return nil, fmt.Errorf("initial lnf must be positive and finite, got %v", c.lnfStart)
	}
	if !(c.flatFactor > 0 && c.flatFactor <= 1) {
		return nil, fmt.Errorf("flatness factor must be in (0, 1], got %v", c.flatFactor)
	}
	if c.sweepVisits <= 0 {
		return nil, fmt.Errorf("visits per bin must be positive, got %d", c.sweepVisits)
	}
	if c.updateFreq < 0 {
		return nil, fmt.Errorf("update frequency must not be negative, got %d", c.updateFreq)
	}
	for i, a := range c.activity {
		if !(a > 0) || math.IsInf(a, 0) {
			return nil, fmt.Errorf("activity %d must be positive and finite, got %v", i, a)
		}
	}
	if c.collectAfterFlat > 0 {
		c.lnfCollect = lnfAfterFlat(c.lnfStart, c.g, c.collectAfterFlat)
	}
	if c.tmmcAfterFlat > 0 {
		c.lnfTMMC = lnfAfterFlat(c.lnfStart, c.g, c.tmmcAfterFlat)
	}
	if c.lnfTMMC > c.lnfCollect && !c.collectFromStart {
		return nil, fmt.Errorf("TMMC needs the collection matrix: lnfTMMC(%v) > lnfCollect(%v)",
			c.lnfTMMC, c.lnfCollect)
	}

	c.s = c.initialState()
	return c, nil
}

// initialStage is the stage a fresh or reset criterion starts in.
func (c *Criterion) initialStage() Stage {
	if c.axis == nil {
		return Metropolis
	}
	stage := WangLandau
	if c.collectFromStart || c.lnfStart < c.lnfCollect {
		stage = WangLandauCollecting
		if c.lnfStart < c.lnfTMMC {
			stage = TMMC
		}
	}
	return stage
}

func (c *Criterion) initialState() state {
	s := state{
		stage:      c.initialStage(),
		lnf:        c.lnfStart,
		tunnelPrev: -1,
	}
	if c.axis != nil {
		n := c.axis.NBins()
		s.lnPI = bias.New(n, -1)
		s.h = make([]int64, n)
		s.c = collection.New(n, c.axis.Banded())
		s.energy = make([]accumulator.Accumulator, n)
	}
	return s
}

// ID returns the identifier of the criterion.
func (c *Criterion) ID() uuid.UUID { return c.id }

// Beta returns the inverse temperature.
func (c *Criterion) Beta() float64 { return c.beta }

// Axis returns the macrostate axis, nil for Metropolis.
func (c *Criterion) Axis() *macrostate.Axis { return c.axis }

// Activities returns a copy of the activities.
func (c *Criterion) Activities() []float64 {
	return append([]float64(nil), c.activity...)
}

// Activity returns the only activity.
func (c *Criterion) Activity() (float64, error) {
	if len(c.activity) != 1 {
		return 0, fmt.Errorf("%w: have %d", ErrNoActivity, len(c.activity))
	}
	return c.activity[0], nil
}

// Pressure returns the pressure.
func (c *Criterion) Pressure() float64 { return c.pressure }

// Store records the macrostate and energy of the current configuration. It
// must be called once per trial before Accept. While a WL stage is active it
// also runs the flatness test.
func (c *Criterion) Store(value, energy float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.oldEnergy = energy
	if c.axis == nil {
		c.s.stored = true
		return nil
	}
	if !c.axis.Contains(value) {
		c.s.stored = false
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, value, c.axis.Min(), c.axis.Max())
	}
	c.s.oldValue = value
	c.s.oldBin = c.axis.Bin(value)
	c.s.stored = true

	if c.s.stage == WangLandau || c.s.stage == WangLandauCollecting {
		c.flatnessCheck()
	}
	return nil
}

// candidate returns the macrostate a trial would move the system to.
func (c *Criterion) candidate(proposed float64, move macrostate.MoveType) (float64, error) {
	old := c.s.oldValue
	kind := c.axis.Kind()
	switch {
	case kind.Discrete():
		switch move {
		case macrostate.Move:
			return old, nil
		case macrostate.Add:
			return old + c.axis.Width(), nil
		case macrostate.Delete:
			return old - c.axis.Width(), nil
		}
		return 0, fmt.Errorf("%w: %s on a %s axis", macrostate.ErrUnknownMove, move, kind)
	case kind == macrostate.Energy:
		return proposed, nil
	default:
		switch move {
		case macrostate.Move, macrostate.Add, macrostate.Delete:
			return old, nil
		case macrostate.Jump:
			return proposed, nil
		}
		return 0, fmt.Errorf("%w: %s on a %s axis", macrostate.ErrUnknownMove, move, kind)
	}
}

// Accept decides a trial. lnRatio is the log of the unbiased Metropolis
// acceptance probability. proposed is the energy of the proposed
// configuration, or the target macrostate of a Jump on axes other than
// energy. forceReject rejects the trial outright.
//
// Exactly one uniform random number is drawn per call.
func (c *Criterion) Accept(lnRatio, proposed float64, move macrostate.MoveType, forceReject bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.axis == nil {
		u := c.rng.Float64()
		accepted := !forceReject && u < math.Exp(lnRatio)
		c.s.trials++
		if accepted {
			c.s.accepted++
		}
		return accepted, nil
	}

	if !c.s.stored {
		return false, ErrNotStored
	}
	if move < macrostate.Move || move > macrostate.Jump {
		return false, fmt.Errorf("%w (%d)", macrostate.ErrUnknownMove, int(move))
	}
	next, err := c.candidate(proposed, move)
	if err != nil {
		return false, err
	}
	c.s.stored = false

	oldBin := c.s.oldBin
	newBin := oldBin
	pMet := math.Exp(lnRatio)
	u := c.rng.Float64()
	accepted := false
	if forceReject || !c.axis.Contains(next) {
		pMet = 0
	} else {
		newBin = c.axis.Bin(next)
		accepted = u < math.Exp(c.s.lnPI[oldBin]-c.s.lnPI[newBin]+lnRatio)
	}

	if c.s.stage >= WangLandauCollecting {
		if err := c.s.c.Update(oldBin, newBin, pMet); err != nil {
			return false, err
		}
	}

	visited := oldBin
	energy := c.s.oldEnergy
	if accepted {
		visited = newBin
		if move != macrostate.Jump || c.axis.Kind() == macrostate.Energy {
			energy = proposed
		}
		c.s.accepted++
	}
	c.s.trials++
	c.s.energy[visited].Add(energy)

	if c.s.stage == TMMC {
		if accepted && newBin != oldBin {
			c.s.h[newBin]++
		}
	} else {
		c.s.h[visited]++
		c.s.lnPI[visited] += c.s.lnf
	}
	c.tunnel(visited)

	if c.s.stage == TMMC && c.updateFreq > 0 {
		c.s.sinceUpdate++
		if c.s.sinceUpdate >= c.updateFreq {
			c.updateLnPI()
		}
	}
	return accepted, nil
}

func (c *Criterion) tunnel(bin int) {
	switch bin {
	case 0:
		if c.s.tunnelPrev == 1 {
			c.s.nTunnels++
		}
		c.s.tunnelPrev = 0
	case c.axis.NBins() - 1:
		if c.s.tunnelPrev == 0 {
			c.s.nTunnels++
		}
		c.s.tunnelPrev = 1
	}
}

// FlatnessCheck applies the WL flatness test and reports whether it passed.
// On success the histogram is zeroed, lnf is multiplied by g and the stage
// may advance.
func (c *Criterion) FlatnessCheck() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flatnessCheck()
}

func (c *Criterion) flatnessCheck() bool {
	if c.axis == nil || len(c.s.h) == 0 {
		return false
	}
	minH, sum := c.s.h[0], int64(0)
	for _, v := range c.s.h {
		if v < minH {
			minH = v
		}
		sum += v
	}
	mean := float64(sum) / float64(len(c.s.h))
	if !(float64(minH) > c.flatFactor*mean) {
		return false
	}

	clear(c.s.h)
	c.s.lnf *= c.g
	c.s.wlFlat++
	c.s.nSweep++
	c.logger.Debug("histogram flat", "lnf", c.s.lnf, "wl_flat", c.s.wlFlat)

	if c.s.stage == WangLandau && c.s.lnf < c.lnfCollect {
		c.s.stage = WangLandauCollecting
		c.logger.Info("collection matrix started", "lnf", c.s.lnf, "wl_flat", c.s.wlFlat)
	}
	if c.s.stage == WangLandauCollecting && c.s.lnf < c.lnfTMMC {
		c.s.stage = TMMC
		clear(c.s.h)
		c.logger.Info("switched to TMMC", "lnf", c.s.lnf, "wl_flat", c.s.wlFlat)
	}
	return true
}

// UpdateLnPI reconstructs lnPI from the collection matrix once in TMMC and
// counts a sweep when every bin was entered at least the configured number
// of times. Earlier stages are left untouched.
func (c *Criterion) UpdateLnPI() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateLnPI()
}

func (c *Criterion) updateLnPI() {
	c.s.sinceUpdate = 0
	if c.s.stage != TMMC {
		return
	}
	c.s.lnPI = c.s.c.LnPI()
	if len(c.s.h) > 0 && minInt64(c.s.h) >= c.sweepVisits {
		c.s.nSweep++
		clear(c.s.h)
		c.logger.Debug("sweep completed", "n_sweep", c.s.nSweep)
	}
}

func minInt64(v []int64) int64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// CollectionLnPI returns lnPI reconstructed from the collection matrix
// without touching the bias in use. It is nil before collection starts.
func (c *Criterion) CollectionLnPI() bias.Array {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.stage < WangLandauCollecting {
		return nil
	}
	return c.s.c.LnPI()
}

// LnPI returns a normalized copy of the bias array.
func (c *Criterion) LnPI() bias.Array {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.lnPI.Normalized()
}

// Histogram returns a copy of the visit histogram.
func (c *Criterion) Histogram() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.s.h...)
}

// Collection returns a copy of the collection matrix.
func (c *Criterion) Collection() *collection.Matrix {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.c == nil {
		return nil
	}
	return c.s.c.Clone()
}

// Energy returns a copy of the per-bin energy statistics.
func (c *Criterion) Energy() []accumulator.Accumulator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]accumulator.Accumulator(nil), c.s.energy...)
}

// LnF returns the current WL increment.
func (c *Criterion) LnF() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.lnf
}

// WLFlat returns the number of flatness events.
func (c *Criterion) WLFlat() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.wlFlat
}

// NSweep returns the number of sweeps.
func (c *Criterion) NSweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.nSweep
}

// NTunnels returns the number of excursions between the ends of the axis.
func (c *Criterion) NTunnels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.nTunnels
}

// Stage returns the sampling stage.
func (c *Criterion) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s.stage
}

// Distribution returns the normalized lnPI and energy statistics for analysis.
func (c *Criterion) Distribution() analysis.Distribution {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := analysis.Distribution{
		Axis:   c.axis,
		LnPI:   c.s.lnPI.Normalized(),
		Energy: append([]accumulator.Accumulator(nil), c.s.energy...),
		Beta:   c.beta,
	}
	if len(c.activity) == 1 {
		d.Activity = c.activity[0]
	}
	return d
}

// PrefillCollection sets every collection matrix entry to constant.
func (c *Criterion) PrefillCollection(constant float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.c != nil {
		c.s.c.Fill(constant)
	}
}

// Fluctuation returns <U^2> - <U>^2 of each bin.
func (c *Criterion) Fluctuation() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.s.energy))
	for i, e := range c.s.energy {
		out[i] = e.Fluctuation()
	}
	return out
}

// HeatCapacity returns beta^2 (<U^2> - <U>^2) of each bin.
func (c *Criterion) HeatCapacity() []float64 {
	cv := c.Fluctuation()
	floats.Scale(c.beta*c.beta, cv)
	return cv
}

// GetStats returns current sampling statistics
func (c *Criterion) GetStats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	acceptance := math.NaN()
	if c.s.trials > 0 {
		acceptance = float64(c.s.accepted) / float64(c.s.trials)
	}
	stats := map[string]any{
		"id":         c.id.String(),
		"stage":      c.s.stage.String(),
		"beta":       c.beta,
		"trials":     c.s.trials,
		"accepted":   c.s.accepted,
		"acceptance": acceptance,
	}
	if c.axis == nil {
		return stats
	}

	flatness := math.NaN()
	if sum := floats.Sum(histFloats(c.s.h)); sum > 0 {
		flatness = float64(minInt64(c.s.h)) / (sum / float64(len(c.s.h)))
	}
	stats["lnf"] = c.s.lnf
	stats["wl_flat"] = c.s.wlFlat
	stats["n_sweep"] = c.s.nSweep
	stats["n_tunnels"] = c.s.nTunnels
	stats["flatness"] = flatness
	stats["n_bins"] = c.axis.NBins()
	stats["macrostate"] = c.axis.Kind().String()
	return stats
}

func histFloats(h []int64) []float64 {
	out := make([]float64, len(h))
	for i, v := range h {
		out[i] = float64(v)
	}
	return out
}

// Reset zeroes all statistics and restarts the schedule from the initial lnf.
func (c *Criterion) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s = c.initialState()
}
