// Package sim drives the lattice of release units through time. Every step
// runs in two data-parallel passes over the unit arena: the first computes
// all reaction, flux and diffusion terms from previous-step values, the
// second applies the concentration updates. A whole-cell reduction follows
// and its currents are handed to the membrane model.
package sim

import (
	"context"
	"fmt"
	"log/slog"

	"crulattice/internal/cell"
	"crulattice/internal/channel"
	"crulattice/internal/dyad"
	"crulattice/internal/forcing"
	"crulattice/internal/hetero"
	"crulattice/internal/lattice"
	"crulattice/internal/rng"
)

// Sim is a lattice of release units with its forcing collaborators.
type Sim struct {
	cfg    Config
	layout Layout
	log    *slog.Logger

	model    *dyad.Model
	topo     *lattice.Topology
	mask     *lattice.Mask
	agg      *cell.Aggregator
	membrane forcing.Membrane
	force    forcing.Force

	state State
	frame cell.Frame

	// per-step scratch, one slot per unit
	acc     []dyad.Accum
	buffers []dyad.BufferFactors
	react   []dyad.Reaction
	draws   [][]float64
	sources []*rng.Source

	steps int64
	t     float64
	last  cell.Summary
}

// State is the struct-of-arrays unit arena. Units are addressed by their
// linear lattice index and are never created or destroyed during a run.
type State struct {
	DS, SS, Cyto, NSR, JSR []float64
	Monomer                []float64
	Factors                []hetero.Factors
	Active                 []bool

	// exactly one of the channel slices is populated
	Stoch []dyad.Stochastic
	Det   []dyad.Deterministic
}

func (s *State) conc(i int) dyad.Conc {
	return dyad.Conc{DS: s.DS[i], SS: s.SS[i], Cyto: s.Cyto[i], NSR: s.NSR[i], JSR: s.JSR[i]}
}

func (s *State) setConc(i int, c dyad.Conc) {
	s.DS[i], s.SS[i], s.Cyto[i], s.NSR[i], s.JSR[i] = c.DS, c.SS, c.Cyto, c.NSR, c.JSR
}

// New validates cfg and allocates the lattice. membrane may not be nil;
// a nil force model means no troponin sink.
func New(cfg Config, membrane forcing.Membrane, force forcing.Force) (*Sim, error) {
	layout, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	if membrane == nil {
		return nil, fmt.Errorf("%w: membrane model is required", ErrConfig)
	}
	if force == nil {
		force = forcing.NoForce{}
	}
	model, err := dyad.NewModel(cfg.Dyad)
	if err != nil {
		return nil, fmt.Errorf("%w: dyad: %w", ErrConfig, err)
	}
	topo, err := lattice.NewTopology(layout.Sub)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	agg, err := cell.NewAggregator(&cfg.Dyad, cfg.Cm, layout.NTotal())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	n := layout.N()
	factors, err := hetero.Build(cfg.Hetero, n, rng.NewSetup(cfg.Seed))
	if err != nil {
		return nil, fmt.Errorf("%w: heterogeneity: %w", ErrConfig, err)
	}

	s := &Sim{
		cfg:      cfg,
		layout:   layout,
		log:      cfg.logger(),
		model:    model,
		topo:     topo,
		mask:     lattice.NewMask(layout.Sub, layout.Geometry),
		agg:      agg,
		membrane: membrane,
		force:    force,
		acc:      make([]dyad.Accum, n),
		buffers:  make([]dyad.BufferFactors, n),
		react:    make([]dyad.Reaction, n),
	}
	s.allocate(n, factors)

	s.log.Info("lattice ready",
		"cell", layout.Cell,
		"dims", layout.Sub.String(),
		"units", n,
		"total_units", layout.NTotal(),
		"channels", layout.Mode.String(),
		"ltcc", layout.LTCC.String(),
		"heterogeneity", layout.Hetero.String(),
		"present", s.mask.Count(),
	)
	return s, nil
}

func (s *Sim) allocate(n int, factors []hetero.Factors) {
	st := &s.state
	st.DS = make([]float64, n)
	st.SS = make([]float64, n)
	st.Cyto = make([]float64, n)
	st.NSR = make([]float64, n)
	st.JSR = make([]float64, n)
	st.Monomer = make([]float64, n)
	st.Active = make([]bool, n)
	st.Factors = factors

	m0 := s.model.P.CSQN.MonomerSteady(s.cfg.Initial.JSR)
	for i := 0; i < n; i++ {
		st.setConc(i, s.cfg.Initial)
		st.Monomer[i] = m0
	}

	if s.layout.Mode == Deterministic {
		st.Det = make([]dyad.Deterministic, n)
		for i := range st.Det {
			st.Det[i] = dyad.NewDeterministic()
		}
	} else {
		st.Stoch = make([]dyad.Stochastic, n)
		s.draws = make([][]float64, n)
		for i := range st.Stoch {
			st.Stoch[i] = s.model.NewStochastic(factors[i])
			s.draws[i] = make([]float64, st.Stoch[i].Draws())
		}
		s.seedSources(0)
	}

	f := &s.frame
	f.DS, f.SS, f.Cyto, f.NSR, f.JSR = st.DS, st.SS, st.Cyto, st.NSR, st.JSR
	f.Active = st.Active
	f.Jrel = make([]float64, n)
	f.JCaL = make([]float64, n)
	f.NCXJunc = make([]float64, n)
	f.NCXBulk = make([]float64, n)
	f.PCaJunc = make([]float64, n)
	f.PCaBulk = make([]float64, n)
	f.CabJunc = make([]float64, n)
	f.CabBulk = make([]float64, n)
	f.Uptake = make([]float64, n)
	f.Leak = make([]float64, n)
	f.LTCCOpen = make([]float64, n)
	for st := range f.RyR {
		f.RyR[st] = make([]float64, n)
	}
	for st := range f.LTCCAct {
		f.LTCCAct[st] = make([]float64, n)
	}
	for st := range f.LTCCF {
		f.LTCCF[st] = make([]float64, n)
		f.LTCCFCa[st] = make([]float64, n)
	}
}

// seedSources gives every unit its own stream. Restored runs reseed with
// the restored step so they do not replay the draws of the original run.
func (s *Sim) seedSources(step int64) {
	if s.layout.Mode != Stochastic {
		return
	}
	if s.sources == nil {
		s.sources = make([]*rng.Source, s.layout.N())
	}
	seed := s.cfg.Seed + uint64(step)
	for i := range s.sources {
		s.sources[i] = rng.New(seed, i)
	}
}

// Layout returns the resolved lattice layout.
func (s *Sim) Layout() Layout { return s.layout }

// Steps returns the number of completed steps.
func (s *Sim) Steps() int64 { return s.steps }

// Time returns the simulated time in ms.
func (s *Sim) Time() float64 { return s.t }

// Last returns the whole-cell summary of the most recent step.
func (s *Sim) Last() cell.Summary { return s.last }

// Mask returns the geometry mask used for spatial output.
func (s *Sim) Mask() *lattice.Mask { return s.mask }

// Step advances the lattice by one time step and returns the whole-cell
// summary, which has already been handed to the membrane model.
func (s *Sim) Step() cell.Summary {
	dt := s.cfg.DT
	v := s.membrane.Voltage(s.t)
	srf, srfOn := s.membrane.SpontaneousRelease(s.t)
	ov := channel.Override{Active: srfOn && !s.membrane.Excited(s.t), Value: srf}

	s.parallel(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s.react1(i, v, dt, ov)
		}
	})
	s.parallel(func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s.update(i, dt)
		}
	})

	s.steps++
	s.t = float64(s.steps) * dt
	s.last = s.agg.Aggregate(s.frame)
	s.membrane.Consume(s.t, s.last.Currents)
	s.logDiffusionBalance()
	return s.last
}

// logDiffusionBalance reports the lattice-wide diffusive flux of the
// coupled compartments, which must stay at rounding level.
func (s *Sim) logDiffusionBalance() {
	if s.topo.N() < 2 || !s.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	st := &s.state
	c := &s.cfg.Coupling
	s.log.Debug("diffusion balance",
		"step", s.steps,
		"ss", s.topo.NetFlux(st.SS, c.SS),
		"cyto", s.topo.NetFlux(st.Cyto, c.Cyto),
		"nsr", s.topo.NetFlux(st.NSR, c.NSR),
	)
}

// react1 is the first pass for unit i. It reads previous-step values only
// and writes only slot i of the scratch arrays.
func (s *Sim) react1(i int, v, dt float64, ov channel.Override) {
	st := &s.state
	p := &s.model.P
	c := st.conc(i)
	f := st.Factors[i]

	acc := dyad.Accum{}
	p.Transfer(c, f.Vds, &acc)

	var r dyad.Reaction
	if s.layout.Mode == Stochastic {
		draws := s.draws[i]
		s.sources[i].Fill(draws, s.log)
		u := st.Stoch[i]
		r = s.model.ReactStochastic(u, &st.Monomer[i], c, v, f, dt, draws, &acc)
		for k := range s.frame.RyR {
			s.frame.RyR[k][i] = float64(u.RyR.Counts[k]) / float64(u.RyR.Size())
		}
		s.ltccOccupancy(i, u.LTCC)
	} else {
		d := &st.Det[i]
		r = s.model.ReactDeterministic(d, &st.Monomer[i], c, v, f, dt, ov, &acc)
		occ := d.RyR.Occupancy()
		for k := range s.frame.RyR {
			s.frame.RyR[k][i] = occ[k]
		}
		fr := &s.frame
		l := &d.LTCC
		fr.LTCCOpen[i] = l.Open
		fr.LTCCAct[channel.ActC0][i], fr.LTCCAct[channel.ActC1][i], fr.LTCCAct[channel.ActOpen][i] = l.C0(), l.C1, l.O
		fr.LTCCF[channel.GatePermissive][i], fr.LTCCF[channel.GateInactivated][i] = l.F, 1-l.F
		fr.LTCCFCa[channel.GatePermissive][i], fr.LTCCFCa[channel.GateInactivated][i] = l.FCa, 1-l.FCa
	}

	s.buffers[i] = s.model.Buffering(c)
	fl := p.ApplyFluxes(c, v, f.SERCA, f.NCX, &acc)
	acc.Cyto -= s.force.Step(i, c.Cyto/1000, s.cfg.CofactorA, s.cfg.CofactorB, dt)

	if s.topo.N() > 1 {
		acc.SS += s.topo.Diffuse(st.SS, i, s.cfg.Coupling.SS)
		acc.Cyto += s.topo.Diffuse(st.Cyto, i, s.cfg.Coupling.Cyto)
		acc.NSR += s.topo.Diffuse(st.NSR, i, s.cfg.Coupling.NSR)
	}

	s.acc[i] = acc
	s.react[i] = r

	fr := &s.frame
	fr.Jrel[i] = r.Jrel * f.Vds
	fr.JCaL[i] = r.JCaL * f.Vds
	fr.NCXJunc[i], fr.NCXBulk[i] = fl.Junc.NCX, fl.Bulk.NCX
	fr.PCaJunc[i], fr.PCaBulk[i] = fl.Junc.PCa, fl.Bulk.PCa
	fr.CabJunc[i], fr.CabBulk[i] = fl.Junc.Cab, fl.Bulk.Cab
	fr.Uptake[i], fr.Leak[i] = fl.SR.Uptake, fl.SR.Leak
}

// ltccOccupancy writes the gate occupancy fractions of unit i. A unit
// without LTCCs reports the resting state.
func (s *Sim) ltccOccupancy(i int, p *channel.LTCCPopulation) {
	fr := &s.frame
	n := p.Size()
	if n == 0 {
		fr.LTCCOpen[i] = 0
		for st := range fr.LTCCAct {
			fr.LTCCAct[st][i] = 0
		}
		fr.LTCCAct[channel.ActC0][i] = 1
		fr.LTCCF[channel.GatePermissive][i], fr.LTCCF[channel.GateInactivated][i] = 1, 0
		fr.LTCCFCa[channel.GatePermissive][i], fr.LTCCFCa[channel.GateInactivated][i] = 1, 0
		return
	}
	total := float64(n)
	fr.LTCCOpen[i] = float64(p.Open) / total
	for st := range fr.LTCCAct {
		fr.LTCCAct[st][i] = float64(p.ActCounts[st]) / total
	}
	for st := range fr.LTCCF {
		fr.LTCCF[st][i] = float64(p.FCounts[st]) / total
		fr.LTCCFCa[st][i] = float64(p.FCaCounts[st]) / total
	}
}

// update is the second pass for unit i.
func (s *Sim) update(i int, dt float64) {
	st := &s.state
	r := s.react[i]
	next := s.model.Update(st.conc(i), s.acc[i], s.buffers[i], r, dt)
	if cl := s.cfg.Clamp; cl.Enabled && !r.Active {
		next.SS = max(next.SS, cl.Value)
		next.Cyto = max(next.Cyto, cl.Value)
		next.JSR = min(next.JSR, cl.Value)
		next.NSR = min(next.NSR, cl.Value)
	}
	st.setConc(i, next)
	st.Active[i] = r.Active
}

// StepFunc observes each completed step. Returning an error stops the run.
type StepFunc func(step int64, t float64, v float64, s cell.Summary) error

// Run advances the lattice by steps steps. ctx is checked between steps
// only; a step in progress always completes.
func (s *Sim) Run(ctx context.Context, steps int64, observe StepFunc) (cell.Summary, error) {
	for k := int64(0); k < steps; k++ {
		if err := ctx.Err(); err != nil {
			return s.last, err
		}
		v := s.membrane.Voltage(s.t)
		summary := s.Step()
		if observe != nil {
			if err := observe(s.steps, s.t, v, summary); err != nil {
				return summary, err
			}
		}
	}
	return s.last, nil
}

// StepsFor returns round(duration/dt).
func (s *Sim) StepsFor(duration float64) int64 {
	return StepsFor(duration, s.cfg.DT)
}

// StepsFor returns the fixed step count round(duration/dt).
func StepsFor(duration, dt float64) int64 {
	if duration <= 0 || dt <= 0 {
		return 0
	}
	return int64(duration/dt + 0.5)
}
