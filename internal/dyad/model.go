package dyad

import (
	"crulattice/internal/channel"
	"crulattice/internal/hetero"
	"crulattice/internal/kinetics"
)

// Model binds validated parameters to the resolved LTCC kinetics.
type Model struct {
	P    Params
	LTCC *kinetics.LTCCKinetics
}

// NewModel validates p and resolves its LTCC model tag.
func NewModel(p Params) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	k, err := p.LTCC.Resolve()
	if err != nil {
		return nil, err
	}
	return &Model{P: p, LTCC: k}, nil
}

// Reaction is the outcome of the compartment reaction of one unit.
type Reaction struct {
	Jrel float64
	Krel float64
	JCaL float64

	// conducting channels; fractional in the deterministic reduction
	RyROpen  float64
	LTCCOpen float64

	Active bool
}

// Stochastic holds the channel populations of a stochastic unit.
type Stochastic struct {
	RyR  *channel.RyRPopulation
	LTCC *channel.LTCCPopulation
}

// NewStochastic sizes the populations of a unit from the nominal channel
// counts and its dyadic volume factor.
func (m *Model) NewStochastic(f hetero.Factors) Stochastic {
	return Stochastic{
		RyR:  channel.NewRyRPopulation(hetero.ChannelCount(m.P.NRyR, f.Vds)),
		LTCC: channel.NewLTCCPopulation(hetero.ChannelCount(m.P.NLTCC, f.Vds)),
	}
}

// Draws is the number of uniform draws a unit consumes per step.
func (s Stochastic) Draws() int {
	return s.RyR.Size() + s.LTCC.Size()
}

// ReactStochastic advances the monomer and both channel populations, then
// computes release and LTCC flux. draws holds one value per RyR followed by
// one per LTCC.
func (m *Model) ReactStochastic(s Stochastic, monomer *float64, c Conc, v float64, f hetero.Factors, dt float64, draws []float64, acc *Accum) Reaction {
	var inact float64
	*monomer, inact = m.P.CSQN.StepMonomer(*monomer, c.JSR, dt)

	nr := s.RyR.Size()
	s.RyR.Step(m.P.RyR.Rates(c.DS, f.RyR, inact), dt, draws[:nr])
	s.LTCC.Step(m.LTCC.Rates(v, c.DS), dt, draws[nr:nr+s.LTCC.Size()])

	r := Reaction{
		RyROpen:  float64(s.RyR.Open()),
		LTCCOpen: float64(s.LTCC.Open),
	}
	r.Jrel, r.Krel = m.P.Release(r.RyROpen, c, f.Vds, acc)
	r.JCaL = m.P.LTCCFlux(r.LTCCOpen, v, c.DS, f.LTCC, f.Vds)
	r.Active = float64(s.RyR.Open()) > m.P.ActiveStochastic*float64(nr)
	return r
}

// Deterministic holds the mean-field channel state of a single-unit cell.
type Deterministic struct {
	RyR  channel.RyRFraction
	LTCC channel.LTCCFraction
}

func NewDeterministic() Deterministic {
	return Deterministic{LTCC: channel.NewLTCCFraction()}
}

// ReactDeterministic is the mean-field counterpart of ReactStochastic.
// Open fractions are converted to channel numbers with the unit's channel
// counts so both reductions share the release and LTCC flux laws.
func (m *Model) ReactDeterministic(d *Deterministic, monomer *float64, c Conc, v float64, f hetero.Factors, dt float64, ov channel.Override, acc *Accum) Reaction {
	var inact float64
	*monomer, inact = m.P.CSQN.StepMonomer(*monomer, c.JSR, dt)

	d.RyR.Step(m.P.RyR.Rates(c.DS, f.RyR, inact), inact, dt, ov)
	d.LTCC.Step(m.LTCC.Steady(v, c.DS), dt)

	r := Reaction{
		RyROpen:  d.RyR.Open * float64(hetero.ChannelCount(m.P.NRyR, f.Vds)),
		LTCCOpen: d.LTCC.Open * float64(hetero.ChannelCount(m.P.NLTCC, f.Vds)),
	}
	r.Jrel, r.Krel = m.P.Release(r.RyROpen, c, f.Vds, acc)
	r.JCaL = m.P.LTCCFlux(r.LTCCOpen, v, c.DS, f.LTCC, f.Vds)
	r.Active = d.RyR.Open > m.P.ActiveDeterministic
	return r
}

// BufferFactors are the rapid-buffering factors of a unit for one step.
type BufferFactors struct {
	SS, Cyto, JSR float64
}

// Buffering evaluates the buffering factors at the current concentrations.
func (m *Model) Buffering(c Conc) BufferFactors {
	b := &m.P.Buffers
	return BufferFactors{
		SS:   b.SS.Factor(c.SS),
		Cyto: b.Cyto.Factor(c.Cyto),
		JSR:  b.JSR.Factor(c.JSR),
	}
}

// Update advances a unit by dt: ds from the algebraic closure on the previous ss
// and jsr, then explicit Euler for the buffered compartments and nsr.
func (m *Model) Update(c Conc, acc Accum, b BufferFactors, r Reaction, dt float64) Conc {
	return Conc{
		DS:   m.P.ClosureDS(c.SS, c.JSR, r.Krel, r.JCaL),
		SS:   c.SS + dt*b.SS*acc.SS,
		Cyto: c.Cyto + dt*b.Cyto*acc.Cyto,
		NSR:  c.NSR + dt*acc.NSR,
		JSR:  c.JSR + dt*b.JSR*acc.JSR,
	}
}
