package kinetics

import "math"

// CSQNParams describe luminal calsequestrin occupancy and the monomer state
// that drives RyR inactivation.
type CSQNParams struct {
	// CSQN dissociation constant (µM)
	Kd float64

	// occupancy at half-maximal monomer steady state
	BHalf float64

	// slope of the monomer steady-state sigmoid
	BSlope float64

	// monomer rise time constant (ms)
	TauUp float64

	// monomer decay time constant (ms)
	TauDown float64

	// monomer fraction at half-maximal inactivation
	MHalf float64

	// slope of the inactivation sigmoid
	MSlope float64
}

func (p *CSQNParams) Defaults() {
	p.Kd = 630
	p.BHalf = 0.4
	p.BSlope = 0.05
	p.TauUp = 200
	p.TauDown = 10
	p.MHalf = 0.5
	p.MSlope = 0.1
}

// Occupancy returns the bound CSQN fraction for luminal calcium jsr.
func (p *CSQNParams) Occupancy(jsr float64) float64 {
	if jsr <= 0 {
		return 0
	}
	return jsr / (jsr + p.Kd)
}

// MonomerSteady returns the monomer fraction the state relaxes to at jsr.
func (p *CSQNParams) MonomerSteady(jsr float64) float64 {
	b := p.Occupancy(jsr)
	return 1 / (1 + math.Exp(-(b-p.BHalf)/p.BSlope))
}

// Inactivation maps a monomer fraction onto the RyR inactivation fraction.
// A depleted store (few monomers) yields strong inactivation.
func (p *CSQNParams) Inactivation(monomer float64) float64 {
	return 1 / (1 + math.Exp((monomer-p.MHalf)/p.MSlope))
}

// StepMonomer advances the monomer fraction by dt with an explicit Euler
// step towards its steady state and returns the new monomer and the
// inactivation fraction derived from it.
func (p *CSQNParams) StepMonomer(monomer, jsr, dt float64) (float64, float64) {
	mss := p.MonomerSteady(jsr)
	tau := p.TauDown
	if mss > monomer {
		tau = p.TauUp
	}
	monomer += dt * (mss - monomer) / tau
	return monomer, p.Inactivation(monomer)
}
