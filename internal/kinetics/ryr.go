// Package kinetics holds the pure transition-rate functions of the RyR and
// LTCC gating models and the luminal CSQN (monomer) inactivation state.
package kinetics

import "math"

// RyRParams parameterise the 4-state RyR model. Rates are per ms and
// calcium is in µM.
type RyRParams struct {
	// maximum calcium-activated opening rate
	OpenMax float64

	// dyadic calcium at half-maximal opening rate
	Ka float64

	// Hill coefficient of calcium activation
	Hill float64

	// constant closing rate
	Close float64

	// inactivation rate at full luminal inactivation
	InactMax float64

	// de-inactivation rate at zero luminal inactivation
	DeinactMax float64
}

func (p *RyRParams) Defaults() {
	p.OpenMax = 1.0
	p.Ka = 30
	p.Hill = 2.5
	p.Close = 0.5
	p.InactMax = 0.05
	p.DeinactMax = 0.01
}

// RyRRates are the transition rates of one step, shared by the stochastic
// and the deterministic channel updates.
type RyRRates struct {
	Open    float64 // CA->OA and CI->OI
	Close   float64 // OA->CA and OI->CI
	Inact   float64 // CA->CI and OA->OI
	Deinact float64 // CI->CA and OI->OA
}

// OpenRate returns the calcium activation rate for dyadic calcium ds and
// the unit's RyR rate factor.
func (p *RyRParams) OpenRate(ds, scale float64) float64 {
	if ds <= 0 {
		return 0
	}
	c := math.Pow(ds, p.Hill)
	return scale * p.OpenMax * c / (c + math.Pow(p.Ka, p.Hill))
}

// Rates evaluates all RyR transition rates. inact is the luminal
// inactivation fraction from the CSQN state.
func (p *RyRParams) Rates(ds, scale, inact float64) RyRRates {
	return RyRRates{
		Open:    p.OpenRate(ds, scale),
		Close:   p.Close,
		Inact:   p.InactMax * inact,
		Deinact: p.DeinactMax * (1 - inact),
	}
}
