package channel

import (
	"math"

	"crulattice/internal/kinetics"
)

// RyRSubsteps is the number of forward Euler sub-steps per time step used
// for the mean-field RyR open probability.
const RyRSubsteps = 5

// Override replaces the deterministic RyR open fraction while the membrane
// model reports a non-excited state with spontaneous release.
type Override struct {
	Active bool
	Value  float64
}

// RyRFraction is the mean-field RyR state of a single-unit cell.
type RyRFraction struct {
	// open probability ignoring luminal inactivation
	Po float64

	// conducting fraction after inactivation or override
	Open float64

	// luminal inactivation fraction of the last step
	Inact float64
}

// Step integrates Po over dt in RyRSubsteps forward Euler sub-steps and
// sets Open to Po*(1-inact), or to the override value when it is active.
func (f *RyRFraction) Step(r kinetics.RyRRates, inact, dt float64, ov Override) {
	h := dt / RyRSubsteps
	for k := 0; k < RyRSubsteps; k++ {
		f.Po += h * (r.Open*(1-f.Po) - r.Close*f.Po)
	}
	f.Inact = inact
	if ov.Active {
		f.Open = ov.Value
		return
	}
	f.Open = f.Po * (1 - inact)
}

// Occupancy spreads the mean-field state over the CA, OA, CI, OI states.
// OA is the conducting fraction, so it follows an active override.
func (f *RyRFraction) Occupancy() [NumRyRStates]float64 {
	var occ [NumRyRStates]float64
	occ[RyRClosedActive] = (1 - f.Po) * (1 - f.Inact)
	occ[RyROpenActive] = f.Open
	occ[RyRClosedInact] = (1 - f.Po) * f.Inact
	occ[RyROpenInact] = f.Po * f.Inact
	return occ
}

// LTCCFraction is the mean-field LTCC state. C0 is implied by
// conservation.
type LTCCFraction struct {
	C1, O  float64
	F, FCa float64
	Open   float64
}

// NewLTCCFraction returns the resting state: all closed in C0, no
// inactivation.
func NewLTCCFraction() LTCCFraction {
	return LTCCFraction{F: 1, FCa: 1}
}

// C0 returns the implied fraction in the first closed state.
func (f *LTCCFraction) C0() float64 {
	return 1 - f.C1 - f.O
}

// Step integrates activation by forward Euler and both inactivation gates
// with the Rush-Larsen exponential update.
func (f *LTCCFraction) Step(g kinetics.Gates, dt float64) {
	alpha := g.DInf / g.TauD
	beta := (1 - g.DInf) / g.TauD
	c0 := f.C0()
	dC1 := 2*alpha*c0 - (alpha+beta)*f.C1 + 2*beta*f.O
	dO := alpha*f.C1 - 2*beta*f.O
	f.C1 += dt * dC1
	f.O += dt * dO

	f.F = g.FInf + (f.F-g.FInf)*math.Exp(-dt/g.TauF)
	f.FCa = g.FCaInf + (f.FCa-g.FCaInf)*math.Exp(-dt/g.TauFCa)
	f.Open = f.O * f.F * f.FCa
}
