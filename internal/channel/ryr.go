// Package channel implements the per-unit channel populations: the
// Monte-Carlo single-draw update of individual RyR and LTCC channels and the
// mean-field reduction used when one unit stands for the whole cell.
package channel

import (
	"fmt"

	"golang.org/x/exp/slices"

	"crulattice/internal/kinetics"
)

// RyRState is the gating state of one RyR channel.
type RyRState uint8

const (
	RyRClosedActive RyRState = iota // CA
	RyROpenActive                   // OA
	RyRClosedInact                  // CI
	RyROpenInact                    // OI
)

// NumRyRStates is the size of the RyR state space.
const NumRyRStates = 4

var ryrStateNames = []string{"CA", "OA", "CI", "OI"}

func (s RyRState) String() string {
	if int(s) < len(ryrStateNames) {
		return ryrStateNames[s]
	}
	return fmt.Sprintf("RyRState(%d)", int(s))
}

// ParseRyRState maps a state label back onto its value.
func ParseRyRState(name string) (RyRState, error) {
	idx := slices.Index(ryrStateNames, name)
	if idx < 0 {
		return 0, fmt.Errorf("unknown ryr state %q", name)
	}
	return RyRState(idx), nil
}

// ryrTransition lists the two exits of a state in the order their
// probability intervals are laid out on [0,1).
type ryrTransition struct {
	first, second RyRState
}

var ryrExits = [NumRyRStates]ryrTransition{
	RyRClosedActive: {first: RyROpenActive, second: RyRClosedInact},
	RyROpenActive:   {first: RyRClosedActive, second: RyROpenInact},
	RyRClosedInact:  {first: RyROpenInact, second: RyRClosedActive},
	RyROpenInact:    {first: RyRClosedInact, second: RyROpenActive},
}

func ryrExitRates(s RyRState, r kinetics.RyRRates) (float64, float64) {
	switch s {
	case RyRClosedActive:
		return r.Open, r.Inact
	case RyROpenActive:
		return r.Close, r.Inact
	case RyRClosedInact:
		return r.Open, r.Deinact
	default:
		return r.Close, r.Deinact
	}
}

// RyRPopulation holds the states of the RyRs of one release unit.
type RyRPopulation struct {
	States []RyRState
	Counts [NumRyRStates]int
}

// NewRyRPopulation returns n channels, all closed and active.
func NewRyRPopulation(n int) *RyRPopulation {
	p := &RyRPopulation{States: make([]RyRState, n)}
	p.Counts[RyRClosedActive] = n
	return p
}

// Size is the number of channels in the population.
func (p *RyRPopulation) Size() int {
	return len(p.States)
}

// Open is the number of conducting channels. Only OA conducts.
func (p *RyRPopulation) Open() int {
	return p.Counts[RyROpenActive]
}

// Step performs one Monte-Carlo trial per channel using draws[i] for
// channel i. Transition probabilities are rate*dt and are not renormalised.
func (p *RyRPopulation) Step(r kinetics.RyRRates, dt float64, draws []float64) {
	var probs [NumRyRStates][2]float64
	for s := range probs {
		a, b := ryrExitRates(RyRState(s), r)
		probs[s] = [2]float64{a * dt, b * dt}
	}
	p.Counts = [NumRyRStates]int{}
	for i, s := range p.States {
		switch pick2(draws[i], probs[s][0], probs[s][1]) {
		case 0:
			s = ryrExits[s].first
		case 1:
			s = ryrExits[s].second
		}
		p.States[i] = s
		p.Counts[s]++
	}
}

// Recount rebuilds Counts from States.
func (p *RyRPopulation) Recount() {
	p.Counts = [NumRyRStates]int{}
	for _, s := range p.States {
		p.Counts[s]++
	}
}

// pick2 tests u against two consecutive intervals [0,p0) and [p0,p0+p1) and
// returns 0, 1, or -1 for no transition.
func pick2(u, p0, p1 float64) int {
	if u < p0 {
		return 0
	}
	if u < p0+p1 {
		return 1
	}
	return -1
}
