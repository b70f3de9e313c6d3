package channel

import "crulattice/internal/kinetics"

// Activation states of the LTCC activation gate.
const (
	ActC0 uint8 = iota
	ActC1
	ActOpen
)

// Inactivation gate states, shared by the voltage and calcium gates.
const (
	GatePermissive uint8 = iota
	GateInactivated
)

// LTCCPopulation holds the sub-gate states of the LTCCs of one release
// unit. A channel conducts when activation is open and both inactivation
// gates are permissive.
type LTCCPopulation struct {
	Act []uint8
	F   []uint8
	FCa []uint8

	ActCounts [3]int
	FCounts   [2]int
	FCaCounts [2]int
	Open      int
}

// NewLTCCPopulation returns n channels resting in C0 with both inactivation
// gates permissive.
func NewLTCCPopulation(n int) *LTCCPopulation {
	p := &LTCCPopulation{
		Act: make([]uint8, n),
		F:   make([]uint8, n),
		FCa: make([]uint8, n),
	}
	p.Recount()
	return p
}

func (p *LTCCPopulation) Size() int {
	return len(p.Act)
}

// Step applies one correlated Monte-Carlo trial per channel. The three
// gates are tested in order activation, voltage inactivation, calcium
// inactivation against the same draw, each consuming its probability mass
// before the next is tested, so at most one gate moves per step.
func (p *LTCCPopulation) Step(r kinetics.LTCCRates, dt float64, draws []float64) {
	for i := range p.Act {
		u := draws[i]

		moved := false
		switch p.Act[i] {
		case ActC0:
			pUp := 2 * r.Alpha * dt
			if u < pUp {
				p.Act[i] = ActC1
				moved = true
			}
			u -= pUp
		case ActC1:
			pDown, pUp := r.Beta*dt, r.Alpha*dt
			switch pick2(u, pDown, pUp) {
			case 0:
				p.Act[i] = ActC0
				moved = true
			case 1:
				p.Act[i] = ActOpen
				moved = true
			}
			u -= pDown + pUp
		default:
			pDown := 2 * r.Beta * dt
			if u < pDown {
				p.Act[i] = ActC1
				moved = true
			}
			u -= pDown
		}
		if moved {
			continue
		}

		if stepGate(&p.F[i], u, r.Inact*dt, r.Recover*dt) {
			continue
		}
		if p.F[i] == GatePermissive {
			u -= r.Inact * dt
		} else {
			u -= r.Recover * dt
		}

		stepGate(&p.FCa[i], u, r.CaInact*dt, r.CaRecover*dt)
	}
	p.Recount()
}

// stepGate flips a two-state gate when u falls in its exit interval.
func stepGate(g *uint8, u, pInact, pRecover float64) bool {
	if *g == GatePermissive {
		if u < pInact {
			*g = GateInactivated
			return true
		}
		return false
	}
	if u < pRecover {
		*g = GatePermissive
		return true
	}
	return false
}

// Recount rebuilds the occupancy counts and the open count.
func (p *LTCCPopulation) Recount() {
	p.ActCounts = [3]int{}
	p.FCounts = [2]int{}
	p.FCaCounts = [2]int{}
	p.Open = 0
	for i := range p.Act {
		p.ActCounts[p.Act[i]]++
		p.FCounts[p.F[i]]++
		p.FCaCounts[p.FCa[i]]++
		if p.Act[i] == ActOpen && p.F[i] == GatePermissive && p.FCa[i] == GatePermissive {
			p.Open++
		}
	}
}
