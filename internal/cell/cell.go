// Package cell reduces the per-unit state of a step to whole-cell means and
// converts mean fluxes into membrane currents.
package cell

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"crulattice/internal/dyad"
)

// Signed valences used for the flux to current conversion. Influx fluxes
// (CaL, Cab) carry negative sign so that inward currents are negative;
// NCX moves one net positive charge in per extruded calcium.
const (
	ValenceCaL = -2
	ValenceNCX = -1
	ValencePCa = 2
	ValenceCab = -2
)

// Frame is a read-only view of the per-unit arrays after a step. Dyadic
// fluxes are referred to the nominal dyadic volume, junctional sarcolemmal
// fluxes to the sub-space and bulk ones to the cytosol.
type Frame struct {
	DS, SS, Cyto, NSR, JSR []float64

	Jrel, JCaL []float64

	NCXJunc, NCXBulk []float64
	PCaJunc, PCaBulk []float64
	CabJunc, CabBulk []float64

	Uptake, Leak []float64

	// per-unit occupancy fractions of the RyR states CA, OA, CI, OI
	RyR [4][]float64

	// per-unit open LTCC fraction
	LTCCOpen []float64

	// per-unit occupancy fractions of the LTCC activation states C0, C1, O
	LTCCAct [3][]float64

	// per-unit permissive and inactivated fractions of the voltage and
	// calcium inactivation gates
	LTCCF, LTCCFCa [2][]float64

	Active []bool
}

// Currents are whole-cell calcium currents in pA/pF.
type Currents struct {
	CaL float64 `json:"ical"`
	NCX float64 `json:"incx"`
	PCa float64 `json:"icap"`
	Cab float64 `json:"icab"`
}

// Total is the net calcium-related membrane current.
func (c Currents) Total() float64 {
	return c.CaL + c.NCX + c.PCa + c.Cab
}

// Summary is the whole-cell reduction of one step.
type Summary struct {
	DS   float64 `json:"ds"`
	SS   float64 `json:"ss"`
	Cyto float64 `json:"cyto"`
	NSR  float64 `json:"nsr"`
	JSR  float64 `json:"jsr"`

	Jrel   float64 `json:"jrel"`
	JCaL   float64 `json:"jcal"`
	Uptake float64 `json:"jup"`
	Leak   float64 `json:"jleak"`

	RyR      [4]float64 `json:"ryr"`
	LTCCOpen float64    `json:"ltcc_open"`
	LTCCAct  [3]float64 `json:"ltcc_act"`
	LTCCF    [2]float64 `json:"ltcc_f"`
	LTCCFCa  [2]float64 `json:"ltcc_fca"`
	Active   float64    `json:"active"`

	// scaled to the full cell unit count
	Currents Currents `json:"currents"`

	// scaled to the simulated unit count only
	SimulatedCurrents Currents `json:"simulated_currents"`
}

// Aggregator converts mean fluxes to currents.
type Aggregator struct {
	Vds, Vss, Vcyto float64

	// membrane capacitance (pF)
	Cm float64

	// unit count of the full cell
	NTotal int
}

// NewAggregator builds an aggregator from compartment parameters.
func NewAggregator(p *dyad.Params, cm float64, nTotal int) (*Aggregator, error) {
	if cm <= 0 {
		return nil, fmt.Errorf("membrane capacitance must be positive, got %g", cm)
	}
	if nTotal < 1 {
		return nil, fmt.Errorf("full cell unit count must be positive, got %d", nTotal)
	}
	return &Aggregator{Vds: p.Vds, Vss: p.Vss, Vcyto: p.Vcyto, Cm: cm, NTotal: nTotal}, nil
}

// Current converts a mean flux (µM/ms) in a compartment of volume vol
// (µm³) to pA/pF for count units.
func (a *Aggregator) Current(flux float64, valence int, vol float64, count int) float64 {
	return flux * float64(valence) * dyad.Faraday / a.Cm * vol * float64(count) * 1e-3
}

// Aggregate reduces f. All slices must have the same length N >= 1.
func (a *Aggregator) Aggregate(f Frame) Summary {
	n := len(f.Cyto)
	mean := func(s []float64) float64 {
		if n == 1 {
			return s[0]
		}
		return floats.Sum(s) / float64(n)
	}

	s := Summary{
		DS:       mean(f.DS),
		SS:       mean(f.SS),
		Cyto:     mean(f.Cyto),
		NSR:      mean(f.NSR),
		JSR:      mean(f.JSR),
		Jrel:     mean(f.Jrel),
		JCaL:     mean(f.JCaL),
		Uptake:   mean(f.Uptake),
		Leak:     mean(f.Leak),
		LTCCOpen: mean(f.LTCCOpen),
	}
	for st := range s.RyR {
		s.RyR[st] = mean(f.RyR[st])
	}
	for st := range s.LTCCAct {
		s.LTCCAct[st] = mean(f.LTCCAct[st])
	}
	for st := range s.LTCCF {
		s.LTCCF[st] = mean(f.LTCCF[st])
		s.LTCCFCa[st] = mean(f.LTCCFCa[st])
	}
	active := 0
	for _, on := range f.Active {
		if on {
			active++
		}
	}
	s.Active = float64(active) / float64(n)

	ncxJ, ncxB := mean(f.NCXJunc), mean(f.NCXBulk)
	pcaJ, pcaB := mean(f.PCaJunc), mean(f.PCaBulk)
	cabJ, cabB := mean(f.CabJunc), mean(f.CabBulk)
	currents := func(count int) Currents {
		return Currents{
			CaL: a.Current(s.JCaL, ValenceCaL, a.Vds, count),
			NCX: a.Current(ncxJ, ValenceNCX, a.Vss, count) + a.Current(ncxB, ValenceNCX, a.Vcyto, count),
			PCa: a.Current(pcaJ, ValencePCa, a.Vss, count) + a.Current(pcaB, ValencePCa, a.Vcyto, count),
			Cab: a.Current(cabJ, ValenceCab, a.Vss, count) + a.Current(cabB, ValenceCab, a.Vcyto, count),
		}
	}
	s.Currents = currents(a.NTotal)
	s.SimulatedCurrents = currents(n)
	return s
}
