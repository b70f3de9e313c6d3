// Package dyad implements the compartment reaction model of a single
// release unit: inter-compartment transfer, RyR release, LTCC influx, SR and
// sarcolemmal fluxes and the concentration update.
//
// Concentrations are µM, time is ms, voltage is mV and volumes are µm³.
// Every flux is a rate of concentration change referred to the volume of
// the compartment it is computed for.
package dyad

import (
	"fmt"

	"crulattice/internal/buffer"
	"crulattice/internal/kinetics"
)

// Faraday is in C/mmol, which makes flux*volume*z*Faraday*1e-3 a current
// in pA for flux in µM/ms and volume in µm³.
const Faraday = 96.485

// gasConstant is in J/(mol K).
const gasConstant = 8.314

// Params hold the per-unit compartment parameters. Heterogeneity factors
// multiply the matching rates at runtime.
type Params struct {
	// compartment volumes (µm³)
	Vds, Vss, Vcyto, Vnsr, Vjsr float64

	// ds -> ss transfer time constant (ms)
	TauDS float64

	// ss -> cyto transfer time constant (ms)
	TauSS float64

	// nsr -> jsr refill time constant (ms)
	TauTr float64

	// release rate per open RyR (1/ms)
	GRyR float64

	// LTCC permeability per open channel (1/ms)
	GLTCC float64

	// channels per unit before Vds scaling
	NRyR, NLTCC int

	// extracellular calcium (µM)
	Cao float64

	// cap on the dyadic calcium term of the GHK driving force (µM)
	CaCap float64

	// temperature (K)
	Temp float64

	// SERCA maximum uptake (µM/ms), half saturation (µM) and Hill coefficient
	VUp, KUp, HUp float64

	// SR leak rate constant (1/ms)
	KLeak float64

	// NCX maximal rate (µM/ms), voltage partition, saturation factor
	VNCX, EtaNCX, KSatNCX float64

	// NCX affinities (mM)
	KmCai, KmCao, KmNai, KmNao float64

	// intra- and extracellular sodium (mM)
	Nai, Nao float64

	// sarcolemmal pump maximal rate (µM/ms), half saturation (µM), Hill
	VpCa, KpCa, HpCa float64

	// background calcium conductance (µM/ms/mV)
	GCab float64

	// fraction of sarcolemmal flux that faces the sub-space
	JuncFraction float64

	// open fraction of the RyR population above which a unit is active
	ActiveStochastic    float64
	ActiveDeterministic float64

	RyR     kinetics.RyRParams
	LTCC    kinetics.LTCCParams
	CSQN    kinetics.CSQNParams
	Buffers buffer.Set
}

func (p *Params) Defaults() {
	p.Vds = 0.0018
	p.Vss = 0.2
	p.Vcyto = 4.2
	p.Vnsr = 0.2
	p.Vjsr = 0.03

	p.TauDS = 0.02
	p.TauSS = 0.4
	p.TauTr = 10

	p.GRyR = 0.25
	p.GLTCC = 0.3
	p.NRyR = 100
	p.NLTCC = 15

	p.Cao = 1800
	p.CaCap = 1000
	p.Temp = 310

	p.VUp = 0.3
	p.KUp = 0.5
	p.HUp = 2
	p.KLeak = 1.15e-5

	p.VNCX = 0.15
	p.EtaNCX = 0.35
	p.KSatNCX = 0.27
	p.KmCai = 3.59e-3
	p.KmCao = 1.3
	p.KmNai = 12.29
	p.KmNao = 87.5
	p.Nai = 10
	p.Nao = 140

	p.VpCa = 0.01
	p.KpCa = 0.5
	p.HpCa = 1.6
	p.GCab = 2e-5

	p.JuncFraction = 0.11
	p.ActiveStochastic = 0.1
	p.ActiveDeterministic = 0.05

	p.RyR.Defaults()
	p.LTCC.Defaults()
	p.CSQN.Defaults()
	p.Buffers.Defaults()
}

// FRT returns F/(RT) in 1/mV.
func (p *Params) FRT() float64 {
	return Faraday / (gasConstant * p.Temp)
}

// Validate checks the parameters that would make a run meaningless.
func (p *Params) Validate() error {
	for name, v := range map[string]float64{
		"Vds": p.Vds, "Vss": p.Vss, "Vcyto": p.Vcyto, "Vnsr": p.Vnsr, "Vjsr": p.Vjsr,
		"TauDS": p.TauDS, "TauSS": p.TauSS, "TauTr": p.TauTr, "Temp": p.Temp,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", name, v)
		}
	}
	if p.NRyR < 1 || p.NLTCC < 0 {
		return fmt.Errorf("channel counts must be NRyR>=1 NLTCC>=0, got %d %d", p.NRyR, p.NLTCC)
	}
	if p.JuncFraction < 0 || p.JuncFraction > 1 {
		return fmt.Errorf("JuncFraction must lie in [0,1], got %g", p.JuncFraction)
	}
	return p.Buffers.Validate()
}
