package dyad

import "math"

// Conc holds the calcium concentrations of one unit.
type Conc struct {
	DS, SS, Cyto, NSR, JSR float64
}

// Accum holds the reaction-term accumulators of the four integrated
// compartments. ds is solved algebraically and has no accumulator.
type Accum struct {
	SS, Cyto, NSR, JSR float64
}

// Transfers are the raw inter-compartment fluxes of a step, each referred to
// the volume of its source compartment.
type Transfers struct {
	DSSS   float64
	SSCyto float64
	Tr     float64
}

// Transfer adds the ds->ss, ss->cyto and nsr->jsr exchange terms to acc.
// vdsScale is the unit's dyadic volume factor.
func (p *Params) Transfer(c Conc, vdsScale float64, acc *Accum) Transfers {
	t := Transfers{
		DSSS:   (c.DS - c.SS) / p.TauDS,
		SSCyto: (c.SS - c.Cyto) / p.TauSS,
		Tr:     (c.NSR - c.JSR) / p.TauTr,
	}
	acc.SS += t.DSSS*p.Vds*vdsScale/p.Vss - t.SSCyto
	acc.Cyto += t.SSCyto * p.Vss / p.Vcyto
	acc.NSR -= t.Tr * p.Vjsr / p.Vnsr
	acc.JSR += t.Tr
	return t
}

// Release returns the RyR release flux into the dyadic space and the
// release rate constant Krel. open is the number of conducting RyRs.
// The matching loss is subtracted from the jsr accumulator.
func (p *Params) Release(open float64, c Conc, vdsScale float64, acc *Accum) (jrel, krel float64) {
	krel = open * p.GRyR / vdsScale
	jrel = krel * (c.JSR - c.DS)
	acc.JSR -= jrel * p.Vds * vdsScale / p.Vjsr
	return jrel, krel
}

// LTCCFlux returns the inward calcium flux into the dyadic space through
// open LTCCs, from a GHK driving force with valence 2. The dyadic calcium
// term is capped at CaCap.
func (p *Params) LTCCFlux(open, v, ds, ltccScale, vdsScale float64) float64 {
	if open <= 0 {
		return 0
	}
	ca := math.Min(math.Max(ds, 0), p.CaCap)
	phi := 2 * v * p.FRT()
	var drive float64
	if math.Abs(phi) < 1e-6 {
		drive = 0.341*p.Cao - ca
	} else {
		e := math.Exp(phi)
		drive = phi * (0.341*p.Cao - ca*e) / (e - 1)
	}
	return open * p.GLTCC * ltccScale / vdsScale * drive
}

// ClosureDS solves the quasi-steady dyadic calcium from the sub-space and
// junctional SR concentrations. It does not depend on the previous ds.
func (p *Params) ClosureDS(ss, jsr, krel, jcal float64) float64 {
	tau := p.TauDS
	return (ss + tau*(krel*jsr+jcal)) / (1 + tau*krel)
}

// SR is the pair of SR fluxes of one unit, referred to the cytosol.
type SR struct {
	Uptake float64
	Leak   float64
}

// SRFluxes returns SERCA uptake and SR leak.
func (p *Params) SRFluxes(cyto, nsr, sercaScale float64) SR {
	c := math.Pow(math.Max(cyto, 0), p.HUp)
	return SR{
		Uptake: sercaScale * p.VUp * c / (c + math.Pow(p.KUp, p.HUp)),
		Leak:   p.KLeak * (nsr - cyto),
	}
}

// Sarcolemma holds the membrane calcium fluxes computed at one local
// concentration, referred to the cytosolic volume. NCX and PCa are
// extrusion, Cab is influx.
type Sarcolemma struct {
	NCX float64
	PCa float64
	Cab float64
}

// Membrane evaluates NCX, sarcolemmal pump and background influx at local
// calcium ca (µM) and voltage v.
func (p *Params) Membrane(v, ca, ncxScale float64) Sarcolemma {
	ca = math.Max(ca, 0)
	frt := p.FRT()
	phi := v * frt

	caMM := ca / 1000
	caoMM := p.Cao / 1000
	nai3 := p.Nai * p.Nai * p.Nai
	nao3 := p.Nao * p.Nao * p.Nao
	kmNai3 := p.KmNai * p.KmNai * p.KmNai
	kmNao3 := p.KmNao * p.KmNao * p.KmNao
	eFwd := math.Exp((p.EtaNCX - 1) * phi)
	eRev := math.Exp(p.EtaNCX * phi)

	num := nao3*caMM*eFwd - nai3*caoMM*eRev
	den := p.KmCao*nai3 + kmNao3*caMM + kmNai3*caoMM*(1+caMM/p.KmCai) +
		p.KmCai*nao3*(1+nai3/kmNai3) + nai3*caoMM + nao3*caMM
	ncx := ncxScale * p.VNCX * num / (den * (1 + p.KSatNCX*eFwd))

	h := math.Pow(ca, p.HpCa)
	pca := p.VpCa * h / (h + math.Pow(p.KpCa, p.HpCa))

	var cab float64
	if ca > 0 {
		eca := math.Log(p.Cao/ca) / (2 * frt)
		cab = -p.GCab * (v - eca)
	}
	return Sarcolemma{NCX: ncx, PCa: pca, Cab: cab}
}

// Net returns the net calcium influx (positive into the cell).
func (s Sarcolemma) Net() float64 {
	return s.Cab - s.NCX - s.PCa
}

// Fluxes collects the SR and sarcolemmal fluxes of a unit for one step.
// Junctional fluxes are referred to the sub-space volume, bulk fluxes to
// the cytosol.
type Fluxes struct {
	SR   SR
	Junc Sarcolemma
	Bulk Sarcolemma
}

// ApplyFluxes evaluates SR and sarcolemmal fluxes and adds them to acc.
// Sarcolemmal fluxes are split between sub-space and cytosol by
// JuncFraction.
func (p *Params) ApplyFluxes(c Conc, v, sercaScale, ncxScale float64, acc *Accum) Fluxes {
	sr := p.SRFluxes(c.Cyto, c.NSR, sercaScale)
	acc.Cyto += sr.Leak - sr.Uptake
	acc.NSR += (sr.Uptake - sr.Leak) * p.Vcyto / p.Vnsr

	toSS := p.JuncFraction * p.Vcyto / p.Vss
	junc := p.Membrane(v, c.SS, ncxScale)
	junc.NCX *= toSS
	junc.PCa *= toSS
	junc.Cab *= toSS

	bulk := p.Membrane(v, c.Cyto, ncxScale)
	bulk.NCX *= 1 - p.JuncFraction
	bulk.PCa *= 1 - p.JuncFraction
	bulk.Cab *= 1 - p.JuncFraction

	acc.SS += junc.Net()
	acc.Cyto += bulk.Net()
	return Fluxes{SR: sr, Junc: junc, Bulk: bulk}
}
