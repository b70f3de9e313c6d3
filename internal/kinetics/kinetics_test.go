package kinetics

import (
	"errors"
	"math"
	"testing"
)

func TestRyROpenRateIsMonotoneInDyadCalcium(t *testing.T) {
	var p RyRParams
	p.Defaults()

	if r := p.OpenRate(0, 1); r != 0 {
		t.Fatalf("expected zero opening at zero calcium, got %f", r)
	}
	prev := 0.0
	for _, ds := range []float64{0.1, 1, 10, 30, 100, 1000} {
		r := p.OpenRate(ds, 1)
		if r <= prev {
			t.Fatalf("expected increasing open rate at ds=%f: %f <= %f", ds, r, prev)
		}
		prev = r
	}
	if half := p.OpenRate(p.Ka, 1); math.Abs(half-p.OpenMax/2) > 1e-12 {
		t.Fatalf("expected half-max rate at Ka, got %f", half)
	}
	if scaled := p.OpenRate(p.Ka, 2); math.Abs(scaled-p.OpenMax) > 1e-12 {
		t.Fatalf("expected heterogeneity factor to scale rate, got %f", scaled)
	}
}

func TestRyRRatesFollowLuminalInactivation(t *testing.T) {
	var p RyRParams
	p.Defaults()

	none := p.Rates(1, 1, 0)
	if none.Inact != 0 || none.Deinact != p.DeinactMax {
		t.Fatalf("unexpected rates at zero inactivation: %+v", none)
	}
	full := p.Rates(1, 1, 1)
	if full.Inact != p.InactMax || full.Deinact != 0 {
		t.Fatalf("unexpected rates at full inactivation: %+v", full)
	}
	if full.Close != p.Close {
		t.Fatalf("expected constant closing rate, got %f", full.Close)
	}
}

func TestParseLTCCModel(t *testing.T) {
	for _, name := range ListLTCCModels() {
		m, err := ParseLTCCModel(name)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		if m.String() != name {
			t.Fatalf("round trip name mismatch: %s vs %s", m.String(), name)
		}
	}
	if _, err := ParseLTCCModel(" OHara "); err != nil {
		t.Fatalf("expected case-insensitive match: %v", err)
	}
	if _, err := ParseLTCCModel("hodgkin"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestLTCCGatesAreBoundedForEveryModel(t *testing.T) {
	for _, name := range ListLTCCModels() {
		var p LTCCParams
		p.Defaults()
		p.Model = name
		k, err := p.Resolve()
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		for v := -100.0; v <= 60; v += 0.5 {
			g := k.Steady(v, 5)
			if g.DInf < 0 || g.DInf > 1 || g.FInf < 0 || g.FInf > 1 {
				t.Fatalf("%s: steady state out of range at v=%f: %+v", name, v, g)
			}
			if !(g.TauD > 0) || !(g.TauF > 0) {
				t.Fatalf("%s: non-positive time constant at v=%f: %+v", name, v, g)
			}
			r := k.Rates(v, 5)
			if r.Alpha < 0 || r.Beta < 0 || r.Inact < 0 || r.Recover < 0 {
				t.Fatalf("%s: negative rate at v=%f: %+v", name, v, r)
			}
		}
	}
}

func TestLTCCActivationShiftMovesCurve(t *testing.T) {
	var p LTCCParams
	p.Defaults()
	base, err := p.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	p.ActShift = 10
	shifted, err := p.Resolve()
	if err != nil {
		t.Fatalf("resolve shifted: %v", err)
	}
	if d0, d1 := base.Steady(-10, 0).DInf, shifted.Steady(0, 0).DInf; math.Abs(d0-d1) > 1e-12 {
		t.Fatalf("expected shifted curve to match base 10 mV lower: %f vs %f", d0, d1)
	}
}

func TestLTCCShannonTauDIsContinuousAtSingularity(t *testing.T) {
	var p LTCCParams
	p.Defaults()
	k, err := p.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	at := k.Steady(-14.5, 0).TauD
	near := k.Steady(-14.5+1e-4, 0).TauD
	if math.IsNaN(at) || math.Abs(at-near) > 1e-3 {
		t.Fatalf("expected continuous tauD near singularity: %f vs %f", at, near)
	}
}

func TestLTCCCalciumInactivationSaturates(t *testing.T) {
	var p LTCCParams
	p.Defaults()
	k, err := p.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if g := k.Steady(0, 0); g.FCaInf != 1 {
		t.Fatalf("expected no calcium inactivation at zero calcium, got %f", g.FCaInf)
	}
	if g := k.Steady(0, p.KCa); math.Abs(g.FCaInf-0.5) > 1e-12 {
		t.Fatalf("expected half inactivation at reference calcium, got %f", g.FCaInf)
	}
}

func TestLTCCResolveRejectsBadParams(t *testing.T) {
	var p LTCCParams
	p.Defaults()
	p.Model = "unknown"
	if _, err := p.Resolve(); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected unknown model error, got %v", err)
	}
	p.Defaults()
	p.ActTauScale = 0
	if _, err := p.Resolve(); err == nil {
		t.Fatal("expected error for zero tau scale")
	}
}

func TestMonomerRelaxesTowardSteadyState(t *testing.T) {
	var p CSQNParams
	p.Defaults()

	full := 1000.0
	m := 0.0
	for i := 0; i < 200000; i++ {
		m, _ = p.StepMonomer(m, full, 0.05)
	}
	if mss := p.MonomerSteady(full); math.Abs(m-mss) > 1e-6 {
		t.Fatalf("expected monomer to reach steady state %f, got %f", mss, m)
	}

	depleted := 50.0
	_, inactFull := p.StepMonomer(p.MonomerSteady(full), full, 0.05)
	_, inactLow := p.StepMonomer(p.MonomerSteady(depleted), depleted, 0.05)
	if inactLow <= inactFull {
		t.Fatalf("expected depleted store to inactivate more: %f <= %f", inactLow, inactFull)
	}
}

func TestMonomerUsesDirectionalTimeConstants(t *testing.T) {
	var p CSQNParams
	p.Defaults()

	jsr := 1000.0
	mss := p.MonomerSteady(jsr)
	up, _ := p.StepMonomer(mss-0.1, jsr, 1)
	down, _ := p.StepMonomer(mss+0.1, jsr, 1)
	if math.Abs((up-(mss-0.1))-0.1/p.TauUp) > 1e-12 {
		t.Fatalf("expected rise governed by TauUp, got step %f", up-(mss-0.1))
	}
	if math.Abs(((mss+0.1)-down)-0.1/p.TauDown) > 1e-12 {
		t.Fatalf("expected decay governed by TauDown, got step %f", (mss+0.1)-down)
	}
}
