package kinetics

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

var ErrUnknownModel = errors.New("unknown ltcc model")

// LTCCModel selects the voltage-gating parameterisation of the LTCC.
type LTCCModel int

const (
	ShannonBers LTCCModel = iota
	OHaraRudy
	TenTusscher
)

var ltccModelNames = map[string]LTCCModel{
	"shannon": ShannonBers,
	"ohara":   OHaraRudy,
	"tt06":    TenTusscher,
}

func (m LTCCModel) String() string {
	for name, model := range ltccModelNames {
		if model == m {
			return name
		}
	}
	return fmt.Sprintf("LTCCModel(%d)", int(m))
}

// ParseLTCCModel resolves a model tag. Matching ignores case and surrounding
// whitespace.
func ParseLTCCModel(name string) (LTCCModel, error) {
	model, ok := ltccModelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return model, nil
}

// ListLTCCModels returns the supported model tags in sorted order.
func ListLTCCModels() []string {
	names := make([]string, 0, len(ltccModelNames))
	for name := range ltccModelNames {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

type curve func(v float64) float64

type gatingCurves struct {
	dInf, tauD, fInf, tauF curve
}

var ltccCurves = map[LTCCModel]gatingCurves{
	ShannonBers: {
		dInf: func(v float64) float64 { return 1 / (1 + math.Exp(-(v+14.5)/6)) },
		tauD: func(v float64) float64 {
			x := v + 14.5
			d := 1 / (1 + math.Exp(-x/6))
			if math.Abs(x) < 1e-6 {
				return d / (6 * 0.035)
			}
			return d * (1 - math.Exp(-x/6)) / (0.035 * x)
		},
		fInf: func(v float64) float64 {
			return 1/(1+math.Exp((v+35.06)/3.6)) + 0.6/(1+math.Exp((50-v)/20))
		},
		tauF: func(v float64) float64 {
			x := 0.0337 * (v + 14.5)
			return 1 / (0.0197*math.Exp(-x*x) + 0.02)
		},
	},
	OHaraRudy: {
		dInf: func(v float64) float64 { return 1 / (1 + math.Exp(-(v+3.94)/4.23)) },
		tauD: func(v float64) float64 {
			return 0.6 + 1/(math.Exp(-0.05*(v+6))+math.Exp(0.09*(v+14)))
		},
		fInf: func(v float64) float64 { return 1 / (1 + math.Exp((v+19.58)/3.696)) },
		tauF: func(v float64) float64 {
			return 7 + 1/(0.0045*math.Exp(-(v+20)/10)+0.0045*math.Exp((v+20)/10))
		},
	},
	TenTusscher: {
		dInf: func(v float64) float64 { return 1 / (1 + math.Exp((-8-v)/7.5)) },
		tauD: func(v float64) float64 {
			ad := 1.4/(1+math.Exp((-35-v)/13)) + 0.25
			bd := 1.4 / (1 + math.Exp((v+5)/5))
			gd := 1 / (1 + math.Exp((50-v)/20))
			return ad*bd + gd
		},
		fInf: func(v float64) float64 { return 1 / (1 + math.Exp((v+20)/7)) },
		tauF: func(v float64) float64 {
			x := (v + 27) / 15
			return 1102.5*math.Exp(-x*x) + 200/(1+math.Exp((13-v)/10)) + 180/(1+math.Exp((v+30)/10)) + 20
		},
	},
}

// LTCCParams configure LTCC gating. Shifts are in mV and are subtracted from
// the membrane voltage before the curve is evaluated.
type LTCCParams struct {
	Model string

	// activation steady-state shift
	ActShift float64

	// activation time-constant shift
	ActTauShift float64

	// activation time-constant multiplier
	ActTauScale float64

	// voltage inactivation steady-state shift
	InactShift float64

	// voltage inactivation time-constant shift
	InactTauShift float64

	// voltage inactivation time-constant multiplier
	InactTauScale float64

	// reference dyadic calcium of calcium-dependent inactivation (µM)
	KCa float64

	// calcium-dependent inactivation time constant (ms)
	TauCa float64
}

func (p *LTCCParams) Defaults() {
	p.Model = "shannon"
	p.ActTauScale = 1
	p.InactTauScale = 1
	p.KCa = 20
	p.TauCa = 10
}

// LTCCKinetics is an LTCCParams with the model tag resolved, so the time
// loop never compares strings.
type LTCCKinetics struct {
	params LTCCParams
	curves gatingCurves
}

// Resolve validates the model tag and binds its gating curves.
func (p LTCCParams) Resolve() (*LTCCKinetics, error) {
	model, err := ParseLTCCModel(p.Model)
	if err != nil {
		return nil, err
	}
	if p.ActTauScale <= 0 || p.InactTauScale <= 0 {
		return nil, fmt.Errorf("ltcc tau scales must be positive: act=%g inact=%g", p.ActTauScale, p.InactTauScale)
	}
	if p.KCa <= 0 || p.TauCa <= 0 {
		return nil, fmt.Errorf("ltcc calcium inactivation requires positive KCa and TauCa")
	}
	return &LTCCKinetics{params: p, curves: ltccCurves[model]}, nil
}

// Params returns the parameters the kinetics were resolved from.
func (k *LTCCKinetics) Params() LTCCParams {
	return k.params
}

// Gates are the steady states and time constants of the three sub-gates.
type Gates struct {
	DInf, TauD     float64
	FInf, TauF     float64
	FCaInf, TauFCa float64
}

// Steady evaluates the gating curves at voltage v (mV) and dyadic calcium
// ds (µM).
func (k *LTCCKinetics) Steady(v, ds float64) Gates {
	p := &k.params
	if ds < 0 {
		ds = 0
	}
	return Gates{
		DInf:   clamp01(k.curves.dInf(v - p.ActShift)),
		TauD:   k.curves.tauD(v-p.ActTauShift) * p.ActTauScale,
		FInf:   clamp01(k.curves.fInf(v - p.InactShift)),
		TauF:   k.curves.tauF(v-p.InactTauShift) * p.InactTauScale,
		FCaInf: 1 / (1 + ds/p.KCa),
		TauFCa: p.TauCa,
	}
}

// LTCCRates are the per-ms transition rates of the LTCC sub-gates.
//
// Activation is a C0 <-> C1 <-> O chain of two identical subunits:
// C0->C1 = 2*Alpha, C1->C0 = Beta, C1->O = Alpha, O->C1 = 2*Beta.
type LTCCRates struct {
	Alpha, Beta        float64
	Inact, Recover     float64
	CaInact, CaRecover float64
}

// Rates converts the gate curves at (v, ds) into transition rates.
func (k *LTCCKinetics) Rates(v, ds float64) LTCCRates {
	g := k.Steady(v, ds)
	return LTCCRates{
		Alpha:     g.DInf / g.TauD,
		Beta:      (1 - g.DInf) / g.TauD,
		Inact:     (1 - g.FInf) / g.TauF,
		Recover:   g.FInf / g.TauF,
		CaInact:   (1 - g.FCaInf) / g.TauFCa,
		CaRecover: g.FCaInf / g.TauFCa,
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
