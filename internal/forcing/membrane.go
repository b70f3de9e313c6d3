// Package forcing defines the collaborators that drive the lattice from
// outside: the membrane (action potential) model and the force model, with
// the small built-in adapters used by the command line tool.
package forcing

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"crulattice/internal/cell"
)

var ErrUnknownAdapter = errors.New("unknown forcing adapter")

// Membrane supplies the membrane voltage and excitation state of each step
// and consumes the whole-cell currents the step produced.
type Membrane interface {
	Voltage(t float64) float64
	Excited(t float64) bool

	// SpontaneousRelease returns the release fraction that replaces the
	// deterministic RyR open fraction, and whether it is switched on.
	SpontaneousRelease(t float64) (float64, bool)

	Consume(t float64, c cell.Currents)
}

// MembraneConfig selects and parameterises a built-in membrane adapter.
type MembraneConfig struct {
	Kind string `json:"kind"`

	// holding potential of the hold adapter (mV)
	HoldV float64 `json:"hold_v"`

	// paced waveform
	BCL      float64 `json:"bcl"`
	Rest     float64 `json:"rest"`
	Peak     float64 `json:"peak"`
	Plateau  float64 `json:"plateau"`
	APD      float64 `json:"apd"`
	Upstroke float64 `json:"upstroke"`

	// spontaneous release override while not excited
	SRFOn    bool    `json:"srf_on"`
	SRFValue float64 `json:"srf_value"`
}

func (c *MembraneConfig) Defaults() {
	c.Kind = "paced"
	c.HoldV = -85
	c.BCL = 1000
	c.Rest = -85
	c.Peak = 40
	c.Plateau = 20
	c.APD = 250
	c.Upstroke = 1
}

// NewMembrane builds the adapter named by cfg.Kind.
func NewMembrane(cfg MembraneConfig) (Membrane, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "hold":
		return &Hold{V: cfg.HoldV, SRFOn: cfg.SRFOn, SRFValue: cfg.SRFValue}, nil
	case "", "paced":
		if cfg.BCL <= 0 || cfg.APD <= cfg.Upstroke || cfg.Upstroke <= 0 || cfg.APD > cfg.BCL {
			return nil, fmt.Errorf("paced membrane requires 0 < upstroke < apd <= bcl, got upstroke=%g apd=%g bcl=%g", cfg.Upstroke, cfg.APD, cfg.BCL)
		}
		return &Paced{
			BCL: cfg.BCL, Rest: cfg.Rest, Peak: cfg.Peak, Plateau: cfg.Plateau,
			APD: cfg.APD, Upstroke: cfg.Upstroke,
			SRFOn: cfg.SRFOn, SRFValue: cfg.SRFValue,
		}, nil
	default:
		return nil, fmt.Errorf("%w: membrane %q", ErrUnknownAdapter, cfg.Kind)
	}
}

// currentLog keeps the last currents handed to an adapter.
type currentLog struct {
	mu   sync.Mutex
	t    float64
	last cell.Currents
}

func (l *currentLog) Consume(t float64, c cell.Currents) {
	l.mu.Lock()
	l.t, l.last = t, c
	l.mu.Unlock()
}

// Last returns the most recently consumed currents and their time.
func (l *currentLog) Last() (float64, cell.Currents) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.t, l.last
}

// Hold clamps the membrane at a constant voltage and never excites.
type Hold struct {
	currentLog
	V        float64
	SRFOn    bool
	SRFValue float64
}

func (h *Hold) Voltage(float64) float64 { return h.V }

func (h *Hold) Excited(float64) bool { return false }

func (h *Hold) SpontaneousRelease(float64) (float64, bool) {
	return h.SRFValue, h.SRFOn
}

// Paced prescribes a periodic action potential: a linear upstroke to Peak,
// a notch decaying towards Plateau, and repolarisation to Rest at APD.
type Paced struct {
	currentLog
	BCL, Rest, Peak, Plateau float64
	APD, Upstroke            float64
	SRFOn                    bool
	SRFValue                 float64
}

const notchTau = 5.0

func (p *Paced) phase(t float64) float64 {
	tc := math.Mod(t, p.BCL)
	if tc < 0 {
		tc += p.BCL
	}
	return tc
}

func (p *Paced) Voltage(t float64) float64 {
	tc := p.phase(t)
	switch {
	case tc < p.Upstroke:
		return p.Rest + (p.Peak-p.Rest)*tc/p.Upstroke
	case tc < p.APD:
		s := tc - p.Upstroke
		frac := s / (p.APD - p.Upstroke)
		w := frac * frac * frac * frac
		v := p.Plateau + (p.Peak-p.Plateau)*math.Exp(-s/notchTau)
		return v*(1-w) + p.Rest*w
	default:
		return p.Rest
	}
}

func (p *Paced) Excited(t float64) bool {
	return p.phase(t) < p.APD
}

func (p *Paced) SpontaneousRelease(float64) (float64, bool) {
	return p.SRFValue, p.SRFOn
}
