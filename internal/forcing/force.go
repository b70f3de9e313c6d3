package forcing

import (
	"fmt"
	"strings"
)

// Force is the contractile model. Step advances the state of one unit by dt
// given its cytosolic calcium in mM and returns the troponin flux (µM/ms)
// removed from the cytosol. Calls for distinct units may run concurrently.
type Force interface {
	Step(unit int, caMilliMolar, cofactorA, cofactorB, dt float64) float64
}

// Stateful is implemented by force models whose per-unit state can be
// saved with a snapshot.
type Stateful interface {
	ForceState() []float64
	RestoreForceState(state []float64) error
}

// ForceConfig selects and parameterises a built-in force adapter.
type ForceConfig struct {
	Kind string `json:"kind"`

	// troponin C binding
	Kon  float64 `json:"kon"`
	Koff float64 `json:"koff"`
	Bmax float64 `json:"bmax"`
}

func (c *ForceConfig) Defaults() {
	c.Kind = "none"
	c.Kon = 0.0327
	c.Koff = 0.0196
	c.Bmax = 70
}

// NewForce builds the adapter named by cfg.Kind for n units resting at
// cytosolic calcium ca0 (µM).
func NewForce(cfg ForceConfig, n int, ca0 float64) (Force, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "none":
		return NoForce{}, nil
	case "troponin":
		if cfg.Kon <= 0 || cfg.Koff <= 0 || cfg.Bmax < 0 {
			return nil, fmt.Errorf("troponin requires positive kon, koff and non-negative bmax")
		}
		return NewTroponin(cfg.Kon, cfg.Koff, cfg.Bmax, n, ca0), nil
	default:
		return nil, fmt.Errorf("%w: force %q", ErrUnknownAdapter, cfg.Kind)
	}
}

// NoForce is a force model without a calcium sink.
type NoForce struct{}

func (NoForce) Step(int, float64, float64, float64, float64) float64 { return 0 }

// Troponin is first-order calcium binding to troponin C. cofactorA scales
// the on rate and cofactorB the off rate.
type Troponin struct {
	Kon, Koff, Bmax float64

	bound []float64
}

// NewTroponin returns n units with troponin at equilibrium with ca0 (µM).
func NewTroponin(kon, koff, bmax float64, n int, ca0 float64) *Troponin {
	t := &Troponin{Kon: kon, Koff: koff, Bmax: bmax, bound: make([]float64, n)}
	b0 := kon * ca0 / (kon*ca0 + koff)
	for i := range t.bound {
		t.bound[i] = b0
	}
	return t
}

func (t *Troponin) Step(unit int, caMilliMolar, cofactorA, cofactorB, dt float64) float64 {
	ca := caMilliMolar * 1000
	b := t.bound[unit]
	db := t.Kon*cofactorA*ca*(1-b) - t.Koff*cofactorB*b
	t.bound[unit] = b + dt*db
	return t.Bmax * db
}

// Bound returns the bound troponin fraction of a unit.
func (t *Troponin) Bound(unit int) float64 {
	return t.bound[unit]
}

func (t *Troponin) ForceState() []float64 {
	return append([]float64(nil), t.bound...)
}

func (t *Troponin) RestoreForceState(state []float64) error {
	if len(state) != len(t.bound) {
		return fmt.Errorf("troponin state has %d units, want %d", len(state), len(t.bound))
	}
	copy(t.bound, state)
	return nil
}
