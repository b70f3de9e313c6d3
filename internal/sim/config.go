package sim

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"crulattice/internal/dyad"
	"crulattice/internal/hetero"
	"crulattice/internal/kinetics"
	"crulattice/internal/lattice"
)

// ErrConfig wraps every setup error. Runs never start with an invalid
// configuration.
var ErrConfig = errors.New("invalid configuration")

// Cell size presets.
var cellPresets = map[string]lattice.Dims{
	"full":   {NX: 19, NY: 23, NZ: 65},
	"small":  {NX: 7, NY: 7, NZ: 15},
	"single": {NX: 19, NY: 23, NZ: 65},
}

// CellPresets returns the preset names and their full-cell dims.
func CellPresets() map[string]lattice.Dims {
	out := make(map[string]lattice.Dims, len(cellPresets))
	for k, v := range cellPresets {
		out[k] = v
	}
	return out
}

// ChannelMode selects the channel update.
type ChannelMode int

const (
	Stochastic ChannelMode = iota
	Deterministic
)

func (m ChannelMode) String() string {
	if m == Deterministic {
		return "deterministic"
	}
	return "stochastic"
}

// Clamp floors cytosol and sub-space and caps the SR compartments at Value
// for every unit that is not active.
type Clamp struct {
	Enabled bool    `json:"enabled"`
	Value   float64 `json:"value"`
}

// Config is the full setup of a lattice.
type Config struct {
	// cell size preset: single, small or full
	Cell string

	// simulated sub-portion; zero means the whole preset
	Sub lattice.Dims

	// cell shape used for output masking: box or ellipsoid
	Geometry string

	// auto, stochastic or deterministic; auto is deterministic for a
	// single unit
	Channels string

	// time step (ms)
	DT float64

	Seed    uint64
	Workers int

	Dyad     dyad.Params
	Coupling lattice.Couplings
	Hetero   hetero.Config
	Clamp    Clamp

	// initial concentrations of every unit
	Initial dyad.Conc

	// membrane capacitance (pF)
	Cm float64

	// opaque cofactors handed to the force model
	CofactorA, CofactorB float64

	Logger *slog.Logger
}

// DefaultConfig returns a small stochastic lattice at rest.
func DefaultConfig() Config {
	cfg := Config{
		Cell:      "small",
		Geometry:  "box",
		Channels:  "auto",
		DT:        0.05,
		Seed:      1,
		Workers:   4,
		Initial:   dyad.Conc{DS: 0.1, SS: 0.1, Cyto: 0.1, NSR: 1000, JSR: 1000},
		Cm:        150,
		CofactorA: 1,
		CofactorB: 1,
	}
	cfg.Dyad.Defaults()
	cfg.Coupling.Defaults()
	cfg.Hetero.Defaults()
	return cfg
}

// Layout is a validated configuration resolved into lattice shapes.
type Layout struct {
	Cell     string
	Full     lattice.Dims
	Sub      lattice.Dims
	Mode     ChannelMode
	Geometry lattice.Geometry
	LTCC     kinetics.LTCCModel
	Hetero   hetero.Mode
}

// N is the simulated unit count.
func (l Layout) N() int { return l.Sub.N() }

// NTotal is the unit count of the whole cell.
func (l Layout) NTotal() int { return l.Full.N() }

// Resolve validates cfg and returns its layout. All errors wrap ErrConfig
// and name the offending setting.
func (cfg Config) Resolve() (Layout, error) {
	var l Layout
	cell := strings.ToLower(strings.TrimSpace(cfg.Cell))
	full, ok := cellPresets[cell]
	if !ok {
		return l, fmt.Errorf("%w: cell %q (want single, small or full)", ErrConfig, cfg.Cell)
	}
	l.Cell = cell
	l.Full = full

	switch {
	case cell == "single":
		l.Sub = lattice.Dims{NX: 1, NY: 1, NZ: 1}
	case cfg.Sub == (lattice.Dims{}):
		l.Sub = full
	default:
		if err := cfg.Sub.Validate(); err != nil {
			return l, fmt.Errorf("%w: sub: %w", ErrConfig, err)
		}
		if !cfg.Sub.Contains(full) {
			return l, fmt.Errorf("%w: sub %s exceeds %s cell %s", ErrConfig, cfg.Sub, cell, full)
		}
		l.Sub = cfg.Sub
	}

	geom, err := lattice.ParseGeometry(cfg.Geometry)
	if err != nil {
		return l, fmt.Errorf("%w: geometry: %w", ErrConfig, err)
	}
	l.Geometry = geom

	switch strings.ToLower(strings.TrimSpace(cfg.Channels)) {
	case "", "auto":
		l.Mode = Stochastic
		if l.Sub.N() == 1 {
			l.Mode = Deterministic
		}
	case "stochastic":
		l.Mode = Stochastic
	case "deterministic":
		l.Mode = Deterministic
	default:
		return l, fmt.Errorf("%w: channels %q (want auto, stochastic or deterministic)", ErrConfig, cfg.Channels)
	}

	l.LTCC, err = kinetics.ParseLTCCModel(cfg.Dyad.LTCC.Model)
	if err != nil {
		return l, fmt.Errorf("%w: ltcc model: %w", ErrConfig, err)
	}

	l.Hetero, err = hetero.ParseMode(cfg.Hetero.Mode)
	if err != nil {
		return l, fmt.Errorf("%w: heterogeneity: %w", ErrConfig, err)
	}
	if l.Hetero == hetero.Map && l.Sub != l.Full {
		return l, fmt.Errorf("%w: heterogeneity map cannot be combined with sub-portion %s of %s", ErrConfig, l.Sub, l.Full)
	}

	if !(cfg.DT > 0) {
		return l, fmt.Errorf("%w: dt must be positive, got %g", ErrConfig, cfg.DT)
	}
	if cfg.Cm <= 0 {
		return l, fmt.Errorf("%w: cm must be positive, got %g", ErrConfig, cfg.Cm)
	}
	if cfg.Clamp.Enabled && cfg.Clamp.Value < 0 {
		return l, fmt.Errorf("%w: clamp value must be non-negative, got %g", ErrConfig, cfg.Clamp.Value)
	}
	if err := cfg.Dyad.Validate(); err != nil {
		return l, fmt.Errorf("%w: dyad: %w", ErrConfig, err)
	}
	if l.Sub.N() > 1 {
		if err := cfg.Coupling.Validate(); err != nil {
			return l, fmt.Errorf("%w: coupling: %w", ErrConfig, err)
		}
	}
	return l, nil
}

func (cfg Config) logger() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
