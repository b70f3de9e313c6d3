// Package rng provides the per-unit uniform random sources used by the
// stochastic channel simulator. Every release unit owns its own stream so
// units can draw concurrently without sharing generator state.
package rng

import (
	"log/slog"
	"math/rand/v2"
)

// Generator is the minimal uniform generator a Source draws from.
type Generator interface {
	Float64() float64
}

// Source is the random stream of a single release unit.
type Source struct {
	gen  Generator
	unit int
}

// New returns the stream for unit, derived from the run seed. Streams for
// different units never overlap.
func New(seed uint64, unit int) *Source {
	return &Source{
		gen:  rand.New(rand.NewPCG(seed, uint64(unit)+1)),
		unit: unit,
	}
}

// NewWithGenerator wraps an arbitrary generator, mainly for tests.
func NewWithGenerator(gen Generator, unit int) *Source {
	return &Source{gen: gen, unit: unit}
}

// Unit returns the lattice index the stream belongs to.
func (s *Source) Unit() int {
	return s.unit
}

// Fill writes one uniform draw per slot of dst and reports how many of them
// fell outside [0,1). Out of range draws are logged and kept as-is.
func (s *Source) Fill(dst []float64, logger *slog.Logger) int {
	bad := 0
	for i := range dst {
		u := s.gen.Float64()
		if !InRange(u) {
			bad++
			if logger != nil {
				logger.Warn("random draw out of range", "unit", s.unit, "slot", i, "value", u)
			}
		}
		dst[i] = u
	}
	return bad
}

// InRange reports whether u lies in [0,1).
func InRange(u float64) bool {
	return u >= 0 && u < 1
}

// NewSetup returns the generator used for one-off draws at simulation setup,
// such as random heterogeneity maps.
func NewSetup(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0x9E3779B97F4A7C15))
}
