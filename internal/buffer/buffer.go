// Package buffer implements the rapid-buffering approximation for the
// buffered compartments.
package buffer

import "fmt"

// Species is one rapid calcium buffer. Concentrations are µM.
type Species struct {
	Name string
	Btot float64
	Kd   float64
}

// Buffers is the set of buffers present in one compartment.
type Buffers []Species

// Factor returns the fraction of a free calcium flux that stays free,
// 1/(1 + sum Kd*Btot/(ca+Kd)^2). The result lies in (0,1].
func (b Buffers) Factor(ca float64) float64 {
	if ca < 0 {
		ca = 0
	}
	denom := 1.0
	for _, s := range b {
		d := ca + s.Kd
		denom += s.Kd * s.Btot / (d * d)
	}
	return 1 / denom
}

// Validate reports the first species with a non-positive Kd or negative
// total.
func (b Buffers) Validate() error {
	for _, s := range b {
		if s.Kd <= 0 {
			return fmt.Errorf("buffer %s: Kd must be positive, got %g", s.Name, s.Kd)
		}
		if s.Btot < 0 {
			return fmt.Errorf("buffer %s: Btot must be non-negative, got %g", s.Name, s.Btot)
		}
	}
	return nil
}

// Set holds the buffers of the three buffered compartments.
type Set struct {
	Cyto Buffers
	SS   Buffers
	JSR  Buffers
}

func (s *Set) Defaults() {
	s.Cyto = Buffers{
		{Name: "calmodulin", Btot: 24, Kd: 7},
		{Name: "sr", Btot: 47, Kd: 0.6},
		{Name: "sarcolemma", Btot: 42, Kd: 13},
	}
	s.SS = Buffers{
		{Name: "calmodulin", Btot: 24, Kd: 7},
		{Name: "sr", Btot: 47, Kd: 0.6},
		{Name: "sarcolemma_low", Btot: 1124, Kd: 1100},
		{Name: "sarcolemma_high", Btot: 134, Kd: 13},
	}
	s.JSR = Buffers{
		{Name: "csqn", Btot: 10000, Kd: 630},
	}
}

func (s *Set) Validate() error {
	for _, b := range []Buffers{s.Cyto, s.SS, s.JSR} {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}
