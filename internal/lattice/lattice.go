// Package lattice provides the 3-D index space of release units, axial
// neighbour lookup, the explicit diffusion coupler and the geometry mask.
package lattice

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Dims are the lattice extents. Z is the longitudinal axis.
type Dims struct {
	NX int `json:"nx"`
	NY int `json:"ny"`
	NZ int `json:"nz"`
}

// N returns the number of units.
func (d Dims) N() int {
	return d.NX * d.NY * d.NZ
}

func (d Dims) Validate() error {
	if d.NX < 1 || d.NY < 1 || d.NZ < 1 {
		return fmt.Errorf("lattice dims must be positive, got %dx%dx%d", d.NX, d.NY, d.NZ)
	}
	return nil
}

// Contains reports whether d fits inside outer on every axis.
func (d Dims) Contains(outer Dims) bool {
	return d.NX <= outer.NX && d.NY <= outer.NY && d.NZ <= outer.NZ
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.NX, d.NY, d.NZ)
}

// Index returns the linear index i + NX*j + NX*NY*k.
func (d Dims) Index(i, j, k int) int {
	return i + d.NX*j + d.NX*d.NY*k
}

// Coords inverts Index.
func (d Dims) Coords(idx int) (i, j, k int) {
	plane := d.NX * d.NY
	k = idx / plane
	rem := idx - k*plane
	j = rem / d.NX
	i = rem - j*d.NX
	return i, j, k
}

// Neighbour slots, in the order they are stored.
const (
	XMinus = iota
	XPlus
	YMinus
	YPlus
	ZMinus
	ZPlus
	NumNeighbours
)

// NoNeighbour marks a missing neighbour at a lattice boundary.
const NoNeighbour = -1

// Topology caches the axial neighbours of every unit.
type Topology struct {
	Dims       Dims
	neighbours [][NumNeighbours]int
}

func NewTopology(d Dims) (*Topology, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	t := &Topology{Dims: d, neighbours: make([][NumNeighbours]int, d.N())}
	for idx := range t.neighbours {
		i, j, k := d.Coords(idx)
		nb := [NumNeighbours]int{NoNeighbour, NoNeighbour, NoNeighbour, NoNeighbour, NoNeighbour, NoNeighbour}
		if i > 0 {
			nb[XMinus] = d.Index(i-1, j, k)
		}
		if i < d.NX-1 {
			nb[XPlus] = d.Index(i+1, j, k)
		}
		if j > 0 {
			nb[YMinus] = d.Index(i, j-1, k)
		}
		if j < d.NY-1 {
			nb[YPlus] = d.Index(i, j+1, k)
		}
		if k > 0 {
			nb[ZMinus] = d.Index(i, j, k-1)
		}
		if k < d.NZ-1 {
			nb[ZPlus] = d.Index(i, j, k+1)
		}
		t.neighbours[idx] = nb
	}
	return t, nil
}

// N returns the number of units.
func (t *Topology) N() int {
	return len(t.neighbours)
}

// Neighbours returns the axial neighbours of idx; missing ones are
// NoNeighbour.
func (t *Topology) Neighbours(idx int) [NumNeighbours]int {
	return t.neighbours[idx]
}

// Coupling holds the transverse (X/Y) and longitudinal (Z) diffusion time
// constants of one compartment, in ms.
type Coupling struct {
	TauXY float64 `json:"tau_xy"`
	TauZ  float64 `json:"tau_z"`
}

func (c Coupling) Validate() error {
	if c.TauXY <= 0 || c.TauZ <= 0 {
		return fmt.Errorf("coupling time constants must be positive, got xy=%g z=%g", c.TauXY, c.TauZ)
	}
	return nil
}

// Couplings are the diffusion constants of the three coupled compartments.
type Couplings struct {
	SS   Coupling `json:"ss"`
	Cyto Coupling `json:"cyto"`
	NSR  Coupling `json:"nsr"`
}

func (c *Couplings) Defaults() {
	c.SS = Coupling{TauXY: 3, TauZ: 6}
	c.Cyto = Coupling{TauXY: 1.5, TauZ: 3}
	c.NSR = Coupling{TauXY: 15, TauZ: 30}
}

func (c Couplings) Validate() error {
	for _, cp := range []Coupling{c.SS, c.Cyto, c.NSR} {
		if err := cp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Diffuse returns the diffusive term for unit idx of field: the sum over
// present neighbours of (neighbour - self)/tau. field must hold previous
// step values; Diffuse never writes.
func (t *Topology) Diffuse(field []float64, idx int, c Coupling) float64 {
	self := field[idx]
	var xy, z float64
	nb := &t.neighbours[idx]
	for s := XMinus; s <= YPlus; s++ {
		if n := nb[s]; n != NoNeighbour {
			xy += field[n] - self
		}
	}
	for s := ZMinus; s <= ZPlus; s++ {
		if n := nb[s]; n != NoNeighbour {
			z += field[n] - self
		}
	}
	return xy/c.TauXY + z/c.TauZ
}

// NetFlux sums the diffusive term over all units. It vanishes for any
// field because every coupling is symmetric.
func (t *Topology) NetFlux(field []float64, c Coupling) float64 {
	terms := make([]float64, t.N())
	for idx := range terms {
		terms[idx] = t.Diffuse(field, idx, c)
	}
	return floats.Sum(terms)
}
