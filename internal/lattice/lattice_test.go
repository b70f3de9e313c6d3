package lattice

import (
	"errors"
	"math"
	"testing"
)

func TestIndexAndCoordsRoundTrip(t *testing.T) {
	d := Dims{NX: 3, NY: 4, NZ: 5}
	for idx := 0; idx < d.N(); idx++ {
		i, j, k := d.Coords(idx)
		if got := d.Index(i, j, k); got != idx {
			t.Fatalf("round trip %d -> (%d,%d,%d) -> %d", idx, i, j, k, got)
		}
	}
	if got := d.Index(1, 2, 3); got != 1+3*2+12*3 {
		t.Fatalf("unexpected linear index %d", got)
	}
}

func TestTopologyNeighboursAtBoundaries(t *testing.T) {
	d := Dims{NX: 3, NY: 3, NZ: 3}
	topo, err := NewTopology(d)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	corner := topo.Neighbours(d.Index(0, 0, 0))
	if corner[XMinus] != NoNeighbour || corner[YMinus] != NoNeighbour || corner[ZMinus] != NoNeighbour {
		t.Fatalf("corner must lack minus neighbours: %v", corner)
	}
	if corner[XPlus] != d.Index(1, 0, 0) || corner[YPlus] != d.Index(0, 1, 0) || corner[ZPlus] != d.Index(0, 0, 1) {
		t.Fatalf("unexpected corner neighbours: %v", corner)
	}
	centre := topo.Neighbours(d.Index(1, 1, 1))
	for s, n := range centre {
		if n == NoNeighbour {
			t.Fatalf("centre missing neighbour in slot %d", s)
		}
	}
}

func TestTopologyRejectsEmptyDims(t *testing.T) {
	if _, err := NewTopology(Dims{NX: 0, NY: 1, NZ: 1}); err == nil {
		t.Fatal("expected error for zero extent")
	}
}

func TestDiffuseUniformFieldHasNoFlux(t *testing.T) {
	d := Dims{NX: 4, NY: 3, NZ: 5}
	topo, err := NewTopology(d)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	field := make([]float64, d.N())
	for i := range field {
		field[i] = 0.37
	}
	c := Coupling{TauXY: 2, TauZ: 5}
	for idx := range field {
		if term := topo.Diffuse(field, idx, c); term != 0 {
			t.Fatalf("expected zero term at %d, got %f", idx, term)
		}
	}
}

func TestDiffuseConservesAndIsAnisotropic(t *testing.T) {
	d := Dims{NX: 3, NY: 3, NZ: 3}
	topo, err := NewTopology(d)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	field := make([]float64, d.N())
	for i := range field {
		field[i] = float64((i*7)%5) + 0.1
	}
	c := Coupling{TauXY: 1, TauZ: 4}
	if net := topo.NetFlux(field, c); math.Abs(net) > 1e-9 {
		t.Fatalf("expected zero net diffusive flux, got %f", net)
	}

	spike := make([]float64, d.N())
	centre := d.Index(1, 1, 1)
	spike[centre] = 1
	if got := topo.Diffuse(spike, d.Index(2, 1, 1), c); got != 1/c.TauXY {
		t.Fatalf("expected transverse gain 1/TauXY, got %f", got)
	}
	if got := topo.Diffuse(spike, d.Index(1, 1, 2), c); got != 1/c.TauZ {
		t.Fatalf("expected longitudinal gain 1/TauZ, got %f", got)
	}
	if got := topo.Diffuse(spike, centre, c); math.Abs(got-(-4/c.TauXY-2/c.TauZ)) > 1e-12 {
		t.Fatalf("unexpected loss at source: %f", got)
	}
}

func TestMaskGeometry(t *testing.T) {
	d := Dims{NX: 7, NY: 7, NZ: 15}
	box := NewMask(d, Box)
	if box.Count() != d.N() {
		t.Fatalf("expected full box, got %d of %d", box.Count(), d.N())
	}
	ell := NewMask(d, Ellipsoid)
	if ell.Count() == 0 || ell.Count() >= d.N() {
		t.Fatalf("expected ellipsoid to drop corners, got %d of %d", ell.Count(), d.N())
	}
	if !ell.Present(d.Index(3, 3, 7)) || ell.Present(d.Index(0, 0, 0)) {
		t.Fatal("expected centre present and corner absent")
	}

	field := make([]float64, d.N())
	for i := range field {
		field[i] = 2
	}
	out := ell.Apply(nil, field)
	if out[d.Index(0, 0, 0)] != Sentinel || out[d.Index(3, 3, 7)] != 2 {
		t.Fatalf("expected sentinel for absent unit, got %f / %f", out[0], out[d.Index(3, 3, 7)])
	}
}

func TestParseGeometry(t *testing.T) {
	if g, err := ParseGeometry("Ellipsoid"); err != nil || g != Ellipsoid {
		t.Fatalf("expected ellipsoid, got %v %v", g, err)
	}
	if _, err := ParseGeometry("sphere"); !errors.Is(err, ErrUnknownGeometry) {
		t.Fatalf("expected ErrUnknownGeometry, got %v", err)
	}
}
