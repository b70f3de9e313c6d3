package lattice

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownGeometry = errors.New("unknown geometry")

// Sentinel replaces values of absent units in spatial output.
const Sentinel = -1.0

// Geometry is the shape of the cell inside the lattice.
type Geometry int

const (
	Box Geometry = iota
	Ellipsoid
)

func (g Geometry) String() string {
	switch g {
	case Box:
		return "box"
	case Ellipsoid:
		return "ellipsoid"
	default:
		return fmt.Sprintf("Geometry(%d)", int(g))
	}
}

func ParseGeometry(name string) (Geometry, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "box":
		return Box, nil
	case "ellipsoid":
		return Ellipsoid, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownGeometry, name)
	}
}

// Mask marks which units belong to the cell. Absent units are still
// computed; they are only excluded from output.
type Mask struct {
	present []bool
	count   int
}

// NewMask builds the mask of geometry g over d.
func NewMask(d Dims, g Geometry) *Mask {
	m := &Mask{present: make([]bool, d.N())}
	cx, cy, cz := float64(d.NX-1)/2, float64(d.NY-1)/2, float64(d.NZ-1)/2
	rx, ry, rz := float64(d.NX)/2, float64(d.NY)/2, float64(d.NZ)/2
	for idx := range m.present {
		in := true
		if g == Ellipsoid {
			i, j, k := d.Coords(idx)
			x := (float64(i) - cx) / rx
			y := (float64(j) - cy) / ry
			z := (float64(k) - cz) / rz
			in = x*x+y*y+z*z <= 1
		}
		m.present[idx] = in
		if in {
			m.count++
		}
	}
	return m
}

func (m *Mask) Present(idx int) bool {
	return m.present[idx]
}

// Count returns the number of present units.
func (m *Mask) Count() int {
	return m.count
}

// Apply copies field into dst with absent units replaced by Sentinel and
// returns dst, allocating it when nil.
func (m *Mask) Apply(dst, field []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(field))
	}
	for i, v := range field {
		if m.present[i] {
			dst[i] = v
		} else {
			dst[i] = Sentinel
		}
	}
	return dst
}
