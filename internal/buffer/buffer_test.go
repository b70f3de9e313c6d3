package buffer

import (
	"math"
	"testing"
)

func TestFactorStaysInUnitInterval(t *testing.T) {
	var set Set
	set.Defaults()
	for _, b := range []Buffers{set.Cyto, set.SS, set.JSR} {
		for _, ca := range []float64{0, 0.1, 1, 10, 100, 1000, 1e5} {
			f := b.Factor(ca)
			if f <= 0 || f > 1 {
				t.Fatalf("factor out of (0,1] at ca=%f: %f", ca, f)
			}
		}
	}
}

func TestFactorIncreasesAsBuffersSaturate(t *testing.T) {
	var set Set
	set.Defaults()
	low := set.JSR.Factor(100)
	high := set.JSR.Factor(5000)
	if high <= low {
		t.Fatalf("expected weaker buffering at high calcium: %f <= %f", high, low)
	}
}

func TestFactorWithoutBuffersIsOne(t *testing.T) {
	if f := (Buffers{}).Factor(3); f != 1 {
		t.Fatalf("expected factor 1 without buffers, got %f", f)
	}
}

func TestFactorMatchesSingleSpeciesClosedForm(t *testing.T) {
	b := Buffers{{Name: "x", Btot: 50, Kd: 2}}
	want := 1 / (1 + 2*50/(3.0*3.0))
	if got := b.Factor(1); math.Abs(got-want) > 1e-15 {
		t.Fatalf("expected %f, got %f", want, got)
	}
}

func TestValidateRejectsNonPositiveKd(t *testing.T) {
	set := Set{JSR: Buffers{{Name: "csqn", Btot: 1, Kd: 0}}}
	if err := set.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
