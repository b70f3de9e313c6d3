package sim

import (
	"errors"
	"fmt"
	"strings"

	"crulattice/internal/channel"
	"crulattice/internal/forcing"
	"crulattice/internal/hetero"
	"crulattice/internal/lattice"
	"crulattice/internal/model"

	"golang.org/x/exp/slices"
)

var ErrSnapshotMismatch = errors.New("snapshot does not match lattice")

// Snapshot captures the restorable state of the lattice.
func (s *Sim) Snapshot() model.Snapshot {
	st := &s.state
	d := s.layout.Sub
	snap := model.Snapshot{
		Step:    s.steps,
		Time:    s.t,
		Mode:    s.layout.Mode.String(),
		Dims:    [3]int{d.NX, d.NY, d.NZ},
		DS:      slices.Clone(st.DS),
		SS:      slices.Clone(st.SS),
		Cyto:    slices.Clone(st.Cyto),
		NSR:     slices.Clone(st.NSR),
		JSR:     slices.Clone(st.JSR),
		Monomer: slices.Clone(st.Monomer),
	}

	if s.layout.Mode == Stochastic {
		for _, u := range st.Stoch {
			snap.RyRSizes = append(snap.RyRSizes, u.RyR.Size())
			for _, state := range u.RyR.States {
				snap.RyRStates = append(snap.RyRStates, uint8(state))
			}
			snap.LTCCSizes = append(snap.LTCCSizes, u.LTCC.Size())
			snap.LTCCAct = append(snap.LTCCAct, u.LTCC.Act...)
			snap.LTCCF = append(snap.LTCCF, u.LTCC.F...)
			snap.LTCCFCa = append(snap.LTCCFCa, u.LTCC.FCa...)
		}
	} else {
		snap.Fractions = make([]model.ChannelFractions, len(st.Det))
		for i, d := range st.Det {
			snap.Fractions[i] = model.ChannelFractions{
				Po: d.RyR.Po, Open: d.RyR.Open, Inact: d.RyR.Inact,
				C1: d.LTCC.C1, O: d.LTCC.O, F: d.LTCC.F, FCa: d.LTCC.FCa,
			}
		}
	}

	if sf, ok := s.force.(forcing.Stateful); ok {
		snap.Force = sf.ForceState()
	}
	return snap
}

// Restore replaces the lattice state with snap. The snapshot must come from
// a lattice with the same dims and channel mode. Random streams are
// reseeded, so a restored run continues in distribution only.
func (s *Sim) Restore(snap model.Snapshot) error {
	d := s.layout.Sub
	if snap.Dims != [3]int{d.NX, d.NY, d.NZ} {
		return fmt.Errorf("%w: dims %v, lattice %s", ErrSnapshotMismatch, snap.Dims, d)
	}
	if snap.Mode != s.layout.Mode.String() {
		return fmt.Errorf("%w: mode %q, lattice %s", ErrSnapshotMismatch, snap.Mode, s.layout.Mode)
	}
	n := d.N()
	for name, field := range map[string][]float64{
		"ds": snap.DS, "ss": snap.SS, "cyto": snap.Cyto, "nsr": snap.NSR, "jsr": snap.JSR, "monomer": snap.Monomer,
	} {
		if len(field) != n {
			return fmt.Errorf("%w: field %s has %d units, want %d", ErrSnapshotMismatch, name, len(field), n)
		}
	}

	st := &s.state
	if s.layout.Mode == Stochastic {
		if err := s.restoreChannels(snap); err != nil {
			return err
		}
	} else {
		if len(snap.Fractions) != n {
			return fmt.Errorf("%w: %d channel fractions, want %d", ErrSnapshotMismatch, len(snap.Fractions), n)
		}
		for i, fr := range snap.Fractions {
			st.Det[i].RyR = channel.RyRFraction{Po: fr.Po, Open: fr.Open, Inact: fr.Inact}
			st.Det[i].LTCC = channel.LTCCFraction{C1: fr.C1, O: fr.O, F: fr.F, FCa: fr.FCa, Open: fr.O * fr.F * fr.FCa}
		}
	}
	if sf, ok := s.force.(forcing.Stateful); ok && snap.Force != nil {
		if err := sf.RestoreForceState(snap.Force); err != nil {
			return fmt.Errorf("%w: %w", ErrSnapshotMismatch, err)
		}
	}

	copy(st.DS, snap.DS)
	copy(st.SS, snap.SS)
	copy(st.Cyto, snap.Cyto)
	copy(st.NSR, snap.NSR)
	copy(st.JSR, snap.JSR)
	copy(st.Monomer, snap.Monomer)
	for i := range st.Active {
		st.Active[i] = false
	}
	s.steps = snap.Step
	s.t = snap.Time
	s.seedSources(snap.Step)
	return nil
}

func (s *Sim) restoreChannels(snap model.Snapshot) error {
	st := &s.state
	n := len(st.Stoch)
	if len(snap.RyRSizes) != n || len(snap.LTCCSizes) != n {
		return fmt.Errorf("%w: channel sizes for %d/%d units, want %d", ErrSnapshotMismatch, len(snap.RyRSizes), len(snap.LTCCSizes), n)
	}
	ryrTotal, ltccTotal := 0, 0
	for i, u := range st.Stoch {
		if snap.RyRSizes[i] != u.RyR.Size() || snap.LTCCSizes[i] != u.LTCC.Size() {
			return fmt.Errorf("%w: unit %d channel counts differ", ErrSnapshotMismatch, i)
		}
		ryrTotal += u.RyR.Size()
		ltccTotal += u.LTCC.Size()
	}
	if len(snap.RyRStates) != ryrTotal || len(snap.LTCCAct) != ltccTotal ||
		len(snap.LTCCF) != ltccTotal || len(snap.LTCCFCa) != ltccTotal {
		return fmt.Errorf("%w: flattened channel states have the wrong length", ErrSnapshotMismatch)
	}
	for _, raw := range snap.RyRStates {
		if raw >= channel.NumRyRStates {
			return fmt.Errorf("%w: ryr state %d out of range", ErrSnapshotMismatch, raw)
		}
	}

	ro, lo := 0, 0
	for _, u := range st.Stoch {
		for k := range u.RyR.States {
			u.RyR.States[k] = channel.RyRState(snap.RyRStates[ro+k])
		}
		u.RyR.Recount()
		ro += u.RyR.Size()

		m := u.LTCC.Size()
		copy(u.LTCC.Act, snap.LTCCAct[lo:lo+m])
		copy(u.LTCC.F, snap.LTCCF[lo:lo+m])
		copy(u.LTCC.FCa, snap.LTCCFCa[lo:lo+m])
		u.LTCC.Recount()
		lo += m
	}
	return nil
}

const ryrFieldPrefix = "ryr_"

// FieldNames lists the per-unit fields Field can return. RyR occupancy
// fields are named ryr_ followed by the lower-case state label.
func FieldNames() []string {
	names := []string{"ds", "ss", "cyto", "nsr", "jsr", "monomer", "active"}
	for st := channel.RyRState(0); st < channel.NumRyRStates; st++ {
		names = append(names, ryrFieldPrefix+strings.ToLower(st.String()))
	}
	return names
}

// Field returns a copy of a per-unit field with absent units replaced by
// lattice.Sentinel.
func (s *Sim) Field(name string) ([]float64, error) {
	st := &s.state
	var raw []float64
	switch name {
	case "ds":
		raw = st.DS
	case "ss":
		raw = st.SS
	case "cyto":
		raw = st.Cyto
	case "nsr":
		raw = st.NSR
	case "jsr":
		raw = st.JSR
	case "monomer":
		raw = st.Monomer
	case "active":
		raw = make([]float64, len(st.Active))
		for i, on := range st.Active {
			if on {
				raw[i] = 1
			}
		}
	default:
		label, ok := strings.CutPrefix(name, ryrFieldPrefix)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		st, err := channel.ParseRyRState(strings.ToUpper(label))
		if err != nil {
			return nil, fmt.Errorf("unknown field %q: %w", name, err)
		}
		raw = s.frame.RyR[st]
	}
	return s.mask.Apply(nil, raw), nil
}

// Factors returns a copy of the per-unit heterogeneity factors.
func (s *Sim) Factors() []hetero.Factors {
	return slices.Clone(s.state.Factors)
}

// Dims returns the simulated lattice dims.
func (s *Sim) Dims() lattice.Dims {
	return s.layout.Sub
}
