package sim

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"crulattice/internal/cell"
	"crulattice/internal/channel"
	"crulattice/internal/forcing"
	"crulattice/internal/lattice"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Sub = lattice.Dims{NX: 3, NY: 3, NZ: 3}
	cfg.Workers = 2
	return cfg
}

func holdMembrane(t *testing.T, v float64) forcing.Membrane {
	t.Helper()
	m, err := forcing.NewMembrane(forcing.MembraneConfig{Kind: "hold", HoldV: v})
	if err != nil {
		t.Fatalf("new membrane: %v", err)
	}
	return m
}

func pacedMembrane(t *testing.T) forcing.Membrane {
	t.Helper()
	var mc forcing.MembraneConfig
	mc.Defaults()
	m, err := forcing.NewMembrane(mc)
	if err != nil {
		t.Fatalf("new membrane: %v", err)
	}
	return m
}

func TestResolveRejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown cell":     func(c *Config) { c.Cell = "huge" },
		"unknown ltcc":     func(c *Config) { c.Dyad.LTCC.Model = "hodgkin" },
		"sub too big":      func(c *Config) { c.Sub = lattice.Dims{NX: 8, NY: 7, NZ: 15} },
		"map with sub":     func(c *Config) { c.Hetero.Mode = "map"; c.Hetero.MapPath = "factors.csv" },
		"bad channels":     func(c *Config) { c.Channels = "hybrid" },
		"zero dt":          func(c *Config) { c.DT = 0 },
		"negative clamp":   func(c *Config) { c.Clamp = Clamp{Enabled: true, Value: -1} },
		"bad geometry":     func(c *Config) { c.Geometry = "torus" },
		"unknown hetero":   func(c *Config) { c.Hetero.Mode = "fractal" },
		"zero capacitance": func(c *Config) { c.Cm = 0 },
	}
	for name, mutate := range cases {
		cfg := smallConfig()
		mutate(&cfg)
		if _, err := cfg.Resolve(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", name, err)
		}
	}
}

func TestNewRejectsMissingHeterogeneityMap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hetero.Mode = "map"
	cfg.Hetero.MapPath = filepath.Join(t.TempDir(), "missing.csv")
	_, err := New(cfg, holdMembrane(t, -85), nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestNewRequiresMembrane(t *testing.T) {
	if _, err := New(smallConfig(), nil, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestResolveChannelMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cell = "single"
	l, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l.Mode != Deterministic || l.N() != 1 {
		t.Fatalf("single cell resolved to %s with %d units", l.Mode, l.N())
	}
	if l.NTotal() != 19*23*65 {
		t.Fatalf("single cell total units %d", l.NTotal())
	}

	cfg = smallConfig()
	l, err = cfg.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l.Mode != Stochastic || l.N() != 27 || l.NTotal() != 7*7*15 {
		t.Fatalf("small sub resolved to %s, n=%d total=%d", l.Mode, l.N(), l.NTotal())
	}

	cfg.Sub = lattice.Dims{}
	l, err = cfg.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if l.Sub != l.Full {
		t.Fatalf("zero sub should cover the preset, got %s of %s", l.Sub, l.Full)
	}
}

func TestUniformLatticeStaysUniform(t *testing.T) {
	cfg := smallConfig()
	cfg.Channels = "deterministic"
	s, err := New(cfg, pacedMembrane(t), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Run(context.Background(), 60, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := &s.state
	for i := 1; i < s.layout.N(); i++ {
		if st.SS[i] != st.SS[0] || st.Cyto[i] != st.Cyto[0] || st.NSR[i] != st.NSR[0] || st.JSR[i] != st.JSR[0] {
			t.Fatalf("unit %d diverged: ss=%g/%g cyto=%g/%g", i, st.SS[i], st.SS[0], st.Cyto[i], st.Cyto[0])
		}
	}
	if st.DS[0] == cfg.Initial.DS {
		t.Fatalf("paced lattice did not move off rest")
	}
}

func TestStochasticChannelsConserved(t *testing.T) {
	s, err := New(smallConfig(), pacedMembrane(t), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Run(context.Background(), 80, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, u := range s.state.Stoch {
		sum := 0
		for _, c := range u.RyR.Counts {
			sum += c
		}
		if sum != u.RyR.Size() || u.RyR.Size() != s.cfg.Dyad.NRyR {
			t.Fatalf("unit %d ryr counts %v for %d channels", i, u.RyR.Counts, u.RyR.Size())
		}
		act := u.LTCC.ActCounts[0] + u.LTCC.ActCounts[1] + u.LTCC.ActCounts[2]
		if act != u.LTCC.Size() || u.LTCC.FCounts[0]+u.LTCC.FCounts[1] != u.LTCC.Size() {
			t.Fatalf("unit %d ltcc counts %v %v for %d channels", i, u.LTCC.ActCounts, u.LTCC.FCounts, u.LTCC.Size())
		}
		if u.LTCC.Open > u.LTCC.ActCounts[channel.ActOpen] {
			t.Fatalf("unit %d has %d open ltcc but %d activated", i, u.LTCC.Open, u.LTCC.ActCounts[channel.ActOpen])
		}
	}
	if s.Steps() != 80 || math.Abs(s.Time()-80*0.05) > 1e-12 {
		t.Fatalf("steps=%d time=%g", s.Steps(), s.Time())
	}
}

func TestClampBoundsInactiveUnits(t *testing.T) {
	cfg := smallConfig()
	cfg.Clamp = Clamp{Enabled: true, Value: 500}
	s, err := New(cfg, holdMembrane(t, -85), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Step()
	st := &s.state
	for i := range st.SS {
		if st.Active[i] {
			t.Fatalf("unit %d active at rest", i)
		}
		if st.SS[i] < 500 || st.Cyto[i] < 500 || st.JSR[i] > 500 || st.NSR[i] > 500 {
			t.Fatalf("unit %d outside clamp: ss=%g cyto=%g jsr=%g nsr=%g", i, st.SS[i], st.Cyto[i], st.JSR[i], st.NSR[i])
		}
	}
}

func TestDeterministicOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cell = "single"
	m, err := forcing.NewMembrane(forcing.MembraneConfig{Kind: "hold", HoldV: -85, SRFOn: true, SRFValue: 0.3})
	if err != nil {
		t.Fatalf("membrane: %v", err)
	}
	s, err := New(cfg, m, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	summary := s.Step()
	if got := s.state.Det[0].RyR.Open; got != 0.3 {
		t.Fatalf("expected overridden open fraction 0.3, got %g", got)
	}
	if summary.RyR[channel.RyROpenActive] != 0.3 {
		t.Fatalf("summary should report the override, got %g", summary.RyR[channel.RyROpenActive])
	}
	if summary.Jrel <= 0 {
		t.Fatalf("override should drive release, got jrel=%g", summary.Jrel)
	}
}

func TestCurrentsScaleToWholeCell(t *testing.T) {
	cfg := smallConfig()
	s, err := New(cfg, holdMembrane(t, 0), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var last cell.Summary
	if last, err = s.Run(context.Background(), 10, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	ratio := float64(s.layout.NTotal()) / float64(s.layout.N())
	if last.SimulatedCurrents.NCX == 0 {
		t.Fatalf("expected non-zero exchanger current")
	}
	got := last.Currents.NCX / last.SimulatedCurrents.NCX
	if math.Abs(got-ratio) > 1e-9*ratio {
		t.Fatalf("current ratio %g, want %g", got, ratio)
	}
	_, consumed := s.membrane.(*forcing.Hold).Last()
	if consumed != last.Currents {
		t.Fatalf("membrane consumed %+v, step produced %+v", consumed, last.Currents)
	}
}

func TestSnapshotRestoreContinuesIdentically(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cell = "single"
	var fc forcing.ForceConfig
	fc.Defaults()
	fc.Kind = "troponin"

	newSim := func() *Sim {
		force, err := forcing.NewForce(fc, 1, cfg.Initial.Cyto)
		if err != nil {
			t.Fatalf("force: %v", err)
		}
		s, err := New(cfg, pacedMembrane(t), force)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		return s
	}

	a := newSim()
	if _, err := a.Run(context.Background(), 40, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	snap := a.Snapshot()

	b := newSim()
	if err := b.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if b.Steps() != 40 || b.Time() != a.Time() {
		t.Fatalf("restored clock steps=%d time=%g", b.Steps(), b.Time())
	}

	ra, _ := a.Run(context.Background(), 20, nil)
	rb, _ := b.Run(context.Background(), 20, nil)
	if ra.Cyto != rb.Cyto || ra.JSR != rb.JSR || ra.Jrel != rb.Jrel {
		t.Fatalf("restored run diverged: %+v vs %+v", ra, rb)
	}
	if a.force.(*forcing.Troponin).Bound(0) != b.force.(*forcing.Troponin).Bound(0) {
		t.Fatalf("force state not restored")
	}
}

func TestStochasticSnapshotRoundTrip(t *testing.T) {
	a, err := New(smallConfig(), pacedMembrane(t), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := a.Run(context.Background(), 30, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	snap := a.Snapshot()

	b, err := New(smallConfig(), pacedMembrane(t), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := b.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	for i := range a.state.Stoch {
		if a.state.Stoch[i].RyR.Counts != b.state.Stoch[i].RyR.Counts {
			t.Fatalf("unit %d ryr counts differ", i)
		}
		if a.state.Stoch[i].LTCC.Open != b.state.Stoch[i].LTCC.Open {
			t.Fatalf("unit %d ltcc open differs", i)
		}
	}
	if b.Snapshot().JSR[5] != snap.JSR[5] {
		t.Fatalf("jsr not restored")
	}

	bad := a.Snapshot()
	bad.Dims = [3]int{1, 1, 1}
	if err := b.Restore(bad); !errors.Is(err, ErrSnapshotMismatch) {
		t.Fatalf("expected ErrSnapshotMismatch for dims, got %v", err)
	}
	bad = a.Snapshot()
	bad.Mode = Deterministic.String()
	if err := b.Restore(bad); !errors.Is(err, ErrSnapshotMismatch) {
		t.Fatalf("expected ErrSnapshotMismatch for mode, got %v", err)
	}
	bad = a.Snapshot()
	bad.RyRStates = bad.RyRStates[1:]
	if err := b.Restore(bad); !errors.Is(err, ErrSnapshotMismatch) {
		t.Fatalf("expected ErrSnapshotMismatch for truncated states, got %v", err)
	}
}

func TestFieldAppliesMask(t *testing.T) {
	cfg := smallConfig()
	cfg.Sub = lattice.Dims{NX: 5, NY: 5, NZ: 5}
	cfg.Geometry = "ellipsoid"
	s, err := New(cfg, holdMembrane(t, -85), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, name := range FieldNames() {
		field, err := s.Field(name)
		if err != nil {
			t.Fatalf("field %s: %v", name, err)
		}
		if len(field) != 125 {
			t.Fatalf("field %s has %d values", name, len(field))
		}
		if field[0] != lattice.Sentinel {
			t.Fatalf("corner unit of %s should be masked, got %g", name, field[0])
		}
	}
	cyto, _ := s.Field("cyto")
	if centre := s.Dims().Index(2, 2, 2); cyto[centre] != cfg.Initial.Cyto {
		t.Fatalf("centre cyto %g", cyto[centre])
	}
	if _, err := s.Field("voltage"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestRunHonoursContextAndObserver(t *testing.T) {
	s, err := New(smallConfig(), holdMembrane(t, -85), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, 10, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Steps() != 0 {
		t.Fatalf("cancelled run advanced %d steps", s.Steps())
	}

	stop := errors.New("stop")
	seen := 0
	_, err = s.Run(context.Background(), 10, func(step int64, tm, v float64, _ cell.Summary) error {
		seen++
		if v != -85 {
			t.Fatalf("observer voltage %g", v)
		}
		if step == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || seen != 3 || s.Steps() != 3 {
		t.Fatalf("observer stop: err=%v seen=%d steps=%d", err, seen, s.Steps())
	}
}

func TestStepsFor(t *testing.T) {
	if got := StepsFor(1, 0.05); got != 20 {
		t.Fatalf("StepsFor(1, 0.05) = %d", got)
	}
	if got := StepsFor(0.124, 0.05); got != 2 {
		t.Fatalf("StepsFor(0.124, 0.05) = %d", got)
	}
	if got := StepsFor(-1, 0.05); got != 0 {
		t.Fatalf("negative duration gave %d steps", got)
	}
}

func TestLTCCOccupancySumsToOne(t *testing.T) {
	single := DefaultConfig()
	single.Cell = "single"
	disabled := smallConfig()
	disabled.Dyad.NLTCC = 0

	for name, cfg := range map[string]Config{
		"stochastic":    smallConfig(),
		"deterministic": single,
		"no ltcc":       disabled,
	} {
		s, err := New(cfg, holdMembrane(t, 0), nil)
		if err != nil {
			t.Fatalf("%s: new: %v", name, err)
		}
		summary, err := s.Run(context.Background(), 40, nil)
		if err != nil {
			t.Fatalf("%s: run: %v", name, err)
		}
		sums := map[string]float64{
			"activation": summary.LTCCAct[0] + summary.LTCCAct[1] + summary.LTCCAct[2],
			"voltage":    summary.LTCCF[0] + summary.LTCCF[1],
			"calcium":    summary.LTCCFCa[0] + summary.LTCCFCa[1],
		}
		for gate, sum := range sums {
			if math.Abs(sum-1) > 1e-9 {
				t.Fatalf("%s: %s occupancies sum to %g", name, gate, sum)
			}
		}
		for i := 0; i < s.layout.N(); i++ {
			f := &s.frame
			if sum := f.LTCCAct[0][i] + f.LTCCAct[1][i] + f.LTCCAct[2][i]; math.Abs(sum-1) > 1e-9 {
				t.Fatalf("%s: unit %d activation occupancies sum to %g", name, i, sum)
			}
		}
		if name == "no ltcc" && (summary.LTCCOpen != 0 || summary.JCaL != 0 || summary.LTCCAct[channel.ActC0] != 1) {
			t.Fatalf("expected disabled LTCCs to rest in C0, got %+v", summary)
		}
		if name == "stochastic" && summary.LTCCAct[channel.ActC0] == 1 {
			t.Fatalf("expected activation at 0 mV, got %v", summary.LTCCAct)
		}
	}
}

func TestRyRStateFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cell = "single"
	m, err := forcing.NewMembrane(forcing.MembraneConfig{Kind: "hold", HoldV: -85, SRFOn: true, SRFValue: 0.3})
	if err != nil {
		t.Fatalf("membrane: %v", err)
	}
	s, err := New(cfg, m, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Step()

	names := FieldNames()
	for _, want := range []string{"ryr_ca", "ryr_oa", "ryr_ci", "ryr_oi"} {
		found := false
		for _, name := range names {
			found = found || name == want
		}
		if !found {
			t.Fatalf("expected %s in %v", want, names)
		}
	}
	oa, err := s.Field("ryr_oa")
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	if oa[0] != 0.3 {
		t.Fatalf("expected open-active occupancy 0.3, got %g", oa[0])
	}
	ca, err := s.Field("ryr_ca")
	if err != nil {
		t.Fatalf("field: %v", err)
	}
	ryr := s.state.Det[0].RyR
	if want := (1 - ryr.Po) * (1 - ryr.Inact); math.Abs(ca[0]-want) > 1e-15 {
		t.Fatalf("expected closed-active occupancy %g, got %g", want, ca[0])
	}
	if _, err := s.Field("ryr_xx"); err == nil {
		t.Fatal("expected error for unknown ryr state")
	}
}

func TestStepLogsDiffusionBalanceAtDebug(t *testing.T) {
	var buf bytes.Buffer
	cfg := smallConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := New(cfg, holdMembrane(t, -85), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Run(context.Background(), 3, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Count(buf.String(), "diffusion balance"); got != 3 {
		t.Fatalf("expected one balance line per step, got %d in %q", got, buf.String())
	}
	c := s.cfg.Coupling
	for _, net := range []float64{
		s.topo.NetFlux(s.state.SS, c.SS),
		s.topo.NetFlux(s.state.Cyto, c.Cyto),
		s.topo.NetFlux(s.state.NSR, c.NSR),
	} {
		if math.Abs(net) > 1e-9 {
			t.Fatalf("expected vanishing net diffusive flux, got %g", net)
		}
	}

	quiet := smallConfig()
	buf.Reset()
	quiet.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	s, err = New(quiet, holdMembrane(t, -85), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Step()
	if strings.Contains(buf.String(), "diffusion balance") {
		t.Fatal("balance should only be logged at debug level")
	}
}
