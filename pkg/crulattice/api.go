package crulattice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"crulattice/internal/cell"
	"crulattice/internal/channel"
	"crulattice/internal/forcing"
	"crulattice/internal/hetero"
	"crulattice/internal/kinetics"
	"crulattice/internal/lattice"
	"crulattice/internal/model"
	"crulattice/internal/sim"
	"crulattice/internal/stats"
	"crulattice/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "crulattice.db"

	// fixed width so creation times sort lexically
	createdAtFormat = "2006-01-02T15:04:05.000000000Z07:00"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store storage.Store
	log   *slog.Logger

	mu          sync.Mutex
	initialized bool

	runsDir    string
	exportsDir string
}

// RunRequest describes a new simulation. Zero values take defaults.
type RunRequest struct {
	Cell          string  `json:"cell"`
	Sub           [3]int  `json:"sub,omitempty"`
	Geometry      string  `json:"geometry,omitempty"`
	Channels      string  `json:"channels,omitempty"`
	LTCCModel     string  `json:"ltcc_model,omitempty"`
	Heterogeneity string  `json:"heterogeneity,omitempty"`
	HeteroMap     string  `json:"heterogeneity_map,omitempty"`
	HeteroSpread  float64 `json:"heterogeneity_spread,omitempty"`

	// time step and simulated duration (ms)
	DT       float64 `json:"dt"`
	Duration float64 `json:"duration"`

	Seed    uint64 `json:"seed"`
	Workers int    `json:"workers"`

	// membrane adapter: paced or hold
	Membrane string   `json:"membrane"`
	BCL      float64  `json:"bcl,omitempty"`
	HoldV    *float64 `json:"hold_v,omitempty"`
	SRF      bool     `json:"srf,omitempty"`
	SRFValue float64  `json:"srf_value,omitempty"`

	// force adapter: none or troponin
	Force string `json:"force"`

	Clamp      bool    `json:"clamp,omitempty"`
	ClampValue float64 `json:"clamp_value,omitempty"`

	// record one trace sample every TraceEvery steps
	TraceEvery int `json:"trace_every"`

	// Progress, when set, is called with completed and total steps each
	// time a trace sample is recorded.
	Progress func(done, total int64) `json:"-"`
}

type RunSummary struct {
	RunID        string
	ParentID     string
	ArtifactsDir string
	Steps        int64
	Time         float64
	Completed    bool
	TracePoints  int
	Final        model.TracePoint
	Transient    stats.TraceSummary
}

// ResumeRequest continues a stored run from its snapshot for Duration ms.
type ResumeRequest struct {
	RunID      string
	Latest     bool
	Duration   float64
	TraceEvery int
	Workers    int
	Progress   func(done, total int64)
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	ParentID     string
	CreatedAtUTC string
	Cell         string
	Mode         string
	LTCCModel    string
	Units        int
	Steps        int64
	Time         float64
	PeakCyto     float64
	PeakICaL     float64
}

type TraceRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

// Catalog lists the names accepted by RunRequest.
type Catalog struct {
	Cells         map[string][3]int
	LTCCModels    []string
	Geometries    []string
	Channels      []string
	Heterogeneity []string
	Membranes     []string
	Forces        []string
	Fields        []string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		log:        logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Models returns the built-in presets and model names.
func Models() Catalog {
	cells := make(map[string][3]int)
	for name, d := range sim.CellPresets() {
		cells[name] = [3]int{d.NX, d.NY, d.NZ}
	}
	return Catalog{
		Cells:         cells,
		LTCCModels:    kinetics.ListLTCCModels(),
		Geometries:    []string{"box", "ellipsoid"},
		Channels:      []string{"auto", "stochastic", "deterministic"},
		Heterogeneity: []string{"uniform", "map", "random"},
		Membranes:     []string{"paced", "hold"},
		Forces:        []string{"none", "troponin"},
		Fields:        sim.FieldNames(),
	}
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	req.applyDefaults()
	if req.Duration <= 0 {
		return RunSummary{}, errors.New("duration must be > 0")
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}

	s, err := c.newSim(req)
	if err != nil {
		return RunSummary{}, err
	}
	return c.execute(ctx, s, req, uuid.NewString(), "")
}

func (c *Client) Resume(ctx context.Context, req ResumeRequest) (RunSummary, error) {
	if req.Duration <= 0 {
		return RunSummary{}, errors.New("duration must be > 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "resume")
	if err != nil {
		return RunSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}

	parent, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("run not found: %s", runID)
	}
	snap, ok, err := c.store.GetSnapshot(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("snapshot not found for run id: %s", runID)
	}

	var runReq RunRequest
	if err := json.Unmarshal(parent.Config, &runReq); err != nil {
		return RunSummary{}, fmt.Errorf("decode config of run %s: %w", runID, err)
	}
	runReq.Duration = req.Duration
	if req.TraceEvery > 0 {
		runReq.TraceEvery = req.TraceEvery
	}
	if req.Workers > 0 {
		runReq.Workers = req.Workers
	}
	runReq.Progress = req.Progress
	runReq.applyDefaults()

	s, err := c.newSim(runReq)
	if err != nil {
		return RunSummary{}, err
	}
	if err := s.Restore(snap); err != nil {
		return RunSummary{}, fmt.Errorf("restore run %s: %w", runID, err)
	}
	c.log.Info("resuming run", "parent", runID, "step", snap.Step, "time", snap.Time)
	return c.execute(ctx, s, runReq, uuid.NewString(), runID)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			ParentID:     e.ParentID,
			CreatedAtUTC: e.CreatedAtUTC,
			Cell:         e.Cell,
			Mode:         e.Mode,
			LTCCModel:    e.LTCCModel,
			Units:        e.Units,
			Steps:        e.Steps,
			Time:         e.Time,
			PeakCyto:     e.PeakCyto,
			PeakICaL:     e.PeakICaL,
		})
	}
	return out, nil
}

// Trace returns the recorded whole-cell trace of a run. Runs that are not
// in the store fall back to their trace.csv artifact.
func (c *Client) Trace(ctx context.Context, req TraceRequest) ([]model.TracePoint, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "trace")
	if err != nil {
		return nil, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	trace, ok, err := c.store.GetTrace(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		trace, ok, err = stats.ReadTrace(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("trace not found for run id: %s", runID)
		}
	}

	if req.Limit > 0 && len(trace) > req.Limit {
		trace = trace[:req.Limit]
	}
	return trace, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (req *RunRequest) applyDefaults() {
	if req.Cell == "" {
		req.Cell = "small"
	}
	if req.DT <= 0 {
		req.DT = 0.05
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.Membrane == "" {
		req.Membrane = "paced"
	}
	if req.Force == "" {
		req.Force = "none"
	}
	if req.TraceEvery <= 0 {
		req.TraceEvery = 20
	}
}

func (req RunRequest) simConfig(logger *slog.Logger) sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Cell = req.Cell
	cfg.Sub = lattice.Dims{NX: req.Sub[0], NY: req.Sub[1], NZ: req.Sub[2]}
	if req.Geometry != "" {
		cfg.Geometry = req.Geometry
	}
	if req.Channels != "" {
		cfg.Channels = req.Channels
	}
	if req.LTCCModel != "" {
		cfg.Dyad.LTCC.Model = req.LTCCModel
	}
	if req.Heterogeneity != "" {
		cfg.Hetero.Mode = req.Heterogeneity
	}
	cfg.Hetero.MapPath = req.HeteroMap
	if req.HeteroSpread > 0 {
		cfg.Hetero.Spread = req.HeteroSpread
	}
	cfg.DT = req.DT
	cfg.Seed = req.Seed
	cfg.Workers = req.Workers
	cfg.Clamp = sim.Clamp{Enabled: req.Clamp, Value: req.ClampValue}
	cfg.Logger = logger
	return cfg
}

func (c *Client) newSim(req RunRequest) (*sim.Sim, error) {
	cfg := req.simConfig(c.log)
	layout, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	var mc forcing.MembraneConfig
	mc.Defaults()
	mc.Kind = req.Membrane
	if req.BCL > 0 {
		mc.BCL = req.BCL
	}
	if req.HoldV != nil {
		mc.HoldV = *req.HoldV
	}
	mc.SRFOn = req.SRF
	mc.SRFValue = req.SRFValue
	membrane, err := forcing.NewMembrane(mc)
	if err != nil {
		return nil, err
	}

	var fc forcing.ForceConfig
	fc.Defaults()
	fc.Kind = req.Force
	force, err := forcing.NewForce(fc, layout.N(), cfg.Initial.Cyto)
	if err != nil {
		return nil, err
	}

	return sim.New(cfg, membrane, force)
}

// execute runs s for req.Duration and persists the outcome. A cancelled
// run is still persisted, marked incomplete, so it can be resumed.
func (c *Client) execute(ctx context.Context, s *sim.Sim, req RunRequest, runID, parentID string) (RunSummary, error) {
	steps := s.StepsFor(req.Duration)
	start := s.Steps()
	end := start + steps
	every := int64(req.TraceEvery)

	trace := make([]model.TracePoint, 0, steps/every+2)
	_, runErr := s.Run(ctx, steps, func(step int64, t, v float64, summary cell.Summary) error {
		if (step-start)%every == 0 || step == end {
			trace = append(trace, tracePoint(step, t, v, summary))
			if req.Progress != nil {
				req.Progress(step-start, steps)
			}
		}
		return nil
	})
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return RunSummary{}, runErr
	}

	config, err := json.Marshal(req)
	if err != nil {
		return RunSummary{}, err
	}
	layout := s.Layout()
	run := model.RunRecord{
		ID:        runID,
		CreatedAt: time.Now().UTC().Format(createdAtFormat),
		ParentID:  parentID,
		Cell:      layout.Cell,
		Mode:      layout.Mode.String(),
		LTCCModel: layout.LTCC.String(),
		Units:     layout.N(),
		Total:     layout.NTotal(),
		DT:        req.DT,
		Steps:     s.Steps(),
		Time:      s.Time(),
		Completed: runErr == nil,
		Config:    config,
	}
	storage.Stamp(&run.VersionedRecord)
	if len(trace) > 0 {
		run.Final = trace[len(trace)-1]
	}

	if err := c.persist(context.WithoutCancel(ctx), s, run, trace, req); err != nil {
		return RunSummary{}, err
	}
	c.log.Info("run finished", "run", runID, "steps", run.Steps, "completed", run.Completed)

	summary := RunSummary{
		RunID:        runID,
		ParentID:     parentID,
		ArtifactsDir: filepath.Clean(filepath.Join(c.runsDir, runID)),
		Steps:        run.Steps,
		Time:         run.Time,
		Completed:    run.Completed,
		TracePoints:  len(trace),
		Final:        run.Final,
		Transient:    stats.Summarize(trace),
	}
	return summary, runErr
}

func (c *Client) persist(ctx context.Context, s *sim.Sim, run model.RunRecord, trace []model.TracePoint, req RunRequest) error {
	snap := s.Snapshot()
	snap.RunID = run.ID
	storage.Stamp(&snap.VersionedRecord)

	if err := c.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	if err := c.store.SaveTrace(ctx, run.ID, trace); err != nil {
		return err
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return err
	}

	fields := make(map[string][]float64)
	for _, name := range sim.FieldNames() {
		values, err := s.Field(name)
		if err != nil {
			return err
		}
		fields[name] = values
	}
	var factors []hetero.Factors
	if s.Layout().Hetero != hetero.Uniform {
		factors = s.Factors()
	}
	d := s.Dims()
	if _, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:  runConfig(run, req),
		Trace:   trace,
		Dims:    [3]int{d.NX, d.NY, d.NZ},
		Fields:  fields,
		Factors: factors,
	}); err != nil {
		return err
	}
	return stats.AppendRunIndex(c.runsDir, stats.IndexEntry(run, trace))
}

func runConfig(run model.RunRecord, req RunRequest) stats.RunConfig {
	cfg := stats.RunConfig{
		RunID:      run.ID,
		ParentID:   run.ParentID,
		Cell:       run.Cell,
		Sub:        req.Sub,
		Geometry:   req.Geometry,
		Channels:   run.Mode,
		LTCCModel:  run.LTCCModel,
		Hetero:     req.Heterogeneity,
		HeteroMap:  req.HeteroMap,
		DT:         req.DT,
		Duration:   req.Duration,
		Steps:      run.Steps,
		Seed:       req.Seed,
		Workers:    req.Workers,
		Membrane:   req.Membrane,
		BCL:        req.BCL,
		Force:      req.Force,
		Clamp:      req.Clamp,
		ClampValue: req.ClampValue,
		TraceEvery: req.TraceEvery,
	}
	if cfg.Geometry == "" {
		cfg.Geometry = "box"
	}
	if cfg.Hetero == "" {
		cfg.Hetero = "uniform"
	}
	if req.HoldV != nil {
		cfg.HoldV = *req.HoldV
	}
	return cfg
}

func tracePoint(step int64, t, v float64, s cell.Summary) model.TracePoint {
	return model.TracePoint{
		Step:    step,
		Time:    t,
		Voltage: v,
		DS:      s.DS,
		SS:      s.SS,
		Cyto:    s.Cyto,
		NSR:     s.NSR,
		JSR:     s.JSR,
		Jrel:    s.Jrel,
		Active:  s.Active,
		RyROA:   s.RyR[channel.RyROpenActive],
		LTCC:    s.LTCCOpen,
		ICaL:    s.Currents.CaL,
		INCX:    s.Currents.NCX,
		ICaP:    s.Currents.PCa,
		ICab:    s.Currents.Cab,
	}
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if !latest {
		if runID == "" {
			return "", fmt.Errorf("%s requires run id or latest", op)
		}
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// SortedCells returns the preset names in a stable order.
func (cat Catalog) SortedCells() []string {
	names := make([]string, 0, len(cat.Cells))
	for name := range cat.Cells {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
