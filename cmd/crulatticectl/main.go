package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"crulattice/internal/storage"
	api "crulattice/pkg/crulattice"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	dbPath     = "crulattice.db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "resume":
		return runResume(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "trace":
		return runTrace(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "models":
		return runModels(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type clientFlags struct {
	store   *string
	dbPath  *string
	verbose *bool
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		store:   fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:  fs.String("db-path", dbPath, "sqlite database path"),
		verbose: fs.Bool("v", false, "log simulation progress to stderr"),
	}
}

func (f clientFlags) open() (*api.Client, error) {
	var logger *slog.Logger
	if *f.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return api.New(api.Options{
		StoreKind:  *f.store,
		DBPath:     *f.dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Logger:     logger,
	})
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "path to run config JSON")
	cell := fs.String("cell", "small", "cell preset: single|small|full")
	sub := fs.String("sub", "", "simulate an NXxNYxNZ portion in place of the full preset; currents still scale to the full cell")
	geometry := fs.String("geometry", "box", "geometry: box|ellipsoid")
	channels := fs.String("channels", "auto", "channel mode: auto|stochastic|deterministic")
	ltcc := fs.String("ltcc", "", "L-type channel model (see models)")
	hetero := fs.String("hetero", "uniform", "heterogeneity: uniform|map|random")
	heteroMap := fs.String("hetero-map", "", "heterogeneity map file")
	heteroSpread := fs.Float64("hetero-spread", 0, "relative spread for random heterogeneity")
	dt := fs.Float64("dt", 0.05, "time step (ms)")
	duration := fs.Float64("duration", 100, "simulated duration (ms)")
	seed := fs.Uint64("seed", 1, "random seed")
	workers := fs.Int("workers", 4, "worker goroutines")
	membrane := fs.String("membrane", "paced", "membrane adapter: paced|hold")
	bcl := fs.Float64("bcl", 0, "pacing cycle length (ms)")
	holdV := fs.Float64("hold-v", 0, "holding potential for the hold membrane (mV)")
	srf := fs.Bool("srf", false, "replace the deterministic RyR open fraction with srf-value while the cell is not excited")
	srfValue := fs.Float64("srf-value", 0, "RyR open fraction used while srf is on")
	force := fs.String("force", "none", "force adapter: none|troponin")
	clamp := fs.Bool("clamp", false, "on inactive units, floor ss and cyto and cap jsr and nsr at clamp-value")
	clampValue := fs.Float64("clamp-value", 0, "clamp concentration (uM)")
	traceEvery := fs.Int("trace-every", 20, "record a trace sample every N steps")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if *configPath == "" {
		fs.VisitAll(func(f *flag.Flag) {
			if f.Name != "hold-v" {
				set[f.Name] = true
			}
		})
	}
	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&req, set, map[string]any{
		"cell":          *cell,
		"sub":           *sub,
		"geometry":      *geometry,
		"channels":      *channels,
		"ltcc":          *ltcc,
		"hetero":        *hetero,
		"hetero-map":    *heteroMap,
		"hetero-spread": *heteroSpread,
		"dt":            *dt,
		"duration":      *duration,
		"seed":          *seed,
		"workers":       *workers,
		"membrane":      *membrane,
		"bcl":           *bcl,
		"hold-v":        *holdV,
		"srf":           *srf,
		"srf-value":     *srfValue,
		"force":         *force,
		"clamp":         *clamp,
		"clamp-value":   *clampValue,
		"trace-every":   *traceEvery,
	}); err != nil {
		return err
	}
	if req.Duration <= 0 {
		req.Duration = *duration
	}
	req.Progress = progressReporter(os.Stderr)

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer client.Close()

	started := time.Now()
	summary, err := client.Run(ctx, req)
	endProgress(os.Stderr)
	if summary.RunID != "" {
		if perr := printSummary("run", summary, time.Since(started), *jsonOut); perr != nil {
			return perr
		}
	}
	return err
}

func runResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id to continue")
	latest := fs.Bool("latest", false, "continue the most recent run from run index")
	duration := fs.Float64("duration", 100, "additional simulated duration (ms)")
	traceEvery := fs.Int("trace-every", 0, "record a trace sample every N steps (default: parent's)")
	workers := fs.Int("workers", 0, "worker goroutines (default: parent's)")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer client.Close()

	started := time.Now()
	summary, err := client.Resume(ctx, api.ResumeRequest{
		RunID:      *runID,
		Latest:     *latest,
		Duration:   *duration,
		TraceEvery: *traceEvery,
		Workers:    *workers,
		Progress:   progressReporter(os.Stderr),
	})
	endProgress(os.Stderr)
	if summary.RunID != "" {
		if perr := printSummary("resume", summary, time.Since(started), *jsonOut); perr != nil {
			return perr
		}
	}
	return err
}

func printSummary(op string, summary api.RunSummary, wall time.Duration, jsonOut bool) error {
	if jsonOut {
		return writeJSON(os.Stdout, summary)
	}

	status := "completed"
	if !summary.Completed {
		status = "interrupted"
	}
	fmt.Printf("%s %s run_id=%s steps=%s sim_time=%.3fms wall=%s\n",
		op, status, summary.RunID, humanize.Comma(summary.Steps), summary.Time, wall.Round(time.Millisecond))
	if summary.ParentID != "" {
		fmt.Printf("parent_id=%s\n", summary.ParentID)
	}
	fmt.Printf("final voltage=%.3f cyto=%.4f jsr=%.2f active=%.4f ical=%.4f\n",
		summary.Final.Voltage, summary.Final.Cyto, summary.Final.JSR, summary.Final.Active, summary.Final.ICaL)
	fmt.Printf("transient peak_cyto=%.4f time_to_peak=%.3f min_cyto=%.4f peak_ical=%.4f\n",
		summary.Transient.PeakCyto, summary.Transient.TimeToPeak, summary.Transient.MinCyto, summary.Transient.PeakICaL)
	fmt.Printf("artifacts=%s size=%s trace_points=%d\n",
		summary.ArtifactsDir, humanize.Bytes(dirSize(summary.ArtifactsDir)), summary.TracePoints)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	// listing reads only the run index, so no store is opened
	client, err := api.New(api.Options{StoreKind: "memory", RunsDir: runsDir, ExportsDir: exportsDir})
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, items)
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	for _, item := range items {
		created := item.CreatedAtUTC
		if ts, err := time.Parse(time.RFC3339Nano, item.CreatedAtUTC); err == nil {
			created = humanize.Time(ts)
		}
		line := fmt.Sprintf("run_id=%s created=%q cell=%s mode=%s ltcc=%s units=%s steps=%s time=%.3f peak_cyto=%.4f peak_ical=%.4f",
			item.RunID, created, item.Cell, item.Mode, item.LTCCModel,
			humanize.Comma(int64(item.Units)), humanize.Comma(item.Steps), item.Time, item.PeakCyto, item.PeakICaL)
		if item.ParentID != "" {
			line += " parent_id=" + item.ParentID
		}
		fmt.Println(line)
	}
	return nil
}

func runTrace(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("trace", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from run index")
	limit := fs.Int("limit", 0, "max samples to show (0 for all)")
	jsonOut := fs.Bool("json", false, "emit trace as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer client.Close()

	trace, err := client.Trace(ctx, api.TraceRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(os.Stdout, trace)
	}
	for _, p := range trace {
		fmt.Printf("step=%d time=%.3f voltage=%.3f cyto=%.4f ss=%.4f jsr=%.2f active=%.4f ryr_oa=%.4f ltcc_open=%.4f ical=%.4f incx=%.4f\n",
			p.Step, p.Time, p.Voltage, p.Cyto, p.SS, p.JSR, p.Active, p.RyROA, p.LTCC, p.ICaL, p.INCX)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := api.New(api.Options{StoreKind: "memory", RunsDir: runsDir, ExportsDir: exportsDir})
	if err != nil {
		return err
	}
	defer client.Close()

	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s size=%s\n", exported.RunID, exported.Directory, humanize.Bytes(dirSize(exported.Directory)))
	return nil
}

func runModels(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit catalog as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cat := api.Models()
	if *jsonOut {
		return writeJSON(os.Stdout, cat)
	}
	for _, name := range cat.SortedCells() {
		d := cat.Cells[name]
		fmt.Printf("cell=%s dims=%dx%dx%d units=%s\n", name, d[0], d[1], d[2], humanize.Comma(int64(d[0]*d[1]*d[2])))
	}
	fmt.Printf("ltcc_models=%s\n", strings.Join(cat.LTCCModels, ","))
	fmt.Printf("geometries=%s\n", strings.Join(cat.Geometries, ","))
	fmt.Printf("channels=%s\n", strings.Join(cat.Channels, ","))
	fmt.Printf("heterogeneity=%s\n", strings.Join(cat.Heterogeneity, ","))
	fmt.Printf("membranes=%s\n", strings.Join(cat.Membranes, ","))
	fmt.Printf("forces=%s\n", strings.Join(cat.Forces, ","))
	fmt.Printf("fields=%s\n", strings.Join(cat.Fields, ","))
	return nil
}

// progressReporter draws a progress line on w when it is a terminal.
func progressReporter(w *os.File) func(done, total int64) {
	if !isTerminal(w) {
		return nil
	}
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		fmt.Fprintf(w, "\rstep %s/%s (%.0f%%)", humanize.Comma(done), humanize.Comma(total), 100*float64(done)/float64(total))
	}
}

func endProgress(w *os.File) {
	if isTerminal(w) {
		fmt.Fprintln(w)
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func dirSize(dir string) uint64 {
	var total uint64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += uint64(info.Size())
		}
		return nil
	})
	return total
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: crulatticectl <run|resume|runs|trace|export|models> [flags]", msg)
}
