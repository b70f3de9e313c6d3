package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"crulattice/internal/hetero"
	"crulattice/internal/model"

	"golang.org/x/exp/slices"
)

const (
	runIndexFile = "run_index.json"
	configFile   = "config.json"
	traceFile    = "trace.csv"
	fieldsFile   = "fields.csv"

	// HeterogeneityFile holds the per-unit factors of a non-uniform run in
	// the heterogeneity map format, so a later run can load them back.
	HeterogeneityFile = "heterogeneity.csv"
)

// RunConfig is the run setup written next to the run's outputs.
type RunConfig struct {
	RunID      string  `json:"run_id"`
	ParentID   string  `json:"parent_id,omitempty"`
	Cell       string  `json:"cell"`
	Sub        [3]int  `json:"sub,omitempty"`
	Geometry   string  `json:"geometry"`
	Channels   string  `json:"channels"`
	LTCCModel  string  `json:"ltcc_model"`
	Hetero     string  `json:"heterogeneity"`
	HeteroMap  string  `json:"heterogeneity_map,omitempty"`
	DT         float64 `json:"dt"`
	Duration   float64 `json:"duration"`
	Steps      int64   `json:"steps"`
	Seed       uint64  `json:"seed"`
	Workers    int     `json:"workers"`
	Membrane   string  `json:"membrane"`
	BCL        float64 `json:"bcl,omitempty"`
	HoldV      float64 `json:"hold_v,omitempty"`
	Force      string  `json:"force"`
	Clamp      bool    `json:"clamp"`
	ClampValue float64 `json:"clamp_value,omitempty"`
	TraceEvery int     `json:"trace_every"`
}

// RunArtifacts is everything written for one run. Fields holds masked
// per-unit values of the final state keyed by field name; Dims gives their
// lattice shape. Factors is only written when set.
type RunArtifacts struct {
	Config  RunConfig
	Trace   []model.TracePoint
	Dims    [3]int
	Fields  map[string][]float64
	Factors []hetero.Factors
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	ParentID     string  `json:"parent_id,omitempty"`
	Cell         string  `json:"cell"`
	Mode         string  `json:"mode"`
	LTCCModel    string  `json:"ltcc_model"`
	Units        int     `json:"units"`
	Steps        int64   `json:"steps"`
	Time         float64 `json:"time"`
	PeakCyto     float64 `json:"peak_cyto"`
	TimeToPeak   float64 `json:"time_to_peak"`
	MinCyto      float64 `json:"min_cyto"`
	PeakICaL     float64 `json:"peak_ical"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, traceFile), func(w io.Writer) error {
		return WriteTraceCSV(w, artifacts.Trace)
	}); err != nil {
		return "", err
	}
	if len(artifacts.Fields) > 0 {
		if err := writeCSV(filepath.Join(runDir, fieldsFile), func(w io.Writer) error {
			return WriteFieldsCSV(w, artifacts.Dims, artifacts.Fields)
		}); err != nil {
			return "", err
		}
	}
	if len(artifacts.Factors) > 0 {
		if err := writeCSV(filepath.Join(runDir, HeterogeneityFile), func(w io.Writer) error {
			return hetero.WriteMap(w, artifacts.Factors)
		}); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the run index newest first. Entries with equal
// timestamps keep the later appended one first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	slices.SortStableFunc(entries, func(a, b RunIndexEntry) int {
		return strings.Compare(b.CreatedAtUTC, a.CreatedAtUTC)
	})
	return entries, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, traceFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{fieldsFile, HeterogeneityFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadTrace(baseDir, runID string) ([]model.TracePoint, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, traceFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	trace, err := ReadTraceCSV(file)
	if err != nil {
		return nil, false, err
	}
	return trace, true, nil
}

// TraceColumns is the header of trace.csv.
var TraceColumns = []string{
	"step", "time", "voltage",
	"ds", "ss", "cyto", "nsr", "jsr",
	"jrel", "active", "ryr_oa", "ltcc_open",
	"ical", "incx", "icap", "icab",
}

func traceRow(p model.TracePoint) []float64 {
	return []float64{
		p.Time, p.Voltage,
		p.DS, p.SS, p.Cyto, p.NSR, p.JSR,
		p.Jrel, p.Active, p.RyROA, p.LTCC,
		p.ICaL, p.INCX, p.ICaP, p.ICab,
	}
}

func WriteTraceCSV(w io.Writer, trace []model.TracePoint) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(TraceColumns); err != nil {
		return err
	}
	for _, p := range trace {
		record := []string{strconv.FormatInt(p.Step, 10)}
		for _, v := range traceRow(p) {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadTraceCSV(r io.Reader) ([]model.TracePoint, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.TracePoint{}, nil
		}
		return nil, err
	}
	if !slices.Equal(header, TraceColumns) {
		return nil, fmt.Errorf("trace header mismatch: %v", header)
	}

	trace := make([]model.TracePoint, 0, 256)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		step, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return nil, err
		}
		v := make([]float64, len(record)-1)
		for i, raw := range record[1:] {
			if v[i], err = strconv.ParseFloat(raw, 64); err != nil {
				return nil, fmt.Errorf("trace step %d column %s: %w", step, TraceColumns[i+1], err)
			}
		}
		trace = append(trace, model.TracePoint{
			Step: step, Time: v[0], Voltage: v[1],
			DS: v[2], SS: v[3], Cyto: v[4], NSR: v[5], JSR: v[6],
			Jrel: v[7], Active: v[8], RyROA: v[9], LTCC: v[10],
			ICaL: v[11], INCX: v[12], ICaP: v[13], ICab: v[14],
		})
	}
	return trace, nil
}

// WriteFieldsCSV writes one row per unit with its lattice coordinates and
// the named fields in sorted name order. Units are ordered by linear index
// with x fastest.
func WriteFieldsCSV(w io.Writer, dims [3]int, fields map[string][]float64) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)

	n := dims[0] * dims[1] * dims[2]
	for _, name := range names {
		if len(fields[name]) != n {
			return fmt.Errorf("field %s has %d values, want %d", name, len(fields[name]), n)
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(append([]string{"i", "j", "k"}, names...)); err != nil {
		return err
	}
	for idx := 0; idx < n; idx++ {
		i := idx % dims[0]
		j := (idx / dims[0]) % dims[1]
		k := idx / (dims[0] * dims[1])
		record := []string{strconv.Itoa(i), strconv.Itoa(j), strconv.Itoa(k)}
		for _, name := range names {
			record = append(record, strconv.FormatFloat(fields[name][idx], 'g', -1, 64))
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeCSV(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
