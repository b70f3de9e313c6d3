// Package hetero builds the per-unit multiplicative scale factors that make
// release units heterogeneous. Factors are computed once at setup and are
// read-only afterwards.
package hetero

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrUnknownMode = errors.New("unknown heterogeneity mode")
	ErrMapMissing  = errors.New("heterogeneity map missing")
	ErrMapInvalid  = errors.New("heterogeneity map invalid")
)

// Factors scale the rates of one unit. 1 means no change.
type Factors struct {
	SERCA float64 `json:"serca"`
	NCX   float64 `json:"ncx"`
	RyR   float64 `json:"ryr"`
	LTCC  float64 `json:"ltcc"`
	Vds   float64 `json:"vds"`
}

// Unity returns factors that leave every rate unchanged.
func Unity() Factors {
	return Factors{SERCA: 1, NCX: 1, RyR: 1, LTCC: 1, Vds: 1}
}

// Columns is the header of a heterogeneity map file.
var Columns = []string{"serca", "ncx", "ryr", "ltcc", "vds"}

func (f Factors) values() []float64 {
	return []float64{f.SERCA, f.NCX, f.RyR, f.LTCC, f.Vds}
}

func fromValues(v []float64) Factors {
	return Factors{SERCA: v[0], NCX: v[1], RyR: v[2], LTCC: v[3], Vds: v[4]}
}

// Mode selects how factors are generated.
type Mode int

const (
	Uniform Mode = iota
	Map
	Random
)

func (m Mode) String() string {
	switch m {
	case Uniform:
		return "uniform"
	case Map:
		return "map"
	case Random:
		return "random"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "uniform":
		return Uniform, nil
	case "map":
		return Map, nil
	case "random":
		return Random, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
}

// Config describes the heterogeneity source.
type Config struct {
	Mode string `json:"mode"`

	// CSV file for map mode
	MapPath string `json:"map_path,omitempty"`

	// logistic scale parameter for random mode
	Spread float64 `json:"spread"`

	// truncation bounds of the random factors
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func (c *Config) Defaults() {
	c.Mode = "uniform"
	c.Spread = 0.1
	c.Lower = 0.5
	c.Upper = 1.5
}

// Build returns one Factors per unit. rnd is used only in random mode.
func Build(cfg Config, n int, rnd *rand.Rand) ([]Factors, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	switch mode {
	case Map:
		return LoadMap(cfg.MapPath, n)
	case Random:
		return randomFactors(cfg, n, rnd)
	default:
		out := make([]Factors, n)
		for i := range out {
			out[i] = Unity()
		}
		return out, nil
	}
}

// BoundedLogistic draws from a logistic distribution centred on 1 and
// truncated to [lower, upper] by inverse-CDF sampling.
type BoundedLogistic struct {
	dist         distuv.Logistic
	cdfLo, cdfHi float64
}

func NewBoundedLogistic(spread, lower, upper float64) (*BoundedLogistic, error) {
	if spread <= 0 {
		return nil, fmt.Errorf("logistic spread must be positive, got %g", spread)
	}
	if !(lower < upper) {
		return nil, fmt.Errorf("logistic bounds must satisfy lower < upper, got [%g, %g]", lower, upper)
	}
	d := distuv.Logistic{Mu: 1, S: spread}
	return &BoundedLogistic{dist: d, cdfLo: d.CDF(lower), cdfHi: d.CDF(upper)}, nil
}

// Draw maps a uniform u in [0,1) onto the truncated distribution.
func (b *BoundedLogistic) Draw(u float64) float64 {
	return b.dist.Quantile(b.cdfLo + u*(b.cdfHi-b.cdfLo))
}

func randomFactors(cfg Config, n int, rnd *rand.Rand) ([]Factors, error) {
	if rnd == nil {
		return nil, errors.New("random heterogeneity requires a random source")
	}
	b, err := NewBoundedLogistic(cfg.Spread, cfg.Lower, cfg.Upper)
	if err != nil {
		return nil, err
	}
	out := make([]Factors, n)
	v := make([]float64, len(Columns))
	for i := range out {
		for k := range v {
			v[k] = b.Draw(rnd.Float64())
		}
		out[i] = fromValues(v)
	}
	return out, nil
}

// LoadMap reads one row of factors per unit, in linear index order.
func LoadMap(path string, n int) ([]Factors, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: no map path configured", ErrMapMissing)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMapMissing, path)
		}
		return nil, err
	}
	defer f.Close()
	return ReadMap(f, n)
}

// ReadMap parses map CSV data with a serca,ncx,ryr,ltcc,vds header.
func ReadMap(r io.Reader, n int) ([]Factors, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Columns)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrMapInvalid, err)
	}
	for i, col := range Columns {
		if strings.ToLower(strings.TrimSpace(header[i])) != col {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrMapInvalid, i, header[i], col)
		}
	}

	out := make([]Factors, 0, n)
	v := make([]float64, len(Columns))
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMapInvalid, err)
		}
		for k, field := range record {
			x, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil || x <= 0 || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: line %d column %s: %q", ErrMapInvalid, line, Columns[k], field)
			}
			v[k] = x
		}
		out = append(out, fromValues(v))
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: %d rows for %d units", ErrMapInvalid, len(out), n)
	}
	return out, nil
}

// WriteMap writes factors in the format ReadMap accepts.
func WriteMap(w io.Writer, factors []Factors) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return err
	}
	row := make([]string, len(Columns))
	for _, f := range factors {
		for k, x := range f.values() {
			row[k] = strconv.FormatFloat(x, 'g', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ChannelCount scales a nominal channel count by the unit's dyadic volume
// factor. A unit with a nonzero nominal count keeps at least one channel;
// a zero count stays zero so the channel type can be switched off.
func ChannelCount(nominal int, vds float64) int {
	if nominal <= 0 {
		return 0
	}
	n := int(math.Round(float64(nominal) * vds))
	if n < 1 {
		return 1
	}
	return n
}
