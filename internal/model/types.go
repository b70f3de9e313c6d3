package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Snapshot is the restorable state of a lattice at one step. Channel
// states are flattened across units; the size slices give each unit's
// share. Random streams are not part of a snapshot.
type Snapshot struct {
	VersionedRecord
	RunID string  `json:"run_id"`
	Step  int64   `json:"step"`
	Time  float64 `json:"time"`
	Mode  string  `json:"mode"`
	Dims  [3]int  `json:"dims"`

	DS      []float64 `json:"ds"`
	SS      []float64 `json:"ss"`
	Cyto    []float64 `json:"cyto"`
	NSR     []float64 `json:"nsr"`
	JSR     []float64 `json:"jsr"`
	Monomer []float64 `json:"monomer"`

	RyRSizes  []int   `json:"ryr_sizes,omitempty"`
	RyRStates []uint8 `json:"ryr_states,omitempty"`

	LTCCSizes []int   `json:"ltcc_sizes,omitempty"`
	LTCCAct   []uint8 `json:"ltcc_act,omitempty"`
	LTCCF     []uint8 `json:"ltcc_f,omitempty"`
	LTCCFCa   []uint8 `json:"ltcc_fca,omitempty"`

	Fractions []ChannelFractions `json:"fractions,omitempty"`

	Force []float64 `json:"force,omitempty"`
}

// ChannelFractions is the mean-field channel state of one unit.
type ChannelFractions struct {
	Po    float64 `json:"po"`
	Open  float64 `json:"open"`
	Inact float64 `json:"inact"`
	C1    float64 `json:"c1"`
	O     float64 `json:"o"`
	F     float64 `json:"f"`
	FCa   float64 `json:"fca"`
}

// RunRecord describes one simulation run.
type RunRecord struct {
	VersionedRecord
	ID        string  `json:"id"`
	CreatedAt string  `json:"created_at"`
	ParentID  string  `json:"parent_id,omitempty"`
	Cell      string  `json:"cell"`
	Mode      string  `json:"mode"`
	LTCCModel string  `json:"ltcc_model"`
	Units     int     `json:"units"`
	Total     int     `json:"total_units"`
	DT        float64 `json:"dt"`
	Steps     int64   `json:"steps"`
	Time      float64 `json:"time"`
	Completed bool    `json:"completed"`

	// run configuration as submitted, JSON encoded
	Config []byte `json:"config,omitempty"`

	Final TracePoint `json:"final"`
}

// TracePoint is one recorded whole-cell sample.
type TracePoint struct {
	Step    int64   `json:"step"`
	Time    float64 `json:"time"`
	Voltage float64 `json:"voltage"`

	DS   float64 `json:"ds"`
	SS   float64 `json:"ss"`
	Cyto float64 `json:"cyto"`
	NSR  float64 `json:"nsr"`
	JSR  float64 `json:"jsr"`

	Jrel   float64 `json:"jrel"`
	Active float64 `json:"active"`
	RyROA  float64 `json:"ryr_oa"`
	LTCC   float64 `json:"ltcc_open"`

	ICaL float64 `json:"ical"`
	INCX float64 `json:"incx"`
	ICaP float64 `json:"icap"`
	ICab float64 `json:"icab"`
}
