package stats

import (
	"crulattice/internal/model"

	"gonum.org/v1/gonum/floats"
)

// TraceSummary describes the calcium transient and L-type current of a
// recorded trace.
type TraceSummary struct {
	PeakCyto   float64 `json:"peak_cyto"`
	TimeToPeak float64 `json:"time_to_peak"`
	MinCyto    float64 `json:"min_cyto"`

	// most negative L-type current (pA/pF)
	PeakICaL float64 `json:"peak_ical"`
}

// Summarize reduces trace. TimeToPeak is measured from the first sample.
func Summarize(trace []model.TracePoint) TraceSummary {
	if len(trace) == 0 {
		return TraceSummary{}
	}
	cyto := make([]float64, len(trace))
	ical := make([]float64, len(trace))
	for i, p := range trace {
		cyto[i] = p.Cyto
		ical[i] = p.ICaL
	}
	peak := floats.MaxIdx(cyto)
	return TraceSummary{
		PeakCyto:   cyto[peak],
		TimeToPeak: trace[peak].Time - trace[0].Time,
		MinCyto:    floats.Min(cyto),
		PeakICaL:   floats.Min(ical),
	}
}

// IndexEntry builds the run index entry for run and its trace.
func IndexEntry(run model.RunRecord, trace []model.TracePoint) RunIndexEntry {
	s := Summarize(trace)
	return RunIndexEntry{
		RunID:        run.ID,
		ParentID:     run.ParentID,
		Cell:         run.Cell,
		Mode:         run.Mode,
		LTCCModel:    run.LTCCModel,
		Units:        run.Units,
		Steps:        run.Steps,
		Time:         run.Time,
		PeakCyto:     s.PeakCyto,
		TimeToPeak:   s.TimeToPeak,
		MinCyto:      s.MinCyto,
		PeakICaL:     s.PeakICaL,
		CreatedAtUTC: run.CreatedAt,
	}
}
