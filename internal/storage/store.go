package storage

import (
	"context"

	"crulattice/internal/model"
)

// Store persists run records, the latest snapshot of each run and its
// recorded trace.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
	GetSnapshot(ctx context.Context, runID string) (model.Snapshot, bool, error)
	SaveTrace(ctx context.Context, runID string, trace []model.TracePoint) error
	GetTrace(ctx context.Context, runID string) ([]model.TracePoint, bool, error)
}
