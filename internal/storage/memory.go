package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	"crulattice/internal/model"

	"golang.org/x/exp/slices"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	snapshots   map[string]model.Snapshot
	traces      map[string][]model.TracePoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.snapshots = make(map[string]model.Snapshot)
	s.traces = make(map[string][]model.TracePoint)
	return nil
}

func (s *MemoryStore) ready() error {
	if !s.initialized {
		return errors.New("store is not initialized")
	}
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	run.Config = slices.Clone(run.Config)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return model.RunRecord{}, false, err
	}

	run, ok := s.runs[id]
	run.Config = slices.Clone(run.Config)
	return run, ok, nil
}

// ListRuns returns all runs, oldest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		run.Config = slices.Clone(run.Config)
		runs = append(runs, run)
	}
	slices.SortFunc(runs, func(a, b model.RunRecord) int {
		if c := strings.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return runs, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	s.snapshots[snap.RunID] = cloneSnapshot(snap)
	return nil
}

func (s *MemoryStore) GetSnapshot(_ context.Context, runID string) (model.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return model.Snapshot{}, false, err
	}

	snap, ok := s.snapshots[runID]
	if !ok {
		return model.Snapshot{}, false, nil
	}
	return cloneSnapshot(snap), true, nil
}

func (s *MemoryStore) SaveTrace(_ context.Context, runID string, trace []model.TracePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	s.traces[runID] = slices.Clone(trace)
	return nil
}

func (s *MemoryStore) GetTrace(_ context.Context, runID string) ([]model.TracePoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(); err != nil {
		return nil, false, err
	}

	trace, ok := s.traces[runID]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(trace), true, nil
}

func cloneSnapshot(s model.Snapshot) model.Snapshot {
	s.DS = slices.Clone(s.DS)
	s.SS = slices.Clone(s.SS)
	s.Cyto = slices.Clone(s.Cyto)
	s.NSR = slices.Clone(s.NSR)
	s.JSR = slices.Clone(s.JSR)
	s.Monomer = slices.Clone(s.Monomer)
	s.RyRSizes = slices.Clone(s.RyRSizes)
	s.RyRStates = slices.Clone(s.RyRStates)
	s.LTCCSizes = slices.Clone(s.LTCCSizes)
	s.LTCCAct = slices.Clone(s.LTCCAct)
	s.LTCCF = slices.Clone(s.LTCCF)
	s.LTCCFCa = slices.Clone(s.LTCCFCa)
	s.Fractions = slices.Clone(s.Fractions)
	s.Force = slices.Clone(s.Force)
	return s
}
