package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"crulattice/internal/model"
)

func TestDecodeSnapshotFixture(t *testing.T) {
	snap, err := DecodeSnapshot(readFixture(t, "single_unit_snapshot_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if snap.RunID != "run-single-1" || snap.Step != 200 || snap.Mode != "deterministic" {
		t.Fatalf("unexpected snapshot header: %+v", snap)
	}
	if snap.Dims != [3]int{1, 1, 1} || len(snap.Fractions) != 1 || snap.Fractions[0].FCa != 0.8 {
		t.Fatalf("unexpected snapshot body: %+v", snap)
	}
	if len(snap.RyRStates) != 0 {
		t.Fatalf("deterministic fixture should carry no channel states")
	}
}

func TestDecodeRunFixture(t *testing.T) {
	run, err := DecodeRun(readFixture(t, "run_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-single-1" || run.Total != 28405 || !run.Completed {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Final.ICaL != -3.1 || run.Final.Step != 200 {
		t.Fatalf("unexpected final sample: %+v", run.Final)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	snap := model.Snapshot{VersionedRecord: model.VersionedRecord{SchemaVersion: 2, CodecVersion: 1}}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeSnapshot(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	var run model.RunRecord
	data, err = EncodeRun(run)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch for unversioned run, got %v", err)
	}

	Stamp(&run.VersionedRecord)
	data, _ = EncodeRun(run)
	if _, err := DecodeRun(data); err != nil {
		t.Fatalf("stamped run should decode: %v", err)
	}
}

func TestDecodeTraceRejectsGarbage(t *testing.T) {
	if _, err := DecodeTrace([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()

	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}
