package registry

import (
	"path/filepath"
	"testing"
	"time"
)

func openTemp(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndList(t *testing.T) {
	r := openTemp(t)

	loss := 0.42
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	first, err := r.Record(Run{
		StartedAt:      base,
		FinishedAt:     base.Add(time.Hour),
		Seed:           42,
		Epochs:         30,
		FinalLoss:      &loss,
		CheckpointPath: "checkpoints/model_20260828110000.pth",
		SubmissionPath: "submission.npy",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.ID == "" {
		t.Fatal("Record did not assign an ID")
	}

	second, err := r.Record(Run{
		StartedAt:      base.Add(2 * time.Hour),
		FinishedAt:     base.Add(3 * time.Hour),
		Seed:           7,
		Epochs:         0,
		CheckpointPath: "checkpoints/model_20260828130000.pth",
		SubmissionPath: "submission.npy",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != second.ID || runs[1].ID != first.ID {
		t.Errorf("runs not ordered most recent first: %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[1].FinalLoss == nil || *runs[1].FinalLoss != loss {
		t.Errorf("first run FinalLoss = %v, want %g", runs[1].FinalLoss, loss)
	}
	if runs[0].FinalLoss != nil {
		t.Errorf("zero-epoch run FinalLoss = %v, want nil", *runs[0].FinalLoss)
	}
	if !runs[1].StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", runs[1].StartedAt, base)
	}
	if runs[1].Seed != 42 || runs[1].Epochs != 30 {
		t.Errorf("run fields = seed %d epochs %d", runs[1].Seed, runs[1].Epochs)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Record(Run{CheckpointPath: "a", SubmissionPath: "b"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	r.Close()

	r2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()
	runs, err := r2.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("List after reopen returned %d runs, want 1", len(runs))
	}
}
