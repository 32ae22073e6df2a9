// Package checkpoint persists model parameters as versioned gob snapshots.
// Writes go through a temp file and rename so a crash never leaves a
// truncated checkpoint behind.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Noofbiz/eventflow/tensor"
)

const snapshotVersion = 1

// timestampLayout matches the second-resolution naming of exported
// checkpoints, model_YYYYMMDDHHMMSS.pth.
const timestampLayout = "20060102150405"

type snapshot struct {
	Version int
	SavedAt time.Time
	Shapes  [][]int
	Data    [][]float32
}

// TimestampedPath returns dir/model_<timestamp>.pth for the given time.
func TimestampedPath(dir string, at time.Time) string {
	return filepath.Join(dir, "model_"+at.Format(timestampLayout)+".pth")
}

// Save writes the parameter tensors to path, creating parent directories as
// needed.
func Save(path string, params []*tensor.Tensor) error {
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now(),
		Shapes:  make([][]int, len(params)),
		Data:    make([][]float32, len(params)),
	}
	for i, p := range params {
		snap.Shapes[i] = p.Shape()
		snap.Data[i] = p.Data()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("checkpoint: creating directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: encoding snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("checkpoint: renaming into place: %w", err)
	}
	return nil
}

// Restore loads a snapshot from path into the given parameter tensors in
// place. The snapshot must carry the same number of tensors with the same
// shapes, in the same order, as the parameters being restored.
func Restore(path string, params []*tensor.Tensor) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("checkpoint: opening snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return fmt.Errorf("checkpoint: decoding snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("checkpoint: snapshot version %d, want %d", snap.Version, snapshotVersion)
	}
	if len(snap.Data) != len(params) {
		return fmt.Errorf("checkpoint: snapshot has %d tensors, model has %d", len(snap.Data), len(params))
	}
	for i, p := range params {
		if !shapeEqual(snap.Shapes[i], p.Shape()) {
			return fmt.Errorf("checkpoint: tensor %d shape %v does not match model shape %v", i, snap.Shapes[i], p.Shape())
		}
		if len(snap.Data[i]) != p.Size() {
			return fmt.Errorf("checkpoint: tensor %d has %d values, want %d", i, len(snap.Data[i]), p.Size())
		}
	}
	// Validate everything before touching the model.
	for i, p := range params {
		copy(p.Data(), snap.Data[i])
	}
	return nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
