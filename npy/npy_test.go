package npy

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	data := []float32{0, -1.5, 2.25, 3.75, 100, -0.001}
	shape := []int{1, 2, 3}

	var buf bytes.Buffer
	if err := Write(&buf, data, shape); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	// data block must start on a 64-byte boundary
	if (buf.Len()-len(data)*4)%64 != 0 {
		t.Fatalf("header not padded to 64 bytes: total=%d payload=%d", buf.Len(), len(data)*4)
	}

	got, gotShape, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if len(gotShape) != 3 || gotShape[0] != 1 || gotShape[1] != 2 || gotShape[2] != 3 {
		t.Fatalf("shape round trip: got %v want %v", gotShape, shape)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("data[%d]: got %v want %v", i, got[i], data[i])
		}
	}
}

func TestWriteShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, make([]float32, 5), []int{2, 3}); err == nil {
		t.Fatal("expected error for buffer/shape mismatch")
	}
}

func TestReadBadMagic(t *testing.T) {
	if _, _, err := Read(bytes.NewReader([]byte("NOTNUMPYDATA...."))); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestOneDimensionalShape(t *testing.T) {
	// 1-D shapes serialize as "(n,)" and must parse back
	var buf bytes.Buffer
	if err := Write(&buf, []float32{1, 2, 3}, []int{3}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	_, shape, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if len(shape) != 1 || shape[0] != 3 {
		t.Fatalf("1-D shape round trip: got %v", shape)
	}
}

func TestWriteFileReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.npy")
	data := []float32{1, 2, 3, 4}
	if err := WriteFile(path, data, []int{2, 2}); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	got, shape, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("shape: got %v", shape)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("data[%d]: got %v want %v", i, got[i], data[i])
		}
	}
}
