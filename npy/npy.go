// Package npy reads and writes float32 arrays in the NumPy .npy binary
// format (version 1.0, little-endian '<f4', C order). It covers exactly what
// the pipeline needs: the exported flow array and per-sample ground-truth
// flow files.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var magic = []byte("\x93NUMPY")

// Write serializes the flat float32 buffer with the given shape to w.
func Write(w io.Writer, data []float32, shape []int) error {
	size := 1
	for i, d := range shape {
		if d < 0 {
			return fmt.Errorf("npy: negative dimension at %d: %d", i, d)
		}
		size *= d
	}
	if size != len(data) {
		return fmt.Errorf("npy: buffer length %d does not match shape %v", len(data), shape)
	}

	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", tuple)

	// magic(6) + version(2) + headerlen(2) + header padded so the data block
	// starts on a 64-byte boundary; header must end with newline.
	total := 6 + 2 + 2 + len(header) + 1
	pad := (64 - total%64) % 64
	header = header + strings.Repeat(" ", pad) + "\n"

	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// WriteFile writes the array to path, creating parent directories as needed.
func WriteFile(path string, data []float32, shape []int) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("npy: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("npy: create %s: %w", path, err)
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, data, shape); err != nil {
		f.Close()
		return fmt.Errorf("npy: write %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("npy: flush %s: %w", path, err)
	}
	return f.Close()
}

// Read parses a .npy stream and returns the flat buffer and shape. Only
// little-endian float32 arrays in C order are supported.
func Read(r io.Reader) ([]float32, []int, error) {
	head := make([]byte, 8)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, nil, fmt.Errorf("npy: read header: %w", err)
	}
	if !bytes.Equal(head[:6], magic) {
		return nil, nil, fmt.Errorf("npy: bad magic %q", head[:6])
	}
	major := head[6]

	var headerLen int
	switch major {
	case 1:
		var l uint16
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(l)
	case 2, 3:
		var l uint32
		if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
			return nil, nil, fmt.Errorf("npy: read header length: %w", err)
		}
		headerLen = int(l)
	default:
		return nil, nil, fmt.Errorf("npy: unsupported format version %d", major)
	}

	hdr := make([]byte, headerLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, nil, fmt.Errorf("npy: read header dict: %w", err)
	}
	header := string(hdr)

	if !strings.Contains(header, "'descr': '<f4'") && !strings.Contains(header, `"descr": "<f4"`) {
		return nil, nil, fmt.Errorf("npy: unsupported dtype in header %q (want '<f4')", strings.TrimSpace(header))
	}
	if strings.Contains(header, "'fortran_order': True") {
		return nil, nil, fmt.Errorf("npy: fortran order arrays are not supported")
	}

	shape, err := parseShape(header)
	if err != nil {
		return nil, nil, err
	}
	size := 1
	for _, d := range shape {
		size *= d
	}

	raw := make([]byte, 4*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("npy: read payload (%d elements): %w", size, err)
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return data, shape, nil
}

// ReadFile reads a .npy file from disk.
func ReadFile(path string) ([]float32, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("npy: open %s: %w", path, err)
	}
	defer f.Close()
	data, shape, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("npy: %s: %w", path, err)
	}
	return data, shape, nil
}

func parseShape(header string) ([]int, error) {
	open := strings.Index(header, "(")
	end := strings.Index(header, ")")
	if open < 0 || end < open {
		return nil, fmt.Errorf("npy: shape tuple not found in header %q", header)
	}
	inner := header[open+1 : end]
	fields := strings.Split(inner, ",")
	shape := make([]int, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("npy: bad shape element %q: %w", f, err)
		}
		shape = append(shape, d)
	}
	if len(shape) == 0 {
		// zero-dimensional array: a single scalar
		shape = []int{1}
	}
	return shape, nil
}
