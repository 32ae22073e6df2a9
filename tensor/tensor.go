// Package tensor provides small dense float32 tensors used throughout the
// training pipeline. Data is stored in a flat row-major buffer with explicit
// shape metadata; 4-D tensors follow the NCHW layout (batch, channel, height,
// width). An optional gradient buffer of the same size supports manual
// backpropagation.
//
// Tensors are not safe for concurrent mutation. The training loop is single
// threaded; packages that parallelize internally write to disjoint regions.
package tensor

import (
	"fmt"
)

// Tensor is a dense float32 array with shape metadata and an optional
// gradient buffer allocated on first use.
type Tensor struct {
	data  []float32
	shape []int
	grad  []float32
}

// New creates a zero-initialized tensor with the given shape. It panics on an
// empty shape or non-positive dimension; shape errors are programmer bugs,
// not runtime conditions.
func New(shape ...int) *Tensor {
	size := checkShape(shape)
	sc := make([]int, len(shape))
	copy(sc, shape)
	return &Tensor{
		data:  make([]float32, size),
		shape: sc,
	}
}

// FromSlice wraps an existing flat buffer with the given shape. The buffer is
// used directly, not copied.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	size := checkShape(shape)
	if len(data) != size {
		return nil, fmt.Errorf("tensor: buffer length %d does not match shape %v (size %d)", len(data), shape, size)
	}
	sc := make([]int, len(shape))
	copy(sc, shape)
	return &Tensor{data: data, shape: sc}, nil
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}
	size := 1
	for i, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, d))
		}
		size *= d
	}
	return size
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	s := make([]int, len(t.shape))
	copy(s, t.shape)
	return s
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Dims returns the rank of the tensor.
func (t *Tensor) Dims() int { return len(t.shape) }

// Size returns the total number of elements.
func (t *Tensor) Size() int { return len(t.data) }

// Data returns the underlying flat buffer. Hot loops index it directly.
func (t *Tensor) Data() []float32 { return t.data }

// Grad returns the gradient buffer, or nil if none has been allocated.
func (t *Tensor) Grad() []float32 { return t.grad }

// EnsureGrad allocates the gradient buffer if absent and returns it.
func (t *Tensor) EnsureGrad() []float32 {
	if t.grad == nil {
		t.grad = make([]float32, len(t.data))
	}
	return t.grad
}

// ZeroGrad clears the gradient buffer, allocating it if needed.
func (t *Tensor) ZeroGrad() {
	g := t.EnsureGrad()
	for i := range g {
		g[i] = 0
	}
}

// Index converts multi-dimensional indices to a flat offset. It panics on a
// rank mismatch or out-of-range index.
func (t *Tensor) Index(indices ...int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: got %d indices for rank-%d tensor", len(indices), len(t.shape)))
	}
	idx := 0
	for i, ix := range indices {
		if ix < 0 || ix >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dimension %d (size %d)", ix, i, t.shape[i]))
		}
		idx = idx*t.shape[i] + ix
	}
	return idx
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 { return t.data[t.Index(indices...)] }

// Set stores v at the given indices.
func (t *Tensor) Set(v float32, indices ...int) { t.data[t.Index(indices...)] = v }

// Clone returns a deep copy of the tensor's data and shape. Gradients are not
// copied.
func (t *Tensor) Clone() *Tensor {
	c := New(t.shape...)
	copy(c.data, t.data)
	return c
}

// SameShape reports whether two tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	if a.Dims() != b.Dims() {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	return true
}

// Concat4 concatenates 4-D tensors along the batch dimension. All inputs must
// share channel, height and width sizes.
func Concat4(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("tensor: nothing to concatenate")
	}
	first := parts[0]
	if first.Dims() != 4 {
		return nil, fmt.Errorf("tensor: Concat4 requires 4-D tensors, got rank %d", first.Dims())
	}
	c, h, w := first.Dim(1), first.Dim(2), first.Dim(3)
	total := 0
	for i, p := range parts {
		if p.Dims() != 4 || p.Dim(1) != c || p.Dim(2) != h || p.Dim(3) != w {
			return nil, fmt.Errorf("tensor: part %d shape %v incompatible with %v", i, p.Shape(), first.Shape())
		}
		total += p.Dim(0)
	}
	out := New(total, c, h, w)
	off := 0
	for _, p := range parts {
		copy(out.data[off:], p.data)
		off += len(p.data)
	}
	return out, nil
}
