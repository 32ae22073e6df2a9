package datasets

import (
	"fmt"

	"github.com/Noofbiz/eventflow/tensor"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Batch is one collated training or evaluation step: a stack of voxel grids
// and, when the split is labeled, the matching ground-truth flow fields.
type Batch struct {
	// EventVolume has shape [B, num_bins, H, W].
	EventVolume *tensor.Tensor

	// FlowGT has shape [B, 2, H, W]; nil for unlabeled splits.
	FlowGT *tensor.Tensor
}

// collate stacks per-example buffers into contiguous batch tensors. Flow
// buffers may be nil only if all of them are.
func collate(volumes, flows [][]float32, bins, height, width int) (*Batch, error) {
	if len(volumes) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	exampleSize := bins * height * width
	flat := make([]float32, len(volumes)*exampleSize)
	for i, v := range volumes {
		if len(v) != exampleSize {
			return nil, fmt.Errorf("example %d has %d values, want %d", i, len(v), exampleSize)
		}
		copy(flat[i*exampleSize:], v)
	}
	ev, err := tensor.FromSlice(flat, len(volumes), bins, height, width)
	if err != nil {
		return nil, err
	}
	b := &Batch{EventVolume: ev}

	labeled := 0
	for _, f := range flows {
		if f != nil {
			labeled++
		}
	}
	if labeled == 0 {
		return b, nil
	}
	if labeled != len(flows) {
		return nil, fmt.Errorf("mixed labeled/unlabeled batch: %d of %d examples have flow", labeled, len(flows))
	}
	flowSize := 2 * height * width
	flatFlow := make([]float32, len(flows)*flowSize)
	for i, f := range flows {
		if len(f) != flowSize {
			return nil, fmt.Errorf("flow %d has %d values, want %d", i, len(f), flowSize)
		}
		copy(flatFlow[i*flowSize:], f)
	}
	gt, err := tensor.FromSlice(flatFlow, len(flows), 2, height, width)
	if err != nil {
		return nil, err
	}
	b.FlowGT = gt
	return b, nil
}

// ToGomlxTensors converts the batch into gomlx tensors. The label tensor is
// nil when the batch carries no ground truth.
func (b *Batch) ToGomlxTensors() (inputs *tensors.Tensor, labels *tensors.Tensor, err error) {
	if b.EventVolume == nil {
		return nil, nil, fmt.Errorf("batch has no event volume")
	}
	inputs = tensors.FromAnyValue(nest4(b.EventVolume))
	if b.FlowGT != nil {
		labels = tensors.FromAnyValue(nest4(b.FlowGT))
	}
	return inputs, labels, nil
}

// nest4 reshapes a flat 4-D tensor into nested slices, the form the gomlx
// tensor constructor accepts. Inner slices alias the flat buffer.
func nest4(t *tensor.Tensor) [][][][]float32 {
	n, c, h, w := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	buf := t.Data()
	out := make([][][][]float32, n)
	idx := 0
	for i := 0; i < n; i++ {
		out[i] = make([][][]float32, c)
		for j := 0; j < c; j++ {
			out[i][j] = make([][]float32, h)
			for k := 0; k < h; k++ {
				out[i][j][k] = buf[idx : idx+w]
				idx += w
			}
		}
	}
	return out
}
