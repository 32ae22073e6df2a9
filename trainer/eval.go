package trainer

import (
	"fmt"

	"github.com/Noofbiz/eventflow/npy"
	"github.com/Noofbiz/eventflow/tensor"
)

// Evaluate runs the model over the dataset in its stored order and returns
// the finest-scale flow predictions concatenated along the batch dimension,
// shaped [samples, 2, height, width]. The dataset is not shuffled; the
// output row order matches the dataset's sample order.
func Evaluate(model Model, ds Dataset, batchSize int) (*tensor.Tensor, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("trainer: batch size must be positive, got %d", batchSize)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("trainer: evaluation dataset is empty")
	}

	model.Eval()
	var parts []*tensor.Tensor
	for start := 0; start < ds.Len(); start += batchSize {
		end := start + batchSize
		if end > ds.Len() {
			end = ds.Len()
		}
		indices := make([]int, end-start)
		for i := range indices {
			indices[i] = start + i
		}

		batch, err := ds.Batch(indices)
		if err != nil {
			return nil, fmt.Errorf("trainer: loading evaluation batch at %d: %w", start, err)
		}
		preds, err := model.Forward(batch.EventVolume)
		if err != nil {
			return nil, fmt.Errorf("trainer: evaluation forward pass: %w", err)
		}
		parts = append(parts, preds.Finest())
	}

	out, err := tensor.Concat4(parts)
	if err != nil {
		return nil, fmt.Errorf("trainer: concatenating predictions: %w", err)
	}
	return out, nil
}

// ExportSubmission writes the concatenated predictions to path in NumPy
// format as a C-order float32 array.
func ExportSubmission(path string, flow *tensor.Tensor) error {
	if err := npy.WriteFile(path, flow.Data(), flow.Shape()); err != nil {
		return fmt.Errorf("trainer: writing submission: %w", err)
	}
	return nil
}
