package trainer

import (
	"fmt"
	"math"

	"github.com/Noofbiz/eventflow/tensor"
)

// MultiScaleEPE computes the multi-scale endpoint error between a set of flow
// predictions and a full-resolution ground-truth flow field.
//
// For each prediction the ground truth is bilinearly resized to the
// prediction's spatial size; the flow values themselves are not rescaled, so
// coarse scales compare against downsampled but magnitude-preserved vectors.
// The per-scale term is the per-pixel Euclidean norm of the prediction error
// averaged over batch and pixels, and the total is the unweighted sum over
// scales.
func MultiScaleEPE(preds []*tensor.Tensor, gt *tensor.Tensor) (float64, error) {
	loss, _, err := multiScaleEPE(preds, gt, false)
	return loss, err
}

// MultiScaleEPEWithGrad additionally returns the gradient of the loss with
// respect to each prediction, ordered to match preds. Pixels with exactly
// zero error use a zero subgradient.
func MultiScaleEPEWithGrad(preds []*tensor.Tensor, gt *tensor.Tensor) (float64, []*tensor.Tensor, error) {
	return multiScaleEPE(preds, gt, true)
}

func multiScaleEPE(preds []*tensor.Tensor, gt *tensor.Tensor, withGrad bool) (float64, []*tensor.Tensor, error) {
	if len(preds) == 0 {
		return 0, nil, fmt.Errorf("trainer: no flow predictions")
	}
	if gt.Dims() != 4 || gt.Dim(1) != 2 {
		return 0, nil, fmt.Errorf("trainer: ground truth must be [batch, 2, h, w], got %v", gt.Shape())
	}

	var total float64
	var grads []*tensor.Tensor
	if withGrad {
		grads = make([]*tensor.Tensor, len(preds))
	}

	for s, pred := range preds {
		if pred.Dims() != 4 || pred.Dim(1) != 2 {
			return 0, nil, fmt.Errorf("trainer: prediction %d must be [batch, 2, h, w], got %v", s, pred.Shape())
		}
		if pred.Dim(0) != gt.Dim(0) {
			return 0, nil, fmt.Errorf("trainer: prediction %d batch %d does not match ground truth batch %d", s, pred.Dim(0), gt.Dim(0))
		}

		n, h, w := pred.Dim(0), pred.Dim(2), pred.Dim(3)
		gtS, err := tensor.BilinearResize(gt, h, w)
		if err != nil {
			return 0, nil, fmt.Errorf("trainer: resizing ground truth for scale %d: %w", s, err)
		}

		pd := pred.Data()
		gd := gtS.Data()
		plane := h * w
		count := float64(n * plane)

		var grad *tensor.Tensor
		var gr []float32
		if withGrad {
			grad = tensor.New(pred.Shape()...)
			gr = grad.Data()
		}

		var sum float64
		for b := 0; b < n; b++ {
			base := b * 2 * plane
			for p := 0; p < plane; p++ {
				du := float64(pd[base+p] - gd[base+p])
				dv := float64(pd[base+plane+p] - gd[base+plane+p])
				norm := math.Sqrt(du*du + dv*dv)
				sum += norm
				if withGrad && norm > 0 {
					inv := 1.0 / (norm * count)
					gr[base+p] = float32(du * inv)
					gr[base+plane+p] = float32(dv * inv)
				}
			}
		}
		total += sum / count
		if withGrad {
			grads[s] = grad
		}
	}
	return total, grads, nil
}
