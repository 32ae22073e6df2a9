package tensor

import "fmt"

// BilinearResize resamples a 4-D NCHW tensor to the requested spatial size
// using bilinear interpolation with half-pixel source mapping (no corner
// alignment). Source coordinates outside the grid clamp to the border.
//
// The output spatial dimensions are exactly outH x outW regardless of the
// input size; only the values are interpolated, never rescaled.
func BilinearResize(src *Tensor, outH, outW int) (*Tensor, error) {
	if src.Dims() != 4 {
		return nil, fmt.Errorf("tensor: BilinearResize requires a 4-D tensor, got rank %d", src.Dims())
	}
	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("tensor: invalid output size %dx%d", outH, outW)
	}
	n, c, h, w := src.Dim(0), src.Dim(1), src.Dim(2), src.Dim(3)
	if h == outH && w == outW {
		return src.Clone(), nil
	}

	out := New(n, c, outH, outW)
	in := src.data
	dst := out.data

	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)

	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			planeIn := in[(b*c+ch)*h*w:]
			planeOut := dst[(b*c+ch)*outH*outW:]
			for oy := 0; oy < outH; oy++ {
				sy := (float64(oy)+0.5)*scaleY - 0.5
				y0 := int(floor(sy))
				dy := sy - float64(y0)
				y0c := clampInt(y0, 0, h-1)
				y1c := clampInt(y0+1, 0, h-1)
				for ox := 0; ox < outW; ox++ {
					sx := (float64(ox)+0.5)*scaleX - 0.5
					x0 := int(floor(sx))
					dx := sx - float64(x0)
					x0c := clampInt(x0, 0, w-1)
					x1c := clampInt(x0+1, 0, w-1)

					v00 := float64(planeIn[y0c*w+x0c])
					v01 := float64(planeIn[y0c*w+x1c])
					v10 := float64(planeIn[y1c*w+x0c])
					v11 := float64(planeIn[y1c*w+x1c])

					top := v00 + (v01-v00)*dx
					bot := v10 + (v11-v10)*dx
					planeOut[oy*outW+ox] = float32(top + (bot-top)*dy)
				}
			}
		}
	}
	return out, nil
}

func floor(v float64) float64 {
	f := float64(int(v))
	if v < 0 && f != v {
		f--
	}
	return f
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
