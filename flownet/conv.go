package flownet

import (
	"math"
	"math/rand"
	"sync"

	"github.com/Noofbiz/eventflow/tensor"
)

// conv2d is a zero-padded 2-D convolution layer with square kernels. Padding
// is fixed to (k-1)/2 so stride 1 preserves the spatial size and stride 2
// halves it (rounding up).
type conv2d struct {
	w *tensor.Tensor // [co, ci, k, k]
	b *tensor.Tensor // [co]

	ci, co, k, stride, pad int
}

// newConv2d builds a layer with Xavier/Glorot uniform weight init drawn from
// the provided generator and zero biases.
func newConv2d(ci, co, k, stride int, rng *rand.Rand) *conv2d {
	c := &conv2d{
		w:      tensor.New(co, ci, k, k),
		b:      tensor.New(co),
		ci:     ci,
		co:     co,
		k:      k,
		stride: stride,
		pad:    (k - 1) / 2,
	}
	fanIn := ci * k * k
	fanOut := co * k * k
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	wd := c.w.Data()
	for i := range wd {
		wd[i] = (rng.Float32()*2.0 - 1.0) * limit
	}
	return c
}

func (c *conv2d) outSize(in int) int {
	return (in+2*c.pad-c.k)/c.stride + 1
}

// forward computes the convolution. The batch dimension is processed by a
// small worker pool; each goroutine writes a disjoint slice of the output.
func (c *conv2d) forward(x *tensor.Tensor) *tensor.Tensor {
	n, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	oh, ow := c.outSize(h), c.outSize(w)
	out := tensor.New(n, c.co, oh, ow)

	in := x.Data()
	dst := out.Data()
	wd := c.w.Data()
	bd := c.b.Data()

	var wg sync.WaitGroup
	wg.Add(n)
	for b := 0; b < n; b++ {
		go func(b int) {
			defer wg.Done()
			inB := in[b*c.ci*h*w:]
			outB := dst[b*c.co*oh*ow:]
			for co := 0; co < c.co; co++ {
				wCo := wd[co*c.ci*c.k*c.k:]
				outP := outB[co*oh*ow:]
				for oy := 0; oy < oh; oy++ {
					for ox := 0; ox < ow; ox++ {
						sum := bd[co]
						for ci := 0; ci < c.ci; ci++ {
							inP := inB[ci*h*w:]
							wP := wCo[ci*c.k*c.k:]
							for ky := 0; ky < c.k; ky++ {
								iy := oy*c.stride - c.pad + ky
								if iy < 0 || iy >= h {
									continue
								}
								for kx := 0; kx < c.k; kx++ {
									ix := ox*c.stride - c.pad + kx
									if ix < 0 || ix >= w {
										continue
									}
									sum += wP[ky*c.k+kx] * inP[iy*w+ix]
								}
							}
						}
						outP[oy*ow+ox] = sum
					}
				}
			}
		}(b)
	}
	wg.Wait()
	return out
}

// backward accumulates weight and bias gradients for the layer given the
// forward input x and the output gradient gout, and returns the gradient with
// respect to x (nil when needInputGrad is false). Accumulation is serial: the
// weight gradient buffers are shared across the batch.
func (c *conv2d) backward(x, gout *tensor.Tensor, needInputGrad bool) *tensor.Tensor {
	n, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	oh, ow := gout.Dim(2), gout.Dim(3)

	in := x.Data()
	g := gout.Data()
	wd := c.w.Data()
	dw := c.w.EnsureGrad()
	db := c.b.EnsureGrad()

	var dx *tensor.Tensor
	var dxd []float32
	if needInputGrad {
		dx = tensor.New(n, c.ci, h, w)
		dxd = dx.Data()
	}

	for b := 0; b < n; b++ {
		inB := in[b*c.ci*h*w:]
		gB := g[b*c.co*oh*ow:]
		var dxB []float32
		if needInputGrad {
			dxB = dxd[b*c.ci*h*w:]
		}
		for co := 0; co < c.co; co++ {
			gP := gB[co*oh*ow:]
			wCo := wd[co*c.ci*c.k*c.k:]
			dwCo := dw[co*c.ci*c.k*c.k:]
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					gv := gP[oy*ow+ox]
					if gv == 0 {
						continue
					}
					db[co] += gv
					for ci := 0; ci < c.ci; ci++ {
						inP := inB[ci*h*w:]
						wP := wCo[ci*c.k*c.k:]
						dwP := dwCo[ci*c.k*c.k:]
						for ky := 0; ky < c.k; ky++ {
							iy := oy*c.stride - c.pad + ky
							if iy < 0 || iy >= h {
								continue
							}
							for kx := 0; kx < c.k; kx++ {
								ix := ox*c.stride - c.pad + kx
								if ix < 0 || ix >= w {
									continue
								}
								dwP[ky*c.k+kx] += gv * inP[iy*w+ix]
								if needInputGrad {
									dxB[ci*h*w+iy*w+ix] += gv * wP[ky*c.k+kx]
								}
							}
						}
					}
				}
			}
		}
	}
	return dx
}

// reluForward returns max(x, 0) elementwise as a new tensor.
func reluForward(x *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()
	d := out.Data()
	for i := range d {
		if d[i] < 0 {
			d[i] = 0
		}
	}
	return out
}

// reluBackward masks the incoming gradient with the activation pattern: the
// derivative is 1 where the post-activation value is positive, else 0.
func reluBackward(act, gout *tensor.Tensor) *tensor.Tensor {
	out := gout.Clone()
	a := act.Data()
	d := out.Data()
	for i := range d {
		if a[i] <= 0 {
			d[i] = 0
		}
	}
	return out
}
