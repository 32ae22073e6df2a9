package flownet

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Noofbiz/eventflow/tensor"
)

// sumOut is a convenient scalar loss: L = sum of all outputs. Its gradient
// with respect to the output is all ones, and because the convolution is
// linear in both weights and inputs the finite-difference gradient is exact
// up to float rounding.
func sumOut(c *conv2d, x *tensor.Tensor) float64 {
	out := c.forward(x)
	var s float64
	for _, v := range out.Data() {
		s += float64(v)
	}
	return s
}

func TestConv2dOutputSize(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		k, stride, in, want int
	}{
		{3, 1, 8, 8},
		{3, 2, 8, 4},
		{3, 2, 7, 4},
		{1, 1, 5, 5},
	}
	for _, tc := range cases {
		c := newConv2d(2, 3, tc.k, tc.stride, rng)
		if got := c.outSize(tc.in); got != tc.want {
			t.Errorf("k=%d stride=%d in=%d: outSize=%d, want %d", tc.k, tc.stride, tc.in, got, tc.want)
		}
		x := tensor.New(1, 2, tc.in, tc.in)
		out := c.forward(x)
		if out.Dim(2) != tc.want || out.Dim(3) != tc.want {
			t.Errorf("k=%d stride=%d in=%d: forward shape %v", tc.k, tc.stride, tc.in, out.Shape())
		}
	}
}

func TestConv2dWeightGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := newConv2d(2, 3, 3, 2, rng)
	x := tensor.New(2, 2, 6, 6)
	xd := x.Data()
	for i := range xd {
		xd[i] = rng.Float32()*2 - 1
	}

	out := c.forward(x)
	ones := tensor.New(out.Shape()...)
	od := ones.Data()
	for i := range od {
		od[i] = 1
	}
	c.backward(x, ones, false)

	const eps = 1e-2
	wd := c.w.Data()
	grad := c.w.Grad()
	for _, idx := range []int{0, 5, 17, len(wd) - 1} {
		orig := wd[idx]
		wd[idx] = orig + eps
		plus := sumOut(c, x)
		wd[idx] = orig - eps
		minus := sumOut(c, x)
		wd[idx] = orig

		num := (plus - minus) / (2 * eps)
		got := float64(grad[idx])
		if math.Abs(num-got) > 1e-2*(1+math.Abs(num)) {
			t.Errorf("weight %d: analytic grad %g, numeric %g", idx, got, num)
		}
	}
}

func TestConv2dBiasAndInputGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	c := newConv2d(1, 2, 3, 1, rng)
	x := tensor.New(1, 1, 4, 4)
	xd := x.Data()
	for i := range xd {
		xd[i] = rng.Float32()
	}

	out := c.forward(x)
	ones := tensor.New(out.Shape()...)
	od := ones.Data()
	for i := range od {
		od[i] = 1
	}
	dx := c.backward(x, ones, true)

	// With unit output gradients the bias gradient is the output pixel
	// count per channel.
	want := float32(out.Dim(2) * out.Dim(3))
	for co, g := range c.b.Grad() {
		if math.Abs(float64(g-want)) > 1e-4 {
			t.Errorf("bias %d: grad %g, want %g", co, g, want)
		}
	}

	const eps = 1e-2
	dxd := dx.Data()
	for _, idx := range []int{0, 5, 10, 15} {
		orig := xd[idx]
		xd[idx] = orig + eps
		plus := sumOut(c, x)
		xd[idx] = orig - eps
		minus := sumOut(c, x)
		xd[idx] = orig

		num := (plus - minus) / (2 * eps)
		got := float64(dxd[idx])
		if math.Abs(num-got) > 1e-2*(1+math.Abs(num)) {
			t.Errorf("input %d: analytic grad %g, numeric %g", idx, got, num)
		}
	}
}

func TestConv2dGradAccumulates(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	c := newConv2d(1, 1, 3, 1, rng)
	x := tensor.New(1, 1, 4, 4)
	for i := range x.Data() {
		x.Data()[i] = 1
	}
	out := c.forward(x)
	g := tensor.New(out.Shape()...)
	for i := range g.Data() {
		g.Data()[i] = 1
	}

	c.backward(x, g, false)
	first := append([]float32(nil), c.w.Grad()...)
	c.backward(x, g, false)
	for i, v := range c.w.Grad() {
		if math.Abs(float64(v-2*first[i])) > 1e-4 {
			t.Fatalf("grad %d did not accumulate: %g after two passes, %g after one", i, v, first[i])
		}
	}
}

func TestReLU(t *testing.T) {
	x, err := tensor.FromSlice([]float32{-1, 0, 2, -3}, 4)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	act := reluForward(x)
	wantAct := []float32{0, 0, 2, 0}
	for i, v := range act.Data() {
		if v != wantAct[i] {
			t.Errorf("relu[%d] = %g, want %g", i, v, wantAct[i])
		}
	}

	g, err := tensor.FromSlice([]float32{1, 1, 1, 1}, 4)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	back := reluBackward(act, g)
	wantBack := []float32{0, 0, 1, 0}
	for i, v := range back.Data() {
		if v != wantBack[i] {
			t.Errorf("relu grad[%d] = %g, want %g", i, v, wantBack[i])
		}
	}
}
