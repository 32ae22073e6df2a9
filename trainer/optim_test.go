package trainer

import (
	"math"
	"testing"

	"github.com/Noofbiz/eventflow/tensor"
)

func TestAdamFirstStep(t *testing.T) {
	p := tensor.New(1)
	p.Data()[0] = 1
	p.EnsureGrad()[0] = 1

	// With bias correction the first Adam step moves by almost exactly
	// the learning rate regardless of the gradient's magnitude sign.
	opt := NewAdam(0.1, 0)
	opt.Step([]*tensor.Tensor{p})
	if math.Abs(float64(p.Data()[0])-0.9) > 1e-6 {
		t.Errorf("param after first step = %g, want 0.9", p.Data()[0])
	}
}

func TestAdamZeroGradientNoMovement(t *testing.T) {
	p := tensor.New(3)
	copy(p.Data(), []float32{1, -2, 0.5})
	p.ZeroGrad()

	opt := NewAdam(0.1, 0)
	for i := 0; i < 5; i++ {
		opt.Step([]*tensor.Tensor{p})
	}
	want := []float32{1, -2, 0.5}
	for i, v := range p.Data() {
		if v != want[i] {
			t.Errorf("param %d moved to %g with zero gradient and no weight decay", i, v)
		}
	}
}

func TestAdamWeightDecayPullsTowardZero(t *testing.T) {
	p := tensor.New(1)
	p.Data()[0] = 1
	p.ZeroGrad()

	opt := NewAdam(0.01, 1e-2)
	opt.Step([]*tensor.Tensor{p})
	if v := p.Data()[0]; v >= 1 || v <= 0 {
		t.Errorf("param after decayed step = %g, want a value in (0, 1)", v)
	}
}

func TestStepLRSchedule(t *testing.T) {
	s := NewStepLR(1e-4, 10, 0.1)
	if r := s.Rate(); math.Abs(r-1e-4) > 1e-12 {
		t.Fatalf("initial rate = %g, want 1e-4", r)
	}
	for i := 0; i < 9; i++ {
		if r := s.Epoch(); math.Abs(r-1e-4) > 1e-12 {
			t.Fatalf("rate after %d epochs = %g, want 1e-4", i+1, r)
		}
	}
	if r := s.Epoch(); math.Abs(r-1e-5) > 1e-13 {
		t.Errorf("rate after 10 epochs = %g, want 1e-5", r)
	}
	for i := 0; i < 10; i++ {
		s.Epoch()
	}
	if r := s.Rate(); math.Abs(r-1e-6) > 1e-14 {
		t.Errorf("rate after 20 epochs = %g, want 1e-6", r)
	}
}
