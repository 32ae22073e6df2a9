package trainer

import (
	"math"

	"github.com/Noofbiz/eventflow/tensor"
)

// Adam implements the Adam optimizer with optional L2 weight decay folded
// into the gradient, matching the classic (non-decoupled) formulation.
type Adam struct {
	lr          float64
	beta1       float64
	beta2       float64
	eps         float64
	weightDecay float64

	step int
	m    [][]float32
	v    [][]float32
}

// NewAdam builds an optimizer with the standard betas (0.9, 0.999) and
// epsilon 1e-8.
func NewAdam(lr, weightDecay float64) *Adam {
	return &Adam{
		lr:          lr,
		beta1:       0.9,
		beta2:       0.999,
		eps:         1e-8,
		weightDecay: weightDecay,
	}
}

// LearningRate returns the current learning rate.
func (a *Adam) LearningRate() float64 { return a.lr }

// SetLearningRate replaces the learning rate; moment state is kept.
func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }

// Step applies one update to every parameter using its accumulated gradient.
// Moment buffers are allocated on the first call and keyed by position, so
// the parameter slice must be stable across calls.
func (a *Adam) Step(params []*tensor.Tensor) {
	if a.m == nil {
		a.m = make([][]float32, len(params))
		a.v = make([][]float32, len(params))
		for i, p := range params {
			a.m[i] = make([]float32, p.Size())
			a.v[i] = make([]float32, p.Size())
		}
	}
	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))

	for i, p := range params {
		d := p.Data()
		g := p.EnsureGrad()
		m, v := a.m[i], a.v[i]
		for j := range d {
			gj := float64(g[j]) + a.weightDecay*float64(d[j])
			mj := a.beta1*float64(m[j]) + (1-a.beta1)*gj
			vj := a.beta2*float64(v[j]) + (1-a.beta2)*gj*gj
			m[j] = float32(mj)
			v[j] = float32(vj)
			d[j] -= float32(a.lr * (mj / bc1) / (math.Sqrt(vj/bc2) + a.eps))
		}
	}
}

// StepLR decays a learning rate by gamma every stepSize epochs, mirroring the
// usual stepped schedule: the rate for epoch e (counting from 0) is
// initial * gamma^(floor(e/stepSize)).
type StepLR struct {
	initial  float64
	stepSize int
	gamma    float64
	epoch    int
}

// NewStepLR builds a schedule starting at the optimizer's current rate.
func NewStepLR(initial float64, stepSize int, gamma float64) *StepLR {
	return &StepLR{initial: initial, stepSize: stepSize, gamma: gamma}
}

// Epoch advances the schedule by one epoch and returns the rate to use next.
func (s *StepLR) Epoch() float64 {
	s.epoch++
	return s.Rate()
}

// Rate returns the learning rate for the current epoch.
func (s *StepLR) Rate() float64 {
	return s.initial * math.Pow(s.gamma, float64(s.epoch/s.stepSize))
}
