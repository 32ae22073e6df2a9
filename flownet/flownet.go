// Package flownet implements a small convolutional optical-flow network for
// event volumes, trained with hand-written backpropagation.
//
// The encoder is four 3x3 convolution layers with ReLU activations; the first
// keeps the input resolution and each of the remaining three halves it. A 1x1
// convolution head at every encoder level predicts a 2-channel flow field, so
// a forward pass yields four predictions ordered coarsest to finest, the
// finest at the input resolution.
package flownet

import (
	"fmt"
	"math/rand"

	"github.com/Noofbiz/eventflow/tensor"
)

// Config holds the model hyperparameters.
type Config struct {
	// InChannels is the channel count of the input event volume.
	InChannels int
	// BaseChannels is the width of the first encoder level; each deeper
	// level doubles it. Defaults to 16.
	BaseChannels int
}

// MultiScaleFlow is the set of flow predictions from one forward pass,
// ordered coarsest to finest.
type MultiScaleFlow []*tensor.Tensor

// Finest returns the prediction at the input resolution.
func (f MultiScaleFlow) Finest() *tensor.Tensor {
	return f[len(f)-1]
}

// Model is the flow network. It is not safe for concurrent use: a training
// forward pass caches activations that the next Backward call consumes.
type Model struct {
	cfg   Config
	enc   [4]*conv2d
	heads [4]*conv2d // indexed coarsest to finest, matching MultiScaleFlow

	training bool
	input    *tensor.Tensor
	acts     [4]*tensor.Tensor // post-ReLU encoder outputs, finest first
}

// New builds a model with weights initialized from rng, so two models built
// from generators seeded identically are identical.
func New(cfg Config, rng *rand.Rand) (*Model, error) {
	if cfg.InChannels <= 0 {
		return nil, fmt.Errorf("flownet: InChannels must be positive, got %d", cfg.InChannels)
	}
	if cfg.BaseChannels == 0 {
		cfg.BaseChannels = 16
	}
	if cfg.BaseChannels < 0 {
		return nil, fmt.Errorf("flownet: BaseChannels must be positive, got %d", cfg.BaseChannels)
	}

	f := cfg.BaseChannels
	m := &Model{cfg: cfg}
	m.enc[0] = newConv2d(cfg.InChannels, f, 3, 1, rng)
	m.enc[1] = newConv2d(f, 2*f, 3, 2, rng)
	m.enc[2] = newConv2d(2*f, 4*f, 3, 2, rng)
	m.enc[3] = newConv2d(4*f, 8*f, 3, 2, rng)
	m.heads[0] = newConv2d(8*f, 2, 1, 1, rng)
	m.heads[1] = newConv2d(4*f, 2, 1, 1, rng)
	m.heads[2] = newConv2d(2*f, 2, 1, 1, rng)
	m.heads[3] = newConv2d(f, 2, 1, 1, rng)
	return m, nil
}

// Config returns the configuration the model was built with, with defaults
// filled in.
func (m *Model) Config() Config { return m.cfg }

// Train puts the model in training mode: forward passes cache the
// activations Backward needs.
func (m *Model) Train() { m.training = true }

// Eval puts the model in evaluation mode and releases any cached
// activations.
func (m *Model) Eval() {
	m.training = false
	m.input = nil
	for i := range m.acts {
		m.acts[i] = nil
	}
}

// Forward runs the network on a [batch, channels, height, width] event
// volume and returns the four flow predictions ordered coarsest to finest.
func (m *Model) Forward(x *tensor.Tensor) (MultiScaleFlow, error) {
	if x.Dims() != 4 {
		return nil, fmt.Errorf("flownet: expected 4-D input, got %d-D", x.Dims())
	}
	if x.Dim(1) != m.cfg.InChannels {
		return nil, fmt.Errorf("flownet: expected %d input channels, got %d", m.cfg.InChannels, x.Dim(1))
	}

	a := x
	var acts [4]*tensor.Tensor
	for i, layer := range m.enc {
		a = reluForward(layer.forward(a))
		acts[i] = a
	}

	flows := make(MultiScaleFlow, 4)
	for i, head := range m.heads {
		// heads[0] reads the deepest level, heads[3] the shallowest.
		flows[i] = head.forward(acts[3-i])
	}

	if m.training {
		m.input = x
		m.acts = acts
	}
	return flows, nil
}

// Backward propagates one gradient per flow prediction, ordered to match the
// MultiScaleFlow from the preceding Forward, and accumulates parameter
// gradients. The model must be in training mode and have a cached forward
// pass.
func (m *Model) Backward(grads []*tensor.Tensor) error {
	if !m.training || m.input == nil {
		return fmt.Errorf("flownet: Backward requires a forward pass in training mode")
	}
	if len(grads) != len(m.heads) {
		return fmt.Errorf("flownet: expected %d scale gradients, got %d", len(m.heads), len(grads))
	}

	// Each head contributes a gradient to the encoder level it reads from.
	var dAct [4]*tensor.Tensor
	for i, head := range m.heads {
		lvl := 3 - i
		dx := head.backward(m.acts[lvl], grads[i], true)
		if dAct[lvl] == nil {
			dAct[lvl] = dx
		} else {
			addInto(dAct[lvl], dx)
		}
	}

	// Walk the encoder back to the input, folding each level's ReLU mask
	// into the gradient before crossing its convolution.
	for lvl := 3; lvl >= 1; lvl-- {
		dpre := reluBackward(m.acts[lvl], dAct[lvl])
		dx := m.enc[lvl].backward(m.acts[lvl-1], dpre, true)
		addInto(dAct[lvl-1], dx)
	}
	dpre := reluBackward(m.acts[0], dAct[0])
	m.enc[0].backward(m.input, dpre, false)
	return nil
}

// Parameters returns every trainable tensor in a stable order.
func (m *Model) Parameters() []*tensor.Tensor {
	params := make([]*tensor.Tensor, 0, 16)
	for _, layer := range m.enc {
		params = append(params, layer.w, layer.b)
	}
	for _, head := range m.heads {
		params = append(params, head.w, head.b)
	}
	return params
}

// ZeroGrad clears the gradient buffers of every parameter, allocating them
// on first use.
func (m *Model) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

func addInto(dst, src *tensor.Tensor) {
	d, s := dst.Data(), src.Data()
	for i := range d {
		d[i] += s[i]
	}
}
