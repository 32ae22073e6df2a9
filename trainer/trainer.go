// Package trainer contains the optimization loop for the flow network: the
// multi-scale endpoint-error loss, an Adam optimizer with a stepped
// learning-rate schedule, and batch evaluation for submission export.
package trainer

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/Noofbiz/eventflow/datasets"
	"github.com/Noofbiz/eventflow/flownet"
	"github.com/Noofbiz/eventflow/tensor"
)

// Model is the training surface the loop needs. *flownet.Model satisfies it;
// tests substitute lighter implementations.
type Model interface {
	Train()
	Eval()
	Forward(x *tensor.Tensor) (flownet.MultiScaleFlow, error)
	Backward(grads []*tensor.Tensor) error
	ZeroGrad()
	Parameters() []*tensor.Tensor
}

// Dataset is the minimal data surface the loop needs, keeping the package
// decoupled from the concrete datasets implementation.
type Dataset interface {
	Len() int
	Batch(indices []int) (*datasets.Batch, error)
	Shuffle(seed int64)
}

// Config holds the optimization hyperparameters.
type Config struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	WeightDecay  float64
	LRStepEpochs int
	LRGamma      float64
	Shuffle      bool
}

// Trainer drives epochs of mini-batch optimization over a labeled dataset.
type Trainer struct {
	cfg     Config
	model   Model
	opt     *Adam
	sched   *StepLR
	rng     *rand.Rand
	log     zerolog.Logger
	history []float64
}

// New builds a trainer. The generator seeds per-epoch shuffles, so trainers
// built from identically seeded generators visit batches in the same order.
func New(cfg Config, model Model, rng *rand.Rand, log zerolog.Logger) (*Trainer, error) {
	if cfg.Epochs < 0 {
		return nil, fmt.Errorf("trainer: Epochs must be non-negative, got %d", cfg.Epochs)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("trainer: BatchSize must be positive, got %d", cfg.BatchSize)
	}
	if cfg.LRStepEpochs <= 0 {
		return nil, fmt.Errorf("trainer: LRStepEpochs must be positive, got %d", cfg.LRStepEpochs)
	}
	return &Trainer{
		cfg:   cfg,
		model: model,
		opt:   NewAdam(cfg.LearningRate, cfg.WeightDecay),
		sched: NewStepLR(cfg.LearningRate, cfg.LRStepEpochs, cfg.LRGamma),
		rng:   rng,
		log:   log,
	}, nil
}

// Optimizer exposes the underlying Adam state, mostly for tests.
func (t *Trainer) Optimizer() *Adam { return t.opt }

// History returns the mean multi-scale endpoint error of each completed
// epoch.
func (t *Trainer) History() []float64 { return t.history }

// Run trains for the configured number of epochs. With zero epochs it
// returns immediately and the model parameters are untouched.
func (t *Trainer) Run(ds Dataset) error {
	params := t.model.Parameters()
	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		t.model.Train()
		if t.cfg.Shuffle {
			ds.Shuffle(t.rng.Int63())
		}

		var epochLoss float64
		batches := 0
		for start := 0; start < ds.Len(); start += t.cfg.BatchSize {
			end := start + t.cfg.BatchSize
			if end > ds.Len() {
				end = ds.Len()
			}
			indices := make([]int, end-start)
			for i := range indices {
				indices[i] = start + i
			}

			batch, err := ds.Batch(indices)
			if err != nil {
				return fmt.Errorf("trainer: loading batch at %d: %w", start, err)
			}
			if batch.FlowGT == nil {
				return fmt.Errorf("trainer: batch at %d has no ground truth", start)
			}

			t.model.ZeroGrad()
			preds, err := t.model.Forward(batch.EventVolume)
			if err != nil {
				return fmt.Errorf("trainer: forward pass: %w", err)
			}
			loss, grads, err := MultiScaleEPEWithGrad(preds, batch.FlowGT)
			if err != nil {
				return fmt.Errorf("trainer: loss: %w", err)
			}
			if err := t.model.Backward(grads); err != nil {
				return fmt.Errorf("trainer: backward pass: %w", err)
			}
			t.opt.Step(params)

			epochLoss += loss
			batches++
		}

		mean := 0.0
		if batches > 0 {
			mean = epochLoss / float64(batches)
		}
		t.history = append(t.history, mean)
		t.log.Info().
			Int("epoch", epoch+1).
			Int("epochs", t.cfg.Epochs).
			Float64("mean_epe", mean).
			Float64("lr", t.opt.LearningRate()).
			Msg("epoch complete")

		t.opt.SetLearningRate(t.sched.Epoch())
	}
	return nil
}

// WriteLossHistory writes the per-epoch mean losses as a two-column CSV with
// an epoch,mean_epe header.
func (t *Trainer) WriteLossHistory(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("trainer: creating loss history: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "mean_epe"}); err != nil {
		return fmt.Errorf("trainer: writing loss history: %w", err)
	}
	for i, loss := range t.history {
		rec := []string{strconv.Itoa(i + 1), strconv.FormatFloat(loss, 'g', -1, 64)}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("trainer: writing loss history: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("trainer: flushing loss history: %w", err)
	}
	return nil
}
