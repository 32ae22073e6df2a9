// Package config loads and validates the YAML run configuration.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full run configuration. Absent keys keep the defaults from
// Default.
type Config struct {
	// Seed drives every random number generator in a run: weight init,
	// dataset shuffling, and batch ordering.
	Seed        int64  `yaml:"seed"`
	DatasetPath string `yaml:"dataset_path" validate:"required"`

	Sensor         Sensor         `yaml:"sensor"`
	Representation Representation `yaml:"representation"`
	DataLoader     DataLoader     `yaml:"data_loader"`
	Train          Train          `yaml:"train"`
	Output         Output         `yaml:"output"`
	Registry       Registry       `yaml:"registry"`
}

// Sensor is the event camera resolution.
type Sensor struct {
	Height int `yaml:"height" validate:"min=1"`
	Width  int `yaml:"width" validate:"min=1"`
}

// Representation controls how raw events become voxel-grid volumes.
type Representation struct {
	// NumBins is the number of temporal channels in the voxel grid.
	NumBins int `yaml:"num_bins" validate:"min=1"`
	// DeltaTMs is the event window length in milliseconds.
	DeltaTMs int `yaml:"delta_t_ms" validate:"min=1"`
}

// Loader configures batching for one dataset split.
type Loader struct {
	BatchSize int  `yaml:"batch_size" validate:"min=1"`
	Shuffle   bool `yaml:"shuffle"`
}

// DataLoader holds the per-split loader settings.
type DataLoader struct {
	Train Loader `yaml:"train"`
	Test  Loader `yaml:"test"`
}

// Train holds the optimization hyperparameters.
type Train struct {
	Epochs              int     `yaml:"epochs" validate:"min=0"`
	InitialLearningRate float64 `yaml:"initial_learning_rate" validate:"gt=0"`
	WeightDecay         float64 `yaml:"weight_decay" validate:"gte=0"`
	LRStepEpochs        int     `yaml:"lr_step_epochs" validate:"min=1"`
	LRGamma             float64 `yaml:"lr_gamma" validate:"gt=0,lte=1"`
	BaseChannels        int     `yaml:"base_channels" validate:"min=1"`
}

// Output names the artifacts a run produces.
type Output struct {
	CheckpointDir   string `yaml:"checkpoint_dir" validate:"required"`
	SubmissionPath  string `yaml:"submission_path" validate:"required"`
	LossHistoryPath string `yaml:"loss_history_path" validate:"required"`
}

// Registry configures the optional run-history database.
type Registry struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when keys are absent.
func Default() Config {
	return Config{
		Seed: 42,
		Sensor: Sensor{
			Height: 480,
			Width:  640,
		},
		Representation: Representation{
			NumBins:  4,
			DeltaTMs: 100,
		},
		DataLoader: DataLoader{
			Train: Loader{BatchSize: 8, Shuffle: true},
			Test:  Loader{BatchSize: 8},
		},
		Train: Train{
			Epochs:              30,
			InitialLearningRate: 1e-4,
			WeightDecay:         0,
			LRStepEpochs:        10,
			LRGamma:             0.1,
			BaseChannels:        16,
		},
		Output: Output{
			CheckpointDir:   "checkpoints",
			SubmissionPath:  "submission.npy",
			LossHistoryPath: "loss_history.csv",
		},
		Registry: Registry{
			Path: "runs.db",
		},
	}
}

// Load reads the YAML file at path over the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks a configuration against the struct constraints.
func Validate(cfg Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}
	return nil
}
