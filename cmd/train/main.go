// Command train runs the full optical-flow pipeline: it voxelizes event
// recordings, trains the flow network, checkpoints and reloads the weights,
// and exports test-split predictions as a NumPy submission file.
package main

import (
	"flag"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/eventflow/checkpoint"
	"github.com/Noofbiz/eventflow/config"
	"github.com/Noofbiz/eventflow/datasets"
	"github.com/Noofbiz/eventflow/flownet"
	"github.com/Noofbiz/eventflow/registry"
	"github.com/Noofbiz/eventflow/trainer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML run configuration")
	trainCache := flag.String("train-cache", "", "optional gob cache path for precomputed training volumes")
	workers := flag.Int("workers", 0, "precompute worker count (0 = NumCPU)")
	pretty := flag.Bool("pretty", true, "human-readable console logging instead of JSON")
	flag.Parse()

	if *pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	// One seed drives everything: weight init, shuffle order, batch order.
	rng := rand.New(rand.NewSource(cfg.Seed))
	log.Info().Int64("seed", cfg.Seed).Str("dataset", cfg.DatasetPath).Msg("starting run")
	startedAt := time.Now()

	grid := datasets.GridConfig{
		NumBins:  cfg.Representation.NumBins,
		DeltaTMs: cfg.Representation.DeltaTMs,
		Height:   cfg.Sensor.Height,
		Width:    cfg.Sensor.Width,
	}

	trainDS, err := datasets.NewFlowDataset(cfg.DatasetPath, "train", grid, rng)
	if err != nil {
		log.Fatal().Err(err).Msg("opening training split")
	}
	if !trainDS.Labeled() {
		log.Fatal().Msg("training split has samples without ground-truth flow")
	}
	trainDS.BatchSize = cfg.DataLoader.Train.BatchSize
	log.Info().Int("samples", trainDS.Len()).Msg("training split indexed")

	if *trainCache != "" {
		if err := trainDS.LoadCache(*trainCache); err != nil {
			log.Warn().Err(err).Str("path", *trainCache).Msg("cache load failed, recomputing")
			if err := trainDS.Precompute(*workers); err != nil {
				log.Fatal().Err(err).Msg("precomputing training volumes")
			}
			if err := trainDS.SaveCache(*trainCache); err != nil {
				log.Fatal().Err(err).Msg("saving precompute cache")
			}
		}
	} else if err := trainDS.Precompute(*workers); err != nil {
		log.Fatal().Err(err).Msg("precomputing training volumes")
	}

	model, err := flownet.New(flownet.Config{
		InChannels:   cfg.Representation.NumBins,
		BaseChannels: cfg.Train.BaseChannels,
	}, rng)
	if err != nil {
		log.Fatal().Err(err).Msg("building model")
	}

	tr, err := trainer.New(trainer.Config{
		Epochs:       cfg.Train.Epochs,
		BatchSize:    cfg.DataLoader.Train.BatchSize,
		LearningRate: cfg.Train.InitialLearningRate,
		WeightDecay:  cfg.Train.WeightDecay,
		LRStepEpochs: cfg.Train.LRStepEpochs,
		LRGamma:      cfg.Train.LRGamma,
		Shuffle:      cfg.DataLoader.Train.Shuffle,
	}, model, rng, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("building trainer")
	}
	if err := tr.Run(trainDS); err != nil {
		log.Fatal().Err(err).Msg("training")
	}

	if cfg.Output.LossHistoryPath != "" && len(tr.History()) > 0 {
		if err := tr.WriteLossHistory(cfg.Output.LossHistoryPath); err != nil {
			log.Fatal().Err(err).Msg("writing loss history")
		}
	}

	// Save the trained weights, then prove the checkpoint is usable by
	// restoring it into the model before evaluation.
	ckptPath := checkpoint.TimestampedPath(cfg.Output.CheckpointDir, time.Now())
	if err := checkpoint.Save(ckptPath, model.Parameters()); err != nil {
		log.Fatal().Err(err).Msg("saving checkpoint")
	}
	if err := checkpoint.Restore(ckptPath, model.Parameters()); err != nil {
		log.Fatal().Err(err).Msg("reloading checkpoint")
	}
	log.Info().Str("path", ckptPath).Msg("checkpoint saved and reloaded")

	testDS, err := datasets.NewFlowDataset(cfg.DatasetPath, "test", grid, rng)
	if err != nil {
		log.Fatal().Err(err).Msg("opening test split")
	}
	testDS.BatchSize = cfg.DataLoader.Test.BatchSize
	log.Info().Int("samples", testDS.Len()).Msg("test split indexed")

	flow, err := trainer.Evaluate(model, testDS, cfg.DataLoader.Test.BatchSize)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluating test split")
	}
	if err := trainer.ExportSubmission(cfg.Output.SubmissionPath, flow); err != nil {
		log.Fatal().Err(err).Msg("writing submission")
	}
	log.Info().
		Str("path", cfg.Output.SubmissionPath).
		Ints("shape", flow.Shape()).
		Msg("submission written")

	if cfg.Registry.Enabled {
		reg, err := registry.Open(cfg.Registry.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("opening run registry")
		}
		defer reg.Close()

		run := registry.Run{
			StartedAt:      startedAt,
			FinishedAt:     time.Now(),
			Seed:           cfg.Seed,
			Epochs:         cfg.Train.Epochs,
			CheckpointPath: ckptPath,
			SubmissionPath: cfg.Output.SubmissionPath,
		}
		if h := tr.History(); len(h) > 0 {
			final := h[len(h)-1]
			run.FinalLoss = &final
		}
		rec, err := reg.Record(run)
		if err != nil {
			log.Fatal().Err(err).Msg("recording run")
		}
		log.Info().Str("run_id", rec.ID).Str("db", cfg.Registry.Path).Msg("run recorded")
	}
}
