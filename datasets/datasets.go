package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// This package loads event-camera recordings from disk and presents them as
// voxel-grid examples suitable for optical-flow training.
//
// Layout and intended usage:
//
// FlowDataset
//   - Discovers per-sample event files matching "<root>/<split>/*_events.csv"
//     and pairs each with an optional "<id>_flow.npy" ground-truth flow file
//     (2 x H x W, float32). The test split typically has no flow files.
//   - Loads lazily: file paths are indexed up front, event CSVs are parsed
//     and voxelized only when an example is requested. An optional worker-pool
//     precompute step materializes all examples in memory, with a versioned
//     gob cache on disk for reuse across runs.
//   - Inputs per example: a voxel grid of shape [num_bins, H, W] binning the
//     events of a fixed time window into temporal channels.
//   - Labels per example: a flow field of shape [2, H, W] (horizontal and
//     vertical components), when available.
//
// Datasets implement this interface in order to interact with GoMLX training
// loops and batching utilities in addition to the in-repo trainer.
type Dataset interface {
	Len() int
	Example(i int) (volume []float32, flow []float32, err error)
	Batch(indices []int) (*Batch, error)
	Shuffle(seed int64)

	// To implement gomlx's train.Dataset interface
	Name() string
	Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error)
	Restart() error
}
