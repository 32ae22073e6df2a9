package datasets

import (
	"encoding/gob"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Noofbiz/eventflow/npy"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/rs/zerolog/log"
)

// cacheVersion is incremented when the on-disk precompute format changes.
const cacheVersion = 1

// GridConfig describes the voxel-grid event representation and the sensor
// geometry.
type GridConfig struct {
	// NumBins is the number of temporal channels per voxel grid.
	NumBins int

	// DeltaTMs is the time window covered by one sample, in milliseconds.
	DeltaTMs int

	// Height and Width are the sensor resolution.
	Height int
	Width  int
}

type sample struct {
	id        string
	eventPath string
	flowPath  string // empty when the sample has no ground truth
}

// FlowDataset lazily loads event recordings and their ground-truth flow for
// one split of a dataset directory.
type FlowDataset struct {
	// Root and Split locate the sample files on disk.
	Root  string
	Split string

	// BatchSize used when yielding batches through the gomlx interface.
	BatchSize int

	grid     GridConfig
	windowUs int64

	samples []sample
	order   []int // permutation applied by Shuffle

	// rng drives shuffling; provided by the caller so all randomness in a run
	// derives from one seed.
	rng *rand.Rand

	cursor int // next position for Yield

	// precompute state
	precomputed bool
	volumes     [][]float32
	flows       [][]float32
}

// NewFlowDataset indexes "<root>/<split>/*_events.csv" and pairs each file
// with "<id>_flow.npy" when present. rng may be nil, in which case a
// time-seeded generator is used.
func NewFlowDataset(root, split string, grid GridConfig, rng *rand.Rand) (*FlowDataset, error) {
	if grid.NumBins <= 0 || grid.Height <= 0 || grid.Width <= 0 || grid.DeltaTMs <= 0 {
		return nil, fmt.Errorf("invalid grid config: %+v", grid)
	}
	pattern := filepath.Join(root, split, "*_events.csv")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no event files found matching pattern: %s", pattern)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ds := &FlowDataset{
		Root:      root,
		Split:     split,
		BatchSize: 1,
		grid:      grid,
		windowUs:  int64(grid.DeltaTMs) * 1000,
		rng:       rng,
	}
	for _, p := range paths {
		id := strings.TrimSuffix(filepath.Base(p), "_events.csv")
		s := sample{id: id, eventPath: p}
		flowPath := filepath.Join(filepath.Dir(p), id+"_flow.npy")
		if _, err := os.Stat(flowPath); err == nil {
			s.flowPath = flowPath
		}
		ds.samples = append(ds.samples, s)
	}
	ds.order = make([]int, len(ds.samples))
	for i := range ds.order {
		ds.order[i] = i
	}
	return ds, nil
}

// Len returns the number of samples in the split.
func (d *FlowDataset) Len() int { return len(d.samples) }

// Labeled reports whether every sample has a ground-truth flow file.
func (d *FlowDataset) Labeled() bool {
	for _, s := range d.samples {
		if s.flowPath == "" {
			return false
		}
	}
	return len(d.samples) > 0
}

// Grid returns the voxel-grid configuration.
func (d *FlowDataset) Grid() GridConfig { return d.grid }

// Example loads one sample by position, honoring the current shuffle order.
// flow is nil when the sample has no ground-truth file.
func (d *FlowDataset) Example(i int) (volume []float32, flow []float32, err error) {
	if i < 0 || i >= len(d.samples) {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.samples))
	}
	pos := d.order[i]
	if d.precomputed {
		return d.volumes[pos], d.flows[pos], nil
	}
	return d.load(pos)
}

// load reads and voxelizes the sample at its stable position.
func (d *FlowDataset) load(pos int) ([]float32, []float32, error) {
	s := d.samples[pos]
	events, err := readEventCSV(s.eventPath)
	if err != nil {
		return nil, nil, err
	}
	volume, err := VoxelGrid(events, d.grid.NumBins, d.grid.Height, d.grid.Width, d.windowUs)
	if err != nil {
		return nil, nil, fmt.Errorf("voxelize %s: %w", s.id, err)
	}
	if s.flowPath == "" {
		return volume, nil, nil
	}
	flow, shape, err := npy.ReadFile(s.flowPath)
	if err != nil {
		return nil, nil, err
	}
	if len(shape) != 3 || shape[0] != 2 || shape[1] != d.grid.Height || shape[2] != d.grid.Width {
		return nil, nil, fmt.Errorf("flow file %s has shape %v, want [2 %d %d]",
			s.flowPath, shape, d.grid.Height, d.grid.Width)
	}
	return volume, flow, nil
}

// Batch collates the samples at the given positions into batch tensors.
func (d *FlowDataset) Batch(indices []int) (*Batch, error) {
	volumes := make([][]float32, len(indices))
	flows := make([][]float32, len(indices))
	for bi, idx := range indices {
		v, f, err := d.Example(idx)
		if err != nil {
			return nil, err
		}
		volumes[bi] = v
		flows[bi] = f
	}
	return collate(volumes, flows, d.grid.NumBins, d.grid.Height, d.grid.Width)
}

// Shuffle permutes the sample order.
func (d *FlowDataset) Shuffle(seed int64) {
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// ShuffleWithRun permutes the sample order using the dataset's own generator.
func (d *FlowDataset) ShuffleWithRun() {
	d.rng.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// Precompute materializes every example in memory using a worker pool, so
// training epochs do not repeatedly parse CSVs. workers <= 0 uses NumCPU.
func (d *FlowDataset) Precompute(workers int) error {
	if d.precomputed {
		return nil
	}
	n := len(d.samples)
	d.volumes = make([][]float32, n)
	d.flows = make([][]float32, n)
	if n == 0 {
		d.precomputed = true
		return nil
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	jobs := make(chan int, n)
	errCh := make(chan error, workers)

	var wg sync.WaitGroup
	wg.Add(workers)

	var done int64
	ticker := time.NewTicker(3 * time.Second)
	stopProgress := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c := atomic.LoadInt64(&done)
				log.Info().
					Str("split", d.Split).
					Int64("done", c).
					Int("total", n).
					Msg("precompute progress")
			case <-stopProgress:
				return
			}
		}
	}()

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for pos := range jobs {
				v, f, err := d.load(pos)
				if err != nil {
					errCh <- fmt.Errorf("precompute sample %s: %w", d.samples[pos].id, err)
					return
				}
				d.volumes[pos] = v
				d.flows[pos] = f
				atomic.AddInt64(&done, 1)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(stopProgress)
	close(errCh)

	select {
	case e := <-errCh:
		return e
	default:
	}

	d.precomputed = true
	return nil
}

// cacheFormat is the on-disk representation of precomputed examples. It
// includes metadata to validate cache integrity across configuration changes.
type cacheFormat struct {
	Version   int
	NumBins   int
	Height    int
	Width     int
	WindowUs  int64
	SampleIDs []string
	CreatedAt int64
	Volumes   [][]float32
	Flows     [][]float32
}

// SaveCache writes the precomputed examples to path using encoding/gob with
// an atomic write (temp file then rename). Precomputes first if needed.
func (d *FlowDataset) SaveCache(path string) error {
	if path == "" {
		return fmt.Errorf("empty cache path")
	}
	if !d.precomputed {
		if err := d.Precompute(0); err != nil {
			return fmt.Errorf("precompute before save: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	ids := make([]string, len(d.samples))
	for i, s := range d.samples {
		ids[i] = s.id
	}
	enc := gob.NewEncoder(tmpFile)
	pc := cacheFormat{
		Version:   cacheVersion,
		NumBins:   d.grid.NumBins,
		Height:    d.grid.Height,
		Width:     d.grid.Width,
		WindowUs:  d.windowUs,
		SampleIDs: ids,
		CreatedAt: time.Now().Unix(),
		Volumes:   d.volumes,
		Flows:     d.flows,
	}
	if err := enc.Encode(&pc); err != nil {
		return fmt.Errorf("encode cache to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		log.Warn().Err(err).Msg("sync temp cache file")
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp cache to target: %w", err)
	}
	return nil
}

// LoadCache reads a precomputed cache from disk after validating its
// metadata against this dataset's configuration and sample set.
func (d *FlowDataset) LoadCache(path string) error {
	if path == "" {
		return fmt.Errorf("empty cache path")
	}
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open cache file %s: %w", path, err)
	}
	defer fh.Close()
	dec := gob.NewDecoder(fh)
	var pc cacheFormat
	if err := dec.Decode(&pc); err != nil {
		return fmt.Errorf("decode cache %s: %w", path, err)
	}
	if pc.Version != cacheVersion {
		return fmt.Errorf("cache version mismatch: cache=%d expected=%d", pc.Version, cacheVersion)
	}
	if pc.NumBins != d.grid.NumBins || pc.Height != d.grid.Height || pc.Width != d.grid.Width || pc.WindowUs != d.windowUs {
		return fmt.Errorf("cache grid mismatch: cache=[%d %d %d %d] expected=[%d %d %d %d]",
			pc.NumBins, pc.Height, pc.Width, pc.WindowUs,
			d.grid.NumBins, d.grid.Height, d.grid.Width, d.windowUs)
	}
	if len(pc.SampleIDs) != len(d.samples) {
		return fmt.Errorf("cache sample count mismatch: cache=%d expected=%d", len(pc.SampleIDs), len(d.samples))
	}
	for i := range pc.SampleIDs {
		if pc.SampleIDs[i] != d.samples[i].id {
			return fmt.Errorf("cache sample mismatch at pos %d: cache=%s expected=%s", i, pc.SampleIDs[i], d.samples[i].id)
		}
	}
	if len(pc.Volumes) != len(d.samples) || len(pc.Flows) != len(d.samples) {
		return fmt.Errorf("cache size mismatch: volumes=%d flows=%d expected=%d", len(pc.Volumes), len(pc.Flows), len(d.samples))
	}
	d.volumes = pc.Volumes
	d.flows = pc.Flows
	d.precomputed = true
	return nil
}

// Name returns the name of the dataset.
func (d *FlowDataset) Name() string {
	return "FlowDataset/" + d.Split
}

// Yield returns the next batch of data for the gomlx Dataset interface.
// Batch size is determined by the BatchSize field; io.EOF signals the end of
// the epoch.
func (d *FlowDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.cursor >= d.Len() {
		return nil, nil, nil, io.EOF
	}
	bs := d.BatchSize
	if bs <= 0 {
		bs = 1
	}
	end := d.cursor + bs
	if end > d.Len() {
		end = d.Len()
	}
	indices := make([]int, 0, end-d.cursor)
	for i := d.cursor; i < end; i++ {
		indices = append(indices, i)
	}
	d.cursor = end

	b, err := d.Batch(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	in, gt, err := b.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	inputs = []*tensors.Tensor{in}
	if gt != nil {
		labels = []*tensors.Tensor{gt}
	}
	return nil, inputs, labels, nil
}

// Restart resets the dataset for a new epoch.
func (d *FlowDataset) Restart() error {
	d.cursor = 0
	return nil
}
