package dataloader

import (
	"sync"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
	"github.com/satlab/multitask/vision/dataset"
)

// Config configures a DataLoader
type Config struct {
	BatchSize int
	Workers   int   // parallel sample loaders; defaults to 1
	Seed      int64 // base seed for per-sample augmentation
	Device    tensor.DeviceType

	// Sampler picks the indices of each epoch; nil visits the dataset in order
	Sampler Sampler

	// DropLast discards a trailing partial batch
	DropLast bool
}

// DataLoader groups dataset samples into batches. Samples of a batch are
// loaded in parallel; the result depends only on the seed, the epoch and the
// position in the epoch, never on worker scheduling.
type DataLoader struct {
	dataset dataset.Dataset
	config  Config
	sampler Sampler

	mu       sync.Mutex
	indices  []int
	position int
	epoch    int
	batches  int
}

// NewDataLoader creates a loader over ds
func NewDataLoader(ds dataset.Dataset, config Config) (*DataLoader, error) {
	if ds == nil {
		return nil, errors.Config("dataset is required")
	}
	if config.BatchSize <= 0 {
		return nil, errors.Config("batch size must be positive, got %d", config.BatchSize)
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	sampler := config.Sampler
	if sampler == nil {
		sampler = NewSequentialSampler(ds.Len())
	}

	dl := &DataLoader{
		dataset: ds,
		config:  config,
		sampler: sampler,
	}
	dl.Reset(0)
	return dl, nil
}

// Len returns the number of batches per epoch
func (dl *DataLoader) Len() int {
	n := dl.sampler.Len()
	if dl.config.DropLast {
		return n / dl.config.BatchSize
	}
	return (n + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Reset starts the given epoch
func (dl *DataLoader) Reset(epoch int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.epoch = epoch
	dl.indices = dl.sampler.Indices(epoch)
	dl.position = 0
	dl.batches = 0
}

// NextBatch returns the next batch of the epoch, or nil once the epoch is
// exhausted.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	size := dl.config.BatchSize
	if remaining < size {
		if dl.config.DropLast {
			dl.position = len(dl.indices)
			return nil, nil
		}
		size = remaining
	}

	start := dl.position
	samples, err := dl.loadSamples(dl.indices[start:start+size], start)
	if err != nil {
		return nil, err
	}
	dl.position += size
	dl.batches++

	return Collate(samples, dl.config.Device)
}

// loadSamples loads the given indices with a worker pool. offset is the
// epoch position of the first index and feeds the per-sample seed.
func (dl *DataLoader) loadSamples(indices []int, offset int) ([]*dataset.Sample, error) {
	type job struct {
		slot  int
		index int
	}

	samples := make([]*dataset.Sample, len(indices))
	errs := make([]error, len(indices))
	jobs := make(chan job, len(indices))

	workers := dl.config.Workers
	if workers > len(indices) {
		workers = len(indices)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				seed := mixSeed(dl.config.Seed, int64(dl.epoch), int64(offset+j.slot))
				samples[j.slot], errs[j.slot] = dl.dataset.Item(j.index, seed)
			}
		}()
	}

	for slot, index := range indices {
		jobs <- job{slot: slot, index: index}
	}
	close(jobs)
	wg.Wait()

	for slot, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load sample %d", indices[slot])
		}
	}
	return samples, nil
}

// Progress reports batches served and batches per epoch
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.batches, dl.Len()
}
