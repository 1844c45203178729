package training

import (
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/tensor"
	"github.com/tsawler/go-datapipe/vision/dataset"
)

// DataLoaderConfig controls batching and prefetching.
type DataLoaderConfig struct {
	BatchSize  int   `json:"batch_size"`
	NumWorkers int   `json:"num_workers"`
	Shuffle    bool  `json:"shuffle"`
	Seed       int64 `json:"seed"`
}

// DefaultDataLoaderConfig is one sample per batch loaded by one worker.
func DefaultDataLoaderConfig() DataLoaderConfig {
	return DataLoaderConfig{BatchSize: 1, NumWorkers: 1, Seed: 1}
}

// Validate checks the configuration.
func (c DataLoaderConfig) Validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return errors.Errorf("worker count must be positive, got %d", c.NumWorkers)
	}
	return nil
}

// Batch is a stacked group of samples.
type Batch struct {
	Data   *tensor.Tensor // [B, C, H, W]
	Labels []int
	Keys   []string
}

// Size is the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Labels) }

// DataLoader groups the samples of a source into batches. Sources with
// random access are shuffled on request and loaded by NumWorkers goroutines;
// streaming sources are read in order by a single goroutine.
type DataLoader struct {
	source dataset.Source
	config DataLoaderConfig
	rng    *rand.Rand
	mutex  sync.Mutex
}

// NewDataLoader creates a loader over source.
func NewDataLoader(source dataset.Source, config DataLoaderConfig) (*DataLoader, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, ok := source.(dataset.RandomAccess); config.Shuffle && !ok {
		klog.V(1).Infof("shuffle ignored for a streaming source")
		config.Shuffle = false
	}
	return &DataLoader{
		source: source,
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Len returns the number of batches in an epoch.
func (dl *DataLoader) Len() int {
	return (dl.source.Len() + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Size returns the number of samples reported by the source.
func (dl *DataLoader) Size() int {
	return dl.source.Len()
}

// Source returns the underlying source.
func (dl *DataLoader) Source() dataset.Source {
	return dl.source
}

type batchResult struct {
	batch *Batch
	err   error
}

// BatchIterator yields the batches of one epoch. Next returns io.EOF after
// the last batch.
type BatchIterator struct {
	results <-chan batchResult
	cancel  context.CancelFunc
	err     error
}

// Next returns the next batch.
func (it *BatchIterator) Next() (*Batch, error) {
	if it.err != nil {
		return nil, it.err
	}
	r, ok := <-it.results
	if !ok {
		it.err = io.EOF
		return nil, io.EOF
	}
	if r.err != nil {
		it.err = r.err
		it.cancel()
		return nil, r.err
	}
	return r.batch, nil
}

// Close stops the producers and waits for them to exit.
func (it *BatchIterator) Close() {
	it.cancel()
	for range it.results {
	}
}

// Iterator starts producing the batches of a new epoch.
func (dl *DataLoader) Iterator(ctx context.Context) *BatchIterator {
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan batchResult, 2*dl.config.NumWorkers)

	if ra, ok := dl.source.(dataset.RandomAccess); ok {
		go dl.produceIndexed(ctx, ra, results)
	} else {
		go dl.produceStream(ctx, results)
	}
	return &BatchIterator{results: results, cancel: cancel}
}

func (dl *DataLoader) order() []int {
	indices := make([]int, dl.source.Len())
	for i := range indices {
		indices[i] = i
	}
	if dl.config.Shuffle {
		dl.mutex.Lock()
		dl.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
		dl.mutex.Unlock()
	}
	return indices
}

// produceIndexed loads batches concurrently and delivers them in order.
func (dl *DataLoader) produceIndexed(ctx context.Context, ra dataset.RandomAccess, out chan<- batchResult) {
	defer close(out)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pending := make(chan chan batchResult, dl.config.NumWorkers)
	go func() {
		defer close(pending)
		indices := dl.order()
		for start := 0; start < len(indices); start += dl.config.BatchSize {
			end := min(start+dl.config.BatchSize, len(indices))
			slot := make(chan batchResult, 1)
			select {
			case pending <- slot:
			case <-ctx.Done():
				return
			}
			go func(batchIndices []int) {
				batch, err := loadIndexed(ra, batchIndices)
				slot <- batchResult{batch: batch, err: err}
			}(indices[start:end])
		}
	}()

	for slot := range pending {
		r := <-slot
		if !send(ctx, out, r) || r.err != nil {
			cancel()
			drain(pending)
			return
		}
	}
}

func loadIndexed(ra dataset.RandomAccess, indices []int) (*Batch, error) {
	samples := make([]dataset.Sample, len(indices))
	for i, idx := range indices {
		s, err := ra.Get(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %d", idx)
		}
		samples[i] = s
	}
	return collate(samples)
}

// produceStream reads the source sequentially.
func (dl *DataLoader) produceStream(ctx context.Context, out chan<- batchResult) {
	defer close(out)

	it, err := dl.source.Iter()
	if err != nil {
		send(ctx, out, batchResult{err: err})
		return
	}
	defer it.Close()

	samples := make([]dataset.Sample, 0, dl.config.BatchSize)
	flush := func() bool {
		batch, err := collate(samples)
		samples = samples[:0]
		return send(ctx, out, batchResult{batch: batch, err: err}) && err == nil
	}

	for {
		s, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			send(ctx, out, batchResult{err: err})
			return
		}
		samples = append(samples, s)
		if len(samples) == dl.config.BatchSize && !flush() {
			return
		}
	}
	if len(samples) > 0 {
		flush()
	}
}

func send(ctx context.Context, out chan<- batchResult, r batchResult) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// drain waits for in-flight loads so their goroutines can exit.
func drain(pending <-chan chan batchResult) {
	for slot := range pending {
		<-slot
	}
}

// collate stacks samples into one batch.
func collate(samples []dataset.Sample) (*Batch, error) {
	images := make([]*tensor.Tensor, len(samples))
	b := &Batch{
		Labels: make([]int, len(samples)),
		Keys:   make([]string, len(samples)),
	}
	for i, s := range samples {
		images[i] = s.Image
		b.Labels[i] = s.Label
		b.Keys[i] = s.Key
	}
	data, err := tensor.Stack(images)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stack batch")
	}
	b.Data = data
	return b, nil
}
