package dataset

import (
	"image"
	"io"

	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/tensor"
	"github.com/tsawler/go-datapipe/vision/preprocessing"
)

// Split names one partition of a dataset.
type Split string

const (
	Train Split = "train"
	Val   Split = "val"
)

// Phases lists the splits in the order a training epoch visits them.
var Phases = []Split{Train, Val}

// ErrEmptyDataset is returned when a source would yield no samples.
var ErrEmptyDataset = errors.New("dataset is empty")

// Sample is one decoded, transformed image and its class index.
type Sample struct {
	Image *tensor.Tensor
	Label int
	Key   string
}

// Source is a finite sequence of samples with a known size.
type Source interface {
	// Len is the number of samples one full iteration yields.
	Len() int
	// Iter starts a new pass over the samples.
	Iter() (Iterator, error)
}

// Iterator walks one pass of a Source. Next returns io.EOF after the last
// sample.
type Iterator interface {
	Next() (Sample, error)
	Close() error
}

// RandomAccess is implemented by sources that can fetch any sample by index.
type RandomAccess interface {
	Source
	Get(i int) (Sample, error)
}

// Splits maps each partition to its source.
type Splits map[Split]Source

// Sizes returns the reported size of every split.
func (s Splits) Sizes() map[Split]int {
	sizes := make(map[Split]int, len(s))
	for split, src := range s {
		sizes[split] = src.Len()
	}
	return sizes
}

// Transform turns a decoded image into a model input tensor.
// *preprocessing.Pipeline implements it.
type Transform interface {
	Apply(img image.Image) (*tensor.Tensor, error)
}

// plainTransform converts to a [3, H, W] tensor in [0, 1].
type plainTransform struct {
	device tensor.Device
}

func (p plainTransform) Apply(img image.Image) (*tensor.Tensor, error) {
	return preprocessing.ToTensor(img, [3]float32{}, [3]float32{1, 1, 1}, p.device)
}

// Count iterates src once and returns the number of samples produced.
func Count(src Source) (int, error) {
	it, err := src.Iter()
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for {
		if _, err := it.Next(); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		n++
	}
}
