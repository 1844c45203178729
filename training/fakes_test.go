package training

import (
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/layers"
	"github.com/tsawler/go-datapipe/tensor"
	"github.com/tsawler/go-datapipe/vision/dataset"
)

// streamSource yields pre-built samples in order without random access.
type streamSource struct {
	samples []dataset.Sample
	failAt  int // index whose Next fails, -1 for none
}

func (s *streamSource) Len() int { return len(s.samples) }

func (s *streamSource) Iter() (dataset.Iterator, error) {
	return &sliceIterator{src: s}, nil
}

type sliceIterator struct {
	src *streamSource
	pos int
}

func (it *sliceIterator) Next() (dataset.Sample, error) {
	if it.pos == it.src.failAt {
		return dataset.Sample{}, errors.New("corrupt record")
	}
	if it.pos >= len(it.src.samples) {
		return dataset.Sample{}, io.EOF
	}
	s := it.src.samples[it.pos]
	it.pos++
	return s, nil
}

func (it *sliceIterator) Close() error { return nil }

// indexedSource adds random access.
type indexedSource struct {
	streamSource
}

func (s *indexedSource) Get(i int) (dataset.Sample, error) {
	if i == s.failAt {
		return dataset.Sample{}, errors.New("corrupt image")
	}
	if i < 0 || i >= len(s.samples) {
		return dataset.Sample{}, errors.Errorf("index %d out of range", i)
	}
	return s.samples[i], nil
}

// makeSamples builds n single-pixel samples whose pixel value is the label.
func makeSamples(t *testing.T, labels ...int) []dataset.Sample {
	t.Helper()
	samples := make([]dataset.Sample, len(labels))
	for i, label := range labels {
		img, err := tensor.New([]int{1, 1, 1}, []float32{float32(label)}, tensor.CPUDevice())
		if err != nil {
			t.Fatalf("tensor.New: %v", err)
		}
		samples[i] = dataset.Sample{Image: img, Label: label, Key: fmt.Sprintf("item-%d", i)}
	}
	return samples
}

func newStream(t *testing.T, labels ...int) *streamSource {
	return &streamSource{samples: makeSamples(t, labels...), failAt: -1}
}

func newIndexed(t *testing.T, labels ...int) *indexedSource {
	return &indexedSource{streamSource: *newStream(t, labels...)}
}

// oracleModel reads the label from the pixel value. In eval mode it is right
// for the first correct[evalRound] items of the phase and wrong afterwards;
// with a nil schedule it is always right. Its single parameter receives a
// gradient of 1 per sample, so every train step moves it.
type oracleModel struct {
	classes    int
	weight     *layers.Parameter
	training   bool
	schedule   []int
	evalRound  int
	evalItem   int
	forwardErr error
}

func newOracle(classes int, schedule ...int) *oracleModel {
	return &oracleModel{
		classes:   classes,
		weight:    layers.NewParameter("w", []int{1}),
		schedule:  schedule,
		evalRound: -1,
	}
}

func (m *oracleModel) Forward(batch *tensor.Tensor) (*tensor.Tensor, error) {
	if m.forwardErr != nil {
		return nil, m.forwardErr
	}
	n := batch.Shape[0]
	logits := make([]float32, n*m.classes)
	for i := 0; i < n; i++ {
		label := int(batch.Data[i])
		predict := label
		if !m.training && m.schedule != nil {
			if m.evalItem >= m.schedule[m.evalRound] {
				predict = (label + 1) % m.classes
			}
			m.evalItem++
		}
		logits[i*m.classes+predict] = 10
	}
	return tensor.New([]int{n, m.classes}, logits, batch.Device)
}

func (m *oracleModel) Backward(grad *tensor.Tensor) error {
	m.weight.Grad[0] += float64(grad.Shape[0])
	return nil
}

func (m *oracleModel) Parameters() []*layers.Parameter { return []*layers.Parameter{m.weight} }

func (m *oracleModel) Train() { m.training = true }

func (m *oracleModel) Eval() {
	m.training = false
	m.evalRound++
	m.evalItem = 0
}
