package training

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-datapipe/tensor"
)

// Loss scores [B, C] logits against integer targets. Forward returns the
// mean loss over the batch and the gradient with respect to the logits.
type Loss interface {
	Forward(logits *tensor.Tensor, targets []int) (float64, *tensor.Tensor, error)
}

// CrossEntropyLoss is softmax followed by negative log likelihood, averaged
// over the batch.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a mean-reduced cross-entropy loss.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

func (ce *CrossEntropyLoss) Forward(logits *tensor.Tensor, targets []int) (float64, *tensor.Tensor, error) {
	if logits.Dim() != 2 {
		return 0, nil, errors.Errorf("expected [B, C] logits, got shape %v", logits.Shape)
	}
	batch, classes := logits.Shape[0], logits.Shape[1]
	if len(targets) != batch {
		return 0, nil, errors.Errorf("got %d targets for a batch of %d", len(targets), batch)
	}

	values := logits.Float64s()
	grad := make([]float32, len(values))
	total := 0.0
	for i, target := range targets {
		if target < 0 || target >= classes {
			return 0, nil, errors.Errorf("target %d out of range [0, %d)", target, classes)
		}
		row := values[i*classes : (i+1)*classes]
		lse := floats.LogSumExp(row)
		total += lse - row[target]

		for j, z := range row {
			p := math.Exp(z - lse)
			if j == target {
				p--
			}
			grad[i*classes+j] = float32(p / float64(batch))
		}
	}

	g, err := tensor.New([]int{batch, classes}, grad, logits.Device)
	if err != nil {
		return 0, nil, err
	}
	return total / float64(batch), g, nil
}

// Argmax returns the index of the largest logit of each row; ties go to the
// lowest index.
func Argmax(logits *tensor.Tensor) ([]int, error) {
	if logits.Dim() != 2 {
		return nil, errors.Errorf("expected [B, C] logits, got shape %v", logits.Shape)
	}
	batch, classes := logits.Shape[0], logits.Shape[1]
	preds := make([]int, batch)
	for i := 0; i < batch; i++ {
		row := logits.Data[i*classes : (i+1)*classes]
		best := 0
		for j := 1; j < classes; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		preds[i] = best
	}
	return preds, nil
}
