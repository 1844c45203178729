package models

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/layers"
	"github.com/tsawler/go-datapipe/tensor"
)

// Classifier is a frozen backbone followed by a trainable linear head.
type Classifier struct {
	backbone Backbone
	head     *layers.Linear
	device   tensor.Device
	rng      *rand.Rand
	training bool

	// features of the last batch, kept in training mode for Backward.
	features [][]float64
}

// NewClassifier attaches a head with numClasses outputs to backbone.
func NewClassifier(backbone Backbone, numClasses int, device tensor.Device, seed int64) (*Classifier, error) {
	c := &Classifier{backbone: backbone, device: device, rng: rand.New(rand.NewSource(seed))}
	if err := c.ReplaceHead(numClasses); err != nil {
		return nil, err
	}
	return c, nil
}

// ReplaceHead installs a freshly initialised head with numClasses outputs.
func (c *Classifier) ReplaceHead(numClasses int) error {
	head, err := layers.NewLinear(c.backbone.OutFeatures(), numClasses, true, "fc", c.rng)
	if err != nil {
		return errors.Wrap(err, "failed to replace head")
	}
	c.head = head
	c.features = nil
	return nil
}

// NumClasses is the width of the head.
func (c *Classifier) NumClasses() int { return c.head.OutFeatures() }

// Backbone returns the feature extractor.
func (c *Classifier) Backbone() Backbone { return c.backbone }

// Device is where inputs and outputs live.
func (c *Classifier) Device() tensor.Device { return c.device }

// Forward maps a [B, C, H, W] batch to [B, classes] logits.
func (c *Classifier) Forward(batch *tensor.Tensor) (*tensor.Tensor, error) {
	if batch.Dim() != 4 {
		return nil, errors.Errorf("expected [B, C, H, W] batch, got shape %v", batch.Shape)
	}
	n := batch.Shape[0]
	classes := c.head.OutFeatures()
	logits := make([]float32, 0, n*classes)
	features := make([][]float64, 0, n)

	for i := 0; i < n; i++ {
		sample, err := batch.Index(i)
		if err != nil {
			return nil, err
		}
		feats, err := c.backbone.Forward(sample)
		if err != nil {
			return nil, err
		}
		out, err := c.head.ForwardVec(feats)
		if err != nil {
			return nil, err
		}
		for _, v := range out {
			logits = append(logits, float32(v))
		}
		features = append(features, feats)
	}

	if c.training {
		c.features = features
	}
	return tensor.New([]int{n, classes}, logits, c.device)
}

// Backward accumulates head gradients from the [B, classes] gradient of the
// loss with respect to the logits of the last Forward call.
func (c *Classifier) Backward(gradLogits *tensor.Tensor) error {
	if !c.training {
		return errors.New("backward called in eval mode")
	}
	classes := c.head.OutFeatures()
	if gradLogits.Dim() != 2 || gradLogits.Shape[0] != len(c.features) || gradLogits.Shape[1] != classes {
		return errors.Errorf("gradient shape %v does not match last batch [%d %d]", gradLogits.Shape, len(c.features), classes)
	}
	grad := gradLogits.Float64s()
	for i, feats := range c.features {
		if err := c.head.BackwardVec(feats, grad[i*classes:(i+1)*classes]); err != nil {
			return err
		}
	}
	return nil
}

// Parameters returns the trainable parameters: the head only.
func (c *Classifier) Parameters() []*layers.Parameter {
	return c.head.Parameters()
}

// Train enables gradient bookkeeping.
func (c *Classifier) Train() { c.training = true }

// Eval disables gradient bookkeeping.
func (c *Classifier) Eval() {
	c.training = false
	c.features = nil
}

// IsTraining reports the current mode.
func (c *Classifier) IsTraining() bool { return c.training }

// Head returns the classification layer.
func (c *Classifier) Head() *layers.Linear { return c.head }
