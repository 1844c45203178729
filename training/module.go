package training

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/layers"
	"github.com/tsawler/go-datapipe/tensor"
)

// Module is a trainable model: logits forward, gradient backward.
type Module interface {
	Forward(batch *tensor.Tensor) (*tensor.Tensor, error)
	// Backward accumulates parameter gradients from the gradient of the loss
	// with respect to the logits of the last Forward.
	Backward(gradLogits *tensor.Tensor) error
	Parameters() []*layers.Parameter
	Train()
	Eval()
}

// Snapshot is a deep copy of a set of parameters.
type Snapshot struct {
	names  []string
	values [][]float64
}

// TakeSnapshot copies the current values of params.
func TakeSnapshot(params []*layers.Parameter) *Snapshot {
	s := &Snapshot{
		names:  make([]string, len(params)),
		values: make([][]float64, len(params)),
	}
	for i, p := range params {
		s.names[i] = p.Name
		s.values[i] = append([]float64(nil), p.Data...)
	}
	return s
}

// Restore writes the snapshot back into params, which must be the same
// parameters it was taken from.
func (s *Snapshot) Restore(params []*layers.Parameter) error {
	if len(params) != len(s.values) {
		return errors.Errorf("snapshot holds %d parameters, model has %d", len(s.values), len(params))
	}
	for i, p := range params {
		if p.Name != s.names[i] {
			return errors.Errorf("snapshot parameter %d is %s, model has %s", i, s.names[i], p.Name)
		}
		if err := p.Load(s.values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Matches reports whether params hold exactly the snapshot values.
func (s *Snapshot) Matches(params []*layers.Parameter) bool {
	if len(params) != len(s.values) {
		return false
	}
	for i, p := range params {
		if p.Name != s.names[i] || len(p.Data) != len(s.values[i]) {
			return false
		}
		for j, v := range p.Data {
			if v != s.values[i][j] {
				return false
			}
		}
	}
	return true
}
