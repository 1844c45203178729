package layers

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/tensor"
)

// ReLUActivation clamps negatives to zero.
type ReLUActivation struct {
	name string
}

func NewReLU(name string) *ReLUActivation {
	return &ReLUActivation{name: name}
}

func (r *ReLUActivation) Name() string { return r.name }

func (r *ReLUActivation) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out, nil
}

func (r *ReLUActivation) Parameters() []*Parameter { return nil }

// GlobalAvgPooling reduces [C, H, W] to [C].
type GlobalAvgPooling struct {
	name string
}

func NewGlobalAvgPool(name string) *GlobalAvgPooling {
	return &GlobalAvgPooling{name: name}
}

func (g *GlobalAvgPooling) Name() string { return g.name }

func (g *GlobalAvgPooling) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 3 {
		return nil, errors.Errorf("%s: expected [C, H, W] input, got %v", g.name, input.Shape)
	}
	c := input.Shape[0]
	spatial := input.Shape[1] * input.Shape[2]
	out, err := tensor.Zeros([]int{c}, input.Device)
	if err != nil {
		return nil, err
	}
	for ch := 0; ch < c; ch++ {
		var sum float64
		for _, v := range input.Data[ch*spatial : (ch+1)*spatial] {
			sum += float64(v)
		}
		out.Data[ch] = float32(sum / float64(spatial))
	}
	return out, nil
}

func (g *GlobalAvgPooling) Parameters() []*Parameter { return nil }
