package layers

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tsawler/go-datapipe/tensor"
)

// Layer is one executable stage of a Network.
type Layer interface {
	Name() string
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
}

// Network runs a compiled ModelSpec sample by sample.
type Network struct {
	Spec   *ModelSpec
	Layers []Layer
	device tensor.Device
}

// Build instantiates every layer of a compiled spec on device.
func Build(spec *ModelSpec, device tensor.Device, rng *rand.Rand) (*Network, error) {
	if spec == nil || !spec.Compiled {
		return nil, errors.New("model not compiled")
	}

	net := &Network{Spec: spec, device: device}
	for i, ls := range spec.Layers {
		var (
			layer Layer
			err   error
		)
		switch ls.Type {
		case Conv2D:
			layer, err = NewConv2D(
				getIntParam(ls.Parameters, "input_channels", 0),
				getIntParam(ls.Parameters, "output_channels", 0),
				getIntParam(ls.Parameters, "kernel_size", 0),
				getIntParam(ls.Parameters, "stride", 1),
				getIntParam(ls.Parameters, "padding", 0),
				getBoolParam(ls.Parameters, "use_bias", true),
				ls.Name, rng)
		case Dense:
			layer, err = NewLinear(
				getIntParam(ls.Parameters, "input_size", 0),
				getIntParam(ls.Parameters, "output_size", 0),
				getBoolParam(ls.Parameters, "use_bias", true),
				ls.Name, rng)
		case ReLU:
			layer = NewReLU(ls.Name)
		case GlobalAvgPool:
			layer = NewGlobalAvgPool(ls.Name)
		default:
			err = errors.Errorf("unsupported layer type: %s", ls.Type)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build layer %d (%s)", i, ls.Name)
		}
		net.Layers = append(net.Layers, layer)
	}
	return net, nil
}

// Forward runs one sample through every layer.
func (n *Network) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if input.Device != n.device {
		return nil, errors.Errorf("input on %s, network on %s", input.Device, n.device)
	}
	out := input
	for _, layer := range n.Layers {
		var err error
		out, err = layer.Forward(out)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %s", layer.Name())
		}
	}
	return out, nil
}

// Parameters returns the parameters of every layer in order.
func (n *Network) Parameters() []*Parameter {
	var params []*Parameter
	for _, layer := range n.Layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// Freeze stops gradient tracking for every parameter.
func (n *Network) Freeze() {
	for _, p := range n.Parameters() {
		p.RequiresGrad = false
	}
}
