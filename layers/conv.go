package layers

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-datapipe/tensor"
)

// Conv2DLayer is a square-kernel 2-D convolution over a [C, H, W] sample.
// It runs forward only: it is used for frozen feature extraction.
type Conv2DLayer struct {
	name       string
	inChannels int
	outChannel int
	kernel     int
	stride     int
	padding    int
	Weight     *Parameter // [out, in, k, k]
	Bias       *Parameter // [out], nil without bias
}

// NewConv2D creates a convolution with He-normal weights and zero bias.
func NewConv2D(inputChannels, outputChannels, kernelSize, stride, padding int, bias bool, name string, rng *rand.Rand) (*Conv2DLayer, error) {
	if inputChannels <= 0 || outputChannels <= 0 || kernelSize <= 0 || stride <= 0 || padding < 0 {
		return nil, errors.Errorf("invalid conv2d configuration in=%d out=%d k=%d s=%d p=%d",
			inputChannels, outputChannels, kernelSize, stride, padding)
	}
	c := &Conv2DLayer{
		name:       name,
		inChannels: inputChannels,
		outChannel: outputChannels,
		kernel:     kernelSize,
		stride:     stride,
		padding:    padding,
		Weight:     NewParameter(name+".weight", []int{outputChannels, inputChannels, kernelSize, kernelSize}),
	}
	heNormal(c.Weight.Data, inputChannels*kernelSize*kernelSize, rng)
	if bias {
		c.Bias = NewParameter(name+".bias", []int{outputChannels})
	}
	return c, nil
}

func (c *Conv2DLayer) Name() string { return c.name }

// Forward lowers the convolution to one matrix product (im2col).
func (c *Conv2DLayer) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 3 || input.Shape[0] != c.inChannels {
		return nil, errors.Errorf("%s: expected [%d, H, W] input, got %v", c.name, c.inChannels, input.Shape)
	}
	h, w := input.Shape[1], input.Shape[2]
	outH := (h+2*c.padding-c.kernel)/c.stride + 1
	outW := (w+2*c.padding-c.kernel)/c.stride + 1
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("%s: input %v too small for kernel %d", c.name, input.Shape, c.kernel)
	}

	patch := c.inChannels * c.kernel * c.kernel
	cols := mat.NewDense(outH*outW, patch, nil)
	raw := cols.RawMatrix()
	for oy := 0; oy < outH; oy++ {
		for ox := 0; ox < outW; ox++ {
			row := raw.Data[(oy*outW+ox)*raw.Stride : (oy*outW+ox)*raw.Stride+patch]
			col := 0
			for ic := 0; ic < c.inChannels; ic++ {
				plane := input.Data[ic*h*w : (ic+1)*h*w]
				for ky := 0; ky < c.kernel; ky++ {
					iy := oy*c.stride + ky - c.padding
					for kx := 0; kx < c.kernel; kx++ {
						ix := ox*c.stride + kx - c.padding
						if iy >= 0 && iy < h && ix >= 0 && ix < w {
							row[col] = float64(plane[iy*w+ix])
						}
						col++
					}
				}
			}
		}
	}

	weights := mat.NewDense(c.outChannel, patch, c.Weight.Data)
	var prod mat.Dense
	prod.Mul(cols, weights.T())

	out, err := tensor.Zeros([]int{c.outChannel, outH, outW}, input.Device)
	if err != nil {
		return nil, err
	}
	spatial := outH * outW
	for oc := 0; oc < c.outChannel; oc++ {
		var b float64
		if c.Bias != nil {
			b = c.Bias.Data[oc]
		}
		for p := 0; p < spatial; p++ {
			out.Data[oc*spatial+p] = float32(prod.At(p, oc) + b)
		}
	}
	return out, nil
}

// Parameters returns the weight and, when present, the bias.
func (c *Conv2DLayer) Parameters() []*Parameter {
	if c.Bias == nil {
		return []*Parameter{c.Weight}
	}
	return []*Parameter{c.Weight, c.Bias}
}
