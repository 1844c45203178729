package layers

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-datapipe/tensor"
)

// Linear is a fully connected layer y = Wx + b.
type Linear struct {
	name   string
	in     int
	out    int
	Weight *Parameter // [out, in]
	Bias   *Parameter // [out], nil without bias
}

// NewLinear creates a linear layer initialised the way torch.nn.Linear is.
func NewLinear(inputSize, outputSize int, bias bool, name string, rng *rand.Rand) (*Linear, error) {
	if inputSize <= 0 || outputSize <= 0 {
		return nil, errors.Errorf("invalid linear layer size %d -> %d", inputSize, outputSize)
	}
	l := &Linear{
		name:   name,
		in:     inputSize,
		out:    outputSize,
		Weight: NewParameter(name+".weight", []int{outputSize, inputSize}),
	}
	uniformFanIn(l.Weight.Data, inputSize, rng)
	if bias {
		l.Bias = NewParameter(name+".bias", []int{outputSize})
		uniformFanIn(l.Bias.Data, inputSize, rng)
	}
	return l, nil
}

func (l *Linear) Name() string     { return l.name }
func (l *Linear) InFeatures() int  { return l.in }
func (l *Linear) OutFeatures() int { return l.out }

// ForwardVec computes the layer output for one feature vector.
func (l *Linear) ForwardVec(x []float64) ([]float64, error) {
	if len(x) != l.in {
		return nil, errors.Errorf("%s: input has %d features, want %d", l.name, len(x), l.in)
	}
	w := mat.NewDense(l.out, l.in, l.Weight.Data)
	y := mat.NewVecDense(l.out, nil)
	y.MulVec(w, mat.NewVecDense(l.in, x))
	out := y.RawVector().Data
	if l.Bias != nil {
		floats.Add(out, l.Bias.Data)
	}
	return out, nil
}

// BackwardVec accumulates parameter gradients for one sample given the
// layer input x and the gradient of the loss with respect to the output.
func (l *Linear) BackwardVec(x, gradOut []float64) error {
	if len(x) != l.in || len(gradOut) != l.out {
		return errors.Errorf("%s: backward got input %d and gradient %d, want %d and %d",
			l.name, len(x), len(gradOut), l.in, l.out)
	}
	gw := mat.NewDense(l.out, l.in, l.Weight.Grad)
	gw.RankOne(gw, 1, mat.NewVecDense(l.out, gradOut), mat.NewVecDense(l.in, x))
	if l.Bias != nil {
		floats.Add(l.Bias.Grad, gradOut)
	}
	return nil
}

// Forward implements Layer for a flat [in] tensor.
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := l.ForwardVec(input.Float64s())
	if err != nil {
		return nil, err
	}
	return fromFloat64s([]int{l.out}, y, input.Device)
}

// Parameters returns the weight and, when present, the bias.
func (l *Linear) Parameters() []*Parameter {
	if l.Bias == nil {
		return []*Parameter{l.Weight}
	}
	return []*Parameter{l.Weight, l.Bias}
}

func fromFloat64s(shape []int, values []float64, device tensor.Device) (*tensor.Tensor, error) {
	data := make([]float32, len(values))
	for i, v := range values {
		data[i] = float32(v)
	}
	return tensor.New(shape, data, device)
}
