package layers

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Parameter is a learnable tensor together with its accumulated gradient.
type Parameter struct {
	Name         string
	Shape        []int
	Data         []float64
	Grad         []float64
	RequiresGrad bool
}

// NewParameter allocates a zero parameter of the given shape.
func NewParameter(name string, shape []int) *Parameter {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Parameter{
		Name:         name,
		Shape:        append([]int(nil), shape...),
		Data:         make([]float64, n),
		Grad:         make([]float64, n),
		RequiresGrad: true,
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Matrix views a 2-D parameter as a gonum matrix sharing its storage.
func (p *Parameter) Matrix() (*mat.Dense, error) {
	if len(p.Shape) < 2 {
		return nil, errors.Errorf("parameter %s has shape %v, need at least 2 dimensions", p.Name, p.Shape)
	}
	cols := len(p.Data) / p.Shape[0]
	return mat.NewDense(p.Shape[0], cols, p.Data), nil
}

// GradMatrix views the gradient like Matrix views the data.
func (p *Parameter) GradMatrix() (*mat.Dense, error) {
	if len(p.Shape) < 2 {
		return nil, errors.Errorf("parameter %s has shape %v, need at least 2 dimensions", p.Name, p.Shape)
	}
	cols := len(p.Grad) / p.Shape[0]
	return mat.NewDense(p.Shape[0], cols, p.Grad), nil
}

// Load copies values into the parameter after checking the size.
func (p *Parameter) Load(values []float64) error {
	if len(values) != len(p.Data) {
		return errors.Errorf("parameter %s: got %d values, want %d", p.Name, len(values), len(p.Data))
	}
	copy(p.Data, values)
	return nil
}

// heNormal fills data with N(0, 2/fanIn), the usual init before a ReLU.
func heNormal(data []float64, fanIn int, rng *rand.Rand) {
	std := math.Sqrt(2.0 / float64(fanIn))
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
}

// uniformFanIn fills data with U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func uniformFanIn(data []float64, fanIn int, rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(fanIn))
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
}
