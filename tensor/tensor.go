package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Tensor is a dense, row-major float32 array placed on a Device.
// Images are stored in CHW order, batches in NCHW.
type Tensor struct {
	Shape   []int
	Strides []int
	Data    []float32
	Device  Device
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s, elements=%d)",
		t.Shape, t.Device, len(t.Data))
}

// NumElems returns the number of elements implied by the shape.
func (t *Tensor) NumElems() int {
	return calculateNumElements(t.Shape)
}

// Dim returns the number of dimensions.
func (t *Tensor) Dim() int {
	return len(t.Shape)
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return errors.New("invalid shape: no dimensions")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return errors.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func (t *Tensor) offset(indices []int) (int, error) {
	if len(indices) != len(t.Shape) {
		return 0, errors.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			return 0, errors.Errorf("index %d out of range [0, %d) in dimension %d", idx, t.Shape[i], i)
		}
		off += idx * t.Strides[i]
	}
	return off, nil
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) (float32, error) {
	off, err := t.offset(indices)
	if err != nil {
		return 0, err
	}
	return t.Data[off], nil
}

// SetAt stores value at the given indices.
func (t *Tensor) SetAt(value float32, indices ...int) error {
	off, err := t.offset(indices)
	if err != nil {
		return err
	}
	t.Data[off] = value
	return nil
}

// Index returns a view of the i-th slice along the first dimension.
// The view shares storage with t.
func (t *Tensor) Index(i int) (*Tensor, error) {
	if len(t.Shape) < 2 {
		return nil, errors.Errorf("cannot index a %d-dimensional tensor", len(t.Shape))
	}
	if i < 0 || i >= t.Shape[0] {
		return nil, errors.Errorf("index %d out of range [0, %d)", i, t.Shape[0])
	}
	size := t.Strides[0]
	shape := append([]int(nil), t.Shape[1:]...)
	return &Tensor{
		Shape:   shape,
		Strides: calculateStrides(shape),
		Data:    t.Data[i*size : (i+1)*size],
		Device:  t.Device,
	}, nil
}

// Reshape returns a tensor sharing t's storage with a new shape.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	if err := validateShape(newShape); err != nil {
		return nil, err
	}
	if calculateNumElements(newShape) != len(t.Data) {
		return nil, errors.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, len(t.Data), newShape)
	}
	shape := append([]int(nil), newShape...)
	return &Tensor{
		Shape:   shape,
		Strides: calculateStrides(shape),
		Data:    t.Data,
		Device:  t.Device,
	}, nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	shape := append([]int(nil), t.Shape...)
	return &Tensor{
		Shape:   shape,
		Strides: calculateStrides(shape),
		Data:    data,
		Device:  t.Device,
	}
}

// Float64s returns the elements widened to float64.
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return out
}

// Equal reports whether both tensors have the same shape and elements.
func (t *Tensor) Equal(other *Tensor) bool {
	if other == nil || len(t.Shape) != len(other.Shape) || len(t.Data) != len(other.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != other.Shape[i] {
			return false
		}
	}
	for i := range t.Data {
		if t.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
