package tensor

import (
	"github.com/pkg/errors"
)

// New wraps data in a tensor of the given shape on device.
// A nil data slice allocates zeros.
func New(shape []int, data []float32, device Device) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)
	if data == nil {
		data = make([]float32, numElems)
	}
	if len(data) != numElems {
		return nil, errors.Errorf("data length %d does not match tensor size %d", len(data), numElems)
	}

	shapeCopy := append([]int(nil), shape...)
	return &Tensor{
		Shape:   shapeCopy,
		Strides: calculateStrides(shapeCopy),
		Data:    data,
		Device:  device,
	}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(shape []int, device Device) (*Tensor, error) {
	return New(shape, nil, device)
}

// Full allocates a tensor filled with value.
func Full(shape []int, value float32, device Device) (*Tensor, error) {
	t, err := New(shape, nil, device)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// Stack joins equally shaped tensors along a new leading dimension.
func Stack(items []*Tensor) (*Tensor, error) {
	if len(items) == 0 {
		return nil, errors.New("cannot stack an empty list of tensors")
	}

	first := items[0]
	size := len(first.Data)
	shape := append([]int{len(items)}, first.Shape...)
	out, err := Zeros(shape, first.Device)
	if err != nil {
		return nil, err
	}

	for i, item := range items {
		if !sameShape(item.Shape, first.Shape) {
			return nil, errors.Errorf("shape mismatch at item %d: %v vs %v", i, item.Shape, first.Shape)
		}
		if item.Device != first.Device {
			return nil, errors.Errorf("device mismatch at item %d: %s vs %s", i, item.Device, first.Device)
		}
		copy(out.Data[i*size:(i+1)*size], item.Data)
	}
	return out, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
