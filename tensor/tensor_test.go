package tensor

import (
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func TestNewAndIndex(t *testing.T) {
	dev := CPUDevice()
	data := []float32{1, 2, 3, 4, 5, 6}
	x, err := New([]int{2, 3}, data, dev)
	assert.NilError(t, err)
	assert.DeepEqual(t, x.Strides, []int{3, 1})

	v, err := x.At(1, 2)
	assert.NilError(t, err)
	assert.Equal(t, v, float32(6))

	row, err := x.Index(1)
	assert.NilError(t, err)
	assert.DeepEqual(t, row.Data, []float32{4, 5, 6})

	// Views share storage.
	assert.NilError(t, row.SetAt(40, 0))
	assert.Equal(t, x.Data[3], float32(40))

	_, err = x.At(2, 0)
	assert.ErrorContains(t, err, "out of range")
}

func TestNewRejectsBadInput(t *testing.T) {
	dev := CPUDevice()

	_, err := New([]int{2, 2}, []float32{1, 2, 3}, dev)
	assert.ErrorContains(t, err, "does not match")

	_, err = New([]int{0, 2}, nil, dev)
	assert.ErrorContains(t, err, "must be positive")
}

func TestStack(t *testing.T) {
	dev := CPUDevice()
	a, _ := New([]int{1, 2}, []float32{1, 2}, dev)
	b, _ := New([]int{1, 2}, []float32{3, 4}, dev)

	s, err := Stack([]*Tensor{a, b})
	assert.NilError(t, err)
	assert.DeepEqual(t, s.Shape, []int{2, 1, 2})
	assert.DeepEqual(t, s.Data, []float32{1, 2, 3, 4})

	c, _ := New([]int{2}, []float32{5, 6}, dev)
	_, err = Stack([]*Tensor{a, c})
	assert.ErrorContains(t, err, "shape mismatch")

	_, err = Stack(nil)
	assert.Assert(t, err != nil)
}

func TestCloneAndReshape(t *testing.T) {
	x, _ := Full([]int{2, 2}, 3, CPUDevice())
	y := x.Clone()
	y.Data[0] = 7
	assert.Equal(t, x.Data[0], float32(3))
	assert.Assert(t, !x.Equal(y))

	r, err := x.Reshape([]int{4})
	assert.NilError(t, err)
	assert.DeepEqual(t, r.Shape, []int{4})

	_, err = x.Reshape([]int{3})
	assert.Assert(t, err != nil)
}

func TestSelectDevice(t *testing.T) {
	for _, pref := range []string{"", "auto", "CPU"} {
		d, err := SelectDevice(pref)
		assert.NilError(t, err)
		assert.Equal(t, d.Kind, CPU)
		assert.Assert(t, d.Threads >= 1)
	}

	_, err := SelectDevice("cuda")
	assert.Assert(t, errors.Is(err, ErrNoAccelerator))

	_, err = SelectDevice("tpu")
	assert.ErrorContains(t, err, "unknown device")
}
