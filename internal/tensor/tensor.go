package tensor

import (
	"fmt"
	"strings"

	gt "gorgonia.org/tensor"
)

// Tensor is a row-major float32 array backed by a gorgonia Dense.
// Shape and Data mirror the Dense so layers can index the values directly.
type Tensor struct {
	Shape []int
	Data  []float32

	dense *gt.Dense
}

// New allocates a zero-filled tensor of the given shape.
func New(shape ...int) *Tensor {
	return wrap(gt.New(gt.WithShape(shape...), gt.WithBacking(make([]float32, Volume(shape)))))
}

// FromData wraps data without copying. The length of data must match shape.
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if n := Volume(shape); n != len(data) {
		return nil, fmt.Errorf("shape %s needs %d values, got %d", FormatShape(shape), n, len(data))
	}
	return wrap(gt.New(gt.WithShape(shape...), gt.WithBacking(data))), nil
}

// FromDense adopts a float32 Dense, such as one read from an .npy stream.
func FromDense(d *gt.Dense) (*Tensor, error) {
	if d == nil {
		return nil, fmt.Errorf("nil dense tensor")
	}
	if d.Dtype() != gt.Float32 {
		return nil, fmt.Errorf("dtype %v is not float32", d.Dtype())
	}
	if d.IsScalar() {
		return FromData([]float32{d.ScalarValue().(float32)}, 1)
	}
	return wrap(d), nil
}

func wrap(d *gt.Dense) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), d.Shape()...),
		Data:  d.Data().([]float32),
		dense: d,
	}
}

// Full returns a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := New(shape...)
	if err := t.dense.Memset(v); err != nil {
		panic(err)
	}
	return t
}

// Volume is the number of elements a tensor of this shape holds.
func Volume(shape []int) int {
	return gt.Shape(shape).TotalSize()
}

// Dense exposes the backing gorgonia tensor.
func (t *Tensor) Dense() *gt.Dense {
	if t.dense == nil {
		t.dense = gt.New(gt.WithShape(t.Shape...), gt.WithBacking(t.Data))
	}
	return t.dense
}

func (t *Tensor) Len() int {
	return len(t.Data)
}

func (t *Tensor) Dims() int {
	return len(t.Shape)
}

// Reshape returns a view sharing the same data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	view := t.Dense().ShallowClone()
	if err := view.Reshape(shape...); err != nil {
		return nil, err
	}
	return wrap(view), nil
}

func (t *Tensor) Clone() *Tensor {
	return wrap(t.Dense().Clone().(*gt.Dense))
}

// SameShape reports whether both shapes are identical. Unlike gt.Shape.Eq,
// a (1, n) row vector does not match (n).
func SameShape(a, b []int) bool {
	return len(a) == len(b) && gt.Shape(a).Eq(gt.Shape(b))
}

// FormatShape renders a shape as (d0, d1, ...).
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (t *Tensor) String() string {
	return "tensor" + FormatShape(t.Shape)
}
