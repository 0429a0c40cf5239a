package nn

import (
	"fmt"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// Linear computes y = x·Wᵀ + b with Weight (out, in) and Bias (out).
type Linear struct {
	In  int
	Out int

	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

func NewLinear(in, out int) *Linear {
	return &Linear{
		In:     in,
		Out:    out,
		Weight: tensor.New(out, in),
		Bias:   tensor.New(out),
	}
}

func (l *Linear) Params() []Param {
	return []Param{{Name: "weight", Value: l.Weight}, {Name: "bias", Value: l.Bias}}
}

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectDims(x, 2); err != nil {
		return nil, err
	}
	n, in := x.Shape[0], x.Shape[1]
	if in != l.In {
		return nil, fmt.Errorf("linear expects %d features, got %d", l.In, in)
	}

	out := tensor.New(n, l.Out)
	for b := 0; b < n; b++ {
		row := x.Data[b*in : (b+1)*in]
		dst := out.Data[b*l.Out : (b+1)*l.Out]
		parallelFor(l.Out, func(lo, hi int) {
			for o := lo; o < hi; o++ {
				w := l.Weight.Data[o*in : (o+1)*in]
				sum := l.Bias.Data[o]
				for i, v := range row {
					sum += w[i] * v
				}
				dst[o] = sum
			}
		})
	}
	return out, nil
}
