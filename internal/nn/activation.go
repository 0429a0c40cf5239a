package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// ReLU clamps negative values to zero.
type ReLU struct{}

func (ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	return out, nil
}

// MaxPool2d keeps the maximum of each Kernel x Kernel window (floor mode).
type MaxPool2d struct {
	Kernel int
	Stride int
}

func NewMaxPool2d(kernel int) MaxPool2d {
	return MaxPool2d{Kernel: kernel, Stride: kernel}
}

func (m MaxPool2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectDims(x, 4); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if h < m.Kernel || w < m.Kernel {
		return nil, fmt.Errorf("input %dx%d too small for pool %d", h, w, m.Kernel)
	}
	oh := (h-m.Kernel)/m.Stride + 1
	ow := (w-m.Kernel)/m.Stride + 1

	out := tensor.New(n, ch, oh, ow)
	for p := 0; p < n*ch; p++ {
		src := x.Data[p*h*w : (p+1)*h*w]
		dst := out.Data[p*oh*ow : (p+1)*oh*ow]
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				best := float32(math.Inf(-1))
				for ky := 0; ky < m.Kernel; ky++ {
					row := src[(oy*m.Stride+ky)*w:]
					for kx := 0; kx < m.Kernel; kx++ {
						if v := row[ox*m.Stride+kx]; v > best {
							best = v
						}
					}
				}
				dst[oy*ow+ox] = best
			}
		}
	}
	return out, nil
}

// Flatten collapses every dimension after the batch into one.
type Flatten struct{}

func (Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() < 2 {
		return nil, fmt.Errorf("flatten needs a batch dimension, got %s", tensor.FormatShape(x.Shape))
	}
	return x.Reshape(x.Shape[0], tensor.Volume(x.Shape[1:]))
}

// Dropout zeroes activations with probability P while training and scales
// the survivors by 1/(1-P). In inference mode it is the identity.
type Dropout struct {
	P        float64
	training bool
	rng      *rand.Rand
}

func NewDropout(p float64, seed int64) *Dropout {
	return &Dropout{P: p, rng: rand.New(rand.NewSource(seed))}
}

func (d *Dropout) SetTraining(training bool) {
	d.training = training
}

func (d *Dropout) Training() bool {
	return d.training
}

func (d *Dropout) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if !d.training || d.P == 0 {
		return x, nil
	}
	out := x.Clone()
	scale := float32(1 / (1 - d.P))
	for i := range out.Data {
		if d.rng.Float64() < d.P {
			out.Data[i] = 0
		} else {
			out.Data[i] *= scale
		}
	}
	return out, nil
}
