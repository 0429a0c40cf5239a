package nn

import (
	"fmt"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

// Conv2d is a square-kernel 2D convolution with zero padding.
// Weight has shape (out, in, k, k) and Bias (out).
type Conv2d struct {
	InChannels  int
	OutChannels int
	Kernel      int
	Padding     int
	Stride      int

	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

// NewConv2d creates a zero-initialised convolution.
func NewConv2d(in, out, kernel, padding, stride int) *Conv2d {
	return &Conv2d{
		InChannels:  in,
		OutChannels: out,
		Kernel:      kernel,
		Padding:     padding,
		Stride:      stride,
		Weight:      tensor.New(out, in, kernel, kernel),
		Bias:        tensor.New(out),
	}
}

func (c *Conv2d) Params() []Param {
	return []Param{{Name: "weight", Value: c.Weight}, {Name: "bias", Value: c.Bias}}
}

func (c *Conv2d) outSize(n int) int {
	return (n+2*c.Padding-c.Kernel)/c.Stride + 1
}

func (c *Conv2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if err := expectDims(x, 4); err != nil {
		return nil, err
	}
	n, ch, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	if ch != c.InChannels {
		return nil, fmt.Errorf("conv expects %d channels, got %d", c.InChannels, ch)
	}
	if h+2*c.Padding < c.Kernel || w+2*c.Padding < c.Kernel {
		return nil, fmt.Errorf("input %dx%d too small for kernel %d", h, w, c.Kernel)
	}
	oh, ow := c.outSize(h), c.outSize(w)

	out := tensor.New(n, c.OutChannels, oh, ow)
	k, p, s := c.Kernel, c.Padding, c.Stride
	inPlane, outPlane := h*w, oh*ow

	for b := 0; b < n; b++ {
		in := x.Data[b*ch*inPlane : (b+1)*ch*inPlane]
		dst := out.Data[b*c.OutChannels*outPlane : (b+1)*c.OutChannels*outPlane]

		parallelFor(c.OutChannels, func(lo, hi int) {
			for o := lo; o < hi; o++ {
				plane := dst[o*outPlane : (o+1)*outPlane]
				bias := c.Bias.Data[o]
				for i := range plane {
					plane[i] = bias
				}
				for ci := 0; ci < ch; ci++ {
					src := in[ci*inPlane : (ci+1)*inPlane]
					kern := c.Weight.Data[(o*ch+ci)*k*k : (o*ch+ci+1)*k*k]
					for ky := 0; ky < k; ky++ {
						for kx := 0; kx < k; kx++ {
							wv := kern[ky*k+kx]
							if wv == 0 {
								continue
							}
							// valid output columns: 0 <= ox*s+kx-p < w
							oxLo := 0
							if p > kx {
								oxLo = (p - kx + s - 1) / s
							}
							lim := w - 1 - kx + p
							if lim < 0 {
								continue
							}
							oxHi := lim / s
							if oxHi >= ow {
								oxHi = ow - 1
							}
							for oy := 0; oy < oh; oy++ {
								iy := oy*s + ky - p
								if iy < 0 || iy >= h {
									continue
								}
								row := src[iy*w:]
								orow := plane[oy*ow:]
								for ox := oxLo; ox <= oxHi; ox++ {
									orow[ox] += wv * row[ox*s+kx-p]
								}
							}
						}
					}
				}
			}
		})
	}
	return out, nil
}
