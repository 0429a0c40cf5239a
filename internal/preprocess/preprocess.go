// Package preprocess turns uploaded image bytes into the normalized
// (1, 3, 128, 128) tensor the classifier expects:
//
//  1. drop alpha / expand grey to opaque RGB
//  2. resize to 128x128 with a fixed filter (bilinear unless configured)
//  3. scale 8-bit channels to [0, 1]
//  4. normalize each channel with (v - 0.5) / 0.5 into [-1, 1]
//  5. lay out channel-major with a leading batch dimension
//
// The output is a pure function of the decoded pixels.
package preprocess

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

const (
	Size     = 128
	Channels = 3
)

var (
	DefaultMean = [Channels]float32{0.5, 0.5, 0.5}
	DefaultStd  = [Channels]float32{0.5, 0.5, 0.5}
)

// ParseFilter maps a config name to a resample filter. The filter changes
// the pixels the network sees, so it must match the one used in training.
func ParseFilter(name string) (resize.InterpolationFunction, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bilinear":
		return resize.Bilinear, nil
	case "nearest":
		return resize.NearestNeighbor, nil
	case "bicubic":
		return resize.Bicubic, nil
	case "mitchell":
		return resize.MitchellNetravali, nil
	case "lanczos2":
		return resize.Lanczos2, nil
	case "lanczos3":
		return resize.Lanczos3, nil
	}
	return 0, fmt.Errorf("unknown resize filter %q", name)
}

// Pipeline holds the fixed preprocessing parameters. It is immutable and
// safe for concurrent use.
type Pipeline struct {
	Size   int
	Filter resize.InterpolationFunction
	Mean   [Channels]float32
	Std    [Channels]float32
}

// Default is the pipeline the shipped weights were trained with.
func Default() *Pipeline {
	return New(Size, resize.Bilinear)
}

func New(size int, filter resize.InterpolationFunction) *Pipeline {
	return &Pipeline{
		Size:   size,
		Filter: filter,
		Mean:   DefaultMean,
		Std:    DefaultStd,
	}
}

// Shape is the tensor shape Preprocess produces.
func (p *Pipeline) Shape() []int {
	return []int{1, Channels, p.Size, p.Size}
}

// FromBytes decodes data and preprocesses the result.
func (p *Pipeline) FromBytes(data []byte) (*tensor.Tensor, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return p.Preprocess(img)
}

// Preprocess converts a decoded image into a normalized batch of one.
func (p *Pipeline) Preprocess(img image.Image) (*tensor.Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &DecodeError{Err: fmt.Errorf("image has no pixels")}
	}

	rgb := ToRGB(img)
	var resized image.Image = rgb
	if rgb.Bounds().Dx() != p.Size || rgb.Bounds().Dy() != p.Size {
		resized = resize.Resize(uint(p.Size), uint(p.Size), rgb, p.Filter)
	}

	out := tensor.New(p.Shape()...)
	fillCHW(out.Data, resized, p.Size)
	Normalize(out, p.Mean, p.Std)
	return out, nil
}

// fillCHW writes pixel values scaled to [0, 1] in channel-major order.
func fillCHW(dst []float32, img image.Image, size int) {
	plane := size * size
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		for y := 0; y < size; y++ {
			row := rgba.Pix[y*rgba.Stride:]
			for x := 0; x < size; x++ {
				i := y*size + x
				dst[i] = float32(row[x*4]) / 255
				dst[plane+i] = float32(row[x*4+1]) / 255
				dst[2*plane+i] = float32(row[x*4+2]) / 255
			}
		}
		return
	}

	b := img.Bounds()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*size + x
			dst[i] = float32(c.R) / 255
			dst[plane+i] = float32(c.G) / 255
			dst[2*plane+i] = float32(c.B) / 255
		}
	}
}

// Normalize applies (v - mean[c]) / std[c] in place to an (N, C, H, W)
// tensor.
func Normalize(t *tensor.Tensor, mean, std [Channels]float32) {
	if t.Dims() != 4 || t.Shape[1] != Channels {
		return
	}
	plane := t.Shape[2] * t.Shape[3]
	for n := 0; n < t.Shape[0]; n++ {
		for c := 0; c < Channels; c++ {
			base := (n*Channels + c) * plane
			vals := t.Data[base : base+plane]
			for i, v := range vals {
				vals[i] = (v - mean[c]) / std[c]
			}
		}
	}
}

// ToRGB returns an opaque copy of img anchored at the origin. Alpha is
// discarded rather than composited, matching an RGB conversion of the
// straight (non-premultiplied) colour values.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	for y := 0; y < b.Dy(); y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			row[x*4] = c.R
			row[x*4+1] = c.G
			row[x*4+2] = c.B
			row[x*4+3] = 0xff
		}
	}
	return dst
}
