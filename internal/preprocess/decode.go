package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/jdeng/goheif"
)

// MaxPixels bounds width*height of an accepted image. Larger headers are
// rejected before any pixel data is decoded.
const MaxPixels = 50_000_000

// DecodeError means the uploaded bytes are not an image we can read.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("cannot decode %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("cannot decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var heifBrands = map[string]bool{
	"heic": true, "heix": true, "heim": true, "heis": true,
	"hevc": true, "hevx": true, "hevm": true, "hevs": true,
	"mif1": true, "msf1": true,
}

// isHEIF reports whether data starts with an ISO-BMFF ftyp box naming a
// HEIF brand.
func isHEIF(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	return heifBrands[string(data[8:12])]
}

// Decode reads PNG, JPEG and HEIC/HEIF data. The format is taken from the
// content, never from a file name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Err: fmt.Errorf("empty input")}
	}

	heif := isHEIF(data)
	var (
		cfg    image.Config
		img    image.Image
		format string
		err    error
	)
	if heif {
		format = "heif"
		cfg, err = goheif.DecodeConfig(bytes.NewReader(data))
	} else {
		cfg, format, err = image.DecodeConfig(bytes.NewReader(data))
	}
	if err != nil {
		return nil, format, &DecodeError{Format: format, Err: err}
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > MaxPixels {
		return nil, format, &DecodeError{
			Format: format,
			Err:    fmt.Errorf("%dx%d image exceeds %d pixels", cfg.Width, cfg.Height, MaxPixels),
		}
	}

	if heif {
		img, err = goheif.Decode(bytes.NewReader(data))
	} else {
		img, format, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, format, &DecodeError{Format: format, Err: err}
	}
	if img.Bounds().Empty() {
		return nil, format, &DecodeError{Format: format, Err: fmt.Errorf("image has no pixels")}
	}
	return img, format, nil
}
