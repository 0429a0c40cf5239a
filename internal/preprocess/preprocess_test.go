package preprocess

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/nfnt/resize"

	"github.com/Brownie44l1/waste-api/internal/tensor"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 3), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeConstantHalfIsZero(t *testing.T) {
	x := tensor.Full(0.5, 1, 3, 128, 128)
	Normalize(x, DefaultMean, DefaultStd)
	for i, v := range x.Data {
		if v != 0 {
			t.Fatalf("element %d = %v, want 0", i, v)
		}
	}
}

func TestNormalizeRange(t *testing.T) {
	x, _ := tensor.FromData([]float32{0, 1, 0, 1, 0, 1}, 1, 3, 1, 2)
	Normalize(x, DefaultMean, DefaultStd)
	want := []float32{-1, 1, -1, 1, -1, 1}
	for i := range want {
		if x.Data[i] != want[i] {
			t.Errorf("element %d = %v, want %v", i, x.Data[i], want[i])
		}
	}
}

func TestPreprocessShapeForAnyInputSize(t *testing.T) {
	p := Default()
	sizes := []image.Point{{10, 10}, {4000, 3000}, {128, 128}}
	for _, sz := range sizes {
		out, err := p.Preprocess(gradient(sz.X, sz.Y))
		if err != nil {
			t.Fatalf("%v: %v", sz, err)
		}
		if !tensor.SameShape(out.Shape, []int{1, 3, 128, 128}) {
			t.Fatalf("%v: shape %v", sz, out.Shape)
		}
		for i, v := range out.Data {
			if v < -1 || v > 1 {
				t.Fatalf("%v: element %d = %v out of [-1, 1]", sz, i, v)
			}
		}
	}
}

func TestPreprocessSolidGreen(t *testing.T) {
	out, err := Default().Preprocess(solid(300, 200, color.RGBA{G: 255, A: 255}))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	plane := 128 * 128
	for i := 0; i < plane; i++ {
		if out.Data[i] != -1 || out.Data[plane+i] != 1 || out.Data[2*plane+i] != -1 {
			t.Fatalf("pixel %d = (%v, %v, %v), want (-1, 1, -1)",
				i, out.Data[i], out.Data[plane+i], out.Data[2*plane+i])
		}
	}
}

func TestPreprocessChannelMajorLayout(t *testing.T) {
	img := solid(128, 128, color.RGBA{A: 255})
	img.Set(5, 2, color.RGBA{R: 255, B: 255, A: 255})

	out, err := Default().Preprocess(img)
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	plane := 128 * 128
	i := 2*128 + 5
	if out.Data[i] != 1 || out.Data[plane+i] != -1 || out.Data[2*plane+i] != 1 {
		t.Errorf("pixel (5, 2) = (%v, %v, %v)", out.Data[i], out.Data[plane+i], out.Data[2*plane+i])
	}
	if out.Data[i+1] != -1 {
		t.Errorf("neighbouring pixel should stay black")
	}
}

func TestPreprocessIsReproducible(t *testing.T) {
	data := encodePNG(t, gradient(333, 211))
	p := Default()
	a, err := p.FromBytes(data)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := p.FromBytes(data)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("element %d differs: %v vs %v", i, a.Data[i], b.Data[i])
		}
	}
}

func TestPreprocessGreyAndAlpha(t *testing.T) {
	grey := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range grey.Pix {
		grey.Pix[i] = 255
	}
	out, err := Default().Preprocess(grey)
	if err != nil {
		t.Fatalf("grey: %v", err)
	}
	for i, v := range out.Data {
		if v != 1 {
			t.Fatalf("grey element %d = %v, want 1", i, v)
		}
	}

	// fully transparent red: alpha is dropped, colour is kept
	transparent := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(transparent.Pix); i += 4 {
		transparent.Pix[i] = 255
	}
	out, err = Default().Preprocess(transparent)
	if err != nil {
		t.Fatalf("alpha: %v", err)
	}
	plane := 128 * 128
	if out.Data[0] != 1 || out.Data[plane] != -1 {
		t.Errorf("transparent red became (%v, %v)", out.Data[0], out.Data[plane])
	}
}

func TestPreprocessOffsetBounds(t *testing.T) {
	img := solid(200, 200, color.RGBA{R: 255, A: 255}).SubImage(image.Rect(50, 50, 178, 178))
	out, err := Default().Preprocess(img)
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if out.Data[0] != 1 {
		t.Errorf("sub-image origin not handled: %v", out.Data[0])
	}
}

func TestDecodeFormats(t *testing.T) {
	img := gradient(40, 30)

	_, format, err := Decode(encodePNG(t, img))
	if err != nil || format != "png" {
		t.Fatalf("png: format %q err %v", format, err)
	}

	var jbuf bytes.Buffer
	if err := jpeg.Encode(&jbuf, img, nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	decoded, format, err := Decode(jbuf.Bytes())
	if err != nil || format != "jpeg" {
		t.Fatalf("jpeg: format %q err %v", format, err)
	}
	if decoded.Bounds().Dx() != 40 || decoded.Bounds().Dy() != 30 {
		t.Errorf("jpeg bounds %v", decoded.Bounds())
	}
}

func TestDecodeRejectsNonImages(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"text named png", []byte("this is a text file, not a picture\n")},
		{"empty", nil},
		{"truncated png", encodePNG(t, gradient(8, 8))[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Default().FromBytes(tt.data)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

// pngHeader returns a PNG signature and IHDR chunk for an 8-bit grey image
// of the given size, with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth; colour type 0 is grey

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedImages(t *testing.T) {
	_, _, err := Decode(pngHeader(12000, 12000))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Format != "png" || !strings.Contains(de.Error(), "exceeds") {
		t.Errorf("unexpected error %v", de)
	}

	// a header at the limit passes the size check and fails on the missing pixels
	_, _, err = Decode(pngHeader(10000, 5000))
	if !errors.As(err, &de) || strings.Contains(de.Error(), "exceeds") {
		t.Errorf("50 MP header: got %v, want a pixel data error", err)
	}
}

func TestPreprocessEmptyImage(t *testing.T) {
	_, err := Default().Preprocess(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		want    resize.InterpolationFunction
		wantErr bool
	}{
		{"", resize.Bilinear, false},
		{"Bilinear", resize.Bilinear, false},
		{"nearest", resize.NearestNeighbor, false},
		{"lanczos3", resize.Lanczos3, false},
		{"sinc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFilter(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFilter(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseFilter(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
