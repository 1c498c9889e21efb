package providers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Request describes what a segmenter should produce
type Request struct {
	Model    string
	Device   string
	ModelDir string
}

// Segmenter produces a foreground mask the size of the input image
type Segmenter interface {
	Segment(ctx context.Context, img image.Image, req Request) (*image.Alpha, error)
	// NeedsAssets reports whether model files must be cached before Segment
	NeedsAssets() bool
}

// EncodePNG is the wire format most segmentation backends accept.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// MaskFromImage reads a mask out of a backend response. Images with
// transparency contribute their alpha channel; opaque images are treated as
// grayscale masks.
func MaskFromImage(img image.Image) *image.Alpha {
	b := img.Bounds()
	mask := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))

	opaque := true
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			var a uint8
			if opaque {
				a = color.GrayModel.Convert(c).(color.Gray).Y
			} else {
				_, _, _, a16 := c.RGBA()
				a = uint8(a16 >> 8)
			}
			mask.Pix[(y-b.Min.Y)*mask.Stride+(x-b.Min.X)] = a
		}
	}
	return mask
}

// ToNRGBA converts img to a zero-origin NRGBA copy unless it already is one.
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Bounds().Min == (image.Point{}) {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
