// Package matte is a built-in segmenter that keys out the colour found
// along the image border. It needs no model assets.
package matte

import (
	"context"
	"image"
	"math"

	"github.com/lehigh-university-libraries/bgremover/internal/providers"
)

// BorderKey treats pixels close to the mean border colour as background.
type BorderKey struct {
	// Tolerance is the colour distance below which a pixel is background.
	Tolerance float64
	// Feather is the distance over which alpha ramps up to opaque.
	Feather float64
}

func New() *BorderKey {
	return &BorderKey{
		Tolerance: 24,
		Feather:   48,
	}
}

func (b *BorderKey) NeedsAssets() bool { return false }

func (b *BorderKey) Segment(ctx context.Context, img image.Image, req providers.Request) (*image.Alpha, error) {
	src := providers.ToNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return mask, nil
	}

	// already cut out
	if hasUsefulAlpha(src) {
		for i := 0; i < w*h; i++ {
			mask.Pix[i] = src.Pix[i*4+3]
		}
		return mask, nil
	}

	bg, spread := borderColour(src)
	lo := math.Max(b.Tolerance, 2*spread)
	hi := lo + math.Max(b.Feather, 1)

	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := y * src.Stride
		for x := 0; x < w; x++ {
			i := row + x*4
			d := distance(src.Pix[i], src.Pix[i+1], src.Pix[i+2], bg)
			mask.Pix[y*mask.Stride+x] = uint8(smoothstep(lo, hi, d)*255 + 0.5)
		}
	}
	return mask, nil
}

// hasUsefulAlpha reports whether any pixel is not fully opaque.
func hasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// borderColour is the mean colour of a thin ring around the image and the
// mean distance of ring pixels from it.
func borderColour(img *image.NRGBA) ([3]float64, float64) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	ring := max(1, min(w, h)/50)

	var sum [3]float64
	var pixels [][3]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= ring && x < w-ring && y >= ring && y < h-ring {
				continue
			}
			i := y*img.Stride + x*4
			p := [3]uint8{img.Pix[i], img.Pix[i+1], img.Pix[i+2]}
			pixels = append(pixels, p)
			sum[0] += float64(p[0])
			sum[1] += float64(p[1])
			sum[2] += float64(p[2])
		}
	}

	n := float64(len(pixels))
	mean := [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
	var spread float64
	for _, p := range pixels {
		spread += distance(p[0], p[1], p[2], mean)
	}
	return mean, spread / n
}

func distance(r, g, b uint8, c [3]float64) float64 {
	dr := float64(r) - c[0]
	dg := float64(g) - c[1]
	db := float64(b) - c[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func smoothstep(lo, hi, x float64) float64 {
	if x <= lo {
		return 0
	}
	if x >= hi {
		return 1
	}
	t := (x - lo) / (hi - lo)
	return t * t * (3 - 2*t)
}
