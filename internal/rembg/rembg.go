// Package rembg is the in-process background removal library. It decodes
// the input, asks a segmenter for a foreground mask and encodes the cut-out.
package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"log/slog"
	"time"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lehigh-university-libraries/bgremover/internal/assets"
	"github.com/lehigh-university-libraries/bgremover/internal/providers"
	"github.com/lehigh-university-libraries/bgremover/internal/removal"
)

// DefaultMaxSide bounds the longest side handed to a segmenter.
const DefaultMaxSide = 1024

var ErrUnsupportedFormat = errors.New("unsupported output format")

// AssetFetcher makes model assets available locally.
type AssetFetcher interface {
	Fetch(ctx context.Context, model string, progress assets.ProgressFunc) (string, error)
	ModelDir(model string) string
}

// Engine implements removal.Library
type Engine struct {
	segmenter providers.Segmenter
	fetcher   AssetFetcher
	maxSide   int
}

// New creates an engine. fetcher may be nil when no asset source is
// configured; maxSide <= 0 selects DefaultMaxSide.
func New(segmenter providers.Segmenter, fetcher AssetFetcher, maxSide int) *Engine {
	if maxSide <= 0 {
		maxSide = DefaultMaxSide
	}
	return &Engine{
		segmenter: segmenter,
		fetcher:   fetcher,
		maxSide:   maxSide,
	}
}

// Preload fetches the assets of cfg.Model, reporting download progress.
func (e *Engine) Preload(ctx context.Context, cfg removal.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if e.fetcher == nil {
		slog.Debug("No asset source configured, nothing to preload", "model", cfg.Model)
		return nil
	}
	_, err := e.fetcher.Fetch(ctx, cfg.Model, assets.ProgressFunc(cfg.Progress))
	return err
}

// RemoveBackground returns input with its background made transparent,
// encoded as cfg.Output.Format.
func (e *Engine) RemoveBackground(ctx context.Context, input []byte, cfg removal.Config) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !supported(cfg.Output.Format) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cfg.Output.Format)
	}

	start := time.Now()
	req := providers.Request{
		Model:  cfg.Model,
		Device: string(cfg.Device),
	}
	if e.fetcher != nil {
		req.ModelDir = e.fetcher.ModelDir(cfg.Model)
		if e.segmenter.NeedsAssets() {
			dir, err := e.fetcher.Fetch(ctx, cfg.Model, assets.ProgressFunc(cfg.Progress))
			if err != nil {
				return nil, fmt.Errorf("failed to fetch assets: %w", err)
			}
			req.ModelDir = dir
		}
	}

	img, format, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	src := providers.ToNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("image has no pixels")
	}

	small := resizeWithinMax(src, e.maxSide)
	mask, err := e.segmenter.Segment(ctx, small, req)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	if mask.Bounds().Dx() != w || mask.Bounds().Dy() != h {
		mask = scaleMask(mask, w, h)
	}

	out := composite(src, mask)
	encoded, err := encode(out, cfg.Output)
	if err != nil {
		return nil, err
	}

	if cfg.Debug {
		slog.Info("Removed background",
			"input_format", format,
			"width", w,
			"height", h,
			"segmented_width", small.Bounds().Dx(),
			"output_format", cfg.Output.Format,
			"bytes", len(encoded),
			"duration", time.Since(start))
	}
	return encoded, nil
}

func supported(format string) bool {
	switch format {
	case removal.FormatPNG, removal.FormatJPEG, removal.FormatRGBA8, removal.FormatAlpha8:
		return true
	}
	return false
}

// resizeWithinMax scales img so its longest side is at most maxSide.
func resizeWithinMax(img *image.NRGBA, maxSide int) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxSide {
		return img
	}

	scale := float64(maxSide) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	resized := resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
	return providers.ToNRGBA(resized)
}

func scaleMask(mask *image.Alpha, w, h int) *image.Alpha {
	dst := image.NewAlpha(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), mask, mask.Bounds(), xdraw.Src, nil)
	return dst
}

// composite multiplies the source alpha by the mask.
func composite(src *image.NRGBA, mask *image.Alpha) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(b)
	copy(out.Pix, src.Pix)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := y*out.Stride + x*4 + 3
			m := uint32(mask.Pix[y*mask.Stride+x])
			out.Pix[i] = uint8(uint32(out.Pix[i]) * m / 255)
		}
	}
	return out
}

func encode(img *image.NRGBA, out removal.OutputConfig) ([]byte, error) {
	var buf bytes.Buffer
	switch out.Format {
	case removal.FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	case removal.FormatJPEG:
		// jpeg has no alpha channel
		flat := image.NewRGBA(img.Bounds())
		draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)
		quality := min(100, max(1, int(out.Quality*100)))
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case removal.FormatRGBA8:
		buf.Write(img.Pix)
	case removal.FormatAlpha8:
		alpha := make([]byte, 0, len(img.Pix)/4)
		for i := 3; i < len(img.Pix); i += 4 {
			alpha = append(alpha, img.Pix[i])
		}
		buf.Write(alpha)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, out.Format)
	}
	return buf.Bytes(), nil
}
