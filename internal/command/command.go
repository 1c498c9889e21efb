// Package command runs an external segmentation program. The program reads
// a PNG on stdin and writes a mask (or cut-out) PNG to stdout.
package command

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os/exec"
	"strings"

	"github.com/lehigh-university-libraries/bgremover/internal/providers"
)

// Exec is a segmenter backed by a local executable
type Exec struct {
	Path string
	Args []string
}

// New splits a command line such as "rembg i -m {model} - -" into an Exec.
func New(commandLine string) (*Exec, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("segmenter command is empty")
	}
	return &Exec{Path: fields[0], Args: fields[1:]}, nil
}

// NeedsAssets is true so the model directory exists before the program runs.
func (e *Exec) NeedsAssets() bool { return true }

func (e *Exec) Segment(ctx context.Context, img image.Image, req providers.Request) (*image.Alpha, error) {
	data, err := providers.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Path, expand(e.Args, req)...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("segmenter command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode segmenter output: %w", err)
	}

	mask := providers.MaskFromImage(out)
	b := img.Bounds()
	if mask.Bounds().Dx() != b.Dx() || mask.Bounds().Dy() != b.Dy() {
		return nil, fmt.Errorf("segmenter output is %dx%d, expected %dx%d",
			mask.Bounds().Dx(), mask.Bounds().Dy(), b.Dx(), b.Dy())
	}
	return mask, nil
}

func expand(args []string, req providers.Request) []string {
	r := strings.NewReplacer(
		"{model}", req.Model,
		"{model_dir}", req.ModelDir,
		"{device}", req.Device,
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}
