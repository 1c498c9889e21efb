package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/bgremover/internal/progress"
	"github.com/lehigh-university-libraries/bgremover/internal/removal"
	"github.com/lehigh-university-libraries/bgremover/internal/session"
	"github.com/lehigh-university-libraries/bgremover/internal/upload"
)

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	var (
		outputDir string
		model     string
		format    string
		quality   float64
	)

	cmd := &cobra.Command{
		Use:   "remove <files...>",
		Short: "Remove the background from an image file",
		Long: `Removes the background from the first image among the given files.

Files that are not images are skipped. The result is written next to the
input (or into --output) as <name>_no_bg.png.`,
		Example: `  # Cut out a photo
  bgremover remove photo.jpg

  # Write a JPEG flattened on white into ./out
  bgremover remove --format image/jpeg --quality 0.8 --output out photo.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, mimeType, ok := upload.SelectFirstImagePath(args)
			if !ok {
				fmt.Fprintln(cmd.ErrOrStderr(), "No image among the given files, nothing to do")
				return nil
			}

			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.Size() > opts.cfg.Upload.MaxBytes {
				return fmt.Errorf("%s: %w (max %d bytes)", path, upload.ErrTooLarge, opts.cfg.Upload.MaxBytes)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			service, _, err := newService(opts.cfg)
			if err != nil {
				return err
			}

			overrides := &removal.Overrides{}
			if cmd.Flags().Changed("model") {
				overrides.Model = &model
			}
			if cmd.Flags().Changed("format") || cmd.Flags().Changed("quality") {
				output := service.Defaults().Output
				if cmd.Flags().Changed("format") {
					output.Format = format
				}
				if cmd.Flags().Changed("quality") {
					output.Quality = quality
				}
				overrides.Output = &output
			}

			slog.Info("Removing background", "file", path, "type", mimeType, "size", len(data))
			printer := newProgressPrinter(cmd)
			out, err := service.RemoveImageBackground(cmd.Context(), data, overrides, printer.report)
			printer.done()
			if err != nil {
				slog.Error("Background removal failed", "file", path, "err", err)
				return fmt.Errorf("%s: %s", filepath.Base(path), session.FailureMessage)
			}

			dir := outputDir
			if dir == "" {
				dir = filepath.Dir(path)
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			outputFormat := service.Defaults().Output.Format
			if overrides.Output != nil {
				outputFormat = overrides.Output.Format
			}
			dest := filepath.Join(dir, outputName(filepath.Base(path), outputFormat))
			if err := os.WriteFile(dest, out, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", dest, err)
			}

			slog.Info("Background removed", "output", dest, "size", len(out))
			fmt.Fprintln(cmd.OutOrStdout(), dest)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for the result (default: next to the input)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to use (overrides the configured model)")
	cmd.Flags().StringVarP(&format, "format", "f", removal.FormatPNG, "Output MIME type (image/png, image/jpeg, image/x-rgba8, image/x-alpha8)")
	cmd.Flags().Float64VarP(&quality, "quality", "q", 0.9, "Output quality between 0 and 1")

	return cmd
}

// outputName is the download name with an extension matching format.
func outputName(name, format string) string {
	base := strings.TrimSuffix(session.DownloadName(name), ".png")
	switch format {
	case removal.FormatJPEG:
		return base + ".jpg"
	case removal.FormatRGBA8:
		return base + ".rgba"
	case removal.FormatAlpha8:
		return base + ".alpha"
	default:
		return base + ".png"
	}
}

// progressPrinter writes a line whenever the percentage of a key changes.
type progressPrinter struct {
	cmd  *cobra.Command
	mu   sync.Mutex
	last map[string]int
}

func newProgressPrinter(cmd *cobra.Command) *progressPrinter {
	return &progressPrinter{cmd: cmd, last: make(map[string]int)}
}

func (p *progressPrinter) report(key string, current, total int64) {
	percent := progress.Sample{Key: key, Current: current, Total: total}.Percent()

	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.last[key]; ok && last == percent {
		return
	}
	p.last[key] = percent
	fmt.Fprintf(p.cmd.ErrOrStderr(), "\r%s %3d%%", key, percent)
}

func (p *progressPrinter) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.last) > 0 {
		fmt.Fprintln(p.cmd.ErrOrStderr())
	}
}
