package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/bgremover/internal/removal"
)

func newPreloadCmd(opts *globalOptions) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "preload",
		Short: "Download model assets ahead of the first removal",
		Long: `Fetches the assets of the configured model into the local cache so the
first removal does not wait for downloads. Requires ASSETS_BASE_URL (or
assets.base_url in the config file); without it there is nothing to fetch.`,
		Example: `  bgremover preload
  bgremover preload --model isnet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, fetcher, err := newService(opts.cfg)
			if err != nil {
				return err
			}
			if fetcher == nil {
				slog.Warn("No asset base URL configured, nothing to preload")
			}

			var overrides *removal.Overrides
			if cmd.Flags().Changed("model") {
				overrides = &removal.Overrides{Model: &model}
			}

			printer := newProgressPrinter(cmd)
			err = service.Preload(cmd.Context(), overrides, printer.report)
			printer.done()
			if err != nil {
				return err
			}

			resolved := service.Defaults().Model
			if overrides != nil {
				resolved = model
			}
			if fetcher != nil {
				fmt.Fprintln(cmd.OutOrStdout(), fetcher.ModelDir(resolved))
			}
			slog.Info("Assets ready", "model", resolved)
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model to preload (overrides the configured model)")

	return cmd
}
