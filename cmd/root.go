package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/bgremover/internal/config"
	"github.com/lehigh-university-libraries/bgremover/internal/logging"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	verbose    bool
	cfg        config.Config
}

func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "bgremover",
		Short: "Remove image backgrounds locally",
		Long: `bgremover removes the background from one image at a time.

Run "bgremover serve" for the drag-and-drop web interface, or "bgremover remove"
to process files from the command line. Model assets are fetched on first use
or ahead of time with "bgremover preload".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logging.Setup(cmd.ErrOrStderr(), opts.verbose || cfg.Removal.Debug)
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file (default ./"+config.DefaultFile+" when present)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")

	// Add subcommands
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRemoveCmd(opts))
	cmd.AddCommand(newPreloadCmd(opts))

	return cmd
}
