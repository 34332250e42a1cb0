package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/register-extractor/cmd/register-extractor/ui"
)

var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "register-extractor",
	Short: "Extract Modbus register maps from PDF manuals",
	Long: `register-extractor scores the pages of a device manual, sends the
register-bearing pages to an extraction model in batches and merges the
results into a single register list. Run it as an HTTP service or directly
against local files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			cfgFile = os.Getenv("CONFIG_PATH")
		}
		ui.InitUI(noColor, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func logLevel() string {
	if verbose {
		return "debug"
	}
	return "warn"
}
