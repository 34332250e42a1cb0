package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/register-extractor/cmd/register-extractor/ui"
	"github.com/spherical/register-extractor/pkg/extractor"
)

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <pdf>",
	Short: "Score a PDF's pages and suggest where the register map is",
	Long: `Analyze reads every page, scores it for register content and prints the
suggested pages, the document hints and a page range ready for
"extract --pages". No extraction model is called.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the analysis as JSON")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	client, err := extractor.NewClientWithOptions(cmd.Context(), extractor.Options{
		ConfigPath:  cfgFile,
		LogLevel:    logLevel(),
		AnalyzeOnly: true,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	var spinner *ui.Spinner
	if !analyzeJSON {
		spinner = ui.NewSpinner("Scoring pages...")
		spinner.Start()
	}
	analysis, err := client.Analyze(cmd.Context(), args[0])
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return fmt.Errorf("analyze %s: %w", args[0], err)
	}

	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(analysis)
	}

	ui.Section("Document analysis")
	ui.KeyValue("Pages", fmt.Sprintf("%d", analysis.TotalPages))
	ui.KeyValue("Suggested pages", fmt.Sprintf("%d", len(analysis.SuggestedPages)))

	if len(analysis.SuggestedPages) == 0 {
		ui.Newline()
		ui.Warning("No page looks like a register map; extraction would scan the whole document")
		return nil
	}

	ui.Newline()
	ui.Table([]string{"Page", "Score", "Table", "Section"}, ui.PageRows(analysis.SuggestedPages))

	if len(analysis.Hints) > 0 {
		ui.Section("Hints")
		for _, h := range analysis.Hints {
			ui.KeyValue(string(h.Type), h.Context)
		}
	}

	ui.Newline()
	ui.Success("Suggested range: %s", analysis.SuggestedRange)
	ui.Info("Run: register-extractor extract %s --pages %s", args[0], analysis.SuggestedRange)
	return nil
}
