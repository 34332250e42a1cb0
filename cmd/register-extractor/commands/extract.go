package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/register-extractor/cmd/register-extractor/ui"
	"github.com/spherical/register-extractor/pkg/extractor"
)

var (
	extractPages    []string
	extractExisting string
	extractFull     bool
	extractOutput   string
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf>",
	Short: "Extract the Modbus register map from a PDF manual",
	Long: `Extract selects the register-bearing pages (or the pages given with
--pages), sends them to the extraction model in batches and writes the merged
register list as JSON.

Pass --existing with a previous result to re-extract: only registers at new
addresses are added.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringSliceVar(&extractPages, "pages", nil, `page ranges, e.g. "54-70" or "3,7,9-12"`)
	extractCmd.Flags().StringVar(&extractExisting, "existing", "", "JSON file with previously extracted registers")
	extractCmd.Flags().BoolVar(&extractFull, "full", false, "ignore --pages and select pages by score")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "output path (default <input-name>-registers.json)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := extractor.ExtractOptions{PageRanges: extractPages, FullDocument: extractFull}
	if extractExisting != "" {
		regs, err := extractor.LoadRegisters(extractExisting)
		if err != nil {
			return err
		}
		opts.Existing = regs
	}

	if extractOutput == "" {
		base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
		extractOutput = filepath.Join(filepath.Dir(pdfPath), base+"-registers.json")
	}

	client, err := extractor.NewClientWithOptions(ctx, extractor.Options{ConfigPath: cfgFile, LogLevel: logLevel()})
	if err != nil {
		return err
	}
	defer client.Close()

	ui.Section("Register extraction")
	ui.KeyValue("PDF", pdfPath)
	ui.KeyValue("Output", extractOutput)
	if len(extractPages) > 0 && !extractFull {
		ui.KeyValue("Pages", strings.Join(extractPages, ", "))
	}
	if opts.Existing != nil {
		ui.KeyValue("Existing registers", fmt.Sprintf("%d", len(opts.Existing)))
	}
	ui.Newline()

	bar := ui.NewProgressBar("Starting")
	tracker := extractor.NewTracker(func(s extractor.Snapshot) {
		if s.Phase == extractor.PhaseExtracting {
			bar.Update(s.Progress, describe(s))
		}
	})

	started := time.Now()
	dispatch(tracker, extractor.BeginUpload())

	run, err := client.Extract(ctx, pdfPath, opts)
	if err != nil {
		dispatch(tracker, extractor.Fail(err))
		bar.Abort()
		return err
	}
	dispatch(tracker, extractor.Uploaded())

	for ev := range run.Events() {
		dispatch(tracker, extractor.Observe(ev))
	}

	snap := tracker.Snapshot()
	switch snap.Phase {
	case extractor.PhaseComplete:
		bar.Finish()
		return report(snap.Result, time.Since(started))
	case extractor.PhaseError:
		bar.Abort()
		return errors.New(snap.Error)
	}

	// The stream closed without a terminal event: the run was cancelled.
	dispatch(tracker, extractor.CancelAction())
	bar.Abort()
	if errors.Is(ctx.Err(), context.Canceled) {
		ui.Warning("Extraction cancelled")
		return nil
	}
	return errors.New("extraction ended without a result")
}

// dispatch applies an action to the tracker. Rejected actions leave the
// tracker untouched and are only reported in verbose mode.
func dispatch(tracker *extractor.Tracker, a extractor.Action) error {
	_, err := tracker.Dispatch(a)
	if err != nil {
		ui.Debug("tracker ignored action: %v", err)
	}
	return err
}

func describe(s extractor.Snapshot) string {
	if c := s.Counters; c != nil && c.TotalBatches > 0 {
		return fmt.Sprintf("Batch %d/%d", c.CurrentBatch, c.TotalBatches)
	}
	if s.Message != "" {
		return s.Message
	}
	return string(s.Stage)
}

func report(res *extractor.Result, elapsed time.Duration) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(extractOutput, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", extractOutput, err)
	}

	md := res.ExtractionMetadata
	ui.Newline()
	if res.Message != "" {
		ui.Info("%s", res.Message)
	}
	ui.KeyValue("Registers", fmt.Sprintf("%d", len(res.Registers)))
	ui.KeyValue("Pages analyzed", fmt.Sprintf("%d of %d", md.PagesAnalyzed, md.TotalPages))
	ui.KeyValue("Confidence", string(md.ConfidenceLevel))
	if md.BatchSummary != nil {
		ui.KeyValue("Selection", fmt.Sprintf("%s (%s)", md.BatchSummary.SelectionMode, md.BatchSummary.PageRanges))
	}
	if md.FromCache {
		ui.KeyValue("Source", "cache")
	}
	if md.RejectedRecords > 0 {
		ui.Warning("%d records failed validation and were dropped", md.RejectedRecords)
	}

	if ui.Verbose() && len(res.Registers) > 0 {
		ui.Newline()
		ui.Table([]string{"Address", "Name", "Type", "Access"}, ui.RegisterRows(res.Registers))
	}

	ui.Newline()
	ui.Success("Wrote %s in %s", extractOutput, ui.FormatDuration(elapsed))
	return nil
}
