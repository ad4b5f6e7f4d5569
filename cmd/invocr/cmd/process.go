package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/invocr/internal/batch"
	"github.com/MeKo-Tech/invocr/internal/config"
	"github.com/MeKo-Tech/invocr/internal/export"
	"github.com/spf13/cobra"
)

// processCmd extracts line items from invoice images and PDFs.
var processCmd = &cobra.Command{
	Use:   "process [files...]",
	Short: "Extract, validate and match invoice line items",
	Long: `Process invoice images or scanned PDF invoices and print their line items.

Every file (and every page of a PDF) is processed as its own invoice. Directories
are expanded to the invoice files they contain.

Supported formats: JPEG, PNG, BMP, TIFF, WebP, PDF

Examples:
  invocr process invoice.jpg
  invocr process scans/ --recursive --workers 8
  invocr process a.png b.pdf --format csv --output lines.csv
  invocr process invoice.jpg --catalog products.yaml --slow-provider none`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runProcessCommand,
}

// configToBatchConfig maps the configuration and flags to batch.Config.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) batch.Config {
	bc := batch.DefaultConfig()

	bc.Workers = cfg.Batch.Workers
	if cmd.Flags().Changed("workers") {
		bc.Workers, _ = cmd.Flags().GetInt("workers")
	}
	bc.ContinueOnError = cfg.Batch.ContinueOnError
	if cmd.Flags().Changed("fail-fast") {
		failFast, _ := cmd.Flags().GetBool("fail-fast")
		bc.ContinueOnError = !failFast
	}

	// File discovery settings are CLI-only
	bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	bc.PageRange, _ = cmd.Flags().GetString("pages")

	bc.ShowProgress, _ = cmd.Flags().GetBool("progress")
	bc.Quiet, _ = cmd.Flags().GetBool("quiet")
	bc.ProgressOut = cmd.ErrOrStderr()
	return bc
}

func runProcessCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := applyPipelineFlags(cmd, cfg); err != nil {
		return err
	}

	formatName := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		formatName, _ = cmd.Flags().GetString("format")
	}
	format, err := export.ParseFormat(formatName)
	if err != nil {
		return err
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	if format == export.FormatXLSX && outputFile == "" {
		return fmt.Errorf("format %s requires --output", format)
	}

	bc := configToBatchConfig(cfg, cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildPipeline(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			slog.Warn("Error closing pipeline resources", "error", err)
		}
	}()

	result, err := batch.ProcessBatch(ctx, comps.pipeline, args, bc)
	if err != nil {
		return err
	}

	if err := writeResult(cmd, result, format, outputFile, bc.Quiet); err != nil {
		return err
	}

	stats := result.Stats()
	if showStats, _ := cmd.Flags().GetBool("stats"); showStats && !bc.Quiet {
		result.PrintStats(cmd.ErrOrStderr())
	}
	if stats.Processed == 0 {
		return fmt.Errorf("all %d invoices failed", stats.Documents)
	}
	return nil
}

func writeResult(cmd *cobra.Command, result *batch.Result, format export.Format, outputFile string, quiet bool) error {
	var w io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile) //nolint:gosec // G304: output path is a CLI flag
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := result.Write(w, format); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if outputFile != "" && !quiet {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Results written to %s\n", outputFile)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(processCmd)

	addPipelineFlags(processCmd.Flags())

	// Output flags
	processCmd.Flags().StringP("format", "f", "json", "output format: json, csv, xlsx")
	processCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")

	// Parallel processing flags
	processCmd.Flags().IntP("workers", "w", 0, "number of invoices processed in parallel (default: from config)")
	processCmd.Flags().Bool("fail-fast", false, "abort on the first failed invoice")

	// File discovery flags
	processCmd.Flags().BoolP("recursive", "r", false, "recursively scan directories")
	processCmd.Flags().StringSlice("include", nil, "file patterns to include (e.g. *.pdf)")
	processCmd.Flags().StringSlice("exclude", nil, "file patterns to exclude")
	processCmd.Flags().String("pages", "", "PDF page range (e.g. 1-3,5)")

	// Progress and monitoring flags
	processCmd.Flags().Bool("progress", false, "show per-invoice cell recognition progress")
	processCmd.Flags().Bool("quiet", false, "suppress progress output")
	processCmd.Flags().Bool("stats", false, "show processing statistics")
}
