package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/metrics"
)

var (
	flagScanFormat     string
	flagScanOut        string
	flagScanDiff       string
	flagScanSeverity   string
	flagScanStats      bool
	flagScanMetricsOut string
)

func init() {
	scanCmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan the project, or one file, and report findings",
		Long: `Scan runs the configured scanner over the whole project, or over a single
file when a path is given, and prints the findings at or above the minimum
severity.

Output defaults to colored text on a terminal and JSON when piped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runScan,
	}

	scanCmd.Flags().StringVarP(&flagScanFormat, "format", "f", "", "Output format: json, sarif, markdown, pretty (default: pretty on a terminal, json otherwise)")
	scanCmd.Flags().StringVarP(&flagScanOut, "out", "o", "", "Write the report to a file instead of stdout")
	scanCmd.Flags().StringVar(&flagScanSeverity, "min-severity", "", "Lowest severity to report (default: min_severity from config)")
	scanCmd.Flags().StringVar(&flagScanDiff, "diff", "", "Only report findings on lines added by this unified diff (- for stdin)")
	scanCmd.Flags().BoolVar(&flagScanStats, "stats", false, "Print scan statistics to stderr")
	scanCmd.Flags().StringVar(&flagScanMetricsOut, "metrics-out", "", "Write scan metrics as JSON to this file")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	min, err := a.minSeverity(flagScanSeverity)
	if err != nil {
		return err
	}
	changed, err := readDiff(flagScanDiff)
	if err != nil {
		return err
	}

	var (
		run  *finding.ScanRun
		path string
	)
	if len(args) == 1 {
		path = args[0]
		run, err = a.coord.ScanFile(ctx, a.abs(path))
	} else {
		run, err = a.coord.ScanWorkspace(ctx)
	}
	if err != nil {
		return fmt.Errorf("scanning: %w", err)
	}
	for _, note := range run.Errors {
		a.logger.Warn("scanner reported an error", "error", note)
	}

	report := a.buildReport(ctx, run, min, path, changed)
	if err := writeReport(report, flagScanFormat, flagScanOut); err != nil {
		return err
	}
	return writeMetrics(a.collector, flagScanStats, flagScanMetricsOut)
}

func writeMetrics(c *metrics.Collector, stats bool, path string) error {
	exp := metrics.NewExporter(c)
	if stats {
		if err := exp.WriteReport(os.Stderr); err != nil {
			return fmt.Errorf("writing scan statistics: %w", err)
		}
	}
	if path != "" {
		if err := exp.ExportJSON(path); err != nil {
			return fmt.Errorf("exporting metrics: %w", err)
		}
	}
	return nil
}
