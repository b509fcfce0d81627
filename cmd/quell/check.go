package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/output"
)

var (
	flagCheckFormat   string
	flagCheckOut      string
	flagCheckDiff     string
	flagCheckSeverity string
	flagCheckRegoDir  string
	flagCheckRun      string
)

var checkTracer = otel.Tracer("github.com/chris-regnier/quell/cmd/quell")

func init() {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Scan the project and fail when the gate policy rejects the findings",
		Long: `Check scans the whole project, evaluates the findings against a Rego gate
policy and exits non-zero on a "fail" decision.

The built-in policy fails on any ERROR finding and warns on WARNING findings.
Point --rego (or gate.rego_dir in config) at a directory of .rego files to
replace it; the policy must define data.quell.gate.decision.

With --run the gate is applied to an archived scan from "quell history list"
(or "latest") instead of a fresh scan.`,
		Args: cobra.NoArgs,
		RunE: runCheck,
	}

	checkCmd.Flags().StringVarP(&flagCheckFormat, "format", "f", "", "Output format: json, sarif, markdown, pretty")
	checkCmd.Flags().StringVarP(&flagCheckOut, "out", "o", "", "Write the report to a file instead of stdout")
	checkCmd.Flags().StringVar(&flagCheckSeverity, "min-severity", "", "Lowest severity to report and evaluate")
	checkCmd.Flags().StringVar(&flagCheckDiff, "diff", "", "Only gate on findings on lines added by this unified diff (- for stdin)")
	checkCmd.Flags().StringVar(&flagCheckRegoDir, "rego", "", "Directory containing Rego gate policies")
	checkCmd.Flags().StringVar(&flagCheckRun, "run", "", "Gate an archived run by id, or \"latest\", without scanning")

	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	min, err := a.minSeverity(flagCheckSeverity)
	if err != nil {
		return err
	}
	changed, err := readDiff(flagCheckDiff)
	if err != nil {
		return err
	}

	ctx, span := checkTracer.Start(ctx, "check")
	defer span.End()

	var report *output.Report
	if flagCheckRun != "" {
		run, err := a.archivedRun(ctx, flagCheckRun)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetAttributes(attribute.String("quell.run_id", run.ID))
		report = a.archivedReport(ctx, run, min, changed)
	} else {
		run, err := a.coord.ScanWorkspace(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("scanning: %w", err)
		}
		report = a.buildReport(ctx, run, min, "", changed)
	}

	if err := a.evaluate(ctx, report, flagCheckRegoDir); err != nil {
		return err
	}
	if err := writeReport(report, flagCheckFormat, flagCheckOut); err != nil {
		return err
	}

	span.SetAttributes(attribute.String("quell.gate.decision", report.Verdict.Decision))
	a.logger.Info("gate evaluated", "decision", report.Verdict.Decision, "reason", report.Verdict.Reason)
	if report.Verdict.Failed() {
		return &gateError{reason: report.Verdict.Reason}
	}
	return nil
}

// archivedRun loads id from history; "latest" is the newest run.
func (a *app) archivedRun(ctx context.Context, id string) (*finding.ScanRun, error) {
	if a.history == nil {
		return nil, errors.New("scan history is not available")
	}
	if id == "latest" {
		runs, err := a.history.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		if len(runs) == 0 {
			return nil, errors.New("no archived runs; run quell scan first")
		}
		id = runs[0].ID
	}
	run, err := a.history.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	return run, nil
}
