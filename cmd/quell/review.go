package main

import (
	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/review"
)

var flagReviewNoScan bool

func init() {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Browse findings and suppress them in a terminal UI",
		Long: `Review opens a three-pane terminal UI (files, code, details) over the
project's findings. A workspace scan starts in the background and the view
updates as results arrive. Suppressions made from the UI are written to disk
and the affected files are rescanned.`,
		Args: cobra.NoArgs,
		RunE: runReview,
	}
	reviewCmd.Flags().BoolVar(&flagReviewNoScan, "no-scan", false, "Do not start a workspace scan")

	rootCmd.AddCommand(reviewCmd)
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{rescan: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if !flagReviewNoScan {
		go func() {
			if _, err := a.coord.ScanWorkspace(ctx); err != nil {
				a.logger.Warn("workspace scan failed", "err", err)
			}
		}()
	}
	return review.Run(ctx, a.coord)
}
