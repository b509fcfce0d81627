package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/history"
	"github.com/chris-regnier/quell/internal/output"
)

var (
	flagHistoryFormat string
	flagHistoryOut    string
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List or show archived workspace scans",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived scans, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistoryList,
	}

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the findings of an archived scan",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	showCmd.Flags().StringVarP(&flagHistoryFormat, "format", "f", "", "Output format: json, sarif, markdown, pretty")
	showCmd.Flags().StringVarP(&flagHistoryOut, "out", "o", "", "Write the report to a file instead of stdout")

	historyCmd.AddCommand(listCmd, showCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistory() (string, history.Store, error) {
	root, cfg, err := loadProject()
	if err != nil {
		return "", nil, err
	}
	store, err := history.Open(cfg.History.Backend, cfg.ResolveHistoryDir(root), cfg.History.Keep)
	if err != nil {
		return "", nil, fmt.Errorf("opening scan history: %w", err)
	}
	return root, store, nil
}

func closeHistory(store history.Store) {
	if c, ok := store.(io.Closer); ok {
		c.Close()
	}
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	_, store, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(store)

	runs, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), runs)
}

func printHistory(w io.Writer, runs []history.Summary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No archived scans.")
		return err
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("ID", "STARTED", "DURATION", "FINDINGS", "ERRORS")
	for _, r := range runs {
		t.Row(
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond).String(),
			fmt.Sprint(r.Findings),
			fmt.Sprint(r.Errors),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	root, store, err := openHistory()
	if err != nil {
		return err
	}
	defer closeHistory(store)

	run, err := store.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	report := &output.Report{
		Root:    root,
		Entries: runEntries(root, run),
		Run:     run,
	}
	report.SARIF = sarifFor(root, report.Entries, run)
	return writeReport(report, flagHistoryFormat, flagHistoryOut)
}

// runEntries resolves an archived run's scanner-relative paths against root.
func runEntries(root string, run *finding.ScanRun) []finding.Entry {
	entries := make([]finding.Entry, 0, len(run.Findings))
	for _, f := range run.Findings {
		path := filepath.FromSlash(f.Path)
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		entries = append(entries, finding.Entry{Path: filepath.Clean(path), Finding: f})
	}
	return entries
}
