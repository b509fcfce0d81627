package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/suppress"
)

var (
	flagSuppressRescan   bool
	flagSuppressLanguage string
)

func init() {
	suppressCmd := &cobra.Command{
		Use:   "suppress",
		Short: "Suppress a rule on one line, in one file, or across the project",
		Long: `Suppress writes a suppression for a rule. Line suppressions append a
"<comment> nosemgrep: <rule>" marker to the line; file suppressions insert a
marker line at the top of the file; global suppressions add the rule to the
project exclusion file.

Lines are numbered from 1.`,
	}
	suppressCmd.PersistentFlags().BoolVar(&flagSuppressRescan, "rescan", false, "Rescan what the suppression affects and report remaining findings")
	suppressCmd.PersistentFlags().StringVar(&flagSuppressLanguage, "language", "", "Language id for the comment syntax (default: detected from the file extension)")

	suppressCmd.AddCommand(
		&cobra.Command{
			Use:   "line <path> <line> <rule-id>",
			Short: "Suppress a rule on one line",
			Args:  cobra.ExactArgs(3),
			RunE:  runSuppress(suppress.ScopeLine, false),
		},
		&cobra.Command{
			Use:   "file <path> <rule-id>",
			Short: "Suppress a rule for a whole file",
			Args:  cobra.ExactArgs(2),
			RunE:  runSuppress(suppress.ScopeFile, false),
		},
		&cobra.Command{
			Use:   "global <rule-id>",
			Short: "Exclude a rule from every scan of the project",
			Args:  cobra.ExactArgs(1),
			RunE:  runSuppress(suppress.ScopeGlobal, false),
		},
	)

	unsuppressCmd := &cobra.Command{
		Use:   "unsuppress",
		Short: "Remove a line suppression or a project-wide exclusion",
	}
	unsuppressCmd.PersistentFlags().BoolVar(&flagSuppressRescan, "rescan", false, "Rescan what the change affects and report remaining findings")
	unsuppressCmd.PersistentFlags().StringVar(&flagSuppressLanguage, "language", "", "Language id for the comment syntax")

	unsuppressCmd.AddCommand(
		&cobra.Command{
			Use:   "line <path> <line> <rule-id>",
			Short: "Remove a rule's marker from one line",
			Args:  cobra.ExactArgs(3),
			RunE:  runSuppress(suppress.ScopeLine, true),
		},
		&cobra.Command{
			Use:   "global <rule-id>",
			Short: "Remove a rule from the project exclusion file",
			Args:  cobra.ExactArgs(1),
			RunE:  runSuppress(suppress.ScopeGlobal, true),
		},
	)

	rootCmd.AddCommand(suppressCmd, unsuppressCmd)
}

// parseSuppressArgs maps positional arguments for scope onto a request.
// The command line counts lines from 1; requests count from 0.
func parseSuppressArgs(scope suppress.Scope, args []string) (coordinator.SuppressRequest, error) {
	req := coordinator.SuppressRequest{Scope: scope, LanguageID: flagSuppressLanguage}
	switch scope {
	case suppress.ScopeLine:
		line, err := strconv.Atoi(args[1])
		if err != nil || line < 1 {
			return req, fmt.Errorf("invalid line %q: must be a positive integer", args[1])
		}
		req.Path, req.Line, req.RuleID = args[0], line-1, args[2]
	case suppress.ScopeFile:
		req.Path, req.RuleID = args[0], args[1]
	case suppress.ScopeGlobal:
		req.RuleID = args[0]
	}
	if req.RuleID == "" {
		return req, fmt.Errorf("rule id must not be empty")
	}
	return req, nil
}

func runSuppress(scope suppress.Scope, remove bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req, err := parseSuppressArgs(scope, args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{rescan: flagSuppressRescan})
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if req.Path != "" {
			req.Path = a.abs(req.Path)
		}
		resp, err := applySuppression(ctx, a.coord, req, remove)
		if err != nil {
			return err
		}
		return printSuppression(cmd.OutOrStdout(), cmd.ErrOrStderr(), a.root, req, resp)
	}
}

func applySuppression(ctx context.Context, coord *coordinator.Coordinator, req coordinator.SuppressRequest, remove bool) (*coordinator.SuppressResponse, error) {
	if remove {
		return coord.Unsuppress(ctx, req)
	}
	return coord.Suppress(ctx, req)
}

func printSuppression(out, errOut io.Writer, root string, req coordinator.SuppressRequest, resp *coordinator.SuppressResponse) error {
	if resp.Warning != "" {
		fmt.Fprintf(errOut, "warning: %s\n", resp.Warning)
	}

	where := "project"
	switch req.Scope {
	case suppress.ScopeLine:
		where = fmt.Sprintf("%s:%d", relTo(root, req.Path), req.Line+1)
	case suppress.ScopeFile:
		where = relTo(root, req.Path)
	}
	if _, err := fmt.Fprintf(out, "%s %s (%s): %s\n", req.RuleID, where, req.Scope, resp.Status); err != nil {
		return err
	}

	if resp.Rescan != nil {
		_, err := fmt.Fprintf(out, "rescan: %d findings, %d errors\n", len(resp.Rescan.Findings), len(resp.Rescan.Errors))
		return err
	}
	return nil
}
