package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/rules"
)

var (
	flagRulesCategory string
	flagRulesCWE      string
)

func init() {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect or bootstrap the project's rule set",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the rules in the configured rules directory",
		Args:  cobra.NoArgs,
		RunE:  runRulesList,
	}
	listCmd.Flags().StringVar(&flagRulesCategory, "category", "", "Only list rules in this category (top-level directory)")
	listCmd.Flags().StringVar(&flagRulesCWE, "cwe", "", "Only list rules tagged with this CWE id (e.g. CWE-89)")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the bundled starter rules into the rules directory",
		Args:  cobra.NoArgs,
		RunE:  runRulesInit,
	}

	rulesCmd.AddCommand(listCmd, initCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	dir := cfg.ResolveRulesDir(root)

	catalog, err := rules.Load(dir)
	if errors.Is(err, rules.ErrRulesDirMissing) {
		fmt.Fprintf(cmd.ErrOrStderr(), "No rules directory at %s.\n", dir)
		fmt.Fprintf(cmd.ErrOrStderr(), "Run `quell rules init` for the starter set, or fetch rules from %s\n", cfg.RulesRepoURL)
		return nil
	}
	if err != nil {
		return err
	}
	for _, p := range catalog.Problems {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %s\n", p)
	}

	list := catalog.Rules()
	if flagRulesCategory != "" {
		list = catalog.ByCategory(flagRulesCategory)
	}
	if flagRulesCWE != "" {
		list = rules.ByCWE(list, flagRulesCWE)
	}
	return printRules(cmd.OutOrStdout(), list)
}

func printRules(w io.Writer, list []rules.Rule) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No rules.")
		return err
	}
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("ID", "SEVERITY", "LANGUAGES", "KIND", "CATEGORY")
	for _, r := range list {
		t.Row(r.ID, strings.ToUpper(r.RawSeverity), strings.Join(r.Languages, ","), r.Kind(), r.Category)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func runRulesInit(cmd *cobra.Command, args []string) error {
	root, cfg, err := loadProject()
	if err != nil {
		return err
	}
	dir := cfg.ResolveRulesDir(root)

	written, err := rules.WriteStarter(dir)
	if err != nil {
		return fmt.Errorf("writing starter rules: %w", err)
	}
	if len(written) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Starter rules already present in %s\n", dir)
		return nil
	}
	for _, p := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Run `quell scan` to use them.")
	return nil
}
