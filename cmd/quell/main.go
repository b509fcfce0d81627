package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/output"
)

var (
	// Version information injected by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagRoot    string
	flagQuiet   bool
	flagVerbose bool
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "quell",
	Short: "Run a static analyzer, track its findings and manage suppressions",
	Long: `quell runs a semgrep-compatible scanner over a project, keeps the current
findings per file, and writes suppression comments or project-wide rule
exclusions back to disk. It can run once from the command line, as a
language server, as a terminal review UI, or as a local HTTP or MCP service.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(output.SetupLogger(flagQuiet, flagVerbose, flagDebug, os.Stderr))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("quell %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built at: %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "Project root")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Only log errors")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log progress")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Log everything")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		var gate *gateError
		if !errors.As(err, &gate) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
