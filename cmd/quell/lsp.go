package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/lsp"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "lsp",
		Short: "Start the Language Server Protocol server",
		Long: `Start quell in LSP mode. The server speaks JSON-RPC on stdin/stdout,
scans files as they are opened and saved, publishes findings as diagnostics
and offers code actions that write suppressions.

Configuration is loaded from tiered sources (system → machine → project) and
can be adjusted by the client through workspace/didChangeConfiguration.`,
		Args: cobra.NoArgs,
		RunE: runLSP,
	})
}

func runLSP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{rescan: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	server, err := lsp.NewServer(
		bufio.NewReader(os.Stdin),
		bufio.NewWriter(os.Stdout),
		a.coord,
		lsp.ServerConfigFromConfig(a.cfg, version),
	)
	if err != nil {
		return fmt.Errorf("creating LSP server: %w", err)
	}

	a.logger.Info("language server starting", "root", a.root, "rules_dir", a.coord.RulesDir())
	return server.Run(ctx)
}
