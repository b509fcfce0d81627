package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/quell/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "mcp",
		Short: "Serve scan and suppression tools over the Model Context Protocol",
		Long: `Start an MCP server on stdin/stdout exposing scan, list_findings,
suppress and unsuppress tools for coding agents.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	})
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{rescan: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	return mcpserver.New(a.coord, version, a.logger).Serve(ctx, os.Stdin, os.Stdout)
}
