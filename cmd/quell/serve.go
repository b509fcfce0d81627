package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chris-regnier/quell/internal/api"
	"github.com/chris-regnier/quell/internal/cache"
	"github.com/chris-regnier/quell/internal/coordinator"
)

var (
	flagServeAddr  string
	flagServeScan  bool
	flagServeCache bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve findings, scans and suppressions over a local HTTP API",
		Long: `Serve starts an HTTP API for tools that cannot speak LSP or MCP.

  GET  /healthz     liveness
  GET  /findings    stored findings (?min_severity=, ?path=)
  GET  /count       totals by severity
  GET  /stats       scan statistics
  POST /scan        {"path": "..."} or empty for the whole project
  POST /suppress    {"scope", "path", "line", "rule_id"}, line counted from 0
  POST /unsuppress  same body, line or global scope
  GET  /metrics     Prometheus exposition

With --cache the scan cache directory is shared on /api/cache/{hash} so
other checkouts can set cache.remote_url to this server. Requests must carry
cache.remote_token (QUELL_CACHE_TOKEN) as a bearer token when one is set.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default: server.addr from config)")
	serveCmd.Flags().BoolVar(&flagServeScan, "scan", true, "Scan the workspace on startup")
	serveCmd.Flags().BoolVar(&flagServeCache, "cache", false, "Share the scan cache directory with remote quell processes")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, appOptions{rescan: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	addr := flagServeAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	opts := []api.Option{
		api.WithCollector(a.collector),
		api.WithLogger(a.logger),
		api.WithVersion(version),
	}
	if flagServeCache {
		dir := a.cfg.ResolveCacheDir(a.root)
		if dir == "" {
			return errors.New("--cache needs cache.dir to be set")
		}
		opts = append(opts, api.WithCacheStore(cache.NewLocalCache(dir), a.cfg.Cache.RemoteToken))
		a.logger.Info("sharing scan cache", "dir", dir)
	}
	srv := api.NewServer(a.coord, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})
	if flagServeScan {
		g.Go(func() error {
			run, err := a.coord.ScanWorkspace(gctx)
			switch {
			case errors.Is(err, coordinator.ErrScanInFlight), gctx.Err() != nil:
				return nil
			case err != nil:
				// a failed startup scan leaves the API usable
				a.logger.Error("startup scan failed", "err", err)
				return nil
			}
			a.logger.Info("startup scan complete", "findings", len(run.Findings), "errors", len(run.Errors))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
