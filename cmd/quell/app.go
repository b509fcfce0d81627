package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chris-regnier/quell/internal/cache"
	"github.com/chris-regnier/quell/internal/config"
	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/findings"
	"github.com/chris-regnier/quell/internal/history"
	"github.com/chris-regnier/quell/internal/metrics"
	"github.com/chris-regnier/quell/internal/rules"
	"github.com/chris-regnier/quell/internal/scanner"
	"github.com/chris-regnier/quell/internal/suppress"
	"github.com/chris-regnier/quell/internal/telemetry"
)

// app is everything a command needs to scan and suppress in one project.
type app struct {
	root      string
	cfg       *config.Config
	logger    *slog.Logger
	collector *metrics.Collector
	invoker   *scanner.Invoker
	editor    *suppress.Editor
	catalog   *rules.Catalog
	history   history.Store
	coord     *coordinator.Coordinator
	shutdown  telemetry.Shutdown
}

type appOptions struct {
	rescan bool
}

// newApp loads the project configuration and starts a coordinator. The
// caller must call close.
func newApp(ctx context.Context, opts appOptions) (*app, error) {
	root, cfg, err := loadProject()
	if err != nil {
		return nil, err
	}

	a := &app{
		root:   root,
		cfg:    cfg,
		logger: slog.Default(),
	}

	if cfg.Telemetry.ServiceVersion == "" || cfg.Telemetry.ServiceVersion == "dev" {
		cfg.Telemetry.ServiceVersion = version
	}
	a.shutdown, err = telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	// after telemetry, so scan events reach the installed meter provider
	a.collector = metrics.NewCollector()

	a.editor = suppress.NewEditor(
		suppress.WithMarker(cfg.Suppression.Marker),
		suppress.WithExcludeFile(cfg.Suppression.ExcludeFile),
		suppress.WithSafetyCheck(cfg.SafetyCheckEnabled()),
		suppress.WithEditorLogger(a.logger),
	)

	invokerOpts := []scanner.Option{
		scanner.WithBinary(cfg.Scanner.Binary),
		scanner.WithExtraArgs(cfg.Scanner.Args...),
		scanner.WithLogger(a.logger),
		scanner.WithRecorder(metrics.NewRecorder(a.collector)),
		scanner.WithExclusions(a.exclusions),
	}
	if cfg.CacheEnabled() {
		invokerOpts = append(invokerOpts, scanner.WithCache(a.newCache()))
	}
	a.invoker = scanner.NewInvoker(root, invokerOpts...)

	rulesDir := cfg.ResolveRulesDir(root)
	a.catalog, err = rules.Load(rulesDir)
	if err != nil && !errors.Is(err, rules.ErrRulesDirMissing) {
		a.logger.Warn("loading rule catalog", "dir", rulesDir, "err", err)
	}

	coordOpts := []coordinator.Option{
		coordinator.WithLogger(a.logger),
		coordinator.WithRescanAfterSuppress(opts.rescan),
	}
	if a.catalog != nil && a.catalog.Len() > 0 {
		coordOpts = append(coordOpts, coordinator.WithCatalog(a.catalog))
	}
	a.history, err = history.Open(cfg.History.Backend, cfg.ResolveHistoryDir(root), cfg.History.Keep)
	if err != nil {
		a.logger.Warn("scan history disabled", "backend", cfg.History.Backend, "err", err)
	} else {
		coordOpts = append(coordOpts, coordinator.WithArchiver(a.history))
	}

	a.coord = coordinator.New(a.invoker, findings.NewStore(), a.editor, rulesDir, coordOpts...)
	return a, nil
}

// loadProject resolves --root and loads its configuration.
func loadProject() (string, *config.Config, error) {
	root, err := filepath.Abs(flagRoot)
	if err != nil {
		return "", nil, fmt.Errorf("resolving project root: %w", err)
	}
	if fi, err := os.Stat(root); err != nil {
		return "", nil, fmt.Errorf("project root: %w", err)
	} else if !fi.IsDir() {
		return "", nil, fmt.Errorf("project root %s is not a directory", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return "", nil, fmt.Errorf("loading config: %w", err)
	}
	return root, cfg, nil
}

// newCache stacks memory, then the cache dir, then the shared remote
// server, skipping tiers that are not configured.
func (a *app) newCache() cache.CacheManager {
	var tiers []cache.CacheManager
	if dir := a.cfg.ResolveCacheDir(a.root); dir != "" {
		tiers = append(tiers, cache.NewLocalCache(dir))
	}
	if u := a.cfg.Cache.RemoteURL; u != "" {
		tiers = append(tiers, cache.NewRemoteCache(u, cache.WithToken(a.cfg.Cache.RemoteToken)))
	}

	var c cache.CacheManager = cache.NewMemoryCache(
		cache.WithMaxSize(a.cfg.Cache.MaxEntries),
		cache.WithTTL(a.cfg.CacheTTL()),
	)
	for i := len(tiers) - 1; i > 0; i-- {
		tiers[i-1] = cache.NewTieredCache(tiers[i-1], tiers[i])
	}
	if len(tiers) > 0 {
		c = cache.NewTieredCache(c, tiers[0])
	}
	return c
}

func (a *app) exclusions() []string {
	ids, err := a.editor.GlobalExclusions(a.root)
	if err != nil {
		a.logger.Warn("reading exclusion file", "path", a.editor.ExcludePath(a.root), "err", err)
		return nil
	}
	return ids
}

func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	a.coord.Close()
	if c, ok := a.history.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing history store", "err", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown", "err", err)
		}
	}
}
