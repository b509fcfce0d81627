// Package scanner runs the external static-analysis binary and turns its
// JSON report into findings.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/chris-regnier/quell/internal/cache"
	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/metrics"
)

var tracer = otel.Tracer("github.com/chris-regnier/quell/internal/scanner")

// DefaultBinary is looked up on PATH when no binary is configured.
const DefaultBinary = "semgrep"

var (
	// ErrRulesNotFound is returned when the rules directory does not exist.
	// It is the only scan failure returned as an error.
	ErrRulesNotFound = errors.New("rules directory not found")
	// ErrProcessFailure describes a missing or crashed binary.
	ErrProcessFailure = errors.New("scanner process failed")
	// ErrParse describes output that holds no decodable JSON report.
	ErrParse = errors.New("unparsable scanner output")
)

// ExecFunc runs name with args in dir and returns its captured output.
type ExecFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

// LookPathFunc resolves a binary name to a path.
type LookPathFunc func(file string) (string, error)

// ExclusionFunc lists rule ids the scanner should skip. It is consulted on
// every scan so edits to the exclusion file apply to the next run.
type ExclusionFunc func() []string

// Invoker owns the scanner binary location and runs scans against a
// project root. It is safe for concurrent use.
type Invoker struct {
	root      string
	extraArgs []string
	exec      ExecFunc
	lookPath  LookPathFunc
	logger    *slog.Logger
	recorder  *metrics.Recorder
	cache     cache.CacheManager
	excluded  ExclusionFunc

	mu       sync.Mutex
	binary   string
	resolved string
	version  string
}

// Option configures an Invoker
type Option func(*Invoker)

// WithBinary sets the binary name or path. Empty means DefaultBinary.
func WithBinary(binary string) Option {
	return func(i *Invoker) { i.binary = binary }
}

// WithExtraArgs appends args after --json on every invocation.
func WithExtraArgs(args ...string) Option {
	return func(i *Invoker) { i.extraArgs = append([]string(nil), args...) }
}

func WithExec(fn ExecFunc) Option {
	return func(i *Invoker) { i.exec = fn }
}

func WithLookPath(fn LookPathFunc) Option {
	return func(i *Invoker) { i.lookPath = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(i *Invoker) { i.recorder = r }
}

// WithCache enables result caching for single-file scans.
func WithCache(c cache.CacheManager) Option {
	return func(i *Invoker) { i.cache = c }
}

// WithExclusions passes each listed rule id as --exclude-rule.
func WithExclusions(fn ExclusionFunc) Option {
	return func(i *Invoker) { i.excluded = fn }
}

// NewInvoker creates an invoker for the project rooted at root.
func NewInvoker(root string, opts ...Option) *Invoker {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	i := &Invoker{
		root:     root,
		exec:     runCommand,
		lookPath: exec.LookPath,
		logger:   slog.Default(),
		recorder: metrics.NoOpRecorder(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.binary == "" {
		i.binary = DefaultBinary
	}
	return i
}

// Root returns the absolute project root.
func (i *Invoker) Root() string {
	return i.root
}

// Reconfigure switches to a different binary. The cached location and
// version are dropped and re-probed on next use.
func (i *Invoker) Reconfigure(binary string) {
	if binary == "" {
		binary = DefaultBinary
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if binary == i.binary {
		return
	}
	i.binary = binary
	i.resolved = ""
	i.version = ""
	i.logger.Debug("scanner binary reconfigured", "binary", binary)
}

// BinaryPath resolves the configured binary, probing at most once per
// configuration.
func (i *Invoker) BinaryPath() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.resolved != "" {
		return i.resolved, nil
	}
	path, err := i.lookPath(i.binary)
	if err != nil {
		return "", fmt.Errorf("%w: locating %q: %v", ErrProcessFailure, i.binary, err)
	}
	i.resolved = path
	return path, nil
}

// Version returns the scanner's --version output, probed once per binary.
func (i *Invoker) Version(ctx context.Context) string {
	i.mu.Lock()
	v := i.version
	i.mu.Unlock()
	if v != "" {
		return v
	}

	bin, err := i.BinaryPath()
	if err != nil {
		return ""
	}
	stdout, _, err := i.exec(ctx, i.root, bin, "--version")
	if err != nil {
		i.logger.Debug("probing scanner version", "err", err)
		return ""
	}
	v = strings.TrimSpace(string(stdout))
	if idx := strings.IndexByte(v, '\n'); idx >= 0 {
		v = v[:idx]
	}

	i.mu.Lock()
	i.version = v
	i.mu.Unlock()
	return v
}

// Scan runs the scanner over target (a project-relative file or ".") with
// the rules in rulesDir. Process and parse failures are folded into the
// returned run as a single error note; only a missing rules directory is
// returned as an error.
func (i *Invoker) Scan(ctx context.Context, target, rulesDir string) (*finding.ScanRun, error) {
	kind := metrics.ScanKindFile
	if target == "." {
		kind = metrics.ScanKindWorkspace
	}
	return i.scan(ctx, kind, target, rulesDir, i.recorder.StartScan(kind, target))
}

func (i *Invoker) scan(ctx context.Context, kind metrics.ScanKind, target, rulesDir string, rec *metrics.ScanBuilder) (*finding.ScanRun, error) {
	ctx, span := tracer.Start(ctx, "scanner.scan")
	defer span.End()
	span.SetAttributes(
		attribute.String("quell.scan.target", target),
		attribute.String("quell.scan.kind", string(kind)),
	)
	rec.MarkStarted()

	run := finding.NewScanRun(target)
	defer func() { run.Duration = time.Since(run.StartedAt) }()

	rulesDir = i.abs(rulesDir)
	if info, err := os.Stat(rulesDir); err != nil || !info.IsDir() {
		err := fmt.Errorf("%w: %s", ErrRulesNotFound, rulesDir)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Complete(metrics.OutcomeRulesNotFound, 0, 0, err)
		return nil, err
	}

	bin, err := i.BinaryPath()
	if err != nil {
		i.logger.Warn("scanner unavailable", "binary", i.binary, "err", err)
		run.AddError(err.Error())
		span.RecordError(err)
		rec.Complete(metrics.OutcomeProcessFailure, 0, 1, err)
		return run, nil
	}

	args := []string{"scan", "--json"}
	args = append(args, i.extraArgs...)
	for _, id := range i.exclusions() {
		args = append(args, "--exclude-rule", id)
	}
	args = append(args, "-f", rulesDir, target)

	i.logger.Debug("running scanner", "binary", bin, "args", args, "dir", i.root)
	stdout, stderr, execErr := i.exec(ctx, i.root, bin, args...)

	parsed, parseErr := ParseOutput(stdout)
	switch {
	case parseErr != nil && execErr != nil:
		err := fmt.Errorf("%w: %v%s", ErrProcessFailure, execErr, stderrSuffix(stderr))
		i.logger.Warn("scan failed", "target", target, "err", err)
		run.AddError(err.Error())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rec.Complete(metrics.OutcomeProcessFailure, 0, 1, err)
		return run, nil
	case parseErr != nil:
		i.logger.Warn("scan output not parseable", "target", target, "err", parseErr)
		run.AddError(parseErr.Error())
		span.RecordError(parseErr)
		span.SetStatus(codes.Error, parseErr.Error())
		rec.Complete(metrics.OutcomeParseError, 0, 1, parseErr)
		return run, nil
	}

	run.Findings = parsed.Findings
	run.Errors = parsed.Errors
	run.Version = parsed.Version

	outcome := metrics.OutcomeOK
	if execErr != nil {
		outcome = metrics.OutcomePartialOutput
		note := fmt.Sprintf("scanner exited with error, results may be partial: %v%s", execErr, stderrSuffix(stderr))
		i.logger.Info("recovered partial scan output", "target", target, "err", execErr)
		run.AddError(note)
	}
	for _, e := range parsed.Errors {
		i.logger.Debug("scanner reported error", "target", target, "error", e)
	}

	span.SetAttributes(
		attribute.Int("quell.scan.findings", len(run.Findings)),
		attribute.Int("quell.scan.errors", len(run.Errors)),
		attribute.String("quell.scanner.version", run.Version),
	)
	rec.WithScannerVersion(run.Version)
	rec.Complete(outcome, len(run.Findings), len(run.Errors), execErr)
	return run, nil
}

// ScanFile scans one file and keeps only the findings reported for it. The
// scanner may report other files when rules span several of them.
func (i *Invoker) ScanFile(ctx context.Context, path, rulesDir string) (*finding.ScanRun, error) {
	abs := i.abs(path)
	rel, err := filepath.Rel(i.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = abs
	}
	target := normalizePath(rel)
	rec := i.recorder.StartScan(metrics.ScanKindFile, target)

	key, cacheable := i.cacheKey(ctx, abs, target, rulesDir)
	if cacheable {
		if entry, err := i.cache.Get(ctx, key); err == nil {
			i.logger.Debug("scan cache hit", "path", target)
			rec.WithCacheResult(metrics.CacheHit).MarkStarted()
			rec.Complete(metrics.OutcomeOK, len(entry.Findings), len(entry.Errors), nil)
			run := finding.NewScanRun(target)
			run.Findings = entry.Findings
			run.Errors = entry.Errors
			run.Version = entry.Version
			return run, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			i.logger.Debug("scan cache lookup failed", "path", target, "err", err)
		}
		rec.WithCacheResult(metrics.CacheMiss)
	}

	run, err := i.scan(ctx, metrics.ScanKindFile, target, rulesDir, rec)
	if err != nil {
		return nil, err
	}
	run.Findings = FilterByPath(run.Findings, target, abs)

	if cacheable && len(run.Errors) == 0 {
		entry := &cache.CacheEntry{Key: key, Findings: run.Findings, Version: run.Version}
		if err := i.cache.Put(ctx, entry); err != nil {
			i.logger.Debug("storing scan cache entry", "path", target, "err", err)
		}
	}
	return run, nil
}

// ProjectScan is a workspace scan grouped by absolute file path.
type ProjectScan struct {
	Run    *finding.ScanRun
	ByFile map[string][]finding.Finding
}

// ScanProject scans the whole project and groups findings per file.
func (i *Invoker) ScanProject(ctx context.Context, rulesDir string) (*ProjectScan, error) {
	run, err := i.Scan(ctx, ".", rulesDir)
	if err != nil {
		return nil, err
	}
	return &ProjectScan{Run: run, ByFile: GroupByFile(i.root, run.Findings)}, nil
}

// GroupByFile keys findings by absolute path, resolving relative paths
// against root. Scan order is kept within each file.
func GroupByFile(root string, fs []finding.Finding) map[string][]finding.Finding {
	out := make(map[string][]finding.Finding)
	for _, f := range fs {
		p := filepath.FromSlash(f.Path)
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		p = filepath.Clean(p)
		out[p] = append(out[p], f)
	}
	return out
}

// FilterByPath keeps findings whose reported path names target. target is
// project-relative; abs is the same file's absolute path.
func FilterByPath(fs []finding.Finding, target, abs string) []finding.Finding {
	want := normalizePath(target)
	wantAbs := normalizePath(abs)
	out := make([]finding.Finding, 0, len(fs))
	for _, f := range fs {
		got := normalizePath(f.Path)
		if got == want || got == wantAbs {
			out = append(out, f)
		}
	}
	return out
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
	return strings.TrimPrefix(p, "./")
}

func (i *Invoker) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(i.root, p)
}

func (i *Invoker) cacheKey(ctx context.Context, abs, target, rulesDir string) (cache.CacheKey, bool) {
	if i.cache == nil {
		return cache.CacheKey{}, false
	}
	fileHash, err := cache.HashFile(abs)
	if err != nil {
		return cache.CacheKey{}, false
	}
	digest, err := cache.DigestDir(i.abs(rulesDir))
	if err != nil {
		return cache.CacheKey{}, false
	}
	i.mu.Lock()
	binary := i.binary
	i.mu.Unlock()
	return cache.CacheKey{
		FileHash:       fileHash,
		FilePath:       target,
		Binary:         binary,
		ScannerVersion: i.Version(ctx),
		RulesDigest:    digest,
		ExcludedRules:  strings.Join(i.exclusions(), ","),
	}, true
}

func (i *Invoker) exclusions() []string {
	if i.excluded == nil {
		return nil
	}
	ids := append([]string(nil), i.excluded()...)
	sort.Strings(ids)
	return ids
}

func stderrSuffix(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if s == "" {
		return ""
	}
	const max = 512
	if len(s) > max {
		s = s[:max] + "..."
	}
	return ": " + s
}
