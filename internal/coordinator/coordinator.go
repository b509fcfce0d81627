// Package coordinator serializes scan and suppression requests from every
// front end (CLI, language server, review UI, HTTP API) through a single
// worker goroutine that owns all writes to the finding store.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chris-regnier/quell/internal/finding"
	"github.com/chris-regnier/quell/internal/findings"
	"github.com/chris-regnier/quell/internal/scanner"
	"github.com/chris-regnier/quell/internal/suppress"
)

var tracer = otel.Tracer("github.com/chris-regnier/quell/internal/coordinator")

var (
	// ErrScanInFlight is returned when a scan of the same path is already
	// queued or running.
	ErrScanInFlight = errors.New("scan already in flight")
	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("coordinator closed")
)

// WorkspaceKey is the in-flight key of a whole-project scan.
const WorkspaceKey = "."

// Scanner is the part of scanner.Invoker the coordinator drives.
type Scanner interface {
	Root() string
	ScanFile(ctx context.Context, path, rulesDir string) (*finding.ScanRun, error)
	ScanProject(ctx context.Context, rulesDir string) (*scanner.ProjectScan, error)
}

// Reconfigurer is implemented by scanners whose binary can change at runtime.
type Reconfigurer interface {
	Reconfigure(binary string)
}

// RuleCatalog reports whether a rule id exists in the loaded rule set.
type RuleCatalog interface {
	Has(id string) bool
}

// Archiver keeps completed workspace runs.
type Archiver interface {
	Save(ctx context.Context, run *finding.ScanRun) error
}

type request struct {
	ctx   context.Context
	name  string
	key   string
	do    func(ctx context.Context) (any, error)
	reply chan response
}

type response struct {
	value any
	err   error
}

// Coordinator processes requests one at a time.
type Coordinator struct {
	scanner  Scanner
	store    *findings.Store
	editor   *suppress.Editor
	catalog  RuleCatalog
	archive  Archiver
	logger   *slog.Logger
	rescan   bool
	capacity int

	queue   chan request
	done    chan struct{}
	wg      sync.WaitGroup
	senders sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	rulesDir string
	closed   bool
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithCatalog enables the unknown-rule warning on suppression.
func WithCatalog(c RuleCatalog) Option {
	return func(co *Coordinator) { co.catalog = c }
}

// WithArchiver stores every workspace run.
func WithArchiver(a Archiver) Option {
	return func(co *Coordinator) { co.archive = a }
}

func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// WithRescanAfterSuppress controls whether an applied suppression is
// followed by a rescan. Enabled by default.
func WithRescanAfterSuppress(enabled bool) Option {
	return func(co *Coordinator) { co.rescan = enabled }
}

// WithQueueSize sets how many requests may wait before submitters block.
func WithQueueSize(n int) Option {
	return func(co *Coordinator) {
		if n > 0 {
			co.capacity = n
		}
	}
}

// New starts a coordinator. rulesDir is resolved against the scanner root.
// Call Close to stop the worker.
func New(sc Scanner, store *findings.Store, editor *suppress.Editor, rulesDir string, opts ...Option) *Coordinator {
	c := &Coordinator{
		scanner:  sc,
		store:    store,
		editor:   editor,
		logger:   slog.Default(),
		rescan:   true,
		capacity: 64,
		done:     make(chan struct{}),
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rulesDir = c.resolve(rulesDir)
	c.queue = make(chan request, c.capacity)

	c.wg.Add(1)
	go c.loop()
	return c
}

// Store returns the finding store the coordinator writes to.
func (c *Coordinator) Store() *findings.Store { return c.store }

// Root returns the project root.
func (c *Coordinator) Root() string { return c.scanner.Root() }

// RulesDir returns the current absolute rules directory.
func (c *Coordinator) RulesDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rulesDir
}

// Editor returns the suppression editor.
func (c *Coordinator) Editor() *suppress.Editor { return c.editor }

// Close stops accepting requests, lets the queued ones finish and waits for
// the worker to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.senders.Wait()
	close(c.done)
	c.wg.Wait()
}

// InFlight reports whether a scan of path (or WorkspaceKey) is queued or
// running.
func (c *Coordinator) InFlight(path string) bool {
	key := path
	if path != WorkspaceKey {
		key = c.resolve(path)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[key]
	return ok
}

func (c *Coordinator) loop() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.queue:
			c.process(req)
		case <-c.done:
			// drain what was accepted before Close
			for {
				select {
				case req := <-c.queue:
					c.process(req)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) process(req request) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(trace.SpanKindInternal)}
	if req.key != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("quell.request.key", req.key)))
	}
	ctx, span := tracer.Start(req.ctx, "coordinator."+req.name, opts...)
	value, err := req.do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	if req.key != "" {
		c.release(req.key)
	}
	req.reply <- response{value: value, err: err}
}

// submit queues fn and waits for its result. A non-empty key is held in the
// in-flight set from submission until fn returns. Once accepted a request
// runs to completion even if ctx is cancelled; only the wait is abandoned.
func (c *Coordinator) submit(ctx context.Context, name, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if key != "" {
		if _, busy := c.inFlight[key]; busy {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrScanInFlight, key)
		}
		c.inFlight[key] = struct{}{}
	}
	c.senders.Add(1)
	c.mu.Unlock()

	req := request{
		ctx:   context.WithoutCancel(ctx),
		name:  name,
		key:   key,
		do:    fn,
		reply: make(chan response, 1),
	}
	select {
	case c.queue <- req:
		c.senders.Done()
	case <-ctx.Done():
		c.senders.Done()
		c.release(key)
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) release(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

func (c *Coordinator) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.scanner.Root(), p)
}
