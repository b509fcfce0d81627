// Package lsp implements the quell language server: JSON-RPC over stdio,
// diagnostics published from the finding store, and suppression code
// actions executed through the coordinator.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chris-regnier/quell/internal/config"
	"github.com/chris-regnier/quell/internal/coordinator"
	"github.com/chris-regnier/quell/internal/finding"
)

// ServerConfig holds configuration for the LSP server
type ServerConfig struct {
	Debounce       time.Duration
	WatchPatterns  []string
	IgnorePatterns []string
	MinSeverity    finding.Severity
	ScanOnSave     bool
	Version        string
}

// ServerConfigFromConfig extracts the language server settings from the
// loaded configuration.
func ServerConfigFromConfig(cfg *config.Config, version string) ServerConfig {
	return ServerConfig{
		Debounce:       cfg.DebounceDuration(),
		WatchPatterns:  cfg.LSP.WatchPatterns,
		IgnorePatterns: cfg.LSP.IgnorePatterns,
		MinSeverity:    cfg.Severity(),
		ScanOnSave:     cfg.ScanOnSaveEnabled(),
		Version:        version,
	}
}

var errExit = errors.New("exit requested")

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *responseError  `json:"error,omitempty"`
}

// Server implements an LSP server
type Server struct {
	reader *bufio.Reader
	writer *bufio.Writer
	wmu    sync.Mutex

	coord    *coordinator.Coordinator
	watcher  *DebouncedWatcher
	progress *ProgressReporter
	commands *CommandHandler
	pending  sync.WaitGroup

	mu        sync.RWMutex
	cfg       ServerConfig
	matcher   *Matcher
	documents map[string]string // path -> languageId
	rootURI   string
}

// NewServer creates a server that scans and suppresses through coord and
// publishes diagnostics whenever the coordinator's store changes.
func NewServer(reader *bufio.Reader, writer *bufio.Writer, coord *coordinator.Coordinator, cfg ServerConfig) (*Server, error) {
	matcher, err := NewMatcher(cfg.WatchPatterns, cfg.IgnorePatterns)
	if err != nil {
		return nil, err
	}
	if cfg.MinSeverity == 0 {
		cfg.MinSeverity = finding.SeverityInfo
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}

	s := &Server{
		reader:    reader,
		writer:    writer,
		coord:     coord,
		cfg:       cfg,
		matcher:   matcher,
		documents: make(map[string]string),
	}
	s.progress = NewProgressReporter(s.sendMessage)
	s.commands = NewCommandHandler(s)
	s.watcher = NewDebouncedWatcher(cfg.Debounce, s.scanChanged)
	coord.Store().Subscribe(s.publishPaths)
	return s, nil
}

// Run reads and handles messages until exit, EOF or ctx is done. It waits
// for in-progress commands before returning.
func (s *Server) Run(ctx context.Context) error {
	defer s.pending.Wait()
	defer s.watcher.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := s.readMessage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			slog.Error("error reading message", "err", err)
			continue
		}
		if err := s.handle(ctx, msg); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			slog.Error("error handling message", "method", msg.Method, "err", err)
		}
	}
}

// readMessage reads one Content-Length framed message.
func (s *Server) readMessage() (*jsonRPCMessage, error) {
	length := -1
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header: %s", line)
		}
		if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return nil, fmt.Errorf("invalid content length: %s", value)
			}
			length = n
		}
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return nil, err
	}
	var msg jsonRPCMessage
	if err := json.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON-RPC message: %w", err)
	}
	return &msg, nil
}

func (s *Server) handle(ctx context.Context, msg *jsonRPCMessage) error {
	switch msg.Method {
	case "":
		// reply to a request we sent (progress create)
		return nil
	case MethodInitialize:
		return s.handleInitialize(msg.ID, msg.Params)
	case MethodInitialized:
		return nil
	case MethodTextDocumentDidOpen:
		return s.handleDidOpen(msg.Params)
	case MethodTextDocumentDidSave:
		return s.handleDidSave(msg.Params)
	case MethodTextDocumentDidClose:
		return s.handleDidClose(msg.Params)
	case MethodTextDocumentCodeAction:
		return s.handleCodeAction(msg.ID, msg.Params)
	case MethodWorkspaceExecuteCommand:
		return s.handleExecuteCommand(ctx, msg.ID, msg.Params)
	case MethodWorkspaceDidChangeConfig:
		return s.handleDidChangeConfiguration(ctx, msg.Params)
	case MethodShutdown:
		s.watcher.Stop()
		return s.sendResponse(msg.ID, nil, nil)
	case MethodExit:
		return errExit
	default:
		if msg.ID != nil {
			return s.sendResponse(msg.ID, nil, &responseError{Code: codeMethodNotFound, Message: "method not found: " + msg.Method})
		}
		slog.Debug("unhandled LSP notification", "method", msg.Method)
		return nil
	}
}

func (s *Server) handleInitialize(id json.RawMessage, params json.RawMessage) error {
	var p InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return s.sendResponse(id, nil, &responseError{Code: codeInvalidParams, Message: err.Error()})
	}

	s.mu.Lock()
	s.rootURI = p.RootURI
	version := s.cfg.Version
	s.mu.Unlock()

	if p.RootURI != "" && uriToPath(p.RootURI) != s.coord.Root() {
		slog.Warn("client root differs from project root", "client", p.RootURI, "root", s.coord.Root())
	}
	s.progress.Enable(p.Capabilities.Window != nil && p.Capabilities.Window.WorkDoneProgress)

	return s.sendResponse(id, InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    0, // findings come from files on disk
				Save:      true,
			},
			CodeActionProvider:     true,
			ExecuteCommandProvider: &ExecuteCommandOptions{Commands: Commands},
		},
		ServerInfo: &ServerInfo{Name: "quell", Version: version},
	}, nil)
}

func (s *Server) handleDidOpen(params json.RawMessage) error {
	var p DidOpenTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	path := uriToPath(p.TextDocument.URI)

	s.mu.Lock()
	s.documents[path] = p.TextDocument.LanguageID
	s.mu.Unlock()

	// findings from an earlier workspace scan
	s.publishPaths([]string{path})
	s.maybeScan(path)
	return nil
}

func (s *Server) handleDidSave(params json.RawMessage) error {
	var p DidSaveTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	s.maybeScan(uriToPath(p.TextDocument.URI))
	return nil
}

func (s *Server) handleDidClose(params json.RawMessage) error {
	var p DidCloseTextDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.documents, uriToPath(p.TextDocument.URI))
	s.mu.Unlock()
	return nil
}

func (s *Server) maybeScan(path string) {
	s.mu.RLock()
	scan := s.cfg.ScanOnSave && s.matcher.Match(path)
	s.mu.RUnlock()
	if scan {
		s.watcher.FileChanged(path)
	}
}

// scanChanged runs on the watcher's timer goroutine.
func (s *Server) scanChanged(paths []string) {
	for _, p := range paths {
		_, err := s.coord.ScanFile(context.Background(), p)
		switch {
		case errors.Is(err, coordinator.ErrScanInFlight):
			// rescan once the running scan has finished
			s.watcher.FileChanged(p)
		case errors.Is(err, coordinator.ErrClosed):
			return
		case err != nil:
			slog.Error("scan failed", "path", p, "err", err)
		}
	}
}

func (s *Server) handleCodeAction(id json.RawMessage, params json.RawMessage) error {
	var p CodeActionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return s.sendResponse(id, nil, &responseError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)})
	}
	diags := FilterDiagnosticsForRange(s.diagnosticsFor(uriToPath(p.TextDocument.URI)), p.Range)
	return s.sendResponse(id, CodeActions(p.TextDocument.URI, diags), nil)
}

// handleExecuteCommand runs the command off the read loop, since scans and
// suppressions wait on the coordinator.
func (s *Server) handleExecuteCommand(ctx context.Context, id json.RawMessage, params json.RawMessage) error {
	var p ExecuteCommandParams
	if err := json.Unmarshal(params, &p); err != nil {
		return s.sendResponse(id, nil, &responseError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)})
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		result, err := s.commands.Execute(ctx, p)
		if err != nil {
			code := codeRequestFailed
			if errors.Is(err, errBadArguments) || errors.Is(err, errUnknownCommand) {
				code = codeInvalidParams
			}
			s.logSendError(s.sendResponse(id, nil, &responseError{Code: code, Message: err.Error()}))
			return
		}
		s.logSendError(s.sendResponse(id, result, nil))
	}()
	return nil
}

func (s *Server) handleDidChangeConfiguration(ctx context.Context, params json.RawMessage) error {
	var p struct {
		Settings json.RawMessage `json:"settings"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return err
	}

	raw := p.Settings
	var section map[string]json.RawMessage
	if err := json.Unmarshal(raw, &section); err == nil {
		if q, ok := section["quell"]; ok {
			raw = q
		}
	}
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		slog.Warn("ignoring invalid settings", "err", err)
		return nil
	}
	return s.applySettings(ctx, settings)
}

func (s *Server) applySettings(ctx context.Context, settings Settings) error {
	if settings.DebounceDuration != "" {
		d, err := time.ParseDuration(settings.DebounceDuration)
		if err != nil {
			return fmt.Errorf("debounceDuration: %w", err)
		}
		s.watcher.SetDebounce(d)
	}

	s.mu.Lock()
	if len(settings.WatchPatterns) > 0 || len(settings.IgnorePatterns) > 0 {
		watch, ignore := s.cfg.WatchPatterns, s.cfg.IgnorePatterns
		if len(settings.WatchPatterns) > 0 {
			watch = settings.WatchPatterns
		}
		if len(settings.IgnorePatterns) > 0 {
			ignore = settings.IgnorePatterns
		}
		m, err := NewMatcher(watch, ignore)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.matcher, s.cfg.WatchPatterns, s.cfg.IgnorePatterns = m, watch, ignore
	}
	republish := false
	if settings.MinSeverity != "" {
		sev, err := finding.ParseSeverity(settings.MinSeverity)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		republish = sev != s.cfg.MinSeverity
		s.cfg.MinSeverity = sev
	}
	if settings.ScanOnSave != nil {
		s.cfg.ScanOnSave = *settings.ScanOnSave
	}
	s.mu.Unlock()

	if republish {
		s.publishPaths(s.coord.Store().Paths())
	}
	if settings.Binary != "" || settings.RulesDir != "" {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			if err := s.coord.Reconfigure(ctx, settings.Binary, settings.RulesDir); err != nil {
				slog.Error("reconfigure failed", "err", err)
			}
		}()
	}
	return nil
}

func (s *Server) minSeverity() finding.Severity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.MinSeverity
}

func (s *Server) languageID(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documents[path]
}

func (s *Server) diagnosticsFor(path string) []Diagnostic {
	return Diagnostics(s.coord.Store().Get(path), s.minSeverity())
}

// publishPaths is the store listener. Paths without findings publish an
// empty list, which clears the client's diagnostics.
func (s *Server) publishPaths(paths []string) {
	for _, p := range paths {
		err := s.notify(MethodTextDocumentPublishDiagnostics, PublishDiagnosticsParams{
			URI:         pathToURI(p),
			Diagnostics: s.diagnosticsFor(p),
		})
		if err != nil {
			slog.Error("failed to publish diagnostics", "path", p, "err", err)
		}
	}
}

func (s *Server) showMessage(typ int, message string) {
	s.logSendError(s.notify(MethodWindowShowMessage, ShowMessageParams{Type: typ, Message: message}))
}

func (s *Server) notify(method string, params any) error {
	return s.sendMessage(jsonRPCMessage{
		JSONRPC: "2.0",
		Method:  method,
		Params:  mustMarshal(params),
	})
}

func (s *Server) sendResponse(id json.RawMessage, result any, rerr *responseError) error {
	msg := jsonRPCMessage{JSONRPC: "2.0", ID: id, Error: rerr}
	if id == nil {
		msg.ID = json.RawMessage("null")
	}
	if rerr == nil {
		msg.Result = mustMarshal(result)
	}
	return s.sendMessage(msg)
}

// sendMessage writes a Content-Length framed message. Safe for concurrent
// use.
func (s *Server) sendMessage(msg jsonRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := fmt.Fprintf(s.writer, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return err
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	return s.writer.Flush()
}

func (s *Server) logSendError(err error) {
	if err != nil {
		slog.Error("failed to send message", "err", err)
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return data
}
