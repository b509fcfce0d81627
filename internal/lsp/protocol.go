package lsp

// LSP method names
const (
	MethodInitialize                     = "initialize"
	MethodInitialized                    = "initialized"
	MethodShutdown                       = "shutdown"
	MethodExit                           = "exit"
	MethodTextDocumentDidOpen            = "textDocument/didOpen"
	MethodTextDocumentDidClose           = "textDocument/didClose"
	MethodTextDocumentDidSave            = "textDocument/didSave"
	MethodTextDocumentPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodTextDocumentCodeAction         = "textDocument/codeAction"
	MethodWorkspaceExecuteCommand        = "workspace/executeCommand"
	MethodWorkspaceDidChangeConfig       = "workspace/didChangeConfiguration"
	MethodWindowShowMessage              = "window/showMessage"
	MethodWindowWorkDoneProgressCreate   = "window/workDoneProgress/create"
	MethodProgress                       = "$/progress"
)

// quell commands
const (
	CommandScanFile       = "quell.scanFile"
	CommandScanWorkspace  = "quell.scanWorkspace"
	CommandSuppressLine   = "quell.suppressLine"
	CommandSuppressFile   = "quell.suppressFile"
	CommandSuppressGlobal = "quell.suppressGlobal"
	CommandClear          = "quell.clear"
)

// Commands lists every command advertised in the initialize result.
var Commands = []string{
	CommandScanFile,
	CommandScanWorkspace,
	CommandSuppressLine,
	CommandSuppressFile,
	CommandSuppressGlobal,
	CommandClear,
}

// JSON-RPC error codes
const (
	codeInvalidParams  = -32602
	codeRequestFailed  = -32803
	codeMethodNotFound = -32601
)

type InitializeParams struct {
	ProcessID             *int               `json:"processId"`
	RootURI               string             `json:"rootUri,omitempty"`
	ClientInfo            *ClientInfo        `json:"clientInfo,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type ClientCapabilities struct {
	Window *WindowClientCapabilities `json:"window,omitempty"`
}

type WindowClientCapabilities struct {
	WorkDoneProgress bool `json:"workDoneProgress,omitempty"`
}

type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type ServerCapabilities struct {
	TextDocumentSync       *TextDocumentSyncOptions `json:"textDocumentSync,omitempty"`
	CodeActionProvider     bool                     `json:"codeActionProvider,omitempty"`
	ExecuteCommandProvider *ExecuteCommandOptions   `json:"executeCommandProvider,omitempty"`
}

type ExecuteCommandOptions struct {
	Commands []string `json:"commands"`
}

// TextDocumentSyncOptions defines how text documents are synced
type TextDocumentSyncOptions struct {
	OpenClose bool `json:"openClose,omitempty"`
	Change    int  `json:"change"` // 0=None, 1=Full, 2=Incremental
	Save      bool `json:"save,omitempty"`
}

type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

type PublishDiagnosticsParams struct {
	URI         string       `json:"uri"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type CodeActionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Context      CodeActionContext      `json:"context"`
}

type CodeActionContext struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Only        []string     `json:"only,omitempty"`
}

type CodeAction struct {
	Title       string       `json:"title"`
	Kind        string       `json:"kind,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	IsPreferred bool         `json:"isPreferred,omitempty"`
	Command     *Command     `json:"command,omitempty"`
}

const CodeActionKindQuickFix = "quickfix"

type Command struct {
	Title     string `json:"title"`
	Command   string `json:"command"`
	Arguments []any  `json:"arguments,omitempty"`
}

type ExecuteCommandParams struct {
	Command   string `json:"command"`
	Arguments []any  `json:"arguments,omitempty"`
}

type DidChangeConfigurationParams struct {
	Settings any `json:"settings"`
}

// Settings is the "quell" section of workspace/didChangeConfiguration.
// Unset fields leave the current value alone.
type Settings struct {
	DebounceDuration string   `json:"debounceDuration,omitempty"`
	WatchPatterns    []string `json:"watchPatterns,omitempty"`
	IgnorePatterns   []string `json:"ignorePatterns,omitempty"`
	MinSeverity      string   `json:"minSeverity,omitempty"`
	ScanOnSave       *bool    `json:"scanOnSave,omitempty"`
	Binary           string   `json:"binary,omitempty"`
	RulesDir         string   `json:"rulesDir,omitempty"`
}

// MessageType values for window/showMessage
const (
	MessageTypeError   = 1
	MessageTypeWarning = 2
	MessageTypeInfo    = 3
)

type ShowMessageParams struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
}

type WorkDoneProgressCreateParams struct {
	Token string `json:"token"`
}

type ProgressParams struct {
	Token string `json:"token"`
	Value any    `json:"value"`
}

type WorkDoneProgressBegin struct {
	Kind        string `json:"kind"` // "begin"
	Title       string `json:"title"`
	Cancellable bool   `json:"cancellable"`
	Message     string `json:"message,omitempty"`
}

type WorkDoneProgressEnd struct {
	Kind    string `json:"kind"` // "end"
	Message string `json:"message,omitempty"`
}
