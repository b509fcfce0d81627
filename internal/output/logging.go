package output

import (
	"io"
	"log/slog"
	"math"
)

// LogLevel maps the CLI verbosity flags to a slog level.
// Priority: quiet > debug > verbose > default (Warn).
func LogLevel(quiet, verbose, debug bool) slog.Level {
	switch {
	case quiet:
		// above every real level
		return slog.Level(math.MaxInt)
	case debug:
		return slog.LevelDebug
	case verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// SetupLogger creates a text logger writing to w (normally os.Stderr; the
// language server and MCP server must never log to stdout).
func SetupLogger(quiet, verbose, debug bool, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LogLevel(quiet, verbose, debug),
	}))
}
