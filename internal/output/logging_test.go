package output

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name                  string
		quiet, verbose, debug bool
		want                  slog.Level
	}{
		{"default", false, false, false, slog.LevelWarn},
		{"verbose", false, true, false, slog.LevelInfo},
		{"debug", false, false, true, slog.LevelDebug},
		{"debug beats verbose", false, true, true, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LogLevel(tt.quiet, tt.verbose, tt.debug); got != tt.want {
				t.Errorf("LogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetupLogger_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(false, false, false, &buf)

	logger.Info("info message")
	if bytes.Contains(buf.Bytes(), []byte("info message")) {
		t.Error("expected Info message to be suppressed at default level")
	}
	logger.Warn("warn message")
	if !bytes.Contains(buf.Bytes(), []byte("warn message")) {
		t.Error("expected Warn message to appear at default level")
	}
}

func TestSetupLogger_QuietOverridesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(true, false, true, &buf)

	logger.Error("error message")
	if buf.Len() != 0 {
		t.Errorf("expected quiet to suppress everything, got %q", buf.String())
	}
}

func TestSetupLogger_Debug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(false, false, true, &buf)

	logger.Debug("debug message", "path", "a.go")
	if !bytes.Contains(buf.Bytes(), []byte("debug message path=a.go")) {
		t.Errorf("expected structured debug line, got %q", buf.String())
	}
}
