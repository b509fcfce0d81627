package config

import "time"

const (
	defaultDebounce = 300 * time.Millisecond
	defaultCacheTTL = 168 * time.Hour
)

// SystemDefaults returns the built-in configuration tier.
func SystemDefaults() *Config {
	scanOnSave := true
	safety := true
	cacheEnabled := false
	return &Config{
		Scanner: ScannerConfig{
			Binary: "semgrep",
		},
		RulesDir:     ".semgrep",
		RulesRepoURL: "https://github.com/semgrep/semgrep-rules",
		MinSeverity:  "INFO",
		ScanOnSave:   &scanOnSave,
		Suppression: SuppressionConfig{
			Marker:      "nosemgrep",
			ExcludeFile: ".quell-exclude.yaml",
			SafetyCheck: &safety,
		},
		LSP: LSPConfig{
			Debounce: "300ms",
			WatchPatterns: []string{
				"**/*.go",
				"**/*.py",
				"**/*.ts",
				"**/*.tsx",
				"**/*.js",
				"**/*.jsx",
				"**/*.java",
				"**/*.rb",
			},
			IgnorePatterns: []string{
				"**/node_modules/**",
				"**/.git/**",
				"**/vendor/**",
				"**/.quell/**",
			},
		},
		Cache: CacheConfig{
			Enabled:    &cacheEnabled,
			Dir:        "~/.cache/quell",
			TTL:        "168h",
			MaxEntries: 1000,
		},
		History: HistoryConfig{
			Backend: "file",
			Dir:     ".quell/history",
			Keep:    50,
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			SampleRate:     1.0,
			ServiceName:    "quell",
			ServiceVersion: "dev",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7878",
		},
	}
}
