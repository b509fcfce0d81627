package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/quell/internal/finding"
)

// Config holds the full quell configuration.
type Config struct {
	Scanner      ScannerConfig     `yaml:"scanner"`
	RulesDir     string            `yaml:"rules_dir"`
	RulesRepoURL string            `yaml:"rules_repo_url,omitempty"`
	MinSeverity  string            `yaml:"min_severity"`
	ScanOnSave   *bool             `yaml:"scan_on_save,omitempty"`
	Suppression  SuppressionConfig `yaml:"suppression"`
	LSP          LSPConfig         `yaml:"lsp"`
	Cache        CacheConfig       `yaml:"cache"`
	History      HistoryConfig     `yaml:"history"`
	Telemetry    TelemetryConfig   `yaml:"telemetry"`
	Gate         GateConfig        `yaml:"gate"`
	Server       ServerConfig      `yaml:"server"`
}

// ScannerConfig names the external scanner binary and any extra arguments
// passed before the rules flag.
type ScannerConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args,omitempty"`
}

// SuppressionConfig controls what suppression comments look like and where
// global exclusions are written.
type SuppressionConfig struct {
	Marker      string `yaml:"marker"`
	ExcludeFile string `yaml:"exclude_file"`
	SafetyCheck *bool  `yaml:"safety_check,omitempty"`
}

// LSPConfig holds language server settings
type LSPConfig struct {
	Debounce       string   `yaml:"debounce"`
	WatchPatterns  []string `yaml:"watch_patterns,omitempty"`
	IgnorePatterns []string `yaml:"ignore_patterns,omitempty"`
}

// CacheConfig controls the per-file scan result cache
type CacheConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	Dir        string `yaml:"dir"`
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
	// RemoteURL is a `quell serve` instance shared as a cache tier behind
	// the local ones.
	RemoteURL   string `yaml:"remote_url,omitempty"`
	RemoteToken string `yaml:"remote_token,omitempty"`
}

// HistoryConfig selects where scan runs are archived
type HistoryConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	Keep    int    `yaml:"keep"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint"`
	Protocol       string            `yaml:"protocol"`
	Insecure       bool              `yaml:"insecure"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	SampleRate     float64           `yaml:"sample_rate"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
}

// GateConfig points at an optional directory of Rego policies for quell check.
type GateConfig struct {
	RegoDir string `yaml:"rego_dir,omitempty"`
}

// ServerConfig holds the HTTP API listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

var markerRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Validate checks that the configuration is valid and ready to use
func (c *Config) Validate() error {
	if c.Scanner.Binary == "" {
		return errors.New("scanner.binary is required")
	}
	if c.RulesDir == "" {
		return errors.New("rules_dir is required")
	}
	if _, err := finding.ParseSeverity(c.MinSeverity); err != nil {
		return fmt.Errorf("min_severity: %w", err)
	}
	if !markerRe.MatchString(c.Suppression.Marker) {
		return fmt.Errorf("suppression.marker must be a single word, got %q", c.Suppression.Marker)
	}
	if c.Suppression.ExcludeFile == "" || strings.ContainsAny(c.Suppression.ExcludeFile, "\r\n") {
		return fmt.Errorf("suppression.exclude_file is invalid: %q", c.Suppression.ExcludeFile)
	}
	if _, err := time.ParseDuration(c.LSP.Debounce); err != nil {
		return fmt.Errorf("lsp.debounce: %w", err)
	}
	if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}
	if c.Cache.RemoteURL != "" {
		u, err := url.Parse(c.Cache.RemoteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("cache.remote_url must be an http(s) URL, got: %s", c.Cache.RemoteURL)
		}
	}
	if c.History.Backend != "file" && c.History.Backend != "sqlite" {
		return fmt.Errorf("history.backend must be 'file' or 'sqlite', got: %s", c.History.Backend)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be 'grpc' or 'http', got: %s", c.Telemetry.Protocol)
	}
	return nil
}

// Severity returns the parsed minimum severity. Call after Validate.
func (c *Config) Severity() finding.Severity {
	s, err := finding.ParseSeverity(c.MinSeverity)
	if err != nil {
		return finding.SeverityInfo
	}
	return s
}

// ScanOnSaveEnabled reports whether saves trigger a scan.
func (c *Config) ScanOnSaveEnabled() bool { return c.ScanOnSave == nil || *c.ScanOnSave }

// SafetyCheckEnabled reports whether line suppressions are syntax checked.
func (c *Config) SafetyCheckEnabled() bool {
	return c.Suppression.SafetyCheck == nil || *c.Suppression.SafetyCheck
}

// CacheEnabled reports whether ScanFile results are cached.
func (c *Config) CacheEnabled() bool { return c.Cache.Enabled != nil && *c.Cache.Enabled }

// DebounceDuration parses lsp.debounce, falling back to the default.
func (c *Config) DebounceDuration() time.Duration {
	if d, err := time.ParseDuration(c.LSP.Debounce); err == nil && d > 0 {
		return d
	}
	return defaultDebounce
}

// CacheTTL parses cache.ttl, falling back to the default.
func (c *Config) CacheTTL() time.Duration {
	if d, err := time.ParseDuration(c.Cache.TTL); err == nil && d > 0 {
		return d
	}
	return defaultCacheTTL
}

// ResolveRulesDir returns rules_dir made absolute against projectRoot.
func (c *Config) ResolveRulesDir(projectRoot string) string {
	return resolve(projectRoot, c.RulesDir)
}

// ResolveHistoryDir returns history.dir made absolute against projectRoot.
func (c *Config) ResolveHistoryDir(projectRoot string) string {
	return resolve(projectRoot, c.History.Dir)
}

// ResolveCacheDir returns cache.dir with ~ expanded, or "" when unset.
func (c *Config) ResolveCacheDir(projectRoot string) string {
	if c.Cache.Dir == "" {
		return ""
	}
	return resolve(projectRoot, c.Cache.Dir)
}

func resolve(root, p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// MergeConfigs merges configs in order of increasing precedence.
// Later configs override earlier ones. Non-zero fields override; pointer
// booleans override whenever they are set.
func MergeConfigs(configs ...*Config) *Config {
	result := &Config{}

	for _, cfg := range configs {
		if cfg == nil {
			continue
		}

		if cfg.Scanner.Binary != "" {
			result.Scanner.Binary = cfg.Scanner.Binary
		}
		if len(cfg.Scanner.Args) > 0 {
			result.Scanner.Args = cfg.Scanner.Args
		}
		if cfg.RulesDir != "" {
			result.RulesDir = cfg.RulesDir
		}
		if cfg.RulesRepoURL != "" {
			result.RulesRepoURL = cfg.RulesRepoURL
		}
		if cfg.MinSeverity != "" {
			result.MinSeverity = cfg.MinSeverity
		}
		if cfg.ScanOnSave != nil {
			result.ScanOnSave = cfg.ScanOnSave
		}

		if cfg.Suppression.Marker != "" {
			result.Suppression.Marker = cfg.Suppression.Marker
		}
		if cfg.Suppression.ExcludeFile != "" {
			result.Suppression.ExcludeFile = cfg.Suppression.ExcludeFile
		}
		if cfg.Suppression.SafetyCheck != nil {
			result.Suppression.SafetyCheck = cfg.Suppression.SafetyCheck
		}

		if cfg.LSP.Debounce != "" {
			result.LSP.Debounce = cfg.LSP.Debounce
		}
		// Pattern lists replace rather than append
		if len(cfg.LSP.WatchPatterns) > 0 {
			result.LSP.WatchPatterns = cfg.LSP.WatchPatterns
		}
		if len(cfg.LSP.IgnorePatterns) > 0 {
			result.LSP.IgnorePatterns = cfg.LSP.IgnorePatterns
		}

		if cfg.Cache.Enabled != nil {
			result.Cache.Enabled = cfg.Cache.Enabled
		}
		if cfg.Cache.Dir != "" {
			result.Cache.Dir = cfg.Cache.Dir
		}
		if cfg.Cache.TTL != "" {
			result.Cache.TTL = cfg.Cache.TTL
		}
		if cfg.Cache.MaxEntries > 0 {
			result.Cache.MaxEntries = cfg.Cache.MaxEntries
		}
		if cfg.Cache.RemoteURL != "" {
			result.Cache.RemoteURL = cfg.Cache.RemoteURL
		}
		if cfg.Cache.RemoteToken != "" {
			result.Cache.RemoteToken = cfg.Cache.RemoteToken
		}

		if cfg.History.Backend != "" {
			result.History.Backend = cfg.History.Backend
		}
		if cfg.History.Dir != "" {
			result.History.Dir = cfg.History.Dir
		}
		if cfg.History.Keep > 0 {
			result.History.Keep = cfg.History.Keep
		}

		// Telemetry: enabling in any tier wins; connection fields override
		if cfg.Telemetry.Enabled {
			result.Telemetry.Enabled = true
		}
		if cfg.Telemetry.Endpoint != "" {
			result.Telemetry.Endpoint = cfg.Telemetry.Endpoint
		}
		if cfg.Telemetry.Protocol != "" {
			result.Telemetry.Protocol = cfg.Telemetry.Protocol
		}
		if cfg.Telemetry.Insecure {
			result.Telemetry.Insecure = true
		}
		if len(cfg.Telemetry.Headers) > 0 {
			result.Telemetry.Headers = cfg.Telemetry.Headers
		}
		if cfg.Telemetry.SampleRate > 0 {
			result.Telemetry.SampleRate = cfg.Telemetry.SampleRate
		}
		if cfg.Telemetry.ServiceName != "" {
			result.Telemetry.ServiceName = cfg.Telemetry.ServiceName
		}
		if cfg.Telemetry.ServiceVersion != "" {
			result.Telemetry.ServiceVersion = cfg.Telemetry.ServiceVersion
		}

		if cfg.Gate.RegoDir != "" {
			result.Gate.RegoDir = cfg.Gate.RegoDir
		}
		if cfg.Server.Addr != "" {
			result.Server.Addr = cfg.Server.Addr
		}
	}

	return result
}

// LoadFromFile reads a YAML config file. Returns nil, nil if the file doesn't exist.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadTiered loads system defaults, then machine config, then project config,
// and merges them in order of increasing precedence.
func LoadTiered(machinePath, projectPath string) (*Config, error) {
	system := SystemDefaults()

	machine, err := LoadFromFile(machinePath)
	if err != nil {
		return nil, fmt.Errorf("loading machine config: %w", err)
	}

	project, err := LoadFromFile(projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	return MergeConfigs(system, machine, project), nil
}

// MachineConfigPath is $HOME/.config/quell/config.yaml, or "" when the home
// directory is unknown.
func MachineConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "quell", "config.yaml")
}

// ProjectConfigPath is .quell/config.yaml under projectRoot.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".quell", "config.yaml")
}

// Load resolves the full configuration for projectRoot: tiered files, then
// QUELL_* environment overrides, then validation.
func Load(projectRoot string) (*Config, error) {
	cfg, err := LoadTiered(MachineConfigPath(), ProjectConfigPath(projectRoot))
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
