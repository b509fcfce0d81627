package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (QUELL_BINARY, ...).
const EnvPrefix = "QUELL"

// envKeys maps viper keys to the env suffix they are bound to.
var envKeys = map[string]string{
	"scanner.binary":     "BINARY",
	"rules_dir":          "RULES_DIR",
	"min_severity":       "MIN_SEVERITY",
	"scan_on_save":       "SCAN_ON_SAVE",
	"suppression.marker": "MARKER",
	"history.backend":    "HISTORY_BACKEND",
	"server.addr":        "ADDR",
	"cache.remote_url":   "CACHE_URL",
	"cache.remote_token": "CACHE_TOKEN",
}

// ApplyEnv overrides cfg with any QUELL_* environment variables that are
// set. It runs after the file tiers, so the environment always wins.
func ApplyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for key, env := range envKeys {
		if err := v.BindEnv(key, EnvPrefix+"_"+env); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if v.IsSet("scanner.binary") {
		cfg.Scanner.Binary = v.GetString("scanner.binary")
	}
	if v.IsSet("rules_dir") {
		cfg.RulesDir = v.GetString("rules_dir")
	}
	if v.IsSet("min_severity") {
		cfg.MinSeverity = strings.ToUpper(v.GetString("min_severity"))
	}
	if v.IsSet("scan_on_save") {
		on := v.GetBool("scan_on_save")
		cfg.ScanOnSave = &on
	}
	if v.IsSet("suppression.marker") {
		cfg.Suppression.Marker = v.GetString("suppression.marker")
	}
	if v.IsSet("history.backend") {
		cfg.History.Backend = v.GetString("history.backend")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("cache.remote_url") {
		cfg.Cache.RemoteURL = v.GetString("cache.remote_url")
	}
	if v.IsSet("cache.remote_token") {
		cfg.Cache.RemoteToken = v.GetString("cache.remote_token")
	}
	return nil
}
