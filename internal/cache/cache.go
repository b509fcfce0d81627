// Package cache stores per-file scan results keyed by everything that can
// change the scanner's answer: file content, rule set, binary and version.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chris-regnier/quell/internal/finding"
)

var (
	ErrCacheMiss    = errors.New("cache miss")
	ErrInvalidHash  = errors.New("invalid cache key hash")
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// CacheKey identifies one file scan.
type CacheKey struct {
	FileHash       string `json:"file_hash"`
	FilePath       string `json:"file_path"`
	Binary         string `json:"binary"`
	ScannerVersion string `json:"scanner_version"`
	RulesDigest    string `json:"rules_digest"`
	ExcludedRules  string `json:"excluded_rules,omitempty"`
}

// Hash computes a deterministic key.
func (k CacheKey) Hash() string {
	b, err := json.Marshal(k)
	if err != nil {
		panic("failed to marshal CacheKey: " + err.Error())
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// CacheEntry is a cached file scan.
type CacheEntry struct {
	Key       CacheKey          `json:"key"`
	Findings  []finding.Finding `json:"findings"`
	Errors    []string          `json:"errors,omitempty"`
	Version   string            `json:"version"`
	Timestamp int64             `json:"timestamp"`
}

// CacheManager is implemented by every cache tier.
type CacheManager interface {
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)
	Put(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, key CacheKey) error
}

// HashBytes returns the hex sha256 of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// DigestDir hashes every rule file under dir (recursively) together with its
// relative path, so adding, removing or editing a rule changes the digest.
func DigestDir(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	h := sha256.New()
	for _, path := range files {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		h.Write([]byte(filepath.ToSlash(rel)))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
