package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var cacheTracer = otel.Tracer("github.com/chris-regnier/quell/internal/cache")

var _ CacheManager = (*LocalCache)(nil)

// LocalCache keeps one JSON file per entry, sharded by the first two hex
// digits of the key hash: <dir>/ab/abcdef....json.
type LocalCache struct {
	dir string
}

func NewLocalCache(dir string) *LocalCache {
	return &LocalCache{dir: dir}
}

func (c *LocalCache) entryPath(key CacheKey) string {
	return c.hashPath(key.Hash())
}

func (c *LocalCache) hashPath(hash string) string {
	return filepath.Join(c.dir, hash[:2], hash+".json")
}

// ValidHash reports whether s has the shape of CacheKey.Hash, so it can be
// used as a file name.
func ValidHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}

// ReadHash returns the stored entry for hash as raw JSON.
func (c *LocalCache) ReadHash(hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, ErrInvalidHash
	}
	data, err := os.ReadFile(c.hashPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	return data, err
}

// WriteHash stores a raw JSON entry under hash. The entry must decode and
// its key must hash to hash.
func (c *LocalCache) WriteHash(hash string, data []byte) error {
	if !ValidHash(hash) {
		return ErrInvalidHash
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if entry.Key.Hash() != hash {
		return fmt.Errorf("%w: key does not match %s", ErrInvalidEntry, hash)
	}
	return c.write(c.hashPath(hash), data)
}

// RemoveHash deletes the entry for hash. A missing entry is not an error.
func (c *LocalCache) RemoveHash(hash string) error {
	if !ValidHash(hash) {
		return ErrInvalidHash
	}
	if err := os.Remove(c.hashPath(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *LocalCache) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.local.get", trace.WithAttributes(
		attribute.String("quell.cache.file", key.FilePath),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, fail(span, err)
	}

	data, err := os.ReadFile(c.entryPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		span.SetAttributes(attribute.Bool("quell.cache.hit", false))
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fail(span, err)
	}

	// unreadable or foreign entries are misses; the next Put replaces them
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Key != key {
		span.SetAttributes(attribute.Bool("quell.cache.hit", false))
		return nil, ErrCacheMiss
	}
	span.SetAttributes(attribute.Bool("quell.cache.hit", true))
	return &entry, nil
}

func (c *LocalCache) Put(ctx context.Context, entry *CacheEntry) error {
	_, span := cacheTracer.Start(ctx, "cache.local.put", trace.WithAttributes(
		attribute.String("quell.cache.file", entry.Key.FilePath),
		attribute.Int("quell.cache.findings", len(entry.Findings)),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return fail(span, err)
	}

	entry.Timestamp = time.Now().Unix()
	data, err := json.Marshal(entry)
	if err != nil {
		return fail(span, err)
	}
	if err := c.write(c.entryPath(entry.Key), data); err != nil {
		return fail(span, err)
	}
	return nil
}

// write places data at path via a temp file in the same shard, so readers
// never see a partial entry.
func (c *LocalCache) write(path string, data []byte) error {
	shard := filepath.Dir(path)
	if err := os.MkdirAll(shard, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(shard, ".entry-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c *LocalCache) Delete(ctx context.Context, key CacheKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.RemoveHash(key.Hash())
}

// Purge removes every entry.
func (c *LocalCache) Purge() error {
	return os.RemoveAll(c.dir)
}
