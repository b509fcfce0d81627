package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ CacheManager = (*RemoteCache)(nil)

// RemoteCache shares scan results through the /api/cache endpoints of a
// `quell serve` instance, so a team scanning the same commit reuses results.
type RemoteCache struct {
	baseURL string
	client  *http.Client
	token   string
}

type RemoteOption func(*RemoteCache)

func WithHTTPClient(client *http.Client) RemoteOption {
	return func(c *RemoteCache) { c.client = client }
}

// WithToken sends token as a bearer credential.
func WithToken(token string) RemoteOption {
	return func(c *RemoteCache) { c.token = token }
}

func WithTimeout(d time.Duration) RemoteOption {
	return func(c *RemoteCache) { c.client.Timeout = d }
}

func NewRemoteCache(baseURL string, opts ...RemoteOption) *RemoteCache {
	c := &RemoteCache{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RemoteCache) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.remote.get", trace.WithAttributes(
		attribute.String("quell.cache.file", key.FilePath),
	))
	defer span.End()

	resp, err := c.do(ctx, http.MethodGet, key.Hash(), nil)
	if err != nil {
		return nil, fail(span, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		span.SetAttributes(attribute.Bool("quell.cache.hit", false))
		return nil, ErrCacheMiss
	default:
		return nil, fail(span, statusError(resp))
	}

	var entry CacheEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fail(span, fmt.Errorf("decoding remote entry: %w", err))
	}
	if entry.Key != key {
		span.SetAttributes(attribute.Bool("quell.cache.hit", false))
		return nil, ErrCacheMiss
	}
	span.SetAttributes(attribute.Bool("quell.cache.hit", true))
	return &entry, nil
}

func (c *RemoteCache) Put(ctx context.Context, entry *CacheEntry) error {
	ctx, span := cacheTracer.Start(ctx, "cache.remote.put", trace.WithAttributes(
		attribute.String("quell.cache.file", entry.Key.FilePath),
	))
	defer span.End()

	data, err := json.Marshal(entry)
	if err != nil {
		return fail(span, err)
	}
	resp, err := c.do(ctx, http.MethodPut, entry.Key.Hash(), data)
	if err != nil {
		return fail(span, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fail(span, statusError(resp))
	}
	return nil
}

func (c *RemoteCache) Delete(ctx context.Context, key CacheKey) error {
	resp, err := c.do(ctx, http.MethodDelete, key.Hash(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusError(resp)
}

// Ping checks that the server is up.
func (c *RemoteCache) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cache server unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *RemoteCache) do(ctx context.Context, method, hash string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/cache/"+hash, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, c.baseURL, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("cache server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
