package lsp

import (
	"net/url"
	"path/filepath"
	"strings"
)

// uriToPath converts a file:// URI to a filesystem path. Anything else is
// returned unchanged.
func uriToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}
	u, err := url.Parse(uri)
	if err != nil {
		return filepath.FromSlash(strings.TrimPrefix(uri, "file://"))
	}
	return filepath.FromSlash(u.Path)
}

// pathToURI converts an absolute filesystem path to a file:// URI.
func pathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
