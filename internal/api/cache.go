package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chris-regnier/quell/internal/cache"
)

// maxCacheEntry bounds PUT bodies.
const maxCacheEntry = 8 << 20

// WithCacheStore serves store on /api/cache/{hash} for other quell
// processes using it as a remote tier. A non-empty token is required as a
// bearer credential.
func WithCacheStore(store *cache.LocalCache, token string) Option {
	return func(s *Server) {
		s.cacheStore = store
		s.cacheToken = token
	}
}

func (s *Server) cacheRoutes(r chi.Router) {
	r.Use(s.requireCacheToken)
	r.Get("/{hash}", s.handleCacheGet)
	r.Put("/{hash}", s.handleCachePut)
	r.Delete("/{hash}", s.handleCacheDelete)
}

func (s *Server) requireCacheToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cacheToken != "" {
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+s.cacheToken)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("missing or invalid cache token"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCacheGet(w http.ResponseWriter, r *http.Request) {
	data, err := s.cacheStore.ReadHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, cacheStatus(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCachePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCacheEntry))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("reading entry: %w", err))
		return
	}
	if err := s.cacheStore.WriteHash(chi.URLParam(r, "hash"), data); err != nil {
		writeError(w, cacheStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.cacheStore.RemoveHash(chi.URLParam(r, "hash")); err != nil {
		writeError(w, cacheStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func cacheStatus(err error) int {
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return http.StatusNotFound
	case errors.Is(err, cache.ErrInvalidHash), errors.Is(err, cache.ErrInvalidEntry):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
