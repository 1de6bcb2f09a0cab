// Package handler serves the search HTTP API.
package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/metrics"
)

type Matcher interface {
	Match(ctx context.Context, plan *parser.QueryPlan) (*roaring.Bitmap, error)
}

type Options struct {
	Schema         config.SchemaConfig
	MaxTokenLength uint8
	DefaultLimit   int
	MaxResults     int
}

type Handler struct {
	matcher Matcher
	cache   *cache.QueryCache
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the handler. queryCache may be nil to disable caching.
func New(matcher Matcher, queryCache *cache.QueryCache, opts Options, m *metrics.Metrics) *Handler {
	return &Handler{
		matcher: matcher,
		cache:   queryCache,
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/keys", h.Keys)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := h.opts.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, h.opts.MaxResults)
	}

	plan, err := parser.Parse(query, h.opts.Schema)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	cacheStatus := "disabled"
	var matches *roaring.Bitmap
	if h.cache != nil && len(plan.Terms) > 0 {
		var hit bool
		matches, hit, err = h.cache.GetOrCompute(ctx, plan, func() (*roaring.Bitmap, error) {
			return h.matcher.Match(ctx, plan)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		matches, err = h.matcher.Match(ctx, plan)
	}
	if err != nil {
		h.metrics.SearchDone(start, cacheStatus, 0, err)
		log.Error("search execution failed", "query", query, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "search failed")
		return
	}

	result := executor.NewResult(query, matches, limit)
	result.Cached = cacheStatus == "hit"
	result.TookMs = float64(time.Since(start).Microseconds()) / 1000
	h.metrics.SearchDone(start, cacheStatus, result.TotalHits, nil)
	log.Info("search completed",
		"query", query,
		"plan", plan.Normalized(),
		"total_hits", result.TotalHits,
		"returned", len(result.DocIDs),
		"cache", cacheStatus,
		"took_ms", result.TookMs,
	)
	h.writeJSON(w, http.StatusOK, result)
}

// KeyInfo describes the posting key of a token in one field.
type KeyInfo struct {
	Token    string `json:"token"`
	Field    string `json:"field"`
	Tag      string `json:"tag"`
	TagByte  uint8  `json:"tag_byte"`
	Len      uint8  `json:"len"`
	Hash     string `json:"hash"`
	Uint64   uint64 `json:"uint64"`
	Key      string `json:"key"`
	Verbatim bool   `json:"verbatim"`
}

// Keys reports the derived key of ?token= in ?field= (default field when
// absent), using the stemmed tag when ?stemmed=true.
func (h *Handler) Keys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'token' is required")
		return
	}
	fieldName := q.Get("field")
	if fieldName == "" {
		fieldName = h.opts.Schema.DefaultField
	}
	field, ok := h.opts.Schema.FieldID(fieldName)
	if !ok {
		err := fmt.Errorf("field %q: %w", fieldName, apperrors.ErrUnknownField)
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	stemmed := false
	if s := q.Get("stemmed"); s != "" {
		var err error
		if stemmed, err = strconv.ParseBool(s); err != nil {
			h.writeError(w, http.StatusBadRequest, "stemmed must be a boolean")
			return
		}
	}
	tag := tokenkey.Word(field)
	if stemmed {
		tag = tokenkey.Stemmed(field)
	}
	key := tokenkey.DeriveString(token, h.opts.MaxTokenLength)
	_, verbatim := key.Verbatim()
	raw := key.Bytes()
	h.writeJSON(w, http.StatusOK, KeyInfo{
		Token:    token,
		Field:    fieldName,
		Tag:      tag.String(),
		TagByte:  uint8(tag),
		Len:      key.Len,
		Hash:     hex.EncodeToString(key.Hash[:]),
		Uint64:   key.Uint64(),
		Key:      hex.EncodeToString(raw[:]),
		Verbatim: verbatim,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
