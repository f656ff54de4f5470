// Package handler exposes search and index administration over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/reindex"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
)

type SearchExecutor interface {
	Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error)
	Generations(ctx context.Context) (map[string]uint64, error)
}

type Reindexer interface {
	Run(ctx context.Context, opts reindex.Options) (reindex.Report, error)
	Running() bool
}

type Options struct {
	Executor     SearchExecutor
	Cache        *cache.QueryCache
	Reindexer    Reindexer
	Analyzer     tokenizer.Analyzer
	DefaultLimit int
	MaxResults   int
	Metrics      *metrics.Metrics
	// BaseContext parents background reindex runs. Cancelling it
	// interrupts a running reindex.
	BaseContext context.Context
	Logger      *slog.Logger
}

type Handler struct {
	opts   Options
	logger *slog.Logger

	wg        sync.WaitGroup
	mu        sync.Mutex
	lastRun   *reindex.Report
	lastError string
}

func New(opts Options) *Handler {
	if opts.Analyzer == nil {
		opts.Analyzer = tokenizer.Standard{}
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxResults < opts.DefaultLimit {
		opts.MaxResults = opts.DefaultLimit
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(nil, cache.Options{Logger: opts.Logger})
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	return &Handler{
		opts:   opts,
		logger: logger.OrDefault(opts.Logger, "search-handler"),
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/reindex", h.StartReindex)
	mux.HandleFunc("GET /api/v1/reindex", h.ReindexStatus)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required"))
		return
	}
	limit := h.opts.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, h.opts.MaxResults)
	}

	plan, err := parser.Parse(query, h.opts.Analyzer)
	if err != nil {
		h.countQuery("error")
		h.writeError(w, err)
		return
	}
	if len(plan.Terms) == 0 {
		h.countQuery("zero_result")
		h.writeJSON(w, http.StatusOK, &executor.SearchResult{
			Query:     query,
			Results:   []executor.Hit{},
			TermStats: map[string]int{},
		})
		return
	}

	gens, err := h.opts.Executor.Generations(ctx)
	if err != nil {
		h.countQuery("error")
		log.Error("reading shard generations", "error", err)
		h.writeError(w, err)
		return
	}
	result, cacheHit, err := h.opts.Cache.GetOrCompute(ctx, plan, limit, gens,
		func(ctx context.Context) (*executor.SearchResult, error) {
			return h.opts.Executor.Execute(ctx, plan, limit)
		})
	if err != nil {
		h.countQuery("error")
		log.Error("search execution failed", "query", query, "error", err)
		h.writeError(w, err)
		return
	}

	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
	}
	switch {
	case result.TotalHits == 0:
		h.countQuery("zero_result")
	default:
		h.countQuery(cacheStatus)
	}
	if h.opts.Metrics != nil {
		h.opts.Metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	}
	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.opts.Cache.Stats()
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
		"breaker":  h.opts.Cache.BreakerState().String(),
	})
}

// StartReindex launches a reindex in the background. ?clean=true wipes the
// shards first.
func (h *Handler) StartReindex(w http.ResponseWriter, r *http.Request) {
	if h.opts.Reindexer == nil {
		h.writeError(w, apperrors.New(apperrors.ErrShardUnavailable, http.StatusServiceUnavailable, "reindexing is not configured"))
		return
	}
	clean := false
	if v := r.URL.Query().Get("clean"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "clean must be a boolean"))
			return
		}
		clean = parsed
	}
	if h.opts.Reindexer.Running() {
		h.writeError(w, apperrors.ErrReindexInProgress)
		return
	}

	requestID := logger.RequestID(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx := logger.WithRequestID(h.opts.BaseContext, requestID)
		report, err := h.opts.Reindexer.Run(ctx, reindex.Options{Clean: clean})
		if errors.Is(err, apperrors.ErrReindexInProgress) {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		h.lastRun = &report
		h.lastError = ""
		if err != nil {
			h.lastError = err.Error()
		}
	}()
	h.writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "clean": clean})
}

func (h *Handler) ReindexStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"running": h.opts.Reindexer != nil && h.opts.Reindexer.Running()}
	h.mu.Lock()
	if h.lastRun != nil {
		resp["last_run"] = h.lastRun
		if h.lastError != "" {
			resp["last_error"] = h.lastError
		}
	}
	h.mu.Unlock()
	h.writeJSON(w, http.StatusOK, resp)
}

// Wait blocks until background reindex runs started by this handler return.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) countQuery(resultType string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status. Server-side failures get a generic
// message so internals do not leak.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
