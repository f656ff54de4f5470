package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/reindex"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
)

type fakeExecutor struct {
	calls    atomic.Int32
	err      error
	genErr   error
	lastPlan *parser.QueryPlan
	limit    int
}

func (f *fakeExecutor) Execute(_ context.Context, plan *parser.QueryPlan, limit int) (*executor.SearchResult, error) {
	f.calls.Add(1)
	f.lastPlan = plan
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return &executor.SearchResult{
		Query:     plan.RawQuery,
		TotalHits: 1,
		Results:   []executor.Hit{{ScoredDoc: ranker.ScoredDoc{DocID: "a", Score: 1.5, Shard: "shard-0"}}},
		TermStats: map[string]int{"fox": 1},
	}, nil
}

func (f *fakeExecutor) Generations(context.Context) (map[string]uint64, error) {
	return map[string]uint64{"shard-0": 1}, f.genErr
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

var errMiss = errors.New("miss")

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return nil, errMiss
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

type fakeReindexer struct {
	running atomic.Bool
	release chan struct{}
	opts    chan reindex.Options
	err     error
}

func (f *fakeReindexer) Run(_ context.Context, opts reindex.Options) (reindex.Report, error) {
	f.running.Store(true)
	defer f.running.Store(false)
	f.opts <- opts
	<-f.release
	return reindex.Report{RunID: "run-1", Documents: 3, Succeeded: 3}, f.err
}

func (f *fakeReindexer) Running() bool { return f.running.Load() }

func newHandler(exec *fakeExecutor, re Reindexer) (*Handler, *http.ServeMux, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	qc := cache.New(&memStore{data: map[string][]byte{}}, cache.Options{
		IsMiss: func(err error) bool { return errors.Is(err, errMiss) },
		Logger: logger.Discard(),
	})
	h := New(Options{
		Executor:     exec,
		Cache:        qc,
		Reindexer:    re,
		DefaultLimit: 10,
		MaxResults:   50,
		Metrics:      m,
		Logger:       logger.Discard(),
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux, m
}

func do(mux *http.ServeMux, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSearchServesFromCacheOnRepeat(t *testing.T) {
	exec := &fakeExecutor{}
	_, mux, m := newHandler(exec, nil)

	rec := do(mux, http.MethodGet, "/api/v1/search?q=fox&limit=500")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, 1.0, body["total_hits"])
	assert.Equal(t, 50, exec.limit, "limit is capped")

	rec = do(mux, http.MethodGet, "/api/v1/search?q=FOX&limit=500")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), exec.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("hit")))

	stats := decode(t, do(mux, http.MethodGet, "/api/v1/cache/stats"))
	assert.Equal(t, 1.0, stats["hits"])
	assert.Equal(t, 1.0, stats["misses"])
	assert.Equal(t, "50.0%", stats["hit_rate"])
	assert.Equal(t, "closed", stats["breaker"])
}

func TestSearchValidation(t *testing.T) {
	_, mux, _ := newHandler(&fakeExecutor{}, nil)
	tests := []struct {
		target string
		status int
	}{
		{"/api/v1/search", http.StatusBadRequest},
		{"/api/v1/search?q=fox&limit=0", http.StatusBadRequest},
		{"/api/v1/search?q=fox&limit=ten", http.StatusBadRequest},
		{"/api/v1/search?q=fox+NOT", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(mux, http.MethodGet, tt.target)
		assert.Equal(t, tt.status, rec.Code, tt.target)
		assert.NotEmpty(t, decode(t, rec)["error"])
	}
}

func TestSearchOnlyStopWords(t *testing.T) {
	exec := &fakeExecutor{}
	_, mux, _ := newHandler(exec, nil)
	rec := do(mux, http.MethodGet, "/api/v1/search?q=the")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, decode(t, rec)["total_hits"])
	assert.Zero(t, exec.calls.Load())
}

func TestSearchMapsErrors(t *testing.T) {
	exec := &fakeExecutor{err: apperrors.ErrShardUnavailable}
	_, mux, _ := newHandler(exec, nil)
	rec := do(mux, http.MethodGet, "/api/v1/search?q=fox")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, http.StatusText(http.StatusServiceUnavailable), decode(t, rec)["error"])

	exec = &fakeExecutor{genErr: apperrors.ErrTimeout}
	_, mux, _ = newHandler(exec, nil)
	rec = do(mux, http.MethodGet, "/api/v1/search?q=fox")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestReindexLifecycle(t *testing.T) {
	re := &fakeReindexer{release: make(chan struct{}), opts: make(chan reindex.Options, 1)}
	h, mux, _ := newHandler(&fakeExecutor{}, re)

	rec := do(mux, http.MethodPost, "/api/v1/reindex?clean=true")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, reindex.Options{Clean: true}, <-re.opts)

	rec = do(mux, http.MethodPost, "/api/v1/reindex")
	assert.Equal(t, http.StatusConflict, rec.Code)

	status := decode(t, do(mux, http.MethodGet, "/api/v1/reindex"))
	assert.Equal(t, true, status["running"])

	close(re.release)
	h.Wait()

	status = decode(t, do(mux, http.MethodGet, "/api/v1/reindex"))
	assert.Equal(t, false, status["running"])
	last, ok := status["last_run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", last["run_id"])
	assert.Equal(t, 3.0, last["succeeded"])
	assert.NotContains(t, status, "last_error")
}

func TestReindexRejectsBadFlagAndMissingJob(t *testing.T) {
	re := &fakeReindexer{release: make(chan struct{}), opts: make(chan reindex.Options, 1)}
	_, mux, _ := newHandler(&fakeExecutor{}, re)
	assert.Equal(t, http.StatusBadRequest, do(mux, http.MethodPost, "/api/v1/reindex?clean=maybe").Code)

	_, mux, _ = newHandler(&fakeExecutor{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(mux, http.MethodPost, "/api/v1/reindex").Code)
}
