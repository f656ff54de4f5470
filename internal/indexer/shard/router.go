// Package shard partitions documents over a fixed number of index shards.
// Each shard is an independent queued index.Manager with its own directory
// under the configured data dir.
package shard

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
)

// Router maps document ids to shard managers.
type Router struct {
	managers []*index.Manager
	analyzer tokenizer.Analyzer
	schema   indexer.Schema
	logger   *slog.Logger
}

// NewRouter opens cfg.NumShards queued managers under cfg.DataDir/shard-N.
func NewRouter(cfg config.IndexConfig, m *metrics.IndexMetrics, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NumShards < 1 {
		return nil, fmt.Errorf("number of shards must be positive, got %d", cfg.NumShards)
	}
	policy, err := index.ParseFlushPolicy(cfg.FlushPolicy)
	if err != nil {
		return nil, err
	}
	r := &Router{
		managers: make([]*index.Manager, 0, cfg.NumShards),
		schema:   indexer.NewSchema(cfg),
		logger:   logger.With("component", "shard-router"),
	}
	for i := 0; i < cfg.NumShards; i++ {
		name := Name(i)
		dir, analyzer, err := indexer.OpenDirectory(cfg, filepath.Join(cfg.DataDir, name), logger)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		mgr, err := index.NewQueuedManager(name, index.Configuration{
			Directory:   dir,
			FlushPolicy: policy,
			Profiles:    indexer.Profiles(cfg),
			IdleTimeout: cfg.IdleTimeout,
			Logger:      logger,
			Metrics:     m,
		}, cfg.MaxQueueSize)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
		r.analyzer = analyzer
		r.managers = append(r.managers, mgr)
		r.logger.Info("shard initialized", "shard", name, "location", dir.Location())
	}
	r.logger.Info("shard router ready", "num_shards", cfg.NumShards, "backend", cfg.Backend)
	return r, nil
}

// Name is the index name and directory of shard i.
func Name(i int) string {
	return fmt.Sprintf("shard-%d", i)
}

// ShardFor hashes a document id onto a shard number.
func (r *Router) ShardFor(docID string) int {
	h := fnv.New32a()
	h.Write([]byte(docID))
	return int(h.Sum32() % uint32(len(r.managers)))
}

// Route returns the manager owning docID.
func (r *Router) Route(docID string) *index.Manager {
	return r.managers[r.ShardFor(docID)]
}

// Shard returns the manager of shard id.
func (r *Router) Shard(id int) (*index.Manager, error) {
	if id < 0 || id >= len(r.managers) {
		return nil, fmt.Errorf("unknown shard %d (valid range: 0-%d)", id, len(r.managers)-1)
	}
	return r.managers[id], nil
}

func (r *Router) Managers() []*index.Manager {
	return append([]*index.Manager(nil), r.managers...)
}

func (r *Router) NumShards() int { return len(r.managers) }

// Analyzer is the analyzer queries against these shards must use.
func (r *Router) Analyzer() tokenizer.Analyzer { return r.analyzer }

func (r *Router) Schema() indexer.Schema { return r.schema }

type Stats struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
	NumDocs    int    `json:"num_docs"`
}

// Stats reads the committed state of every shard.
func (r *Router) Stats() ([]Stats, error) {
	out := make([]Stats, 0, len(r.managers))
	for _, m := range r.managers {
		s, err := m.OpenSearcher()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", m.Name(), err)
		}
		out = append(out, Stats{Name: m.Name(), Generation: s.Generation(), NumDocs: s.NumDocs()})
		s.Close()
	}
	return out, nil
}

// Close drains and closes every shard.
func (r *Router) Close() error {
	var errs []error
	for _, m := range r.managers {
		if err := m.Close(); err != nil {
			r.logger.Error("closing shard failed", "shard", m.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
