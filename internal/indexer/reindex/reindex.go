// Package reindex rebuilds the shard indexes from the documents table. A run
// pages through every source document, throttled by a token bucket, and feeds
// each shard's queue from its own worker. All submitted results go into one
// index.Accumulator; a clean run optimizes every shard once the accumulated
// result resolves without failures.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/postgres"
)

const leaseKey = "searchindex:reindex"

// Source pages through source documents in id order.
type Source interface {
	Page(ctx context.Context, afterID string, limit int) ([]postgres.Record, error)
}

// Lease keeps runs on different instances from overlapping.
type Lease interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

type Options struct {
	// Clean wipes every shard before indexing and optimizes afterwards.
	Clean bool
}

type Report struct {
	RunID     string        `json:"run_id"`
	Documents int           `json:"documents"`
	Deleted   int           `json:"deleted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Optimized bool          `json:"optimized"`
	Duration  time.Duration `json:"duration"`
}

type Job struct {
	source  Source
	router  *shard.Router
	cfg     config.ReindexConfig
	lease   Lease
	metrics *metrics.IndexMetrics
	logger  *slog.Logger
	running atomic.Bool
}

// New builds a job. lease and m may be nil.
func New(source Source, router *shard.Router, cfg config.ReindexConfig, lease Lease, m *metrics.IndexMetrics, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 30 * time.Minute
	}
	return &Job{
		source:  source,
		router:  router,
		cfg:     cfg,
		lease:   lease,
		metrics: m,
		logger:  logger.With("component", "reindex"),
	}
}

func (j *Job) Running() bool { return j.running.Load() }

// Run performs one full reindex and blocks until every submitted operation
// has resolved.
func (j *Job) Run(ctx context.Context, opts Options) (Report, error) {
	if !j.running.CompareAndSwap(false, true) {
		return Report{}, apperrors.ErrReindexInProgress
	}
	defer j.running.Store(false)

	report := Report{RunID: uuid.NewString()}
	logger := j.logger.With("run_id", report.RunID, "clean", opts.Clean)
	if j.lease != nil {
		ok, err := j.lease.Acquire(ctx, leaseKey, report.RunID, j.cfg.AwaitTimeout)
		if err != nil {
			return report, fmt.Errorf("acquiring reindex lease: %w", err)
		}
		if !ok {
			return report, apperrors.ErrReindexInProgress
		}
		defer func() {
			if err := j.lease.Release(context.WithoutCancel(ctx), leaseKey, report.RunID); err != nil {
				logger.Warn("releasing reindex lease", "error", err)
			}
		}()
	}

	start := time.Now()
	logger.Info("reindex started")
	err := j.run(ctx, opts, &report, logger)
	report.Duration = time.Since(start)
	switch {
	case err == nil:
		j.metrics.BulkRun("success")
		logger.Info("reindex finished",
			"documents", report.Documents,
			"deleted", report.Deleted,
			"optimized", report.Optimized,
			"duration", report.Duration,
		)
	case errors.Is(err, index.ErrInterrupted), errors.Is(err, context.Canceled):
		j.metrics.BulkRun("interrupted")
		logger.Warn("reindex interrupted", "error", err)
	default:
		j.metrics.BulkRun("failed")
		logger.Error("reindex failed", "succeeded", report.Succeeded, "failed", report.Failed, "error", err)
	}
	return report, err
}

func (j *Job) run(ctx context.Context, opts Options, report *Report, logger *slog.Logger) error {
	managers := j.router.Managers()
	if opts.Clean {
		for _, m := range managers {
			if err := m.DeleteIndexDirectory(); err != nil {
				return fmt.Errorf("cleaning %s: %w", m.Name(), err)
			}
		}
	}

	acc := index.NewAccumulator(logger)
	var (
		optimizeMu sync.Mutex
		optimized  []index.Result
	)
	if opts.Clean {
		acc.OnCompletion(func() {
			optimizeMu.Lock()
			defer optimizeMu.Unlock()
			for _, m := range managers {
				optimized = append(optimized, m.Index().Perform(ctx, index.Optimize()))
			}
		})
	}

	if err := j.feed(ctx, opts, managers, acc, report); err != nil {
		return err
	}

	awaitCtx, cancel := context.WithTimeout(ctx, j.cfg.AwaitTimeout)
	defer cancel()
	err := acc.ToResult().Await(awaitCtx)
	report.Succeeded = acc.Successes()
	report.Failed = acc.Failures()
	if err != nil {
		return err
	}

	optimizeMu.Lock()
	pending := optimized
	optimizeMu.Unlock()
	for _, r := range pending {
		if err := r.Await(awaitCtx); err != nil {
			return fmt.Errorf("optimizing after reindex: %w", err)
		}
	}
	report.Optimized = len(pending) > 0
	return nil
}

// feed pages the source on one goroutine and submits to each shard from its
// own worker, so one shard's full queue does not stall the others. managers
// is indexed by shard id.
func (j *Job) feed(ctx context.Context, opts Options, managers []*index.Manager, acc *index.Accumulator, report *Report) error {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if j.cfg.RatePerSecond > 0 {
		burst := j.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(j.cfg.RatePerSecond), burst)
	}

	g, gctx := errgroup.WithContext(ctx)
	lanes := make([]chan postgres.Record, len(managers))
	for i := range lanes {
		lanes[i] = make(chan postgres.Record, j.cfg.PageSize)
	}
	var documents, deleted atomic.Int64

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		after := ""
		for {
			page, err := j.source.Page(gctx, after, j.cfg.PageSize)
			if err != nil {
				return fmt.Errorf("reading documents after %q: %w", after, err)
			}
			for _, rec := range page {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				select {
				case lanes[j.router.ShardFor(rec.ID)] <- rec:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if len(page) < j.cfg.PageSize {
				return nil
			}
			after = page[len(page)-1].ID
		}
	})

	schema := j.router.Schema()
	for i, lane := range lanes {
		mgr := managers[i]
		g.Go(func() error {
			for rec := range lane {
				var op index.Operation
				if rec.Deleted {
					deleted.Add(1)
					if opts.Clean {
						continue
					}
					op = index.Delete(schema.Key(rec.ID), index.Batch)
				} else {
					documents.Add(1)
					op = index.Update(schema.Key(rec.ID), index.Batch, schema.Document(rec.ID, rec.Version, rec.Fields))
				}
				res := mgr.Index().Perform(gctx, op)
				acc.AddTagged(mgr.Name(), rec.ID, res)
				if gctx.Err() != nil {
					return gctx.Err()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	report.Documents = int(documents.Load())
	report.Deleted = int(deleted.Load())
	return err
}
