// Package consumer feeds mutation events from Kafka into the shard queues.
// Each fetched batch is submitted in one go, awaited as a whole through an
// index.Accumulator, and only then are document statuses recorded, completion
// events published and offsets committed.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/shard"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/resilience"
)

// Source delivers mutation messages and accepts offset commits.
type Source interface {
	FetchBatch(ctx context.Context, max int, linger time.Duration) ([]kafkago.Message, error)
	Commit(ctx context.Context, msgs ...kafkago.Message) error
}

// StatusStore records the indexing outcome of source documents.
type StatusStore interface {
	MarkStatus(ctx context.Context, status string, ids []string) error
}

// Publisher announces completed mutations.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type Options struct {
	Config    config.ConsumerConfig
	Status    StatusStore
	Publisher Publisher
	Metrics   *metrics.Metrics
	Retry     resilience.RetryConfig
	Logger    *slog.Logger
}

type Consumer struct {
	source    Source
	router    *shard.Router
	cfg       config.ConsumerConfig
	status    StatusStore
	publisher Publisher
	metrics   *metrics.Metrics
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

func New(source Source, router *shard.Router, opts Options) *Consumer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	if cfg.Linger <= 0 {
		cfg.Linger = 200 * time.Millisecond
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 2 * time.Minute
	}
	return &Consumer{
		source:    source,
		router:    router,
		cfg:       cfg,
		status:    opts.Status,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		retry:     opts.Retry,
		logger:    logger.With("component", "index-consumer"),
	}
}

// Run consumes until ctx is cancelled. A batch whose operations could not be
// awaited is left uncommitted so it is redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("index consumer started", "max_batch", c.cfg.MaxBatch, "linger", c.cfg.Linger)
	for {
		msgs, err := c.source.FetchBatch(ctx, c.cfg.MaxBatch, c.cfg.Linger)
		if ctx.Err() != nil {
			c.logger.Info("index consumer stopping", "reason", ctx.Err())
			return nil
		}
		if err != nil {
			c.logger.Error("failed to fetch batch", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := c.Process(ctx, msgs); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("batch not applied, leaving offsets uncommitted", "messages", len(msgs), "error", err)
			continue
		}
		err = resilience.Retry(ctx, "commit offsets", c.retry, func(ctx context.Context) error {
			return c.source.Commit(ctx, msgs...)
		})
		if err != nil {
			c.logger.Error("failed to commit offsets", "messages", len(msgs), "error", err)
		}
	}
}

type submitted struct {
	event  MutationEvent
	shard  string
	result index.Result
}

// Process applies one batch of messages and reports the outcome of every
// decodable event. Undecodable events are logged and skipped.
func (c *Consumer) Process(ctx context.Context, msgs []kafkago.Message) error {
	acc := index.NewAccumulator(c.logger)
	var subs []submitted
	schema := c.router.Schema()
	for _, msg := range msgs {
		ev, err := kafka.DecodeJSON[MutationEvent](msg.Value)
		if err != nil {
			c.logger.Error("dropping undecodable event", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			c.count("invalid")
			continue
		}
		op, err := ev.Operation(schema)
		if err != nil {
			c.logger.Error("dropping invalid event", "partition", msg.Partition, "offset", msg.Offset, "error", err)
			c.count("invalid")
			continue
		}
		targets := c.router.Managers()
		if ev.DocumentID != "" {
			targets = []*index.Manager{c.router.Route(ev.DocumentID)}
		}
		for _, mgr := range targets {
			res := mgr.Index().Perform(ctx, op)
			acc.AddTagged(mgr.Name(), ev.DocumentID, res)
			subs = append(subs, submitted{event: ev, shard: mgr.Name(), result: res})
		}
	}
	if len(subs) == 0 {
		return nil
	}

	awaitCtx, cancel := context.WithTimeout(ctx, c.cfg.AwaitTimeout)
	defer cancel()
	err := acc.ToResult().Await(awaitCtx)
	if errors.Is(err, index.ErrInterrupted) {
		return err
	}
	c.report(ctx, subs)
	c.logger.Info("batch applied",
		"messages", len(msgs),
		"operations", len(subs),
		"succeeded", acc.Successes(),
		"failed", acc.Failures(),
	)
	return nil
}

func (c *Consumer) report(ctx context.Context, subs []submitted) {
	var indexed, failed []string
	events := make([]kafka.Event, 0, len(subs))
	now := time.Now().UTC()
	for _, s := range subs {
		err := s.result.Await(ctx)
		ce := CompletionEvent{
			DocumentID: s.event.DocumentID,
			Op:         s.event.Op,
			Version:    s.event.Version,
			Shard:      s.shard,
			Status:     postgres.StatusIndexed,
			IndexedAt:  now,
		}
		if err != nil {
			ce.Status = postgres.StatusFailed
			ce.Error = err.Error()
			c.count("failed")
		} else {
			c.count("indexed")
		}
		if s.event.DocumentID != "" {
			if err != nil {
				failed = append(failed, s.event.DocumentID)
			} else {
				indexed = append(indexed, s.event.DocumentID)
			}
		}
		events = append(events, kafka.Event{Key: s.event.DocumentID, Value: ce})
	}

	if c.status != nil {
		for status, ids := range map[string][]string{postgres.StatusIndexed: indexed, postgres.StatusFailed: failed} {
			if len(ids) == 0 {
				continue
			}
			err := resilience.Retry(ctx, "mark "+status, c.retry, func(ctx context.Context) error {
				return c.status.MarkStatus(ctx, status, ids)
			})
			if err != nil {
				c.logger.Error("failed to record document status", "status", status, "documents", len(ids), "error", err)
			}
		}
	}
	if c.publisher != nil {
		err := resilience.Retry(ctx, "publish completions", c.retry, func(ctx context.Context) error {
			return c.publisher.Publish(ctx, events...)
		})
		if err != nil {
			c.logger.Error("failed to publish completion events", "events", len(events), "error", err)
		}
	}
}

func (c *Consumer) count(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.EventsConsumedTotal.WithLabelValues(outcome).Inc()
}
