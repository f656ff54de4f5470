package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
)

const joinPollInterval = 5 * time.Second

type entry struct {
	op     Operation
	future *Future
}

type worker struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (w *worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// QueuedIndex buffers operations in a bounded queue and applies them through
// a DirectIndex on a single background worker. The worker starts on demand,
// exits after an idle period and folds everything waiting into one batch.
type QueuedIndex struct {
	name     string
	delegate *DirectIndex
	entries  chan *entry
	idle     time.Duration
	logger   *slog.Logger
	metrics  *metrics.IndexMetrics

	mu     sync.Mutex
	worker *worker

	// submitters hold closeMu for reading while enqueuing so Close can wait
	// them out before joining the worker.
	closeMu sync.RWMutex
	closed  atomic.Bool
}

// NewQueuedIndex queues at most maxQueueSize operations in front of delegate.
// The drain goroutine starts on the first Perform and exits after
// cfg.IdleTimeout without work.
func NewQueuedIndex(delegate *DirectIndex, maxQueueSize int, cfg Configuration) *QueuedIndex {
	if maxQueueSize < 1 {
		maxQueueSize = 1
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuedIndex{
		name:     cfg.Name,
		delegate: delegate,
		entries:  make(chan *entry, maxQueueSize),
		idle:     idle,
		logger:   logger.With("component", "index-queue", "index", cfg.Name),
		metrics:  cfg.Metrics,
	}
}

// Perform enqueues op, blocking while the queue is full. If ctx is done
// before op is accepted the result fails with ErrInterrupted and op is not
// applied.
func (q *QueuedIndex) Perform(ctx context.Context, op Operation) Result {
	if q.closed.Load() {
		return Failed(ErrQueueClosed)
	}
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed.Load() {
		return Failed(ErrQueueClosed)
	}

	e := &entry{op: op, future: NewFuture()}
	q.ensureWorker()
	select {
	case q.entries <- e:
	default:
		q.logger.Debug("index queue full, waiting", "capacity", cap(q.entries))
		select {
		case q.entries <- e:
		case <-ctx.Done():
			return Failed(interrupted(ctx))
		}
	}
	q.metrics.SetQueueDepth(q.name, len(q.entries))
	// the worker may have gone idle between the first check and the send
	q.ensureWorker()
	return e.future
}

// Len reports the number of operations waiting to be picked up.
func (q *QueuedIndex) Len() int {
	return len(q.entries)
}

func (q *QueuedIndex) ensureWorker() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.worker != nil {
		return
	}
	w := &worker{stop: make(chan struct{}), done: make(chan struct{})}
	q.worker = w
	go q.run(w)
}

func (q *QueuedIndex) run(w *worker) {
	defer close(w.done)
	defer q.retire(w)

	timer := time.NewTimer(q.idle)
	defer timer.Stop()
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		var first *entry
		select {
		case <-w.stop:
			return
		case first = <-q.entries:
		case <-timer.C:
			if q.retireIfIdle(w) {
				q.logger.Debug("index queue worker idle, exiting")
				return
			}
			timer.Reset(q.idle)
			continue
		}

		q.process(q.drain(first))

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.idle)
	}
}

func (q *QueuedIndex) retire(w *worker) {
	q.mu.Lock()
	if q.worker == w {
		q.worker = nil
	}
	q.mu.Unlock()
}

// retireIfIdle unregisters w if nothing is queued. Holding mu keeps a
// submitter from observing w as alive after it has decided to exit.
func (q *QueuedIndex) retireIfIdle(w *worker) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) > 0 {
		return false
	}
	if q.worker == w {
		q.worker = nil
	}
	return true
}

func (q *QueuedIndex) drain(first *entry) []*entry {
	batch := []*entry{first}
	for {
		select {
		case e := <-q.entries:
			batch = append(batch, e)
		default:
			return batch
		}
	}
}

func (q *QueuedIndex) process(entries []*entry) {
	ops := make([]Operation, len(entries))
	for i, e := range entries {
		ops[i] = e.op
	}
	batch := newBatch(ops)
	batchID := uuid.NewString()

	q.metrics.ObserveBatch(q.name, len(entries))
	q.metrics.SetQueueDepth(q.name, len(q.entries))
	q.logger.Debug("applying index batch",
		"batch_id", batchID,
		"size", len(entries),
		"mode", batch.Mode(),
	)

	err := q.delegate.Perform(context.Background(), batch).Await(context.Background())
	q.resolve(entries, err, batchID)
}

// resolve settles every entry of a batch. When member k failed, members
// before k were applied and succeed, k fails with its own error, and the
// rest fail as canceled.
func (q *QueuedIndex) resolve(entries []*entry, err error, batchID string) {
	if err == nil {
		for _, e := range entries {
			e.future.Resolve(nil)
		}
		return
	}

	var be *batchError
	if !errors.As(err, &be) {
		q.logger.Error("index batch failed",
			"batch_id", batchID,
			"size", len(entries),
			"error", err,
		)
		for _, e := range entries {
			e.future.Resolve(err)
		}
		return
	}

	canceled := len(entries) - be.index - 1
	q.logger.Error("index batch member failed",
		"batch_id", batchID,
		"size", len(entries),
		"failed_at", be.index,
		"canceled", canceled,
		"error", be.err,
	)
	q.metrics.AddCanceled(q.name, canceled)
	for i, e := range entries {
		switch {
		case i < be.index:
			e.future.Resolve(nil)
		case i == be.index:
			e.future.Resolve(be.err)
		default:
			e.future.Resolve(&CanceledError{Cause: be.err})
		}
	}
}

// Close stops accepting operations, waits for the worker to finish its
// current batch, applies whatever is still queued and closes the engine.
// It is not reusable afterwards.
func (q *QueuedIndex) Close() error {
	if q.closed.Swap(true) {
		return nil
	}
	q.closeMu.Lock()
	defer q.closeMu.Unlock()

	for {
		q.mu.Lock()
		w := q.worker
		q.mu.Unlock()
		if w == nil {
			break
		}
		w.signalStop()
		select {
		case <-w.done:
		case <-time.After(joinPollInterval):
			q.logger.Info("waiting for index queue worker to finish its batch")
		}
	}

	if n := len(q.entries); n > 0 {
		q.logger.Info("applying remaining queued operations before close", "count", n)
		for {
			select {
			case first := <-q.entries:
				q.process(q.drain(first))
				continue
			default:
			}
			break
		}
	}
	q.metrics.SetQueueDepth(q.name, 0)
	return q.delegate.Close()
}
