package index

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const compactEvery = 256

type tracked struct {
	index  string
	id     string
	result Result
}

// Accumulator collects results from many operations and reduces them to one.
// Results that are already done are folded into counters immediately so
// long-running producers do not retain them.
type Accumulator struct {
	mu        sync.Mutex
	pending   []*tracked
	added     int
	successes int
	failures  int
	callbacks []*callback
	logger    *slog.Logger
}

// NewAccumulator returns an empty accumulator. Failures are logged on logger.
func NewAccumulator(logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{logger: logger.With("component", "index-accumulator")}
}

// Add records r without diagnostic tags.
func (a *Accumulator) Add(r Result) {
	a.AddTagged("", "", r)
}

// AddTagged records r along with the index name and document identifier
// reported if it fails.
func (a *Accumulator) AddTagged(indexName, id string, r Result) {
	t := &tracked{index: indexName, id: id, result: r}
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.IsDone() {
		a.fold(t)
		return
	}
	a.pending = append(a.pending, t)
	a.added++
	if a.added%compactEvery == 0 {
		a.compact()
	}
}

// OnCompletion registers fn to run once, in registration order, when a
// result taken after this call resolves with no failures. fn runs at most
// once even if several such results succeed.
func (a *Accumulator) OnCompletion(fn func()) {
	a.mu.Lock()
	a.callbacks = append(a.callbacks, &callback{fn: fn})
	a.mu.Unlock()
}

// Successes is the number of entries counted as succeeded so far.
func (a *Accumulator) Successes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successes
}

func (a *Accumulator) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}

// Pending is the number of entries still retained as in flight.
func (a *Accumulator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// ToResult freezes the entries, counters and callbacks registered so far into
// a composite Result. Later Add and OnCompletion calls do not affect it.
// Entries it resolves are still counted once on the accumulator itself.
func (a *Accumulator) ToResult() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &accumulated{
		acc:       a,
		pending:   make([]*tracked, len(a.pending)),
		successes: a.successes,
		failures:  a.failures,
		callbacks: make([]*callback, len(a.callbacks)),
	}
	copy(r.pending, a.pending)
	copy(r.callbacks, a.callbacks)
	return r
}

// fold must be called with mu held and only for done results.
func (a *Accumulator) fold(t *tracked) {
	if err := t.result.Await(context.Background()); err != nil {
		a.failures++
		a.logger.Error("index operation failed",
			"index", t.index,
			"id", t.id,
			"error", err,
		)
		return
	}
	a.successes++
}

// settle folds t if it is still pending here.
func (a *Accumulator) settle(t *tracked) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, p := range a.pending {
		if p != t {
			continue
		}
		copy(a.pending[i:], a.pending[i+1:])
		a.pending[len(a.pending)-1] = nil
		a.pending = a.pending[:len(a.pending)-1]
		a.fold(t)
		return
	}
}

func (a *Accumulator) compact() {
	kept := a.pending[:0]
	for _, t := range a.pending {
		if t.result.IsDone() {
			a.fold(t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(a.pending); i++ {
		a.pending[i] = nil
	}
	a.pending = kept
}

type callback struct {
	once sync.Once
	fn   func()
}

func (c *callback) run() { c.once.Do(c.fn) }

type accumulated struct {
	acc *Accumulator

	mu        sync.Mutex
	pending   []*tracked
	successes int
	failures  int
	callbacks []*callback
}

func (r *accumulated) Await(ctx context.Context) error {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			return r.finishLocked()
		}
		head := r.pending[0]
		r.mu.Unlock()

		err := head.result.Await(ctx)
		if err != nil && ctx.Err() != nil && !head.result.IsDone() {
			return err
		}

		r.mu.Lock()
		if len(r.pending) > 0 && r.pending[0] == head {
			r.pending[0] = nil
			r.pending = r.pending[1:]
			if head.result.Await(context.Background()) != nil {
				r.failures++
			} else {
				r.successes++
			}
		}
		r.mu.Unlock()
		r.acc.settle(head)
	}
}

// finishLocked is entered with mu held and releases it.
func (r *accumulated) finishLocked() error {
	if r.failures > 0 {
		err := &AggregateError{Failures: r.failures, Successes: r.successes}
		r.mu.Unlock()
		return err
	}
	callbacks := r.callbacks
	r.mu.Unlock()
	for _, cb := range callbacks {
		cb.run()
	}
	return nil
}

func (r *accumulated) AwaitTimeout(d time.Duration) (bool, error) {
	return awaitTimeout(r, d)
}

func (r *accumulated) IsDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.pending {
		if !t.result.IsDone() {
			return false
		}
	}
	return true
}
