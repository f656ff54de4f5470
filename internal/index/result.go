package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Result is the eventual outcome of an index operation.
type Result interface {
	// Await blocks until the result is resolved or ctx is done. A done
	// context yields an error matching ErrInterrupted.
	Await(ctx context.Context) error
	// AwaitTimeout reports whether the result resolved within d and, if so,
	// its error.
	AwaitTimeout(d time.Duration) (bool, error)
	IsDone() bool
}

// Future is a Result resolved exactly once by its producer.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolve settles the future. Only the first call has any effect; it
// reports whether this call did the resolving.
func (f *Future) Resolve(err error) bool {
	resolved := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	default:
	}
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return interrupted(ctx)
	}
}

func (f *Future) AwaitTimeout(d time.Duration) (bool, error) {
	if d <= 0 {
		if f.IsDone() {
			return true, f.err
		}
		return false, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return true, f.err
	case <-timer.C:
		return false, nil
	}
}

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Succeeded returns a result that is already done without error.
func Succeeded() Result {
	f := NewFuture()
	f.Resolve(nil)
	return f
}

// Failed returns a result that is already done with err. A nil err is
// replaced by a generic failure.
func Failed(err error) Result {
	if err == nil {
		err = errors.New("index operation failed")
	}
	f := NewFuture()
	f.Resolve(err)
	return f
}

func interrupted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
}

func awaitTimeout(r Result, d time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := r.Await(ctx)
	if err != nil && errors.Is(err, ErrInterrupted) && errors.Is(ctx.Err(), context.DeadlineExceeded) && !r.IsDone() {
		return false, nil
	}
	return true, err
}
