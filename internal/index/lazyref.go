package index

import (
	"errors"
	"sync"
	"sync/atomic"
)

type lazy[T comparable] struct {
	once  sync.Once
	value T
	err   error
}

// release prevents a pending creation from running and returns the value if
// creation had already completed.
func (l *lazy[T]) release() (T, bool) {
	l.once.Do(func() { l.err = ErrAlreadyClosed })
	if l.err != nil {
		var zero T
		return zero, false
	}
	return l.value, true
}

// ref is a cell holding at most one lazily created value. Concurrent getters
// share a single creation; closing swaps the cell out so the next getter
// creates a fresh value.
type ref[T comparable] struct {
	cell atomic.Pointer[lazy[T]]
}

func (r *ref[T]) get(create func() (T, error)) (T, error) {
	for {
		cur := r.cell.Load()
		if cur == nil {
			fresh := &lazy[T]{}
			if !r.cell.CompareAndSwap(nil, fresh) {
				continue
			}
			cur = fresh
		}
		cur.once.Do(func() { cur.value, cur.err = create() })
		if cur.err != nil {
			r.cell.CompareAndSwap(cur, nil)
			if errors.Is(cur.err, ErrAlreadyClosed) {
				continue
			}
			var zero T
			return zero, cur.err
		}
		return cur.value, nil
	}
}

// close empties the cell and returns the value it held, if any was created.
func (r *ref[T]) close() (T, bool) {
	cur := r.cell.Swap(nil)
	if cur == nil {
		var zero T
		return zero, false
	}
	return cur.release()
}

// reset empties the cell without waiting for or releasing its value.
func (r *ref[T]) reset() {
	r.cell.Store(nil)
}

// closeIfCurrent empties the cell only if it still holds expected.
func (r *ref[T]) closeIfCurrent(expected T) bool {
	cur := r.cell.Load()
	if cur == nil {
		return false
	}
	v, ok := cur.release()
	if !ok || v != expected {
		return false
	}
	return r.cell.CompareAndSwap(cur, nil)
}

var errWriterRetired = errors.New("index writer retired")

// guardedWriter lets many callers use a writer while a closer waits for them
// to finish. Callers that find it retired fetch a new one.
type guardedWriter struct {
	mu     sync.RWMutex
	closed bool
	w      Writer
	mode   UpdateMode
}

func (g *guardedWriter) use(fn func(Writer) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return errWriterRetired
	}
	return fn(g.w)
}

func (g *guardedWriter) close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.w.Close()
}
