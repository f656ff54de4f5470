package index

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
)

// Engine owns the writer and searcher lifecycle of one index. Writes are
// serialized through a single mutex; searchers are shared and reopened
// lazily after writes.
type Engine struct {
	name     string
	dir      Directory
	policy   FlushPolicy
	profiles Profiles
	logger   *slog.Logger
	metrics  *metrics.IndexMetrics

	writeMu sync.Mutex
	writer  ref[*guardedWriter]

	searcher ref[*snapshotHolder]
	searchMu sync.Mutex
	latest   *snapshotHolder

	closed atomic.Bool
}

type snapshotHolder struct {
	snap   Snapshot
	closer *DelayCloser
}

func newSnapshotHolder(snap Snapshot) *snapshotHolder {
	return &snapshotHolder{snap: snap, closer: NewDelayCloser(snap.Close)}
}

// Searcher is a held snapshot. Close releases the hold; the snapshot itself is
// closed once it has been superseded and every holder has released it.
type Searcher struct {
	Snapshot
	holder *snapshotHolder
	once   sync.Once
}

// Close is idempotent.
func (s *Searcher) Close() error {
	var err error
	s.once.Do(func() { err = s.holder.closer.Close() })
	return err
}

// NewEngine returns an engine over cfg.Directory. Nothing is opened until the
// first write or searcher request. Zero Profiles select DefaultProfiles.
func NewEngine(cfg Configuration) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	profiles := cfg.Profiles
	if profiles == (Profiles{}) {
		profiles = DefaultProfiles()
	}
	return &Engine{
		name:     cfg.Name,
		dir:      cfg.Directory,
		policy:   cfg.FlushPolicy,
		profiles: profiles,
		logger:   logger.With("component", "index-engine", "index", cfg.Name),
		metrics:  cfg.Metrics,
	}
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) Directory() Directory { return e.dir }

// Write applies op with the writer configured for op's mode and then applies
// the flush policy. The flush policy runs even if op failed part way, so
// whatever op applied before failing is kept.
func (e *Engine) Write(op Operation) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.closed.Load() {
		return ErrEngineClosed
	}

	start := time.Now()
	err := e.write(op)
	e.metrics.ObserveWrite(e.name, op.Mode().String(), time.Since(start), err)
	e.invalidateSearcher()
	return err
}

func (e *Engine) write(op Operation) error {
	for {
		gw, err := e.writerFor(op.Mode())
		if err != nil {
			return err
		}
		err = gw.use(func(w Writer) (perr error) {
			if e.policy == FlushCommit {
				defer func() {
					perr = e.settle(perr, w.Commit(), "commit")
				}()
			}
			return op.Perform(w)
		})
		if errors.Is(err, errWriterRetired) {
			continue
		}
		if e.policy == FlushClose && e.writer.closeIfCurrent(gw) {
			err = e.settle(err, gw.close(), "close")
		}
		return err
	}
}

// settle combines an operation error with the error of the flush step that
// followed it. The operation error wins; a flush error behind it is logged.
func (e *Engine) settle(opErr, flushErr error, step string) error {
	if flushErr == nil {
		return opErr
	}
	if opErr != nil {
		e.logger.Error("index flush failed after operation error",
			"step", step,
			"error", flushErr,
			"operation_error", opErr,
		)
		return opErr
	}
	return fmt.Errorf("index %s: %w", step, flushErr)
}

// writerFor must be called with writeMu held.
func (e *Engine) writerFor(mode UpdateMode) (*guardedWriter, error) {
	for {
		gw, err := e.writer.get(func() (*guardedWriter, error) {
			return e.openWriter(mode)
		})
		if err != nil {
			return nil, err
		}
		if gw.mode == mode {
			return gw, nil
		}
		if e.writer.closeIfCurrent(gw) {
			e.logger.Debug("switching writer mode", "from", gw.mode, "to", mode)
			if err := gw.close(); err != nil {
				return nil, fmt.Errorf("closing %s writer: %w", gw.mode, err)
			}
		}
	}
}

func (e *Engine) openWriter(mode UpdateMode) (*guardedWriter, error) {
	w, err := e.dir.OpenWriter(e.profiles.For(mode))
	if err != nil {
		return nil, fmt.Errorf("opening %s writer on %s: %w", mode, e.dir.Location(), err)
	}
	e.metrics.WriterOpened(e.name, mode.String())
	e.logger.Debug("index writer opened", "mode", mode)
	return &guardedWriter{w: w, mode: mode}, nil
}

func (e *Engine) releaseWriter() error {
	gw, ok := e.writer.close()
	if !ok {
		return nil
	}
	return gw.close()
}

// Searcher returns a held snapshot reflecting every committed write. The
// caller must Close it.
func (e *Engine) Searcher() (*Searcher, error) {
	for {
		if e.closed.Load() {
			return nil, ErrEngineClosed
		}
		h, err := e.searcher.get(e.createHolder)
		if err != nil {
			return nil, err
		}
		if !h.closer.Open() {
			e.searcher.closeIfCurrent(h)
			continue
		}
		return &Searcher{Snapshot: h.snap, holder: h}, nil
	}
}

func (e *Engine) createHolder() (*snapshotHolder, error) {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	prev := e.latest
	if prev == nil {
		if err := e.ensureCommitted(); err != nil {
			return nil, err
		}
		snap, err := e.dir.OpenSnapshot()
		if err != nil {
			return nil, fmt.Errorf("opening snapshot on %s: %w", e.dir.Location(), err)
		}
		e.metrics.SnapshotOpened(e.name, "open")
		e.latest = newSnapshotHolder(snap)
		return e.latest, nil
	}

	snap, err := e.dir.Reopen(prev.snap)
	if err != nil {
		return nil, fmt.Errorf("reopening snapshot on %s: %w", e.dir.Location(), err)
	}
	if snap == prev.snap {
		e.metrics.SnapshotOpened(e.name, "reuse")
		return prev, nil
	}
	e.metrics.SnapshotOpened(e.name, "reopen")
	e.latest = newSnapshotHolder(snap)
	if err := prev.closer.CloseWhenDone(); err != nil {
		e.logger.Warn("closing superseded snapshot", "error", err)
	}
	return e.latest, nil
}

// ensureCommitted makes sure the directory holds a committed index so a
// snapshot can be opened on a fresh location.
func (e *Engine) ensureCommitted() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	for {
		gw, err := e.writer.get(func() (*guardedWriter, error) {
			return e.openWriter(Interactive)
		})
		if err != nil {
			return err
		}
		err = gw.use(func(w Writer) error { return w.Commit() })
		if errors.Is(err, errWriterRetired) {
			continue
		}
		if err != nil {
			return fmt.Errorf("committing before first snapshot: %w", err)
		}
		if e.policy == FlushClose && e.writer.closeIfCurrent(gw) {
			return gw.close()
		}
		return nil
	}
}

// invalidateSearcher drops the cached holder without closing it; the next
// Searcher call reopens from the latest holder.
func (e *Engine) invalidateSearcher() {
	e.searcher.reset()
}

// releaseSearchers must be called with searchMu held.
func (e *Engine) releaseSearchers() error {
	e.searcher.reset()
	if e.latest == nil {
		return nil
	}
	h := e.latest
	e.latest = nil
	return h.closer.CloseWhenDone()
}

// Clean releases the writer and searchers and removes the index from its
// directory. The engine stays usable and recreates the index on next write.
// Lock order is searchMu then writeMu, as in createHolder.
func (e *Engine) Clean() error {
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	var errs []error
	if err := e.releaseWriter(); err != nil {
		errs = append(errs, fmt.Errorf("closing writer: %w", err))
	}
	if err := e.releaseSearchers(); err != nil {
		errs = append(errs, fmt.Errorf("closing searcher: %w", err))
	}
	if err := e.dir.Clean(); err != nil {
		errs = append(errs, fmt.Errorf("cleaning %s: %w", e.dir.Location(), err))
	}
	e.logger.Info("index cleaned", "location", e.dir.Location())
	return errors.Join(errs...)
}

// Close releases the writer, the current snapshot and the directory. Writes
// after Close fail.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.searchMu.Lock()
	defer e.searchMu.Unlock()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	var errs []error
	if err := e.releaseWriter(); err != nil {
		errs = append(errs, fmt.Errorf("closing writer: %w", err))
	}
	if err := e.releaseSearchers(); err != nil {
		errs = append(errs, fmt.Errorf("closing searcher: %w", err))
	}
	if c, ok := e.dir.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing directory: %w", err))
		}
	}
	return errors.Join(errs...)
}
