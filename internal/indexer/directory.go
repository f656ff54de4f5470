package indexer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
)

const openSnapshotAttempts = 5

type StoreConfig struct {
	Dir      string
	Analyzer tokenizer.Analyzer
	// IDField names the keyword field reported as a posting's document id.
	IDField string
	Logger  *slog.Logger
}

// SegmentDirectory is an index.Directory made of immutable segment files and
// JSON commit points in one filesystem directory.
type SegmentDirectory struct {
	dir      string
	analyzer tokenizer.Analyzer
	idField  string
	logger   *slog.Logger
	pool     *readerPool
}

var _ index.Directory = (*SegmentDirectory)(nil)

func NewSegmentDirectory(cfg StoreConfig) *SegmentDirectory {
	if cfg.Analyzer == nil {
		cfg.Analyzer = tokenizer.Standard{}
	}
	if cfg.IDField == "" {
		cfg.IDField = "id"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SegmentDirectory{
		dir:      cfg.Dir,
		analyzer: cfg.Analyzer,
		idField:  cfg.IDField,
		logger:   logger.With("component", "segment-store", "dir", cfg.Dir),
		pool:     newReaderPool(cfg.Dir),
	}
}

func (d *SegmentDirectory) Location() string { return d.dir }

func (d *SegmentDirectory) Exists() (bool, error) {
	gens, err := listCommits(d.dir)
	if err != nil {
		return false, err
	}
	return len(gens) > 0, nil
}

func (d *SegmentDirectory) OpenWriter(settings index.Settings) (index.Writer, error) {
	return openWriter(d, settings)
}

func (d *SegmentDirectory) OpenSnapshot() (index.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < openSnapshotAttempts; attempt++ {
		cp, err := latestCommit(d.dir)
		if err != nil {
			lastErr = err
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		if cp == nil {
			return nil, fmt.Errorf("no index in %s: %w", d.dir, os.ErrNotExist)
		}
		snap, err := d.openCommit(cp)
		if err == nil {
			return snap, nil
		}
		// a newer commit removed files of this one while it was being opened
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("opening snapshot after %d attempts: %w", openSnapshotAttempts, lastErr)
}

// Reopen returns prev when its generation is still the latest.
func (d *SegmentDirectory) Reopen(prev index.Snapshot) (index.Snapshot, error) {
	gens, err := listCommits(d.dir)
	if err != nil {
		return nil, err
	}
	if len(gens) > 0 && gens[0] == prev.Generation() {
		return prev, nil
	}
	return d.OpenSnapshot()
}

func (d *SegmentDirectory) openCommit(cp *commitPoint) (*snapshot, error) {
	snap := &snapshot{dir: d, gen: cp.Generation}
	for _, ref := range cp.Segments {
		r, err := d.pool.acquire(ref.Name)
		if err != nil {
			snap.release()
			return nil, err
		}
		seg := snapshotSegment{name: ref.Name, reader: r}
		snap.segments = append(snap.segments, seg)
		if ref.Deletes != "" {
			deleted, err := segment.ReadDeletes(filepath.Join(d.dir, ref.Deletes))
			if err != nil {
				snap.release()
				return nil, err
			}
			snap.segments[len(snap.segments)-1].deleted = deleted
		}
	}
	if err := snap.computeStats(); err != nil {
		snap.release()
		return nil, err
	}
	return snap, nil
}

// Clean removes the whole directory. Readers that are still open keep
// working on the unlinked files until released.
func (d *SegmentDirectory) Clean() error {
	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("removing index directory: %w", err)
	}
	return nil
}

// cleanup drops commits older than the newest keepCommits generations and any
// file no kept commit references and no open reader uses.
func (d *SegmentDirectory) cleanup() {
	gens, err := listCommits(d.dir)
	if err != nil {
		d.logger.Warn("listing commits for cleanup", "error", err)
		return
	}
	referenced := make(map[string]struct{})
	for i, gen := range gens {
		if i >= keepCommits {
			if err := os.Remove(filepath.Join(d.dir, commitName(gen))); err != nil && !errors.Is(err, os.ErrNotExist) {
				d.logger.Warn("removing old commit", "generation", gen, "error", err)
			}
			continue
		}
		cp, err := readCommit(d.dir, gen)
		if err != nil {
			d.logger.Warn("reading commit for cleanup", "generation", gen, "error", err)
			return
		}
		for _, ref := range cp.Segments {
			referenced[ref.Name] = struct{}{}
			if ref.Deletes != "" {
				referenced[ref.Deletes] = struct{}{}
			}
		}
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.logger.Warn("listing index directory for cleanup", "error", err)
		return
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !isIndexFile(name) {
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}
		if d.pool.inUse(name) {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("removing unreferenced index file", "file", name, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		d.logger.Debug("removed unreferenced index files", "count", removed)
	}
}

func isIndexFile(name string) bool {
	return strings.HasSuffix(name, segment.Extension) ||
		strings.HasSuffix(name, segment.DeletesExtension) ||
		strings.HasSuffix(name, ".tmp")
}

// readerPool shares open segment readers between the writer and snapshots.
type readerPool struct {
	mu   sync.Mutex
	dir  string
	open map[string]*pooledReader
}

type pooledReader struct {
	reader *segment.Reader
	refs   int
}

func newReaderPool(dir string) *readerPool {
	return &readerPool{dir: dir, open: make(map[string]*pooledReader)}
}

func (p *readerPool) acquire(name string) (*segment.Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pr, ok := p.open[name]; ok {
		pr.refs++
		return pr.reader, nil
	}
	r, err := segment.OpenReader(filepath.Join(p.dir, name))
	if err != nil {
		return nil, err
	}
	p.open[name] = &pooledReader{reader: r, refs: 1}
	return r, nil
}

func (p *readerPool) release(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.open[name]
	if !ok {
		return nil
	}
	pr.refs--
	if pr.refs > 0 {
		return nil
	}
	delete(p.open, name)
	return pr.reader.Close()
}

func (p *readerPool) inUse(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.open[name]
	return ok
}
