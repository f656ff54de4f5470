// Package blevestore implements index.Directory on top of a bleve index.
package blevestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
)

const (
	lengthField = "_doclen"
	metaFile    = "index_meta.json"
)

var (
	generationKey = []byte("generation")
	lengthKey     = []byte("length_total")
)

type Config struct {
	Dir string
	// TextFields are analyzed with the standard analyzer; every other field
	// is indexed as an exact keyword.
	TextFields []string
	IDField    string
	Logger     *slog.Logger
}

// Directory shares one bleve index handle between the writer and snapshots.
type Directory struct {
	cfg    Config
	text   map[string]struct{}
	logger *slog.Logger

	mu     sync.Mutex
	handle *handle
}

var _ index.Directory = (*Directory)(nil)

type handle struct {
	idx    bleve.Index
	closer *index.DelayCloser
}

func New(cfg Config) *Directory {
	if cfg.IDField == "" {
		cfg.IDField = "id"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	text := make(map[string]struct{}, len(cfg.TextFields))
	for _, f := range cfg.TextFields {
		text[f] = struct{}{}
	}
	return &Directory{
		cfg:    cfg,
		text:   text,
		logger: logger.With("component", "bleve-store", "dir", cfg.Dir),
	}
}

func (d *Directory) buildMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = keyword.Name
	doc := bleve.NewDocumentMapping()
	for name := range d.text {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = standard.Name
		fm.IncludeTermVectors = false
		doc.AddFieldMappingsAt(name, fm)
	}
	m.DefaultMapping = doc
	return m
}

func (d *Directory) Location() string { return d.cfg.Dir }

func (d *Directory) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(d.cfg.Dir, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// acquire returns the shared handle, opening or creating the index when
// needed. The caller must release it.
func (d *Directory) acquire(create bool) (*handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil && d.handle.closer.Open() {
		return d.handle, nil
	}

	exists, err := d.Exists()
	if err != nil {
		return nil, err
	}
	var idx bleve.Index
	switch {
	case exists:
		idx, err = bleve.Open(d.cfg.Dir)
	case create:
		idx, err = bleve.New(d.cfg.Dir, d.buildMapping())
	default:
		return nil, fmt.Errorf("no index in %s: %w", d.cfg.Dir, os.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("opening bleve index: %w", err)
	}
	h := &handle{idx: idx, closer: index.NewDelayCloser(idx.Close)}
	h.closer.Open()
	d.handle = h
	d.logger.Debug("bleve index opened")
	return h, nil
}

func (d *Directory) OpenWriter(settings index.Settings) (index.Writer, error) {
	h, err := d.acquire(true)
	if err != nil {
		return nil, err
	}
	w, err := newWriter(d, h, settings)
	if err != nil {
		h.closer.Close()
		return nil, err
	}
	return w, nil
}

func (d *Directory) OpenSnapshot() (index.Snapshot, error) {
	h, err := d.acquire(false)
	if err != nil {
		return nil, err
	}
	snap, err := newSnapshot(d, h)
	if err != nil {
		h.closer.Close()
		return nil, err
	}
	return snap, nil
}

func (d *Directory) Reopen(prev index.Snapshot) (index.Snapshot, error) {
	h, err := d.acquire(false)
	if err != nil {
		return nil, err
	}
	gen, err := readUint(h.idx.GetInternal(generationKey))
	h.closer.Close()
	if err != nil {
		return nil, fmt.Errorf("reading generation: %w", err)
	}
	if gen == prev.Generation() {
		return prev, nil
	}
	return d.OpenSnapshot()
}

// Clean detaches the shared handle, closing it once its users are gone, and
// removes the index files.
func (d *Directory) Clean() error {
	d.mu.Lock()
	h := d.handle
	d.handle = nil
	d.mu.Unlock()
	if h != nil {
		if err := h.closer.CloseWhenDone(); err != nil {
			d.logger.Warn("closing bleve index", "error", err)
		}
	}
	if err := os.RemoveAll(d.cfg.Dir); err != nil {
		return fmt.Errorf("removing index directory: %w", err)
	}
	return nil
}

// errBadCounter reports an internal counter that is not an 8-byte value.
var errBadCounter = errors.New("blevestore: malformed internal counter")

// readUint decodes a counter stored with encodeUint. An absent key reads as
// zero.
func readUint(b []byte, err error) (uint64, error) {
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: %d bytes", errBadCounter, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func encodeUint(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Close releases the shared handle once writers and snapshots are done.
func (d *Directory) Close() error {
	d.mu.Lock()
	h := d.handle
	d.handle = nil
	d.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.closer.CloseWhenDone()
}
