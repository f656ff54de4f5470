package indexer

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/memindex"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/segment"
)

var errWriterClosed = errors.New("segment writer closed")

type writerSegment struct {
	name     string
	reader   *segment.Reader
	deleted  *roaring.Bitmap
	deletes  string
	modified bool
}

func (s *writerSegment) liveDocs() int {
	return int(s.reader.DocCount()) - int(s.deleted.GetCardinality())
}

// writer buffers added documents in memory, flushes them to segments and
// publishes commit points. It is used by one goroutine at a time.
type writer struct {
	dir      *SegmentDirectory
	settings index.Settings
	segments []*writerSegment
	buffer   *memindex.MemoryIndex
	files    *segment.Writer
	gen      uint64
	dirty    bool
	closed   bool
	logger   *slog.Logger
}

var _ index.Writer = (*writer)(nil)

func openWriter(d *SegmentDirectory, settings index.Settings) (*writer, error) {
	cp, err := latestCommit(d.dir)
	if err != nil {
		return nil, fmt.Errorf("loading latest commit: %w", err)
	}
	w := &writer{
		dir:      d,
		settings: settings,
		buffer:   memindex.NewMemoryIndex(),
		files:    segment.NewWriter(d.dir),
		logger:   d.logger,
	}
	if cp == nil {
		return w, nil
	}
	w.gen = cp.Generation
	for _, ref := range cp.Segments {
		r, err := d.pool.acquire(ref.Name)
		if err != nil {
			w.releaseAll()
			return nil, err
		}
		ws := &writerSegment{name: ref.Name, reader: r, deleted: roaring.New(), deletes: ref.Deletes}
		w.segments = append(w.segments, ws)
		if ref.Deletes != "" {
			deleted, err := segment.ReadDeletes(filepath.Join(d.dir, ref.Deletes))
			if err != nil {
				w.releaseAll()
				return nil, err
			}
			ws.deleted = deleted
		}
	}
	return w, nil
}

func (w *writer) AddDocuments(docs []index.Document) error {
	if w.closed {
		return errWriterClosed
	}
	for _, doc := range docs {
		w.buffer.AddDocument(toStored(doc), w.dir.analyzer, w.settings.MaxFieldLength)
		w.dirty = true
		if w.settings.MaxBufferedDocs > 0 && w.buffer.DocCount() >= w.settings.MaxBufferedDocs {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) DeleteDocuments(key index.Term) error {
	if w.closed {
		return errWriterClosed
	}
	term := memindex.TermKey(key.Field, key.Text)
	for _, seg := range w.segments {
		postings, err := seg.reader.Postings(term)
		if err != nil {
			return fmt.Errorf("reading %s: %w", seg.name, err)
		}
		for _, p := range postings {
			if seg.deleted.CheckedAdd(p.Doc) {
				seg.modified = true
				w.dirty = true
			}
		}
	}
	if w.buffer.Delete(term) > 0 {
		w.dirty = true
	}
	return nil
}

func (w *writer) UpdateDocuments(key index.Term, docs []index.Document) error {
	if err := w.DeleteDocuments(key); err != nil {
		return err
	}
	return w.AddDocuments(docs)
}

// UpdateDocumentConditionally replaces the documents matching key unless one
// of them stores a lockField value greater than doc's. Values are compared as
// integers. A missing document is simply added.
func (w *writer) UpdateDocumentConditionally(key index.Term, doc index.Document, lockField string) error {
	if w.closed {
		return errWriterClosed
	}
	raw, ok := doc.Get(lockField)
	if !ok {
		return fmt.Errorf("document for %s has no %q field", key, lockField)
	}
	incoming, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing %q of %s: %w", lockField, key, err)
	}
	stale := false
	err = w.eachLive(memindex.TermKey(key.Field, key.Text), func(stored memindex.StoredDoc) error {
		v, ok := stored.Get(lockField)
		if !ok {
			return nil
		}
		current, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing stored %q of %s: %w", lockField, key, err)
		}
		if current > incoming {
			stale = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if stale {
		w.logger.Debug("skipping stale conditional update", "key", key.String(), "field", lockField, "version", incoming)
		return nil
	}
	return w.UpdateDocuments(key, []index.Document{doc})
}

func (w *writer) eachLive(term string, fn func(memindex.StoredDoc) error) error {
	for _, seg := range w.segments {
		postings, err := seg.reader.Postings(term)
		if err != nil {
			return fmt.Errorf("reading %s: %w", seg.name, err)
		}
		for _, p := range postings {
			if seg.deleted.Contains(p.Doc) {
				continue
			}
			stored, err := seg.reader.Stored(p.Doc)
			if err != nil {
				return err
			}
			if err := fn(stored); err != nil {
				return err
			}
		}
	}
	for _, p := range w.buffer.Search(term) {
		stored, ok := w.buffer.Document(p.Doc)
		if !ok {
			continue
		}
		if err := fn(stored); err != nil {
			return err
		}
	}
	return nil
}

// flush writes the buffer out as a new segment.
func (w *writer) flush() error {
	if w.buffer.LiveDocs() == 0 {
		w.buffer.Reset()
		return nil
	}
	seg := w.buffer.Snapshot()
	name, err := w.files.Write(seg)
	if err != nil {
		return fmt.Errorf("flushing buffered documents: %w", err)
	}
	r, err := w.dir.pool.acquire(name)
	if err != nil {
		return err
	}
	w.segments = append(w.segments, &writerSegment{name: name, reader: r, deleted: roaring.New()})
	w.buffer.Reset()
	w.dirty = true
	w.logger.Debug("segment flushed",
		"segment", name,
		"terms", r.Terms(),
		"docs", r.DocCount(),
		"active_segments", len(w.segments),
	)
	return w.maybeMerge()
}

// maybeMerge merges the small segments once MergeFactor of them pile up.
func (w *writer) maybeMerge() error {
	factor := w.settings.MergeFactor
	if factor < 2 {
		factor = 2
	}
	var small []*writerSegment
	for _, seg := range w.segments {
		if w.settings.MaxMergeDocs <= 0 || seg.liveDocs() < w.settings.MaxMergeDocs {
			small = append(small, seg)
		}
	}
	if len(small) < factor {
		return nil
	}
	return w.merge(small)
}

func (w *writer) merge(victims []*writerSegment) error {
	inputs := make([]segment.MergeInput, len(victims))
	for i, seg := range victims {
		inputs[i] = segment.MergeInput{Reader: seg.reader, Deleted: seg.deleted}
	}
	merged, err := segment.Merge(inputs)
	if err != nil {
		return fmt.Errorf("merging segments: %w", err)
	}

	var replacement *writerSegment
	if len(merged.Docs) > 0 {
		name, err := w.files.Write(merged)
		if err != nil {
			return fmt.Errorf("writing merged segment: %w", err)
		}
		r, err := w.dir.pool.acquire(name)
		if err != nil {
			return err
		}
		replacement = &writerSegment{name: name, reader: r, deleted: roaring.New()}
	}

	gone := make(map[*writerSegment]struct{}, len(victims))
	for _, seg := range victims {
		gone[seg] = struct{}{}
	}
	kept := make([]*writerSegment, 0, len(w.segments)-len(victims)+1)
	placed := false
	for _, seg := range w.segments {
		if _, ok := gone[seg]; !ok {
			kept = append(kept, seg)
			continue
		}
		if !placed && replacement != nil {
			kept = append(kept, replacement)
		}
		placed = true
		w.dir.pool.release(seg.name)
	}
	w.segments = kept
	w.dirty = true
	w.logger.Info("segments merged",
		"merged", len(victims),
		"docs", len(merged.Docs),
		"active_segments", len(w.segments),
	)
	return nil
}

// Optimize merges everything into a single segment without deletions and
// commits.
func (w *writer) Optimize() error {
	if w.closed {
		return errWriterClosed
	}
	if err := w.flush(); err != nil {
		return err
	}
	needed := len(w.segments) > 1
	for _, seg := range w.segments {
		if !seg.deleted.IsEmpty() {
			needed = true
		}
	}
	if needed {
		if err := w.merge(append([]*writerSegment(nil), w.segments...)); err != nil {
			return err
		}
	}
	return w.Commit()
}

// Commit flushes buffered documents and publishes a new commit point. It is
// a no-op when nothing changed since the last commit.
func (w *writer) Commit() error {
	if w.closed {
		return errWriterClosed
	}
	if err := w.flush(); err != nil {
		return err
	}
	if !w.dirty && w.gen > 0 {
		return nil
	}

	next := w.gen + 1
	cp := &commitPoint{Generation: next}
	kept := make([]*writerSegment, 0, len(w.segments))
	var dropped []*writerSegment
	for _, seg := range w.segments {
		if seg.liveDocs() == 0 {
			dropped = append(dropped, seg)
			continue
		}
		if seg.modified {
			name := segment.DeletesName(seg.name, next)
			if err := segment.WriteDeletes(w.dir.dir, name, seg.deleted); err != nil {
				return err
			}
			seg.deletes = name
			seg.modified = false
		}
		kept = append(kept, seg)
		cp.Segments = append(cp.Segments, segmentRef{
			Name:     seg.name,
			Deletes:  seg.deletes,
			DocCount: seg.reader.DocCount(),
		})
	}

	if err := writeCommit(w.dir.dir, cp); err != nil {
		return err
	}
	w.segments = kept
	for _, seg := range dropped {
		w.dir.pool.release(seg.name)
	}
	w.gen = next
	w.dirty = false
	w.logger.Debug("index committed", "generation", next, "segments", len(cp.Segments))
	w.dir.cleanup()
	return nil
}

// Close commits and releases the writer's segment readers.
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.Commit()
	w.closed = true
	w.releaseAll()
	return err
}

func (w *writer) releaseAll() {
	for _, seg := range w.segments {
		w.dir.pool.release(seg.name)
	}
	w.segments = nil
}
