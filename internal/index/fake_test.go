package index

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

// memDirectory is an in-memory Directory with hooks for observing and
// steering writes.
type memDirectory struct {
	mu        sync.Mutex
	committed []Document
	gen       uint64
	created   bool
	opened    []Settings
	cleaned   int
	optimized int

	beforeAdd func(Document) error

	active    atomic.Int32
	maxActive atomic.Int32
}

func newMemDirectory() *memDirectory {
	return &memDirectory{}
}

func (d *memDirectory) Location() string { return "mem" }

func (d *memDirectory) Exists() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created, nil
}

func (d *memDirectory) OpenWriter(s Settings) (Writer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = append(d.opened, s)
	docs := make([]Document, len(d.committed))
	copy(docs, d.committed)
	return &memWriter{dir: d, docs: docs}, nil
}

func (d *memDirectory) OpenSnapshot() (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.created {
		return nil, errors.New("no index")
	}
	return d.snapshotLocked(), nil
}

func (d *memDirectory) snapshotLocked() *memSnapshot {
	docs := make([]Document, len(d.committed))
	copy(docs, d.committed)
	return &memSnapshot{gen: d.gen, docs: docs}
}

func (d *memDirectory) Reopen(prev Snapshot) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev.Generation() == d.gen {
		return prev, nil
	}
	return d.snapshotLocked(), nil
}

func (d *memDirectory) Clean() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.committed = nil
	d.created = false
	d.gen++
	d.cleaned++
	return nil
}

func (d *memDirectory) openedSettings() []Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Settings, len(d.opened))
	copy(out, d.opened)
	return out
}

func (d *memDirectory) committedIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, doc := range d.committed {
		id, _ := doc.Get("id")
		ids = append(ids, id)
	}
	return ids
}

func (d *memDirectory) enter() func() {
	n := d.active.Add(1)
	for {
		m := d.maxActive.Load()
		if n <= m || d.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { d.active.Add(-1) }
}

type memWriter struct {
	dir    *memDirectory
	docs   []Document
	closed bool
}

func (w *memWriter) AddDocuments(docs []Document) error {
	defer w.dir.enter()()
	for _, doc := range docs {
		if w.dir.beforeAdd != nil {
			if err := w.dir.beforeAdd(doc); err != nil {
				return err
			}
		}
		w.docs = append(w.docs, doc)
	}
	return nil
}

func (w *memWriter) DeleteDocuments(key Term) error {
	defer w.dir.enter()()
	kept := w.docs[:0]
	for _, doc := range w.docs {
		if v, ok := doc.Get(key.Field); ok && v == key.Text {
			continue
		}
		kept = append(kept, doc)
	}
	w.docs = kept
	return nil
}

func (w *memWriter) UpdateDocuments(key Term, docs []Document) error {
	if err := w.DeleteDocuments(key); err != nil {
		return err
	}
	return w.AddDocuments(docs)
}

func (w *memWriter) UpdateDocumentConditionally(key Term, doc Document, lockField string) error {
	incoming, err := strconv.ParseInt(mustGet(doc, lockField), 10, 64)
	if err != nil {
		return err
	}
	for _, existing := range w.docs {
		if v, ok := existing.Get(key.Field); ok && v == key.Text {
			stored, err := strconv.ParseInt(mustGet(existing, lockField), 10, 64)
			if err != nil {
				return err
			}
			if stored > incoming {
				return nil
			}
		}
	}
	return w.UpdateDocuments(key, []Document{doc})
}

func (w *memWriter) Optimize() error {
	w.dir.mu.Lock()
	w.dir.optimized++
	w.dir.mu.Unlock()
	return nil
}

func (w *memWriter) Commit() error {
	w.dir.mu.Lock()
	defer w.dir.mu.Unlock()
	w.dir.committed = append([]Document(nil), w.docs...)
	w.dir.created = true
	w.dir.gen++
	return nil
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.Commit()
}

func mustGet(doc Document, field string) string {
	v, _ := doc.Get(field)
	return v
}

type memSnapshot struct {
	gen    uint64
	docs   []Document
	closed atomic.Bool
}

func (s *memSnapshot) Generation() uint64 { return s.gen }
func (s *memSnapshot) NumDocs() int        { return len(s.docs) }

func (s *memSnapshot) Document(key Term) (Document, bool, error) {
	for _, doc := range s.docs {
		if v, ok := doc.Get(key.Field); ok && v == key.Text {
			return doc, true, nil
		}
	}
	return Document{}, false, nil
}

func (s *memSnapshot) Postings(field, term string) ([]Posting, error) {
	var out []Posting
	for _, doc := range s.docs {
		if v, ok := doc.Get(field); ok && v == term {
			out = append(out, Posting{DocID: mustGet(doc, "id"), Frequency: 1, DocLength: 1})
		}
	}
	return out, nil
}

func (s *memSnapshot) AvgDocLength() float64 { return 1 }

func (s *memSnapshot) Close() error {
	s.closed.Store(true)
	return nil
}

func doc(id string, extra ...Field) Document {
	return NewDocument(append([]Field{Keyword("id", id)}, extra...)...)
}

func idTerm(id string) Term {
	return NewTerm("id", id)
}

// gate blocks the writer on documents with a given id until released.
type gate struct {
	id      string
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate(id string) *gate {
	return &gate{id: id, reached: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) hook(next func(Document) error) func(Document) error {
	return func(d Document) error {
		if mustGet(d, "id") == g.id {
			g.once.Do(func() { close(g.reached) })
			<-g.release
		}
		if next != nil {
			return next(d)
		}
		return nil
	}
}
