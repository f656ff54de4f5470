package blevestore

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
)

var errWriterClosed = errors.New("bleve writer closed")

const searchPage = 256

type writer struct {
	dir        *Directory
	h          *handle
	batch      *bleve.Batch
	settings   index.Settings
	analyzer   analysis.Analyzer
	generation uint64
	length     int64
	dirty      bool
	closed     bool
}

func newWriter(d *Directory, h *handle, settings index.Settings) (*writer, error) {
	gen, err := readUint(h.idx.GetInternal(generationKey))
	if err != nil {
		return nil, fmt.Errorf("reading generation: %w", err)
	}
	length, err := readUint(h.idx.GetInternal(lengthKey))
	if err != nil {
		return nil, fmt.Errorf("reading length total: %w", err)
	}
	return &writer{
		dir:        d,
		h:          h,
		batch:      h.idx.NewBatch(),
		settings:   settings,
		analyzer:   h.idx.Mapping().AnalyzerNamed(standard.Name),
		generation: gen,
		length:     int64(length),
	}, nil
}

func (w *writer) body(doc index.Document) (map[string]interface{}, int) {
	data := make(map[string]interface{}, len(doc.Fields)+1)
	length := 0
	for _, f := range doc.Fields {
		if _, analyzed := w.dir.text[f.Name]; analyzed && w.analyzer != nil {
			n := len(w.analyzer.Analyze([]byte(f.Value)))
			if w.settings.MaxFieldLength > 0 && n > w.settings.MaxFieldLength {
				n = w.settings.MaxFieldLength
			}
			length += n
		}
		switch existing := data[f.Name].(type) {
		case nil:
			data[f.Name] = f.Value
		case string:
			data[f.Name] = []string{existing, f.Value}
		case []string:
			data[f.Name] = append(existing, f.Value)
		}
	}
	data[lengthField] = strconv.Itoa(length)
	return data, length
}

func (w *writer) AddDocuments(docs []index.Document) error {
	if w.closed {
		return errWriterClosed
	}
	for _, doc := range docs {
		data, length := w.body(doc)
		if err := w.batch.Index(uuid.NewString(), data); err != nil {
			return fmt.Errorf("indexing document: %w", err)
		}
		w.length += int64(length)
		w.dirty = true
		if w.settings.MaxBufferedDocs > 0 && w.batch.Size() >= w.settings.MaxBufferedDocs {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

type hit struct {
	id     string
	fields map[string]interface{}
}

// matching flushes pending changes and returns every document with key.
func (w *writer) matching(key index.Term, fields ...string) ([]hit, error) {
	if err := w.flush(); err != nil {
		return nil, err
	}
	q := bleve.NewTermQuery(key.Text)
	q.SetField(key.Field)
	var hits []hit
	for from := 0; ; from += searchPage {
		req := bleve.NewSearchRequestOptions(q, searchPage, from, false)
		req.Fields = append([]string{lengthField}, fields...)
		res, err := w.h.idx.Search(req)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", key, err)
		}
		for _, m := range res.Hits {
			hits = append(hits, hit{id: m.ID, fields: m.Fields})
		}
		if len(res.Hits) < searchPage {
			return hits, nil
		}
	}
}

func (w *writer) DeleteDocuments(key index.Term) error {
	if w.closed {
		return errWriterClosed
	}
	hits, err := w.matching(key)
	if err != nil {
		return err
	}
	for _, h := range hits {
		w.batch.Delete(h.id)
		if n, err := strconv.Atoi(fieldString(h.fields[lengthField])); err == nil {
			w.length -= int64(n)
		}
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
	hits, err := w.matching(key, lockField)
	if err != nil {
		return err
	}
	for _, h := range hits {
		v := fieldString(h.fields[lockField])
		if v == "" {
			continue
		}
		current, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing stored %q of %s: %w", lockField, key, err)
		}
		if current > incoming {
			w.dir.logger.Debug("skipping stale conditional update", "key", key.String(), "version", incoming)
			return nil
		}
	}
	return w.UpdateDocuments(key, []index.Document{doc})
}

// Optimize commits; scorch merges segments in the background on its own.
func (w *writer) Optimize() error {
	return w.Commit()
}

func (w *writer) flush() error {
	if w.batch.Size() == 0 {
		return nil
	}
	if err := w.h.idx.Batch(w.batch); err != nil {
		return fmt.Errorf("applying bleve batch: %w", err)
	}
	w.batch.Reset()
	return nil
}

// Commit applies the pending batch together with a bumped generation.
func (w *writer) Commit() error {
	if w.closed {
		return errWriterClosed
	}
	if !w.dirty && w.generation > 0 {
		return w.flush()
	}
	w.generation++
	if w.length < 0 {
		w.length = 0
	}
	w.batch.SetInternal(generationKey, encodeUint(w.generation))
	w.batch.SetInternal(lengthKey, encodeUint(uint64(w.length)))
	if err := w.h.idx.Batch(w.batch); err != nil {
		return fmt.Errorf("committing bleve batch: %w", err)
	}
	w.batch.Reset()
	w.dirty = false
	return nil
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.Commit()
	w.closed = true
	if cerr := w.h.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

func fieldString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		if len(t) > 0 {
			return fieldString(t[0])
		}
	}
	return ""
}
