package blevestore

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	bindex "github.com/blevesearch/bleve_index_api"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
)

// snapshot wraps a point-in-time bleve index reader.
type snapshot struct {
	dir       *Directory
	h         *handle
	reader    bindex.IndexReader
	gen       uint64
	numDocs   int
	avgLength float64
	closeOnce sync.Once
}

func newSnapshot(d *Directory, h *handle) (*snapshot, error) {
	adv, err := h.idx.Advanced()
	if err != nil {
		return nil, fmt.Errorf("accessing bleve internals: %w", err)
	}
	reader, err := adv.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening bleve reader: %w", err)
	}
	gen, err := readUint(reader.GetInternal(generationKey))
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("reading generation: %w", err)
	}
	length, err := readUint(reader.GetInternal(lengthKey))
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("reading length total: %w", err)
	}
	count, err := reader.DocCount()
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("counting documents: %w", err)
	}
	s := &snapshot{dir: d, h: h, reader: reader, gen: gen, numDocs: int(count)}
	if count > 0 {
		s.avgLength = float64(length) / float64(count)
	}
	return s, nil
}

func (s *snapshot) Generation() uint64 { return s.gen }

func (s *snapshot) NumDocs() int { return s.numDocs }

func (s *snapshot) AvgDocLength() float64 { return s.avgLength }

func (s *snapshot) Document(key index.Term) (index.Document, bool, error) {
	tfr, err := s.reader.TermFieldReader(context.Background(), []byte(key.Text), key.Field, false, false, false)
	if err != nil {
		return index.Document{}, false, fmt.Errorf("reading %s: %w", key, err)
	}
	defer tfr.Close()
	match, err := tfr.Next(nil)
	if err != nil {
		return index.Document{}, false, fmt.Errorf("reading %s: %w", key, err)
	}
	if match == nil {
		return index.Document{}, false, nil
	}
	doc, _, err := s.load(match.ID)
	if err != nil {
		return index.Document{}, false, err
	}
	return doc, true, nil
}

// load returns the stored document behind an internal id and its analyzed
// length.
func (s *snapshot) load(id bindex.IndexInternalID) (index.Document, int, error) {
	external, err := s.reader.ExternalID(id)
	if err != nil {
		return index.Document{}, 0, fmt.Errorf("resolving document id: %w", err)
	}
	stored, err := s.reader.Document(external)
	if err != nil {
		return index.Document{}, 0, fmt.Errorf("loading document %s: %w", external, err)
	}
	var doc index.Document
	length := 0
	if stored == nil {
		return doc, 0, nil
	}
	stored.VisitFields(func(f bindex.Field) {
		value := string(f.Value())
		if f.Name() == lengthField {
			length, _ = strconv.Atoi(value)
			return
		}
		_, analyzed := s.dir.text[f.Name()]
		doc.Fields = append(doc.Fields, index.Field{Name: f.Name(), Value: value, Analyzed: analyzed})
	})
	return doc, length, nil
}

func (s *snapshot) Postings(field, term string) ([]index.Posting, error) {
	tfr, err := s.reader.TermFieldReader(context.Background(), []byte(term), field, true, true, false)
	if err != nil {
		return nil, fmt.Errorf("reading %s:%s: %w", field, term, err)
	}
	defer tfr.Close()

	var out []index.Posting
	for {
		match, err := tfr.Next(nil)
		if err != nil {
			return nil, fmt.Errorf("reading %s:%s: %w", field, term, err)
		}
		if match == nil {
			return out, nil
		}
		doc, length, err := s.load(match.ID)
		if err != nil {
			return nil, err
		}
		if length == 0 && match.Norm > 0 {
			length = int(math.Round(1 / (match.Norm * match.Norm)))
		}
		id, ok := doc.Get(s.dir.cfg.IDField)
		if !ok {
			id = string(match.ID)
		}
		out = append(out, index.Posting{DocID: id, Frequency: int(match.Freq), DocLength: length})
	}
}

func (s *snapshot) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.reader.Close()
		if cerr := s.h.closer.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
