package indexer

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/memindex"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/segment"
)

type snapshotSegment struct {
	name    string
	reader  *segment.Reader
	deleted *roaring.Bitmap
}

func (s snapshotSegment) live(doc uint32) bool {
	return s.deleted == nil || !s.deleted.Contains(doc)
}

// snapshot is the committed state of one generation.
type snapshot struct {
	dir       *SegmentDirectory
	gen       uint64
	segments  []snapshotSegment
	numDocs   int
	avgLength float64
	closeOnce sync.Once
}

var _ index.Snapshot = (*snapshot)(nil)

func (s *snapshot) computeStats() error {
	total := 0
	for _, seg := range s.segments {
		for d := uint32(0); d < seg.reader.DocCount(); d++ {
			if !seg.live(d) {
				continue
			}
			doc, err := seg.reader.Stored(d)
			if err != nil {
				return err
			}
			total += doc.Length
			s.numDocs++
		}
	}
	if s.numDocs > 0 {
		s.avgLength = float64(total) / float64(s.numDocs)
	}
	return nil
}

func (s *snapshot) Generation() uint64 { return s.gen }

func (s *snapshot) NumDocs() int { return s.numDocs }

func (s *snapshot) AvgDocLength() float64 { return s.avgLength }

// Document returns the first live document matching key.
func (s *snapshot) Document(key index.Term) (index.Document, bool, error) {
	term := memindex.TermKey(key.Field, key.Text)
	for _, seg := range s.segments {
		postings, err := seg.reader.Postings(term)
		if err != nil {
			return index.Document{}, false, fmt.Errorf("reading %s: %w", seg.name, err)
		}
		for _, p := range postings {
			if !seg.live(p.Doc) {
				continue
			}
			stored, err := seg.reader.Stored(p.Doc)
			if err != nil {
				return index.Document{}, false, err
			}
			return toDocument(stored), true, nil
		}
	}
	return index.Document{}, false, nil
}

func (s *snapshot) Postings(field, term string) ([]index.Posting, error) {
	key := memindex.TermKey(field, term)
	var out []index.Posting
	for _, seg := range s.segments {
		postings, err := seg.reader.Postings(key)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", seg.name, err)
		}
		for _, p := range postings {
			if !seg.live(p.Doc) {
				continue
			}
			stored, err := seg.reader.Stored(p.Doc)
			if err != nil {
				return nil, err
			}
			id, ok := stored.Get(s.dir.idField)
			if !ok {
				id = fmt.Sprintf("%s#%d", seg.name, p.Doc)
			}
			out = append(out, index.Posting{
				DocID:     id,
				Frequency: p.Frequency,
				DocLength: stored.Length,
			})
		}
	}
	return out, nil
}

func (s *snapshot) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.release() })
	return err
}

func (s *snapshot) release() error {
	var first error
	for _, seg := range s.segments {
		if err := s.dir.pool.release(seg.name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func toDocument(stored memindex.StoredDoc) index.Document {
	fields := make([]index.Field, len(stored.Fields))
	for i, f := range stored.Fields {
		fields[i] = index.Field{Name: f.Name, Value: f.Value, Analyzed: f.Analyzed}
	}
	return index.Document{Fields: fields}
}

func toStored(doc index.Document) []memindex.StoredField {
	fields := make([]memindex.StoredField, len(doc.Fields))
	for i, f := range doc.Fields {
		fields[i] = memindex.StoredField{Name: f.Name, Value: f.Value, Analyzed: f.Analyzed}
	}
	return fields
}
