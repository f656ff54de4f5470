package memindex

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
)

// MemoryIndex buffers documents that have not been flushed to a segment yet.
// Deletions against buffered documents are kept as a bitmap and applied when
// the buffer is flushed.
type MemoryIndex struct {
	mu      sync.RWMutex
	index   map[string]map[uint32]*Posting
	docs    []StoredDoc
	deleted *roaring.Bitmap
	size    int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:   make(map[string]map[uint32]*Posting),
		deleted: roaring.New(),
	}
}

// AddDocument indexes fields and returns the buffered document number.
// Analyzed fields go through analyzer and are cut at maxFieldLength tokens;
// other fields are indexed as one exact term.
func (m *MemoryIndex) AddDocument(fields []StoredField, analyzer tokenizer.Analyzer, maxFieldLength int) uint32 {
	termData := make(map[string]*Posting)
	length := 0
	for _, field := range fields {
		if !field.Analyzed {
			key := TermKey(field.Name, field.Value)
			p, exists := termData[key]
			if !exists {
				p = &Posting{}
				termData[key] = p
			}
			p.Frequency++
			continue
		}
		tokens := analyzer.Analyze(field.Value, maxFieldLength)
		for _, token := range tokens {
			key := TermKey(field.Name, token.Term)
			p, exists := termData[key]
			if !exists {
				p = &Posting{Positions: make([]int, 0, 4)}
				termData[key] = p
			}
			p.Frequency++
			p.Positions = append(p.Positions, length+token.Position)
		}
		length += len(tokens)
	}

	stored := make([]StoredField, len(fields))
	copy(stored, fields)

	m.mu.Lock()
	defer m.mu.Unlock()
	docNum := uint32(len(m.docs))
	m.docs = append(m.docs, StoredDoc{Fields: stored, Length: length})
	for term, posting := range termData {
		posting.Doc = docNum
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[uint32]*Posting)
		}
		m.index[term][docNum] = posting
		m.size += int64(len(term) + len(posting.Positions)*8 + 64)
	}
	for _, f := range stored {
		m.size += int64(len(f.Name) + len(f.Value))
	}
	return docNum
}

// Search returns live postings for a term key, ordered by document number.
func (m *MemoryIndex) Search(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	docs, exists := m.index[term]
	if !exists {
		return nil
	}
	result := make(PostingList, 0, len(docs))
	for doc, posting := range docs {
		if m.deleted.Contains(doc) {
			continue
		}
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Doc < result[j].Doc
	})
	return result
}

// Delete marks every live buffered document containing term as deleted and
// returns how many were marked.
func (m *MemoryIndex) Delete(term string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for doc := range m.index[term] {
		if m.deleted.CheckedAdd(doc) {
			n++
		}
	}
	return n
}

// Document returns a live buffered document.
func (m *MemoryIndex) Document(doc uint32) (StoredDoc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(doc) >= len(m.docs) || m.deleted.Contains(doc) {
		return StoredDoc{}, false
	}
	return m.docs[doc], true
}

// Snapshot compacts the buffer into a segment, dropping deleted documents and
// renumbering the rest densely.
func (m *MemoryIndex) Snapshot() Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	remap := make(map[uint32]uint32, len(m.docs))
	docs := make([]StoredDoc, 0, len(m.docs))
	for i, d := range m.docs {
		if m.deleted.Contains(uint32(i)) {
			continue
		}
		remap[uint32(i)] = uint32(len(docs))
		docs = append(docs, d)
	}

	entries := make([]TermEntry, 0, len(m.index))
	for term, byDoc := range m.index {
		postings := make(PostingList, 0, len(byDoc))
		for doc, posting := range byDoc {
			newDoc, live := remap[doc]
			if !live {
				continue
			}
			p := *posting
			p.Doc = newDoc
			postings = append(postings, p)
		}
		if len(postings) == 0 {
			continue
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].Doc < postings[j].Doc
		})
		entries = append(entries, TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return Segment{Terms: entries, Docs: docs}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// DocCount counts every buffered document, deleted or not.
func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) LiveDocs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs) - int(m.deleted.GetCardinality())
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = make(map[string]map[uint32]*Posting)
	m.docs = nil
	m.deleted = roaring.New()
	m.size = 0
}
