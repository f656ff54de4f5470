package segment

import (
	"encoding/binary"
	"errors"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/memindex"
)

// ErrMissingDocument reports a posting that points past the stored documents
// of its segment.
var ErrMissingDocument = errors.New("segment: posting references a missing document")

// Reader serves postings from a segment file. The dictionary and stored
// documents are held in memory; postings are read on demand.
type Reader struct {
	file   *os.File
	name   string
	header SegmentHeader
	dict   []DictEntry
	docs   []memindex.StoredDoc
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("loading segment %s: %w", filepath.Base(path), err)
	}
	r.name = filepath.Base(path)
	return r, nil
}

func load(f *os.File) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := decodeHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DocsOffset+header.DocsSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}

	dictBytes := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBytes, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	if crc32.ChecksumIEEE(dictBytes) != binary.LittleEndian.Uint32(footer[0:4]) {
		return nil, fmt.Errorf("dictionary checksum mismatch")
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictBytes, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	docsBytes := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBytes, header.DocsOffset); err != nil {
		return nil, fmt.Errorf("reading stored documents: %w", err)
	}
	if crc32.ChecksumIEEE(docsBytes) != binary.LittleEndian.Uint32(footer[4:8]) {
		return nil, fmt.Errorf("stored documents checksum mismatch")
	}
	raw, err := decoder.DecodeAll(docsBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing stored documents: %w", err)
	}
	var docs []memindex.StoredDoc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("parsing stored documents: %w", err)
	}
	if len(docs) != int(header.DocCount) {
		return nil, fmt.Errorf("header lists %d documents, found %d", header.DocCount, len(docs))
	}
	return &Reader{file: f, header: header, dict: dict, docs: docs}, nil
}

func (r *Reader) Name() string { return r.name }

// Postings returns the postings of a term key, including deleted documents.
func (r *Reader) Postings(term string) (memindex.PostingList, error) {
	idx := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if idx >= len(r.dict) || r.dict[idx].Term != term {
		return nil, nil
	}
	return r.read(r.dict[idx])
}

func (r *Reader) read(entry DictEntry) (memindex.PostingList, error) {
	buf := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(buf, r.header.PostOffset+entry.PostOffset); err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	var postings memindex.PostingList
	if err := json.Unmarshal(buf, &postings); err != nil {
		return nil, fmt.Errorf("parsing postings: %w", err)
	}
	return postings, nil
}

// ForEachTerm visits every term in dictionary order.
func (r *Reader) ForEachTerm(fn func(term string, postings memindex.PostingList) error) error {
	for _, entry := range r.dict {
		postings, err := r.read(entry)
		if err != nil {
			return err
		}
		if err := fn(entry.Term, postings); err != nil {
			return err
		}
	}
	return nil
}

// Document returns the stored fields of doc; ok is false when doc is out of
// range.
func (r *Reader) Document(doc uint32) (memindex.StoredDoc, bool) {
	if int(doc) >= len(r.docs) {
		return memindex.StoredDoc{}, false
	}
	return r.docs[doc], true
}

// Stored is Document with an out-of-range doc reported as ErrMissingDocument.
func (r *Reader) Stored(doc uint32) (memindex.StoredDoc, error) {
	stored, ok := r.Document(doc)
	if !ok {
		return memindex.StoredDoc{}, fmt.Errorf("%s doc %d: %w", r.name, doc, ErrMissingDocument)
	}
	return stored, nil
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

func (r *Reader) Close() error {
	return r.file.Close()
}
