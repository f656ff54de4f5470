package index

// Writer applies mutations to an underlying index. Implementations are not
// required to be safe for concurrent use; the Engine serializes access.
type Writer interface {
	AddDocuments(docs []Document) error
	DeleteDocuments(key Term) error
	// UpdateDocuments atomically replaces every document matching key.
	UpdateDocuments(key Term, docs []Document) error
	// UpdateDocumentConditionally replaces the document matching key only if
	// the stored lockField value is not greater than the one in doc.
	UpdateDocumentConditionally(key Term, doc Document, lockField string) error
	Optimize() error
	Commit() error
	// Close commits pending changes and releases the writer.
	Close() error
}

// Snapshot is an immutable point-in-time view of committed index state.
type Snapshot interface {
	Generation() uint64
	NumDocs() int
	Document(key Term) (Document, bool, error)
	Postings(field, term string) ([]Posting, error)
	AvgDocLength() float64
	Close() error
}

// Directory is a storage location holding one index.
type Directory interface {
	Location() string
	Exists() (bool, error)
	OpenWriter(settings Settings) (Writer, error)
	OpenSnapshot() (Snapshot, error)
	// Reopen returns prev itself when nothing has been committed since it
	// was opened, otherwise a fresh snapshot. prev stays open either way.
	Reopen(prev Snapshot) (Snapshot, error)
	Clean() error
}
