package blevestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
)

var settings = index.Settings{MergeFactor: 4, MaxBufferedDocs: 100, MaxMergeDocs: 1000, MaxFieldLength: 1000}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d := New(Config{
		Dir:        filepath.Join(t.TempDir(), "bleve"),
		TextFields: []string{"body"},
		Logger:     logger.Discard(),
	})
	t.Cleanup(func() { d.Close() })
	return d
}

func doc(id, version, body string) index.Document {
	return index.NewDocument(
		index.Keyword("id", id),
		index.Keyword("version", version),
		index.Text("body", body),
	)
}

func key(id string) index.Term { return index.NewTerm("id", id) }

func TestBleveStoreCommitAndSearch(t *testing.T) {
	d := newTestDirectory(t)
	exists, err := d.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	w, err := d.OpenWriter(settings)
	require.NoError(t, err)
	require.NoError(t, w.AddDocuments([]index.Document{
		doc("a", "1", "quick brown fox"),
		doc("b", "1", "lazy fox"),
		doc("c", "1", "kafka stream"),
	}))
	require.NoError(t, w.Commit())

	exists, err = d.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	snap, err := d.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, uint64(1), snap.Generation())
	assert.Equal(t, 3, snap.NumDocs())

	hits, err := snap.Postings("body", "fox")
	require.NoError(t, err)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.DocID)
		assert.Equal(t, 1, h.Frequency)
		assert.Positive(t, h.DocLength)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	got, ok, err := snap.Document(key("c"))
	require.NoError(t, err)
	require.True(t, ok)
	body, _ := got.Get("body")
	assert.Equal(t, "kafka stream", body)

	require.NoError(t, w.Close())
}

func TestBleveStoreDeleteUpdateAndReopen(t *testing.T) {
	d := newTestDirectory(t)
	w, err := d.OpenWriter(settings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocuments([]index.Document{doc("a", "1", "fox"), doc("b", "1", "fox")}))
	require.NoError(t, w.Commit())

	snap, err := d.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	same, err := d.Reopen(snap)
	require.NoError(t, err)
	assert.Same(t, snap, same)

	require.NoError(t, w.DeleteDocuments(key("a")))
	require.NoError(t, w.UpdateDocuments(key("b"), []index.Document{doc("b", "2", "wolf")}))
	require.NoError(t, w.Commit())

	next, err := d.Reopen(snap)
	require.NoError(t, err)
	defer next.Close()
	assert.Equal(t, uint64(2), next.Generation())
	assert.Equal(t, 1, next.NumDocs())

	gone, err := next.Postings("id", "a")
	require.NoError(t, err)
	assert.Empty(t, gone)
	got, ok, err := next.Document(key("b"))
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := got.Get("version")
	assert.Equal(t, "2", v)
}

func TestBleveStoreDeleteThenCreateSameKey(t *testing.T) {
	d := newTestDirectory(t)
	w, err := d.OpenWriter(settings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocuments([]index.Document{doc("A", "1", "seed")}))
	require.NoError(t, w.DeleteDocuments(key("A")))
	require.NoError(t, w.AddDocuments([]index.Document{doc("A", "2", "fresh")}))
	require.NoError(t, w.Commit())

	snap, err := d.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	hits, err := snap.Postings("id", "A")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestBleveStoreConditionalUpdate(t *testing.T) {
	d := newTestDirectory(t)
	w, err := d.OpenWriter(settings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocuments([]index.Document{doc("a", "5", "original")}))
	require.NoError(t, w.Commit())
	require.NoError(t, w.UpdateDocumentConditionally(key("a"), doc("a", "3", "stale"), "version"))
	require.NoError(t, w.Commit())

	snap, err := d.OpenSnapshot()
	require.NoError(t, err)
	got, ok, err := snap.Document(key("a"))
	require.NoError(t, err)
	require.True(t, ok)
	body, _ := got.Get("body")
	assert.Equal(t, "original", body)
	require.NoError(t, snap.Close())

	require.NoError(t, w.UpdateDocumentConditionally(key("a"), doc("a", "8", "newer"), "version"))
	require.NoError(t, w.Commit())
	snap, err = d.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	got, _, err = snap.Document(key("a"))
	require.NoError(t, err)
	body, _ = got.Get("body")
	assert.Equal(t, "newer", body)
}

func TestBleveStoreClean(t *testing.T) {
	d := newTestDirectory(t)
	w, err := d.OpenWriter(settings)
	require.NoError(t, err)
	require.NoError(t, w.AddDocuments([]index.Document{doc("a", "1", "fox")}))
	require.NoError(t, w.Close())

	require.NoError(t, d.Clean())
	exists, err := d.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = d.OpenSnapshot()
	assert.Error(t, err)
}

func TestBleveStoreRejectsMalformedGeneration(t *testing.T) {
	d := newTestDirectory(t)
	w, err := d.OpenWriter(settings)
	require.NoError(t, err)
	require.NoError(t, w.AddDocuments([]index.Document{doc("a", "1", "quick brown fox")}))
	require.NoError(t, w.Commit())
	snap, err := d.OpenSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	require.NoError(t, w.Close())

	h, err := d.acquire(false)
	require.NoError(t, err)
	require.NoError(t, h.idx.SetInternal(generationKey, []byte{1, 2, 3}))
	h.closer.Close()

	_, err = d.OpenWriter(settings)
	assert.ErrorIs(t, err, errBadCounter)
	_, err = d.Reopen(snap)
	assert.ErrorIs(t, err, errBadCounter)
}
