package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/memindex"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
)

var testSettings = index.Settings{
	MergeFactor:     2,
	MaxBufferedDocs: 100,
	MaxMergeDocs:    1000,
	MaxFieldLength:  1000,
}

func newTestStore(t *testing.T) *SegmentDirectory {
	t.Helper()
	return NewSegmentDirectory(StoreConfig{
		Dir:    filepath.Join(t.TempDir(), "shard-0"),
		Logger: logger.Discard(),
	})
}

func testDoc(id, version, body string) index.Document {
	return index.NewDocument(
		index.Keyword("id", id),
		index.Keyword("version", version),
		index.Text("body", body),
	)
}

func idKey(id string) index.Term { return index.NewTerm("id", id) }

func openSnap(t *testing.T, d *SegmentDirectory) index.Snapshot {
	t.Helper()
	snap, err := d.OpenSnapshot()
	require.NoError(t, err)
	t.Cleanup(func() { snap.Close() })
	return snap
}

func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".spdx") {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestSegmentStoreCommitPublishesSnapshot(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocuments([]index.Document{
		testDoc("a", "1", "quick brown fox"),
		testDoc("b", "1", "lazy fox"),
		testDoc("c", "1", "kafka stream"),
	}))
	exists, err := d.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, w.Commit())
	exists, err = d.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	snap := openSnap(t, d)
	assert.Equal(t, uint64(1), snap.Generation())
	assert.Equal(t, 3, snap.NumDocs())
	assert.InDelta(t, 7.0/3.0, snap.AvgDocLength(), 0.001)

	postings, err := snap.Postings("body", "fox")
	require.NoError(t, err)
	require.Len(t, postings, 2)
	ids := []string{postings[0].DocID, postings[1].DocID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	doc, ok, err := snap.Document(idKey("c"))
	require.NoError(t, err)
	require.True(t, ok)
	body, _ := doc.Get("body")
	assert.Equal(t, "kafka stream", body)
}

func TestSegmentStoreSnapshotsAreIsolated(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocuments([]index.Document{testDoc("a", "1", "fox"), testDoc("b", "1", "fox")}))
	require.NoError(t, w.Commit())
	before := openSnap(t, d)

	require.NoError(t, w.DeleteDocuments(idKey("a")))
	require.NoError(t, w.UpdateDocuments(idKey("b"), []index.Document{testDoc("b", "2", "wolf")}))
	require.NoError(t, w.Commit())
	after := openSnap(t, d)

	assert.Equal(t, 2, before.NumDocs())
	old, err := before.Postings("id", "a")
	require.NoError(t, err)
	assert.Len(t, old, 1)

	assert.Equal(t, uint64(2), after.Generation())
	assert.Equal(t, 1, after.NumDocs())
	gone, err := after.Postings("id", "a")
	require.NoError(t, err)
	assert.Empty(t, gone)
	doc, ok, err := after.Document(idKey("b"))
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := doc.Get("version")
	assert.Equal(t, "2", v)
}

func TestSegmentStoreReopen(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.AddDocuments([]index.Document{testDoc("a", "1", "fox")}))
	require.NoError(t, w.Commit())

	snap := openSnap(t, d)
	same, err := d.Reopen(snap)
	require.NoError(t, err)
	assert.Same(t, snap, same)

	require.NoError(t, w.AddDocuments([]index.Document{testDoc("b", "1", "fox")}))
	require.NoError(t, w.Commit())
	next, err := d.Reopen(snap)
	require.NoError(t, err)
	defer next.Close()
	assert.NotSame(t, snap, next)
	assert.Equal(t, uint64(2), next.Generation())
	assert.Equal(t, 2, next.NumDocs())
}

func TestSegmentStoreFlushesAndMerges(t *testing.T) {
	d := newTestStore(t)
	settings := testSettings
	settings.MaxBufferedDocs = 2
	w, err := d.OpenWriter(settings)
	require.NoError(t, err)
	defer w.Close()

	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, w.AddDocuments([]index.Document{testDoc(id, "1", "fox")}))
	}
	require.NoError(t, w.Commit())

	cp, err := latestCommit(d.Location())
	require.NoError(t, err)
	require.Len(t, cp.Segments, 1)
	assert.Equal(t, uint32(6), cp.Segments[0].DocCount)
	assert.Len(t, segmentFiles(t, d.Location()), 1)

	snap := openSnap(t, d)
	assert.Equal(t, 6, snap.NumDocs())
}

func TestSegmentStoreOptimizeDropsDeletions(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocuments([]index.Document{
		testDoc("a", "1", "fox"), testDoc("b", "1", "fox"),
		testDoc("c", "1", "fox"), testDoc("d", "1", "fox"),
	}))
	require.NoError(t, w.Commit())
	require.NoError(t, w.DeleteDocuments(idKey("b")))
	require.NoError(t, w.Commit())

	cp, err := latestCommit(d.Location())
	require.NoError(t, err)
	require.Len(t, cp.Segments, 1)
	assert.NotEmpty(t, cp.Segments[0].Deletes)

	require.NoError(t, w.Optimize())
	cp, err = latestCommit(d.Location())
	require.NoError(t, err)
	require.Len(t, cp.Segments, 1)
	assert.Empty(t, cp.Segments[0].Deletes)
	assert.Equal(t, uint32(3), cp.Segments[0].DocCount)
}

func TestSegmentStoreWriterResumesFromCommit(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	require.NoError(t, w.AddDocuments([]index.Document{testDoc("a", "1", "fox")}))
	require.NoError(t, w.Close())

	w, err = d.OpenWriter(testSettings)
	require.NoError(t, err)
	require.NoError(t, w.DeleteDocuments(idKey("a")))
	require.NoError(t, w.AddDocuments([]index.Document{testDoc("b", "1", "fox")}))
	require.NoError(t, w.Close())

	snap := openSnap(t, d)
	assert.Equal(t, uint64(2), snap.Generation())
	assert.Equal(t, 1, snap.NumDocs())
	_, ok, err := snap.Document(idKey("b"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSegmentStoreCommitWithoutChangesKeepsGeneration(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Commit())
	require.NoError(t, w.Commit())
	snap := openSnap(t, d)
	assert.Equal(t, uint64(1), snap.Generation())
	assert.Zero(t, snap.NumDocs())
}

func TestSegmentStoreConditionalUpdate(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.AddDocuments([]index.Document{testDoc("a", "5", "original")}))
	require.NoError(t, w.Commit())

	require.NoError(t, w.UpdateDocumentConditionally(idKey("a"), testDoc("a", "3", "stale"), "version"))
	require.NoError(t, w.UpdateDocumentConditionally(idKey("z"), testDoc("z", "1", "fresh"), "version"))
	require.NoError(t, w.Commit())
	snap := openSnap(t, d)
	doc, ok, err := snap.Document(idKey("a"))
	require.NoError(t, err)
	require.True(t, ok)
	body, _ := doc.Get("body")
	assert.Equal(t, "original", body)
	_, ok, err = snap.Document(idKey("z"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, w.UpdateDocumentConditionally(idKey("a"), testDoc("a", "7", "newer"), "version"))
	require.NoError(t, w.Commit())
	snap = openSnap(t, d)
	doc, _, err = snap.Document(idKey("a"))
	require.NoError(t, err)
	body, _ = doc.Get("body")
	assert.Equal(t, "newer", body)
	hits, err := snap.Postings("id", "a")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	noVersion := index.NewDocument(index.Keyword("id", "a"))
	assert.Error(t, w.UpdateDocumentConditionally(idKey("a"), noVersion, "version"))
}

func TestSegmentStoreClean(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	require.NoError(t, w.AddDocuments([]index.Document{testDoc("a", "1", "fox")}))
	require.NoError(t, w.Close())

	require.NoError(t, d.Clean())
	exists, err := d.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
	_, err = d.OpenSnapshot()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func newTestManager(t *testing.T) *index.Manager {
	t.Helper()
	m, err := index.NewQueuedManager("shard-0", index.Configuration{
		Directory:   newTestStore(t),
		FlushPolicy: index.FlushCommit,
		IdleTimeout: 50 * time.Millisecond,
		Logger:      logger.Discard(),
	}, 64)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestQueuedManagerDeleteThenCreateLeavesOne(t *testing.T) {
	for i := 0; i < 10; i++ {
		m := newTestManager(t)
		ctx := context.Background()
		require.NoError(t, m.Index().Perform(ctx, index.Create(index.Interactive, testDoc("A", "1", "seed"))).Await(ctx))

		del := m.Index().Perform(ctx, index.Delete(idKey("A"), index.Interactive))
		create := m.Index().Perform(ctx, index.Create(index.Interactive, testDoc("A", "2", "fresh")))
		require.NoError(t, del.Await(ctx))
		require.NoError(t, create.Await(ctx))

		s, err := m.OpenSearcher()
		require.NoError(t, err)
		hits, err := s.Postings("id", "A")
		require.NoError(t, err)
		assert.Len(t, hits, 1)
		require.NoError(t, s.Close())
	}
}

func TestQueuedManagerStaleConditionalUpdateSucceeds(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Index().Perform(ctx, index.Create(index.Interactive, testDoc("a", "9", "current"))).Await(ctx))

	res := m.Index().Perform(ctx, index.ConditionalUpdate(idKey("a"), testDoc("a", "4", "old"), "version", index.Interactive))
	require.NoError(t, res.Await(ctx))

	s, err := m.OpenSearcher()
	require.NoError(t, err)
	defer s.Close()
	doc, ok, err := s.Document(idKey("a"))
	require.NoError(t, err)
	require.True(t, ok)
	body, _ := doc.Get("body")
	assert.Equal(t, "current", body)
}

func TestSegmentStoreReportsDanglingPostings(t *testing.T) {
	d := newTestStore(t)
	w, err := d.OpenWriter(testSettings)
	require.NoError(t, err)
	require.NoError(t, w.AddDocuments([]index.Document{testDoc("a", "1", "body")}))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	names := segmentFiles(t, d.dir)
	require.Len(t, names, 1)
	scratch := t.TempDir()
	broken, err := segment.NewWriter(scratch).Write(memindex.Segment{
		Terms: []memindex.TermEntry{{
			Term:     memindex.TermKey("id", "a"),
			Postings: memindex.PostingList{{Doc: 3, Frequency: 1}},
		}},
		Docs: []memindex.StoredDoc{{Fields: []memindex.StoredField{{Name: "id", Value: "a"}}}},
	})
	require.NoError(t, err)
	require.NoError(t, os.Rename(filepath.Join(scratch, broken), filepath.Join(d.dir, names[0])))

	reopened := NewSegmentDirectory(StoreConfig{Dir: d.dir, Logger: logger.Discard()})
	snap := openSnap(t, reopened)
	_, _, err = snap.Document(idKey("a"))
	assert.ErrorIs(t, err, segment.ErrMissingDocument)
	_, err = snap.Postings("id", "a")
	assert.ErrorIs(t, err, segment.ErrMissingDocument)

	w, err = reopened.OpenWriter(testSettings)
	require.NoError(t, err)
	defer w.Close()
	err = w.UpdateDocumentConditionally(idKey("a"), testDoc("a", "2", "newer"), "version")
	assert.ErrorIs(t, err, segment.ErrMissingDocument)
}
