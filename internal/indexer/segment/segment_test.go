package segment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/memindex"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
)

func buildSegment(ids ...string) memindex.Segment {
	m := memindex.NewMemoryIndex()
	for _, id := range ids {
		m.AddDocument([]memindex.StoredField{
			{Name: "id", Value: id},
			{Name: "body", Value: "shared text for " + id, Analyzed: true},
		}, tokenizer.Simple{}, 0)
	}
	return m.Snapshot()
}

func writeAndOpen(t *testing.T, dir string, seg memindex.Segment) *Reader {
	t.Helper()
	name, err := NewWriter(dir).Write(seg)
	require.NoError(t, err)
	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteAndReadSegment(t *testing.T) {
	dir := t.TempDir()
	r := writeAndOpen(t, dir, buildSegment("a", "b", "c"))

	assert.Equal(t, uint32(3), r.DocCount())
	postings, err := r.Postings(memindex.TermKey("body", "shared"))
	require.NoError(t, err)
	assert.Len(t, postings, 3)

	postings, err = r.Postings(memindex.TermKey("id", "b"))
	require.NoError(t, err)
	require.Len(t, postings, 1)
	doc, ok := r.Document(postings[0].Doc)
	require.True(t, ok)
	id, _ := doc.Get("id")
	assert.Equal(t, "b", id)
	assert.Equal(t, 4, doc.Length)

	missing, err := r.Postings(memindex.TermKey("body", "absent"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWriteRejectsEmptySegment(t *testing.T) {
	_, err := NewWriter(t.TempDir()).Write(memindex.Segment{})
	assert.Error(t, err)
}

func TestOpenReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write(buildSegment("a"))
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r, err := OpenReader(path)
	require.NoError(t, err)
	dictOffset := r.header.DictOffset
	r.Close()

	data[dictOffset] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))
	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "checksum")

	require.NoError(t, os.WriteFile(path, []byte("not a segment at all, just some bytes padding out the header size...."), 0644))
	_, err = OpenReader(path)
	assert.Error(t, err)
}

func TestDeletesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bm := roaring.BitmapOf(1, 5, 9)
	name := DeletesName("seg_1_1.spdx", 7)
	assert.Equal(t, "seg_1_1_7.del", name)

	require.NoError(t, WriteDeletes(dir, name, bm))
	got, err := ReadDeletes(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.True(t, bm.Equals(got))
}

func TestMergeDropsDeletedDocs(t *testing.T) {
	dir := t.TempDir()
	first := writeAndOpen(t, dir, buildSegment("a", "b"))
	second := writeAndOpen(t, dir, buildSegment("c", "d"))

	merged, err := Merge([]MergeInput{
		{Reader: first, Deleted: roaring.BitmapOf(0)},
		{Reader: second},
	})
	require.NoError(t, err)
	require.Len(t, merged.Docs, 3)

	var ids []string
	for _, d := range merged.Docs {
		id, _ := d.Get("id")
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"b", "c", "d"}, ids)

	out := writeAndOpen(t, dir, merged)
	postings, err := out.Postings(memindex.TermKey("body", "shared"))
	require.NoError(t, err)
	assert.Len(t, postings, 3)
	postings, err = out.Postings(memindex.TermKey("id", "a"))
	require.NoError(t, err)
	assert.Empty(t, postings)
	postings, err = out.Postings(memindex.TermKey("id", "d"))
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, uint32(2), postings[0].Doc)
}
