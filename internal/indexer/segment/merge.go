package segment

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/memindex"
)

// MergeInput is a segment together with the documents deleted from it.
type MergeInput struct {
	Reader  *Reader
	Deleted *roaring.Bitmap
}

// Merge combines segments into one, dropping deleted documents. Documents
// keep their relative order; inputs are concatenated in the given order.
func Merge(inputs []MergeInput) (memindex.Segment, error) {
	var docs []memindex.StoredDoc
	remaps := make([]map[uint32]uint32, len(inputs))
	for i, in := range inputs {
		remap := make(map[uint32]uint32)
		for d := uint32(0); d < in.Reader.DocCount(); d++ {
			if in.Deleted != nil && in.Deleted.Contains(d) {
				continue
			}
			doc, err := in.Reader.Stored(d)
			if err != nil {
				return memindex.Segment{}, err
			}
			remap[d] = uint32(len(docs))
			docs = append(docs, doc)
		}
		remaps[i] = remap
	}

	terms := make(map[string]memindex.PostingList)
	for i, in := range inputs {
		remap := remaps[i]
		err := in.Reader.ForEachTerm(func(term string, postings memindex.PostingList) error {
			for _, p := range postings {
				newDoc, live := remap[p.Doc]
				if !live {
					continue
				}
				p.Doc = newDoc
				terms[term] = append(terms[term], p)
			}
			return nil
		})
		if err != nil {
			return memindex.Segment{}, err
		}
	}

	entries := make([]memindex.TermEntry, 0, len(terms))
	for term, postings := range terms {
		entries = append(entries, memindex.TermEntry{Term: term, Postings: postings})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return memindex.Segment{Terms: entries, Docs: docs}, nil
}
