// Package merger combines per-shard ranked lists into one top-k list.
package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/ranker"
)

const defaultLimit = 10

// Merge keeps the limit best documents across every shard list. Shard lists
// need not be sorted.
func Merge(shardResults [][]ranker.ScoredDoc, limit int) []ranker.ScoredDoc {
	if limit <= 0 {
		limit = defaultLimit
	}
	h := make(minHeap, 0, limit+1)
	for _, results := range shardResults {
		for _, doc := range results {
			if h.Len() == limit && !better(doc, h[0]) {
				continue
			}
			heap.Push(&h, doc)
			if h.Len() > limit {
				heap.Pop(&h)
			}
		}
	}
	result := make([]ranker.ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ranker.ScoredDoc)
	}
	return result
}

func better(a, b ranker.ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// minHeap has the worst kept document at the root.
type minHeap []ranker.ScoredDoc

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) {
	*h = append(*h, x.(ranker.ScoredDoc))
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
