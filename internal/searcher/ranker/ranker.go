// Package ranker scores documents with Okapi BM25.
package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
)

const (
	k1 = 1.2
	b  = 0.75
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
	Shard string  `json:"shard,omitempty"`
}

// RankParams carries collection statistics. When a shard ranks its own
// postings, these should be the totals across every shard so scores are
// comparable when merged.
type RankParams struct {
	TotalDocs    int64
	AvgDocLength float64
	// DocFreq overrides the per-term document frequency. Terms missing
	// from the map use the length of their postings list.
	DocFreq map[string]int64
}

// Rank scores every document in postingsPerTerm and returns the best limit
// of them, highest score first with ties broken by id.
func Rank(postingsPerTerm map[string][]index.Posting, params RankParams, limit int) []ScoredDoc {
	scores := make(map[string]float64)
	for term, postings := range postingsPerTerm {
		docFreq, ok := params.DocFreq[term]
		if !ok {
			docFreq = int64(len(postings))
		}
		idf := computeIDF(params.TotalDocs, docFreq)
		for _, posting := range postings {
			tfNorm := computeTFNorm(
				float64(posting.Frequency),
				float64(posting.DocLength),
				params.AvgDocLength,
			)
			scores[posting.DocID] += idf * tfNorm
		}
	}
	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{
			DocID: docID,
			Score: math.Round(score*10000) / 10000,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].DocID < result[j].DocID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func computeIDF(totalDocs, docFreq int64) float64 {
	if docFreq > totalDocs {
		docFreq = totalDocs
	}
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq, docLength, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
