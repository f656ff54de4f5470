// Package executor runs a parsed query against every shard. Collection
// statistics are gathered from all shards first so each shard scores its
// candidates with the same idf and average length, then the per-shard top
// lists are merged.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/errors"
)

// Shard is a named source of snapshots. *index.Manager satisfies it.
type Shard interface {
	Name() string
	OpenSearcher() (*index.Searcher, error)
}

func FromManagers(managers []*index.Manager) []Shard {
	out := make([]Shard, len(managers))
	for i, m := range managers {
		out[i] = m
	}
	return out
}

type Config struct {
	// Fields searched by terms without an explicit field.
	Fields          []string
	IDField         string
	TimeoutPerShard time.Duration
	Logger          *slog.Logger
}

type Hit struct {
	ranker.ScoredDoc
	Fields map[string]string `json:"fields,omitempty"`
}

type SearchResult struct {
	Query       string            `json:"query"`
	TotalHits   int               `json:"total_hits"`
	Results     []Hit             `json:"results"`
	TermStats   map[string]int    `json:"term_stats"`
	Generations map[string]uint64 `json:"generations"`
}

type Executor struct {
	shards  []Shard
	fields  []string
	idField string
	timeout time.Duration
	logger  *slog.Logger
}

func New(shards []Shard, cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idField := cfg.IDField
	if idField == "" {
		idField = "id"
	}
	return &Executor{
		shards:  shards,
		fields:  cfg.Fields,
		idField: idField,
		timeout: cfg.TimeoutPerShard,
		logger:  logger.With("component", "query-executor"),
	}
}

// shardView holds one shard's searcher and the postings of every plan term,
// indexed like plan.Terms followed by plan.ExcludeTerms.
type shardView struct {
	name     string
	searcher *index.Searcher
	postings []map[string][]index.Posting
}

// Generations reports the committed generation of every shard. Two searches
// over the same generations see the same data.
func (e *Executor) Generations(ctx context.Context) (map[string]uint64, error) {
	views, err := e.open(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer closeViews(views)
	gens := make(map[string]uint64, len(views))
	for _, v := range views {
		gens[v.name] = v.searcher.Generation()
	}
	return gens, nil
}

func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, limit int) (*SearchResult, error) {
	result := &SearchResult{
		Query:       plan.RawQuery,
		Results:     []Hit{},
		TermStats:   make(map[string]int),
		Generations: make(map[string]uint64),
	}
	if len(plan.Terms) == 0 {
		return result, nil
	}
	views, err := e.open(ctx, plan)
	if err != nil {
		return nil, err
	}
	defer closeViews(views)

	params := ranker.RankParams{DocFreq: make(map[string]int64)}
	var totalLength float64
	for _, v := range views {
		result.Generations[v.name] = v.searcher.Generation()
		n := v.searcher.NumDocs()
		params.TotalDocs += int64(n)
		totalLength += v.searcher.AvgDocLength() * float64(n)
		for i, term := range plan.Terms {
			for key, postings := range v.postings[i] {
				params.DocFreq[key] += int64(len(postings))
			}
			result.TermStats[term.String()] += len(docSet(v.postings[i]))
		}
	}
	if params.TotalDocs > 0 {
		params.AvgDocLength = totalLength / float64(params.TotalDocs)
	}

	shardResults := make([][]ranker.ScoredDoc, len(views))
	for s, v := range views {
		candidates := e.candidates(plan, v)
		result.TotalHits += len(candidates)
		filtered := make(map[string][]index.Posting)
		for i := range plan.Terms {
			for key, postings := range v.postings[i] {
				for _, p := range postings {
					if _, ok := candidates[p.DocID]; ok {
						filtered[key] = append(filtered[key], p)
					}
				}
			}
		}
		ranked := ranker.Rank(filtered, params, limit)
		for i := range ranked {
			ranked[i].Shard = v.name
		}
		shardResults[s] = ranked
	}

	byShard := make(map[string]*shardView, len(views))
	for _, v := range views {
		byShard[v.name] = v
	}
	for _, doc := range merger.Merge(shardResults, limit) {
		hit := Hit{ScoredDoc: doc}
		stored, found, err := byShard[doc.Shard].searcher.Document(index.NewTerm(e.idField, doc.DocID))
		if err != nil {
			e.logger.Warn("loading stored fields", "shard", doc.Shard, "doc_id", doc.DocID, "error", err)
		} else if found {
			hit.Fields = make(map[string]string, len(stored.Fields))
			for _, f := range stored.Fields {
				hit.Fields[f.Name] = f.Value
			}
		}
		result.Results = append(result.Results, hit)
	}

	e.logger.Debug("query executed",
		"query", plan.RawQuery,
		"type", plan.Type.String(),
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
	)
	return result, nil
}

// open acquires a searcher on every shard concurrently and, when plan is
// set, reads the postings of its terms. On error nothing stays open.
func (e *Executor) open(ctx context.Context, plan *parser.QueryPlan) ([]*shardView, error) {
	views := make([]*shardView, len(e.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range e.shards {
		g.Go(func() error {
			sctx := gctx
			if e.timeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, e.timeout)
				defer cancel()
			}
			v, err := e.openShard(sctx, shard, plan)
			if v != nil {
				views[i] = v
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		closeViews(views)
		return nil, err
	}
	return views, nil
}

func (e *Executor) openShard(ctx context.Context, shard Shard, plan *parser.QueryPlan) (*shardView, error) {
	if err := ctx.Err(); err != nil {
		return nil, shardError(shard.Name(), err)
	}
	s, err := shard.OpenSearcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrShardUnavailable, shard.Name(), err)
	}
	v := &shardView{name: shard.Name(), searcher: s}
	if plan == nil {
		return v, nil
	}
	terms := append(append([]parser.Term{}, plan.Terms...), plan.ExcludeTerms...)
	v.postings = make([]map[string][]index.Posting, len(terms))
	for i, term := range terms {
		if err := ctx.Err(); err != nil {
			return v, shardError(shard.Name(), err)
		}
		v.postings[i] = make(map[string][]index.Posting)
		for _, field := range e.fieldsFor(term) {
			postings, err := s.Postings(field, term.Text)
			if err != nil {
				return v, fmt.Errorf("reading %s:%s on %s: %w", field, term.Text, shard.Name(), err)
			}
			if len(postings) > 0 {
				v.postings[i][field+":"+term.Text] = postings
			}
		}
	}
	return v, nil
}

func (e *Executor) fieldsFor(term parser.Term) []string {
	if term.Field != "" {
		return []string{term.Field}
	}
	return e.fields
}

// candidates applies the boolean structure of the plan to one shard.
func (e *Executor) candidates(plan *parser.QueryPlan, v *shardView) map[string]struct{} {
	var out map[string]struct{}
	for i := range plan.Terms {
		docs := docSet(v.postings[i])
		switch {
		case out == nil:
			out = docs
		case plan.Type == parser.QueryOR:
			for id := range docs {
				out[id] = struct{}{}
			}
		default:
			for id := range out {
				if _, ok := docs[id]; !ok {
					delete(out, id)
				}
			}
		}
	}
	for i := len(plan.Terms); i < len(v.postings); i++ {
		for id := range docSet(v.postings[i]) {
			delete(out, id)
		}
	}
	return out
}

func docSet(byField map[string][]index.Posting) map[string]struct{} {
	out := make(map[string]struct{})
	for _, postings := range byField {
		for _, p := range postings {
			out[p.DocID] = struct{}{}
		}
	}
	return out
}

func shardError(name string, err error) error {
	if err == context.DeadlineExceeded {
		return fmt.Errorf("%w: shard %s", apperrors.ErrTimeout, name)
	}
	return fmt.Errorf("shard %s: %w", name, err)
}

func closeViews(views []*shardView) {
	for _, v := range views {
		if v != nil && v.searcher != nil {
			v.searcher.Close()
		}
	}
}
