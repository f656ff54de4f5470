// Package parser turns a raw query string into a QueryPlan. Terms are
// normalized with the same analyzer the shards were indexed with; a term may
// be restricted to one field with field:term.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/errors"
)

const maxTerms = 32

type QueryType int

const (
	QueryAND QueryType = iota
	QueryOR
)

func (t QueryType) String() string {
	if t == QueryOR {
		return "OR"
	}
	return "AND"
}

// Term is one analyzed query term. An empty Field matches any search field.
type Term struct {
	Field string `json:"field,omitempty"`
	Text  string `json:"text"`
}

func (t Term) String() string {
	if t.Field == "" {
		return t.Text
	}
	return t.Field + ":" + t.Text
}

type QueryPlan struct {
	Terms        []Term
	Type         QueryType
	ExcludeTerms []Term
	RawQuery     string
}

// Parse builds a plan. AND, OR and NOT are operators; the last of AND/OR
// wins for the whole query and NOT excludes the following term.
func Parse(query string, analyzer tokenizer.Analyzer) (*QueryPlan, error) {
	plan := &QueryPlan{
		Type:     QueryAND,
		RawQuery: query,
	}
	excludeNext := false
	for _, word := range strings.Fields(query) {
		switch strings.ToUpper(word) {
		case "AND":
			plan.Type = QueryAND
			continue
		case "OR":
			plan.Type = QueryOR
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		field, text := "", word
		if i := strings.IndexByte(word, ':'); i > 0 && i < len(word)-1 {
			field, text = strings.ToLower(word[:i]), word[i+1:]
		}
		tokens := analyzer.Analyze(text, 1)
		if len(tokens) == 0 {
			excludeNext = false
			continue
		}
		term := Term{Field: field, Text: tokens[0].Term}
		if excludeNext {
			plan.ExcludeTerms = append(plan.ExcludeTerms, term)
			excludeNext = false
		} else {
			plan.Terms = append(plan.Terms, term)
		}
	}
	if excludeNext {
		return nil, fmt.Errorf("%w: NOT must be followed by a term", apperrors.ErrInvalidQuery)
	}
	if n := len(plan.Terms) + len(plan.ExcludeTerms); n > maxTerms {
		return nil, fmt.Errorf("%w: %d terms exceeds the limit of %d", apperrors.ErrInvalidQuery, n, maxTerms)
	}
	return plan, nil
}

// Normalized renders the plan independent of term order and letter case,
// for use as a cache key.
func (p *QueryPlan) Normalized() string {
	render := func(terms []Term) string {
		parts := make([]string, len(terms))
		for i, t := range terms {
			parts[i] = t.String()
		}
		sort.Strings(parts)
		return strings.Join(parts, ",")
	}
	out := p.Type.String() + "|" + render(p.Terms)
	if len(p.ExcludeTerms) > 0 {
		out += "|NOT:" + render(p.ExcludeTerms)
	}
	return out
}
