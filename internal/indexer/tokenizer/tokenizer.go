// Package tokenizer turns field text into index terms. The standard analyzer
// lower-cases, splits on non-alphanumeric boundaries, removes stop-words and
// applies a suffix stemmer; the simple analyzer only lower-cases and splits.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Token is a normalised term and its position among the kept terms.
type Token struct {
	Term     string
	Position int
}

// Analyzer converts text into tokens. maxTokens <= 0 means unlimited.
type Analyzer interface {
	Name() string
	Analyze(text string, maxTokens int) []Token
}

type Standard struct{}

func (Standard) Name() string { return "standard" }

func (Standard) Analyze(text string, maxTokens int) []Token {
	return analyze(text, maxTokens, func(word string) string {
		if len(word) < 2 {
			return ""
		}
		if _, isStop := stopWords[word]; isStop {
			return ""
		}
		return stem(word)
	})
}

type Simple struct{}

func (Simple) Name() string { return "simple" }

func (Simple) Analyze(text string, maxTokens int) []Token {
	return analyze(text, maxTokens, func(word string) string { return word })
}

func ByName(name string) (Analyzer, error) {
	switch strings.ToLower(name) {
	case "", "standard":
		return Standard{}, nil
	case "simple":
		return Simple{}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer %q", name)
	}
}

// Tokenize runs the standard analyzer without a token limit.
func Tokenize(text string) []Token {
	return Standard{}.Analyze(text, 0)
}

func analyze(text string, maxTokens int, normalize func(string) string) []Token {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words)/2+1)
	for _, word := range words {
		if maxTokens > 0 && len(tokens) >= maxTokens {
			break
		}
		term := normalize(word)
		if term == "" {
			continue
		}
		tokens = append(tokens, Token{Term: term, Position: len(tokens)})
	}
	return tokens
}

type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

// Longest suffixes first; the first rule that leaves a long enough stem wins.
var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"eness", "ene", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ess", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

func stem(word string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		if stemmed := word[:len(word)-len(rule.suffix)] + rule.replacement; len(stemmed) >= rule.minLen {
			return stemmed
		}
	}
	return word
}
