package memindex

import "strings"

// Posting records one document's occurrences of a term. Doc is the document
// number within its segment.
type Posting struct {
	Doc       uint32 `json:"d"`
	Frequency int    `json:"f"`
	Positions []int  `json:"p,omitempty"`
}

type PostingList []Posting

type TermEntry struct {
	Term     string
	Postings PostingList
}

type StoredField struct {
	Name     string `json:"n"`
	Value    string `json:"v"`
	Analyzed bool   `json:"a,omitempty"`
}

// StoredDoc is a document's stored fields and its analyzed length in tokens.
type StoredDoc struct {
	Fields []StoredField `json:"f"`
	Length int           `json:"l"`
}

func (d StoredDoc) Get(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Segment is the flushed content of a memory index: sorted terms and the
// stored documents they refer to, numbered densely from zero.
type Segment struct {
	Terms []TermEntry
	Docs  []StoredDoc
}

const fieldSep = "\x00"

// TermKey is the dictionary key for a term in a field.
func TermKey(field, text string) string {
	return field + fieldSep + text
}

func SplitTermKey(key string) (field, text string) {
	field, text, _ = strings.Cut(key, fieldSep)
	return field, text
}
