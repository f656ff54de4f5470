package index

// Field is a named value in a document. Analyzed fields are run through the
// text analyzer; the rest are indexed as a single exact term.
type Field struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Analyzed bool   `json:"analyzed,omitempty"`
}

// Text returns an analyzed field.
func Text(name, value string) Field {
	return Field{Name: name, Value: value, Analyzed: true}
}

// Keyword returns a field indexed verbatim as one term.
func Keyword(name, value string) Field {
	return Field{Name: name, Value: value}
}

// Document is an ordered list of fields. A name may repeat.
type Document struct {
	Fields []Field `json:"fields"`
}

func NewDocument(fields ...Field) Document {
	return Document{Fields: fields}
}

// Get returns the first value stored under name.
func (d Document) Get(name string) (string, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

func (d Document) clone() Document {
	fields := make([]Field, len(d.Fields))
	copy(fields, d.Fields)
	return Document{Fields: fields}
}

// Term identifies documents by an exact field value.
type Term struct {
	Field string
	Text  string
}

// NewTerm returns the exact-match term text in field.
func NewTerm(field, text string) Term {
	return Term{Field: field, Text: text}
}

func (t Term) String() string {
	return t.Field + ":" + t.Text
}

// Posting is a single document hit for a term, as seen through a Snapshot.
type Posting struct {
	DocID     string
	Frequency int
	DocLength int
}
