package indexer

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/blevestore"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
)

const (
	BackendSegment = "segment"
	BackendBleve   = "bleve"

	// VersionField holds the optimistic-lock version of every document.
	VersionField = "version"
)

// OpenDirectory builds the index.Directory for one shard rooted at dir,
// together with the analyzer queries against it must use.
func OpenDirectory(cfg config.IndexConfig, dir string, logger *slog.Logger) (index.Directory, tokenizer.Analyzer, error) {
	analyzer, err := tokenizer.ByName(cfg.Analyzer)
	if err != nil {
		return nil, nil, err
	}
	switch strings.ToLower(cfg.Backend) {
	case BackendSegment, "":
		return NewSegmentDirectory(StoreConfig{
			Dir:      dir,
			Analyzer: analyzer,
			IDField:  cfg.IDField,
			Logger:   logger,
		}), analyzer, nil
	case BackendBleve:
		// bleve applies its own standard analyzer at index time; queries
		// only need lower-casing to line up with it.
		return blevestore.New(blevestore.Config{
			Dir:        dir,
			TextFields: cfg.TextFields,
			IDField:    cfg.IDField,
			Logger:     logger,
		}), tokenizer.Simple{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

// Profiles converts the configured writer profiles.
func Profiles(cfg config.IndexConfig) index.Profiles {
	convert := func(p config.ProfileConfig, fallback index.Settings) index.Settings {
		s := index.Settings{
			MergeFactor:     p.MergeFactor,
			MaxBufferedDocs: p.MaxBufferedDocs,
			MaxMergeDocs:    p.MaxMergeDocs,
			MaxFieldLength:  p.MaxFieldLength,
		}
		if s.MergeFactor <= 0 {
			s.MergeFactor = fallback.MergeFactor
		}
		if s.MaxBufferedDocs <= 0 {
			s.MaxBufferedDocs = fallback.MaxBufferedDocs
		}
		if s.MaxMergeDocs <= 0 {
			s.MaxMergeDocs = fallback.MaxMergeDocs
		}
		if s.MaxFieldLength <= 0 {
			s.MaxFieldLength = fallback.MaxFieldLength
		}
		return s
	}
	defaults := index.DefaultProfiles()
	return index.Profiles{
		Interactive: convert(cfg.Interactive, defaults.Interactive),
		Batch:       convert(cfg.Batch, defaults.Batch),
	}
}

// Schema turns flat source records into index documents.
type Schema struct {
	IDField    string
	TextFields []string
}

func NewSchema(cfg config.IndexConfig) Schema {
	id := cfg.IDField
	if id == "" {
		id = "id"
	}
	return Schema{IDField: id, TextFields: cfg.TextFields}
}

// Key is the term that identifies the document with the given id.
func (s Schema) Key(id string) index.Term {
	return index.NewTerm(s.IDField, id)
}

// Document builds the indexed form of a record. The id and version are
// keywords, configured text fields are analyzed, the rest are keywords.
// Fields are emitted in name order.
func (s Schema) Document(id string, version int64, fields map[string]string) index.Document {
	text := make(map[string]bool, len(s.TextFields))
	for _, f := range s.TextFields {
		text[f] = true
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == s.IDField || name == VersionField {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]index.Field, 0, len(names)+2)
	out = append(out,
		index.Keyword(s.IDField, id),
		index.Keyword(VersionField, strconv.FormatInt(version, 10)),
	)
	for _, name := range names {
		if text[name] {
			out = append(out, index.Text(name, fields[name]))
		} else {
			out = append(out, index.Keyword(name, fields[name]))
		}
	}
	return index.NewDocument(out...)
}
