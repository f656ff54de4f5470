// Package validator checks mutation events submitted over HTTP before they
// are published, and reports per-field problems.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/consumer"
)

const (
	maxIDLength    = 255
	maxFields      = 64
	maxFieldLength = 1048576
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %s", name, e.Fields[name])
	}
	return strings.Join(parts, "; ")
}

// ValidateMutation checks ev and normalizes its op to lower case. Fields
// named like the id or version field are rejected since the schema owns them.
func ValidateMutation(ev *consumer.MutationEvent, idField, versionField string) error {
	errs := make(map[string]string)
	ev.Op = strings.ToLower(strings.TrimSpace(ev.Op))
	if ev.Op == "" {
		ev.Op = consumer.OpUpdate
	}

	switch ev.Op {
	case consumer.OpOptimize:
		if ev.DocumentID != "" {
			errs["document_id"] = "optimize applies to every shard and takes no document id"
		}
	case consumer.OpCreate, consumer.OpUpdate, consumer.OpConditionalUpdate, consumer.OpDelete:
		switch {
		case strings.TrimSpace(ev.DocumentID) == "":
			errs["document_id"] = "document_id is required"
		case len(ev.DocumentID) > maxIDLength:
			errs["document_id"] = fmt.Sprintf("document_id must be at most %d characters", maxIDLength)
		}
	default:
		errs["op"] = fmt.Sprintf("unknown op %q", ev.Op)
	}

	if ev.Version < 0 {
		errs["version"] = "version must not be negative"
	}
	if ev.Op == consumer.OpConditionalUpdate && ev.Version == 0 {
		errs["version"] = "conditional updates need a version"
	}
	if _, err := index.ParseUpdateMode(ev.Mode); err != nil {
		errs["mode"] = err.Error()
	}

	switch ev.Op {
	case consumer.OpCreate, consumer.OpUpdate, consumer.OpConditionalUpdate:
		if len(ev.Fields) == 0 {
			errs["fields"] = "at least one field is required"
		}
	case consumer.OpDelete, consumer.OpOptimize:
		if len(ev.Fields) > 0 {
			errs["fields"] = ev.Op + " takes no fields"
		}
	}
	if len(ev.Fields) > maxFields {
		errs["fields"] = fmt.Sprintf("at most %d fields are allowed", maxFields)
	}
	for name, value := range ev.Fields {
		key := "fields." + name
		switch {
		case strings.TrimSpace(name) == "":
			errs["fields"] = "field names must not be empty"
		case name == idField || name == versionField:
			errs[key] = "reserved field name"
		case len(value) > maxFieldLength:
			errs[key] = fmt.Sprintf("value must be at most %d bytes", maxFieldLength)
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
