package consumer

import (
	"fmt"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer"
)

const (
	OpCreate            = "create"
	OpUpdate            = "update"
	OpDelete            = "delete"
	OpConditionalUpdate = "conditional_update"
	OpOptimize          = "optimize"
)

// MutationEvent is the payload of a message on the mutations topic.
type MutationEvent struct {
	Op         string            `json:"op"`
	DocumentID string            `json:"document_id"`
	Version    int64             `json:"version"`
	Fields     map[string]string `json:"fields,omitempty"`
	Mode       string            `json:"mode,omitempty"`
}

// CompletionEvent is published on the index-complete topic once a mutation
// has been applied or has failed.
type CompletionEvent struct {
	DocumentID string    `json:"document_id"`
	Op         string    `json:"op"`
	Version    int64     `json:"version"`
	Shard      string    `json:"shard"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Operation converts ev into the index operation it describes.
func (ev MutationEvent) Operation(schema indexer.Schema) (index.Operation, error) {
	mode, err := index.ParseUpdateMode(ev.Mode)
	if err != nil {
		return nil, err
	}
	op := strings.ToLower(ev.Op)
	if op == OpOptimize {
		return index.Optimize(), nil
	}
	if ev.DocumentID == "" {
		return nil, fmt.Errorf("%s event without document_id", ev.Op)
	}
	key := schema.Key(ev.DocumentID)
	switch op {
	case OpCreate:
		return index.Create(mode, schema.Document(ev.DocumentID, ev.Version, ev.Fields)), nil
	case OpUpdate, "":
		return index.Update(key, mode, schema.Document(ev.DocumentID, ev.Version, ev.Fields)), nil
	case OpDelete:
		return index.Delete(key, mode), nil
	case OpConditionalUpdate:
		doc := schema.Document(ev.DocumentID, ev.Version, ev.Fields)
		return index.ConditionalUpdate(key, doc, indexer.VersionField, mode), nil
	default:
		return nil, fmt.Errorf("unknown mutation op %q", ev.Op)
	}
}
