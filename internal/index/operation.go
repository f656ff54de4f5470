package index

import (
	"fmt"
)

// Operation is a unit of index mutation. The set of implementations is closed;
// use the constructors in this file.
type Operation interface {
	Perform(w Writer) error
	Mode() UpdateMode
	isOperation()
}

type deleteOp struct {
	key  Term
	mode UpdateMode
}

// Delete removes every document matching key.
func Delete(key Term, mode UpdateMode) Operation {
	return deleteOp{key: key, mode: mode}
}

func (o deleteOp) Perform(w Writer) error { return w.DeleteDocuments(o.key) }
func (o deleteOp) Mode() UpdateMode      { return o.mode }
func (o deleteOp) isOperation()          {}
func (o deleteOp) String() string        { return "delete " + o.key.String() }

type createOp struct {
	docs []Document
	mode UpdateMode
}

// Create adds docs without checking for existing documents.
func Create(mode UpdateMode, docs ...Document) Operation {
	return createOp{docs: cloneDocs(docs), mode: mode}
}

func (o createOp) Perform(w Writer) error { return w.AddDocuments(o.docs) }
func (o createOp) Mode() UpdateMode      { return o.mode }
func (o createOp) isOperation()          {}
func (o createOp) String() string        { return fmt.Sprintf("create %d docs", len(o.docs)) }

type updateOp struct {
	key  Term
	docs []Document
	mode UpdateMode
}

// Update replaces every document matching key with docs. A single replacement
// document is swapped atomically; several are applied as delete then add.
func Update(key Term, mode UpdateMode, docs ...Document) Operation {
	return updateOp{key: key, docs: cloneDocs(docs), mode: mode}
}

func (o updateOp) Perform(w Writer) error {
	if len(o.docs) == 1 {
		return w.UpdateDocuments(o.key, o.docs)
	}
	if err := w.DeleteDocuments(o.key); err != nil {
		return err
	}
	if len(o.docs) == 0 {
		return nil
	}
	return w.AddDocuments(o.docs)
}

func (o updateOp) Mode() UpdateMode { return o.mode }
func (o updateOp) isOperation()     {}
func (o updateOp) String() string   { return "update " + o.key.String() }

type conditionalUpdateOp struct {
	key       Term
	doc       Document
	lockField string
	mode      UpdateMode
}

// ConditionalUpdate replaces the document matching key unless the stored
// value of lockField is newer than the one carried by doc. A stale update is
// a successful no-op.
func ConditionalUpdate(key Term, doc Document, lockField string, mode UpdateMode) Operation {
	return conditionalUpdateOp{key: key, doc: doc.clone(), lockField: lockField, mode: mode}
}

func (o conditionalUpdateOp) Perform(w Writer) error {
	return w.UpdateDocumentConditionally(o.key, o.doc, o.lockField)
}

func (o conditionalUpdateOp) Mode() UpdateMode { return o.mode }
func (o conditionalUpdateOp) isOperation()     {}
func (o conditionalUpdateOp) String() string {
	return "conditional update " + o.key.String() + " on " + o.lockField
}

type optimizeOp struct{}

// Optimize compacts the index. It always runs with the Batch profile.
func Optimize() Operation { return optimizeOp{} }

func (optimizeOp) Perform(w Writer) error { return w.Optimize() }
func (optimizeOp) Mode() UpdateMode      { return Batch }
func (optimizeOp) isOperation()          {}
func (optimizeOp) String() string        { return "optimize" }

type completionOp struct {
	delegate Operation
	after    func()
}

// Completion runs after once delegate has been performed, whatever the outcome.
func Completion(delegate Operation, after func()) Operation {
	return completionOp{delegate: delegate, after: after}
}

func (o completionOp) Perform(w Writer) error {
	defer o.after()
	return o.delegate.Perform(w)
}

func (o completionOp) Mode() UpdateMode { return o.delegate.Mode() }
func (o completionOp) isOperation()     {}

// batchOp applies queued operations in order and stops at the first failure.
type batchOp struct {
	ops  []Operation
	mode UpdateMode
}

func newBatch(ops []Operation) batchOp {
	mode := Interactive
	for _, op := range ops {
		mode = mode.Escalate(op.Mode())
	}
	return batchOp{ops: ops, mode: mode}
}

func (b batchOp) Perform(w Writer) error {
	for i, op := range b.ops {
		if err := performOne(op, w); err != nil {
			return &batchError{index: i, err: err}
		}
	}
	return nil
}

func (b batchOp) Mode() UpdateMode { return b.mode }
func (b batchOp) isOperation()     {}

func performOne(op Operation, w Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return op.Perform(w)
}

// batchError records which member of a batch failed.
type batchError struct {
	index int
	err   error
}

func (e *batchError) Error() string {
	return fmt.Sprintf("batch member %d: %v", e.index, e.err)
}

func (e *batchError) Unwrap() error { return e.err }

func cloneDocs(docs []Document) []Document {
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.clone()
	}
	return out
}
