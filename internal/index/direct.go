package index

import (
	"context"
	"log/slog"
)

// DirectIndex applies operations synchronously on the calling goroutine.
type DirectIndex struct {
	engine *Engine
	logger *slog.Logger
}

// NewDirectIndex wraps engine. logger may be nil.
func NewDirectIndex(engine *Engine, logger *slog.Logger) *DirectIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectIndex{
		engine: engine,
		logger: logger.With("component", "index-direct", "index", engine.Name()),
	}
}

// Perform never blocks beyond the write itself; ctx is only checked before
// starting.
func (d *DirectIndex) Perform(ctx context.Context, op Operation) Result {
	if err := ctx.Err(); err != nil {
		return Failed(interrupted(ctx))
	}
	if err := d.apply(op); err != nil {
		d.logger.Error("index operation failed", "mode", op.Mode(), "error", err)
		return Failed(err)
	}
	return Succeeded()
}

func (d *DirectIndex) apply(op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return d.engine.Write(op)
}

func (d *DirectIndex) Engine() *Engine { return d.engine }

// Close closes the engine.
func (d *DirectIndex) Close() error {
	return d.engine.Close()
}
