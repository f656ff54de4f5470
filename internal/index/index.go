package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/metrics"
)

// Index accepts operations for one engine.
type Index interface {
	// Perform submits op. The returned Result resolves when op has been
	// applied and the flush policy carried out, or when it failed.
	Perform(ctx context.Context, op Operation) Result
	Close() error
}

// Configuration describes one index and how its engine treats writers.
type Configuration struct {
	Name        string
	Directory   Directory
	FlushPolicy FlushPolicy
	Profiles    Profiles
	// IdleTimeout bounds how long a queue worker waits for work before
	// exiting. Zero uses DefaultIdleTimeout.
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.IndexMetrics
}

const DefaultIdleTimeout = 30 * time.Second
