package index

import (
	"fmt"
	"log/slog"
)

// Manager is the entry point for one named index: it owns the engine and the
// Index used to submit operations to it.
type Manager struct {
	name   string
	engine *Engine
	index  Index
	logger *slog.Logger
}

// NewQueuedManager builds a manager whose Index queues up to maxQueueSize
// operations and applies them in batches on a background worker.
func NewQueuedManager(name string, cfg Configuration, maxQueueSize int) (*Manager, error) {
	cfg.Name = name
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	engine := NewEngine(cfg)
	direct := NewDirectIndex(engine, cfg.Logger)
	return newManager(cfg, engine, NewQueuedIndex(direct, maxQueueSize, cfg)), nil
}

// NewSimpleManager builds a manager whose Index applies operations on the
// caller's goroutine.
func NewSimpleManager(cfg Configuration) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	engine := NewEngine(cfg)
	return newManager(cfg, engine, NewDirectIndex(engine, cfg.Logger)), nil
}

func newManager(cfg Configuration, engine *Engine, idx Index) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		name:   cfg.Name,
		engine: engine,
		index:  idx,
		logger: logger.With("component", "index-manager", "index", cfg.Name),
	}
}

func (c Configuration) validate() error {
	if c.Directory == nil {
		return fmt.Errorf("index %q: directory is required", c.Name)
	}
	return nil
}

func (m *Manager) Name() string { return m.name }

func (m *Manager) Index() Index { return m.index }

// OpenSearcher returns a snapshot of the committed index. Callers must Close it.
func (m *Manager) OpenSearcher() (*Searcher, error) {
	return m.engine.Searcher()
}

// IsIndexCreated reports whether the directory already holds an index.
func (m *Manager) IsIndexCreated() (bool, error) {
	return m.engine.Directory().Exists()
}

// DeleteIndexDirectory removes all index data. Operations submitted afterwards
// start a fresh index.
func (m *Manager) DeleteIndexDirectory() error {
	m.logger.Info("deleting index directory", "location", m.engine.Directory().Location())
	return m.engine.Clean()
}

// Close drains queued operations and releases the engine.
func (m *Manager) Close() error {
	if err := m.index.Close(); err != nil {
		return fmt.Errorf("closing index %q: %w", m.name, err)
	}
	m.logger.Info("index closed")
	return nil
}
