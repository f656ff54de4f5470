package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
)

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestStatsPrint(t *testing.T) {
	s := NewStats()
	s.Record(time.Millisecond, nil)
	s.Record(3*time.Millisecond, nil)
	s.Record(0, errors.New("queue closed"))

	var buf bytes.Buffer
	s.Print(&buf, time.Second)
	out := buf.String()
	assert.Contains(t, out, "Operations:   3")
	assert.Contains(t, out, "Failed:       1")
	assert.Contains(t, out, "Avg:    2ms")
	assert.Contains(t, out, "queue closed")
}

func TestRunQueuedAndDirect(t *testing.T) {
	for _, queued := range []bool{true, false} {
		cfg := Config{
			Index: config.IndexConfig{
				DataDir:      t.TempDir(),
				Backend:      "segment",
				IDField:      "id",
				TextFields:   []string{"body"},
				FlushPolicy:  "flush",
				MaxQueueSize: 64,
				IdleTimeout:  time.Second,
			},
			Writers:  4,
			Duration: 200 * time.Millisecond,
			KeySpace: 50,
			Mode:     index.Interactive,
			Queued:   queued,
		}
		stats, docs, err := run(context.Background(), cfg)
		require.NoError(t, err)
		assert.Positive(t, stats.succeeded.Load())
		assert.Zero(t, stats.failed.Load())
		assert.LessOrEqual(t, docs, cfg.KeySpace)
	}
}
