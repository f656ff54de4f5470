// Command indexbench drives concurrent writers against a local index and
// reports throughput and await latency. It compares the queued manager,
// which batches concurrent writes into one writer session, with direct
// per-operation writes.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/index"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
)

var words = strings.Fields(`distributed systems search engine indexing documents
query processing cache optimization ranking algorithm shard routing circuit
breaker load balancing full text inverted index token stemming queue batch
writer commit merge segment snapshot`)

type Config struct {
	Index    config.IndexConfig
	Writers  int
	Duration time.Duration
	KeySpace int
	Mode     index.UpdateMode
	Queued   bool
}

func main() {
	dir := flag.String("dir", "", "index directory (default: a temporary directory)")
	backend := flag.String("backend", indexer.BackendSegment, "index backend: segment or bleve")
	flush := flag.String("flush", "flush", "flush policy: none, flush or close")
	writers := flag.Int("writers", 16, "number of concurrent writers")
	duration := flag.Duration("duration", 10*time.Second, "benchmark duration")
	keys := flag.Int("keys", 10000, "number of distinct document ids")
	mode := flag.String("mode", "interactive", "update mode: interactive or batch")
	queued := flag.Bool("queued", true, "use the queued manager instead of direct writes")
	queueSize := flag.Int("queue-size", 1000, "queued manager capacity")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger.Setup(*logLevel, "text")
	updateMode, err := index.ParseUpdateMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *dir == "" {
		tmp, err := os.MkdirTemp("", "indexbench-")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		*dir = tmp
	}

	cfg := Config{
		Index: config.IndexConfig{
			DataDir:      *dir,
			Backend:      *backend,
			Analyzer:     "standard",
			IDField:      "id",
			TextFields:   []string{"body"},
			FlushPolicy:  *flush,
			MaxQueueSize: *queueSize,
			IdleTimeout:  time.Second,
		},
		Writers:  *writers,
		Duration: *duration,
		KeySpace: *keys,
		Mode:     updateMode,
		Queued:   *queued,
	}

	fmt.Println("=== Index Write Benchmark ===")
	fmt.Printf("Directory:   %s\n", cfg.Index.DataDir)
	fmt.Printf("Backend:     %s\n", cfg.Index.Backend)
	fmt.Printf("Flush:       %s\n", cfg.Index.FlushPolicy)
	fmt.Printf("Writers:     %d\n", cfg.Writers)
	fmt.Printf("Mode:        %s\n", cfg.Mode)
	fmt.Printf("Queued:      %t\n", cfg.Queued)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	stats, docs, err := run(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
		os.Exit(1)
	}
	stats.Print(os.Stdout, cfg.Duration)
	fmt.Printf("\nLive documents after run: %d\n", docs)
}

func run(ctx context.Context, cfg Config) (*Stats, int, error) {
	policy, err := index.ParseFlushPolicy(cfg.Index.FlushPolicy)
	if err != nil {
		return nil, 0, err
	}
	dir, _, err := indexer.OpenDirectory(cfg.Index, cfg.Index.DataDir, nil)
	if err != nil {
		return nil, 0, err
	}
	icfg := index.Configuration{
		Name:        "bench",
		Directory:   dir,
		FlushPolicy: policy,
		Profiles:    indexer.Profiles(cfg.Index),
		IdleTimeout: cfg.Index.IdleTimeout,
	}
	var mgr *index.Manager
	if cfg.Queued {
		mgr, err = index.NewQueuedManager("bench", icfg, cfg.Index.MaxQueueSize)
	} else {
		mgr, err = index.NewSimpleManager(icfg)
	}
	if err != nil {
		return nil, 0, err
	}
	defer mgr.Close()

	schema := indexer.NewSchema(cfg.Index)
	stats := NewStats()
	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < cfg.Writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), uint64(time.Now().UnixNano())))
			for version := int64(1); runCtx.Err() == nil; version++ {
				id := fmt.Sprintf("doc-%d", rng.IntN(cfg.KeySpace))
				op := nextOperation(rng, schema, id, version, cfg.Mode)
				start := time.Now()
				res := mgr.Index().Perform(ctx, op)
				stats.Record(time.Since(start), res.Await(ctx))
			}
		}()
	}
	wg.Wait()

	s, err := mgr.OpenSearcher()
	if err != nil {
		return stats, 0, err
	}
	defer s.Close()
	return stats, s.NumDocs(), nil
}

// nextOperation mixes updates with occasional deletes.
func nextOperation(rng *rand.Rand, schema indexer.Schema, id string, version int64, mode index.UpdateMode) index.Operation {
	if rng.IntN(10) == 0 {
		return index.Delete(schema.Key(id), mode)
	}
	body := make([]string, 20)
	for i := range body {
		body[i] = words[rng.IntN(len(words))]
	}
	doc := schema.Document(id, version, map[string]string{"body": strings.Join(body, " ")})
	return index.Update(schema.Key(id), mode, doc)
}
