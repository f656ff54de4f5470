package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	total       atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
	latencies   []time.Duration
	latenciesMu sync.Mutex
	errorsMu    sync.Mutex
	errors      map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		errors:    make(map[string]int64),
	}
}

// Record notes one awaited operation.
func (s *Stats) Record(latency time.Duration, err error) {
	s.total.Add(1)
	if err != nil {
		s.failed.Add(1)
		s.errorsMu.Lock()
		s.errors[err.Error()]++
		s.errorsMu.Unlock()
		return
	}
	s.succeeded.Add(1)
	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, latency)
	s.latenciesMu.Unlock()
}

func (s *Stats) Print(w io.Writer, elapsed time.Duration) {
	total := s.total.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Operations:   %d\n", total)
	fmt.Fprintf(w, "Succeeded:    %d\n", s.succeeded.Load())
	fmt.Fprintf(w, "Failed:       %d\n", s.failed.Load())
	if total > 0 {
		fmt.Fprintf(w, "Ops/sec:      %.2f\n", float64(total)/elapsed.Seconds())
	}

	s.latenciesMu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	s.latenciesMu.Unlock()
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l) - float64(avg)
			sumSquared += diff * diff
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Await latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
		fmt.Fprintf(w, "StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	s.errorsMu.Lock()
	defer s.errorsMu.Unlock()
	if len(s.errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Errors ===")
		msgs := make([]string, 0, len(s.errors))
		for msg := range s.errors {
			msgs = append(msgs, msg)
		}
		sort.Strings(msgs)
		for _, msg := range msgs {
			fmt.Fprintf(w, "  %6d  %s\n", s.errors[msg], msg)
		}
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
