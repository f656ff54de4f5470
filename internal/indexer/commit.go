package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	commitPrefix = "commit_"
	commitSuffix = ".json"
	keepCommits  = 2
)

// commitPoint lists the segments, and their deletion files, that make up one
// committed generation of the index.
type commitPoint struct {
	Generation uint64       `json:"generation"`
	Segments   []segmentRef `json:"segments"`
}

type segmentRef struct {
	Name     string `json:"name"`
	Deletes  string `json:"deletes,omitempty"`
	DocCount uint32 `json:"doc_count"`
}

func commitName(gen uint64) string {
	return fmt.Sprintf("%s%d%s", commitPrefix, gen, commitSuffix)
}

func parseCommitName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, commitPrefix) || !strings.HasSuffix(name, commitSuffix) {
		return 0, false
	}
	gen, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, commitPrefix), commitSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// listCommits returns the generations present in dir, newest first.
func listCommits(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing index directory: %w", err)
	}
	var gens []uint64
	for _, e := range entries {
		if gen, ok := parseCommitName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] > gens[j] })
	return gens, nil
}

// latestCommit returns the newest commit point, or nil if dir holds none.
func latestCommit(dir string) (*commitPoint, error) {
	gens, err := listCommits(dir)
	if err != nil || len(gens) == 0 {
		return nil, err
	}
	return readCommit(dir, gens[0])
}

func readCommit(dir string, gen uint64) (*commitPoint, error) {
	data, err := os.ReadFile(filepath.Join(dir, commitName(gen)))
	if err != nil {
		return nil, fmt.Errorf("reading commit %d: %w", gen, err)
	}
	var cp commitPoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parsing commit %d: %w", gen, err)
	}
	return &cp, nil
}

func writeCommit(dir string, cp *commitPoint) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling commit: %w", err)
	}
	path := filepath.Join(dir, commitName(cp.Generation))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating commit file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing commit file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing commit file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing commit file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publishing commit %d: %w", cp.Generation, err)
	}
	return nil
}
