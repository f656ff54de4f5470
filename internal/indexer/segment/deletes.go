package segment

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

const DeletesExtension = ".del"

// DeletesName returns the deletion file name for a segment at a commit
// generation. Each commit that changes a segment's deletions writes a new
// file so older commits stay readable.
func DeletesName(segment string, generation uint64) string {
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(segment, Extension), generation, DeletesExtension)
}

// WriteDeletes stores a deletion bitmap via a temp file and rename.
func WriteDeletes(dir, name string, deleted *roaring.Bitmap) error {
	deleted.RunOptimize()
	var buf bytes.Buffer
	if _, err := deleted.WriteTo(&buf); err != nil {
		return fmt.Errorf("encoding deletions: %w", err)
	}
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating deletions file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing deletions file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing deletions file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing deletions file: %w", err)
	}
	return os.Rename(tmp, path)
}

func ReadDeletes(path string) (*roaring.Bitmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deletions file: %w", err)
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("decoding deletions file %s: %w", filepath.Base(path), err)
	}
	return bm, nil
}
