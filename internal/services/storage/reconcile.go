package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Orphans is the result of comparing the image tree with the record store.
type Orphans struct {
	Scanned int      // image files found under the root
	Files   []string // image files without a record
	Temp    []string // leftover ".tmp-" files from interrupted writes
	Missing []string // record paths with no file on disk
	Recent  []string // unrecorded files younger than minAge, left alone
}

// FindOrphans walks root and compares every file against the image paths
// known to the record store. Unrecorded files modified within minAge may
// still be waiting for their record insert; they are listed in Recent and
// never reported as orphans.
func FindOrphans(ctx context.Context, root string, known []string, minAge time.Duration) (*Orphans, error) {
	index := make(map[string]bool, len(known))
	for _, p := range known {
		index[absPath(p)] = false
	}

	cutoff := time.Now().Add(-minAge)
	out := &Orphans{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		temp := strings.HasPrefix(d.Name(), ".tmp-")
		if !temp {
			out.Scanned++
			abs := absPath(path)
			if _, ok := index[abs]; ok {
				index[abs] = true
				return nil
			}
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		switch {
		case info.ModTime().After(cutoff):
			out.Recent = append(out.Recent, path)
		case temp:
			out.Temp = append(out.Temp, path)
		default:
			out.Files = append(out.Files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for p, seen := range index {
		if !seen {
			out.Missing = append(out.Missing, p)
		}
	}
	sort.Strings(out.Missing)
	return out, nil
}

// RemoveOrphans deletes the orphaned and temporary files and returns how many
// were removed. Recent files are kept.
func RemoveOrphans(o *Orphans) (int, error) {
	removed := 0
	for _, p := range append(append([]string{}, o.Files...), o.Temp...) {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
