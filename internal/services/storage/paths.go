package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Category directories under each date.
const (
	DirDefects   = "defects"
	DirNoDefects = "no_defects"
)

// PathFor returns <root>/<YYYY>/<MM>/<DD>/{defects|no_defects}/<imageID>.<ext>
// using the UTC date of ts.
func PathFor(root string, ts time.Time, defect bool, imageID, ext string) string {
	utc := ts.UTC()
	category := DirNoDefects
	if defect {
		category = DirDefects
	}
	return filepath.Join(root,
		fmt.Sprintf("%04d", utc.Year()),
		fmt.Sprintf("%02d", int(utc.Month())),
		fmt.Sprintf("%02d", utc.Day()),
		category,
		imageID+"."+ext,
	)
}

// ImageWriter stores encoded image bytes at a path.
type ImageWriter interface {
	WriteImage(path string, data []byte) error
}

// FileWriter writes through a temporary file in the target directory, syncs
// it and renames it into place, so a path either holds the whole image or
// does not exist.
type FileWriter struct{}

func (FileWriter) WriteImage(path string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image data")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
