package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArchiveFiles streams the named files from disk into a zip archive written
// to w. Entries keep their base names. Files that disappear between listing
// and archiving are skipped rather than failing the whole archive.
func ArchiveFiles(w io.Writer, paths []string) error {
	zw := zip.NewWriter(w)
	for _, path := range paths {
		if err := addFile(zw, path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			zw.Close()
			return fmt.Errorf("zip: add %s: %w", filepath.Base(path), err)
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}
