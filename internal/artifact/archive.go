// Package artifact packages a worker's browser profile directory and uploads
// it to blob storage, so a replacement host can resume with warm cookies.
package artifact

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// lockFiles are per-process browser files that must not travel with the
// profile; a restored profile containing them refuses to start.
var lockFiles = []string{"SingletonLock", "lockfile", "SingletonSocket", "SingletonCookie"}

// Archive removes browser lock files from profileDir and zips the directory
// into destZip.
func Archive(profileDir, destZip string) error {
	info, err := os.Stat(profileDir)
	if err != nil {
		return fmt.Errorf("stat profile dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("profile path %s is not a directory", profileDir)
	}

	for _, name := range lockFiles {
		if err := os.Remove(filepath.Join(profileDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}

	out, err := os.Create(destZip)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.Walk(profileDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(profileDir, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("add %s to archive: %w", rel, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("write %s to archive: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// objectName returns the blob path for an account's profile archive.
func objectName(prefix, email string) string {
	return strings.TrimRight(prefix, "/") + "/" + email + ".zip"
}
