// Package fsutil holds small file helpers shared by config and snapshot writers.
package fsutil

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// WriteFileAtomic writes data next to path and renames it into place, so
// readers see either the old file or the complete new one. Parent
// directories are created as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return eris.Wrapf(err, "resolve %s", path)
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create %s", dir)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".tmp-")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	tmp := f.Name()

	done := false
	defer func() {
		if !done {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return eris.Wrap(err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		return eris.Wrap(err, "sync temp file")
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)
		done = true
		return eris.Wrap(err, "chmod temp file")
	}
	if err := os.Rename(tmp, abs); err != nil {
		_ = os.Remove(tmp)
		done = true
		return eris.Wrapf(err, "rename into %s", abs)
	}

	done = true
	return nil
}
