package fs

import (
	"os"
	"path/filepath"

	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// WriteFileAtomic writes data to a temp file beside path and renames it
// into place, so a crash or concurrent reader never observes a torn file.
func WriteFileAtomic(path turbopath.AbsoluteSystemPath, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path.ToString())
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return err
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
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path.ToString())
}

// SystemPathExists reports whether path names an existing file or directory.
func SystemPathExists(path turbopath.AbsoluteSystemPath) bool {
	_, err := os.Stat(path.ToString())
	return err == nil
}

// ReadSystemFile reads the full contents of path.
func ReadSystemFile(path turbopath.AbsoluteSystemPath) ([]byte, error) {
	return os.ReadFile(path.ToString())
}

// MkdirAllSystem ensures path and all parents exist.
func MkdirAllSystem(path turbopath.AbsoluteSystemPath) error {
	return os.MkdirAll(path.ToString(), 0o775)
}
