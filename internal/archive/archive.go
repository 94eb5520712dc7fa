// Package archive packs task outputs into a deterministic tar.zst blob
// and restores them on a cache hit, hydrating each file through an
// atomic temp-file-then-rename so a reader never observes a partial
// write.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/DataDog/zstd"
	"github.com/moby/sys/sequential"

	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// MissingOutputsError is returned by Hydrate when, after materializing an
// archive, a declared output still does not exist on disk.
type MissingOutputsError struct {
	Paths []string
}

func (e *MissingOutputsError) Error() string {
	return fmt.Sprintf("missing outputs after hydration: %v", e.Paths)
}

// Create streams every path in outputs (resolved workspace-relative file
// paths, already glob-expanded by the caller) into a deterministic tar
// (entries sorted by path) zstd-compressed at level 1, written to dest.
// An empty outputs set is a no-op.
func Create(root turbopath.AbsoluteSystemPath, outputs []string, dest turbopath.AbsoluteSystemPath) error {
	if len(outputs) == 0 {
		return nil
	}
	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)

	if err := os.MkdirAll(filepath.Dir(dest.ToString()), 0o775); err != nil {
		return err
	}
	f, err := os.Create(dest.ToString())
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zstd.NewWriterLevel(f, 1)
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	for _, rel := range sorted {
		abs := root.UntypedJoin(rel)
		if err := addToTar(tw, abs.ToString(), rel); err != nil {
			return fmt.Errorf("archiving %s: %w", rel, err)
		}
	}
	return nil
}

func addToTar(tw *tar.Writer, absPath, relPath string) error {
	info, err := os.Lstat(absPath)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(relPath)

	if info.Mode()&os.ModeSymlink != 0 {
		link, err := os.Readlink(absPath)
		if err != nil {
			return err
		}
		hdr.Linkname = link
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	// sequential.OpenFile hints the Windows backend to skip its read-ahead
	// cache for what is always a single forward streaming read into the tar
	// writer; it is a plain os.OpenFile passthrough on other platforms.
	f, err := sequential.OpenFile(absPath, os.O_RDONLY, 0o777)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Hydrate extracts archivePath into root, atomically placing each output
// (stage to a temp path beside the destination, then rename) so a reader
// never observes a partially written file. After extraction, every path
// in expectedOutputs is verified to exist; if any are missing, a
// MissingOutputsError is returned so the caller can treat this as a miss.
func Hydrate(archivePath turbopath.AbsoluteSystemPath, root turbopath.AbsoluteSystemPath, expectedOutputs []string) error {
	f, err := sequential.OpenFile(archivePath.ToString(), os.O_RDONLY, 0o777)
	if err != nil {
		return err
	}
	defer f.Close()

	zr := zstd.NewReader(f)
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		dest := root.UntypedJoin(hdr.Name)
		if err := extractEntry(tr, hdr, dest); err != nil {
			return fmt.Errorf("hydrating %s: %w", hdr.Name, err)
		}
	}

	var missing []string
	for _, rel := range expectedOutputs {
		if _, err := os.Lstat(root.UntypedJoin(rel).ToString()); err != nil {
			missing = append(missing, rel)
		}
	}
	if len(missing) > 0 {
		return &MissingOutputsError{Paths: missing}
	}
	return nil
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, dest turbopath.AbsoluteSystemPath) error {
	destDir := filepath.Dir(dest.ToString())
	if err := os.MkdirAll(destDir, 0o775); err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest.ToString(), os.FileMode(hdr.Mode))
	case tar.TypeSymlink:
		_ = os.Remove(dest.ToString())
		return os.Symlink(hdr.Linkname, dest.ToString())
	case tar.TypeReg:
		tmp, err := os.CreateTemp(destDir, ".tmp-*")
		if err != nil {
			return err
		}
		if _, err := io.Copy(tmp, tr); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Chmod(os.FileMode(hdr.Mode)); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return err
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return err
		}
		return os.Rename(tmp.Name(), dest.ToString())
	default:
		return nil
	}
}
