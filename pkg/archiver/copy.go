package archiver

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/onepicture/onepicture/pkg/paths"
)

// errDestinationExists is returned by copyFile when dst appeared before the copy
// could be linked into place.
var errDestinationExists = errors.New("destination already exists")

// copyFile copies src to dst through a temporary file in the directory of dst.
// The temporary file is synced, checked against the source size and given the
// source mode and modification time before it is moved to dst. An existing dst is
// never replaced. Returns the number of bytes copied.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.Wrapf(err, "open source %q", src)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat source %q", src)
	} else if !info.Mode().IsRegular() {
		return 0, errors.Errorf("source is not a regular file: %q", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), paths.TempPrefix+"*")
	if err != nil {
		return 0, errors.Wrapf(err, "create temporary file for %q", dst)
	}
	tmpName := tmp.Name()

	committed := false
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, in)
	if err != nil {
		return 0, errors.Wrapf(err, "copy %q to %q", src, tmpName)
	} else if n != info.Size() {
		return 0, errors.Errorf("short copy of %q: wrote %d of %d bytes", src, n, info.Size())
	}

	if err := tmp.Sync(); err != nil {
		return 0, errors.Wrapf(err, "sync %q", tmpName)
	}

	closed = true
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrapf(err, "close %q", tmpName)
	}

	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		return 0, errors.Wrapf(err, "chmod %q", tmpName)
	}
	if err := os.Chtimes(tmpName, info.ModTime(), info.ModTime()); err != nil {
		return 0, errors.Wrapf(err, "set times on %q", tmpName)
	}

	if err := place(tmpName, dst); err != nil {
		return 0, err
	}

	committed = true
	return n, nil
}

// place moves tmp to dst without replacing an existing dst. A hard link fails
// atomically when dst exists; filesystems without hard links fall back to a
// checked rename.
func place(tmp, dst string) error {
	err := os.Link(tmp, dst)
	switch {
	case err == nil:
		// leftover temporary files are noise to the scanner
		_ = os.Remove(tmp)
		return nil
	case os.IsExist(err):
		return errors.Wrapf(errDestinationExists, "place %q", dst)
	}

	exists, err := paths.Exists(dst)
	if err != nil {
		return errors.Wrapf(err, "check destination %q", dst)
	} else if exists {
		return errors.Wrapf(errDestinationExists, "place %q", dst)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return errors.Wrapf(err, "rename %q to %q", tmp, dst)
	}

	return nil
}
