//go:build unix

package ledger

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another writer holds the partition.
var ErrLocked = errors.New("partition is locked by another writer")

type lockFile struct {
	f *os.File
}

// acquire takes a non-blocking exclusive flock on path. Locks are held per open
// file description, so a second Open of the same partition fails even in-process.
func acquire(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %q", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, errors.Wrapf(err, "flock %q", path)
	}

	return &lockFile{f: f}, nil
}

func (l *lockFile) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		_ = l.f.Close()
		return errors.Wrap(err, "unlock")
	}

	return l.f.Close()
}
