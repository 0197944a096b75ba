//go:build !unix

package ledger

import (
	"os"

	"github.com/pkg/errors"
)

// ErrLocked is returned when another writer holds the partition.
var ErrLocked = errors.New("partition is locked by another writer")

// lockFile falls back to an exclusively created marker file. A crashed run leaves
// the marker behind and it has to be removed by hand.
type lockFile struct {
	path string
}

func acquire(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, errors.Wrapf(err, "create lock file %q", path)
	}

	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "close lock file %q", path)
	}

	return &lockFile{path: path}, nil
}

func (l *lockFile) release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove lock file %q", l.path)
	}

	return nil
}
