// Package fingerprint computes the content identity used for deduplication.
//
// Only a bounded prefix and suffix window of each file is hashed. Two distinct files
// that share identical head and tail bytes are reported as duplicates; this is an
// accepted tradeoff for reading at most two windows per file.
package fingerprint

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// Size is the length of a fingerprint in hex characters.
const Size = 64

// ErrUnreadable is wrapped by every error caused by a file that cannot be opened or read.
var ErrUnreadable = errors.New("unreadable")

// File fingerprints the file at path.
func File(path string, window int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(unreadable(err), "open %q", path)
	}
	defer f.Close()

	fp, err := Reader(f, window)
	if err != nil {
		return "", errors.Wrapf(err, "fingerprint %q", path)
	}

	return fp, nil
}

// Reader fingerprints r: the first window bytes, followed by the last window bytes
// when the stream is longer than one window.
func Reader(r io.ReadSeeker, window int64) (string, error) {
	if window <= 0 {
		return "", errors.Errorf("invalid window size: %d", window)
	}

	h := blake3.New()

	head, err := io.Copy(h, io.LimitReader(r, window))
	if err != nil {
		return "", unreadable(err)
	}

	if head == window {
		// a short stream makes the seek fail, which degrades to prefix only
		if _, err := r.Seek(-window, io.SeekEnd); err == nil {
			if _, err := io.Copy(h, io.LimitReader(r, window)); err != nil {
				return "", unreadable(err)
			}
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Valid reports whether s looks like a fingerprint produced by this package.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}

	return true
}

type unreadableError struct {
	cause error
}

func (e *unreadableError) Error() string { return e.cause.Error() }

func (e *unreadableError) Is(target error) bool { return target == ErrUnreadable }

func (e *unreadableError) Unwrap() error { return e.cause }

func unreadable(err error) error {
	return &unreadableError{cause: err}
}
