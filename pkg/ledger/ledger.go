// Package ledger keeps the per-partition record of fingerprints that have already
// been archived into a partition directory.
//
// The ledger file holds one lowercase hex fingerprint per line. It is only ever
// appended to, and an entry is appended only after the archived file is present.
package ledger

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	"github.com/sirupsen/logrus"

	"github.com/onepicture/onepicture/pkg/fingerprint"
	"github.com/onepicture/onepicture/pkg/logger"
)

const (
	// FileName is the ledger file inside every partition directory.
	FileName = ".processed_files.hash"
	// LockName guards a partition against concurrent writers.
	LockName = ".processed_files.lock"
)

// CorruptionError is returned when a ledger line is not a fingerprint.
type CorruptionError struct {
	Path    string
	Line    int
	Content string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("ledger %q corrupt at line %d: %q", e.Path, e.Line, e.Content)
}

type Ledger struct {
	dir     string
	path    string
	lock    *lockFile
	entries *strset.Set
	file    *os.File
	log     *logrus.Entry
	mu      sync.Mutex

	// the last line on disk has no trailing newline
	needsNewline bool

	// offset of an incomplete trailing entry to cut before the next append, or -1
	truncateAt int64
}

/* Public */

// Open locks the partition in dir and loads its ledger. The directory must exist.
// A missing ledger file is an empty ledger; the file is created on the first Record.
func Open(dir string) (*Ledger, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "stat partition %q", dir)
	} else if !st.IsDir() {
		return nil, errors.Errorf("partition is not a directory: %q", dir)
	}

	lock, err := acquire(filepath.Join(dir, LockName))
	if err != nil {
		return nil, errors.Wrapf(err, "lock partition %q", dir)
	}

	l := &Ledger{
		dir:  dir,
		path: filepath.Join(dir, FileName),
		lock: lock,
		log:  logger.GetLogger("ledger").WithField("partition", filepath.Base(dir)),
	}

	state, err := read(l.path, l.log)
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	l.entries = state.entries
	l.needsNewline = state.needsNewline
	l.truncateAt = state.truncateAt
	l.log.Debugf("Loaded %d ledger entries", l.entries.Size())
	return l, nil
}

// Peek reads the ledger in dir without locking it. A missing directory or ledger
// file yields an empty set.
func Peek(dir string) (*strset.Set, error) {
	st, err := read(filepath.Join(dir, FileName), logger.GetLogger("ledger"))
	if err != nil {
		return nil, err
	}
	return st.entries, nil
}

// Dir is the partition directory guarded by this ledger.
func (l *Ledger) Dir() string {
	return l.dir
}

func (l *Ledger) Has(fp string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Has(fp)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Size()
}

// Record durably appends fp. Recording a fingerprint that is already present is a no-op.
func (l *Ledger) Record(fp string) error {
	if !fingerprint.Valid(fp) {
		return errors.Errorf("refusing to record invalid fingerprint %q", fp)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.entries.Has(fp) {
		return nil
	}

	if l.file == nil {
		if l.truncateAt >= 0 {
			if err := os.Truncate(l.path, l.truncateAt); err != nil {
				return errors.Wrapf(err, "cut incomplete entry from ledger %q", l.path)
			}
			l.truncateAt = -1
		}

		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrapf(err, "open ledger %q for append", l.path)
		}
		l.file = f
	}

	line := fp + "\n"
	if l.needsNewline {
		line = "\n" + line
	}

	if _, err := l.file.WriteString(line); err != nil {
		return errors.Wrapf(err, "append ledger %q", l.path)
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrapf(err, "sync ledger %q", l.path)
	}

	l.needsNewline = false
	l.entries.Add(fp)
	l.log.Tracef("Recorded %s", fp)
	return nil
}

// Close releases the partition lock.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var closeErr error
	if l.file != nil {
		closeErr = l.file.Close()
		l.file = nil
	}

	if l.lock != nil {
		if err := l.lock.release(); err != nil && closeErr == nil {
			closeErr = err
		}
		l.lock = nil
	}

	return closeErr
}

/* Private */

type loadState struct {
	entries      *strset.Set
	needsNewline bool
	truncateAt   int64
}

func read(path string, log *logrus.Entry) (*loadState, error) {
	st := &loadState{entries: strset.New(), truncateAt: -1}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, errors.Wrapf(err, "read ledger %q", path)
	}

	if len(data) == 0 {
		return st, nil
	}

	torn := data[len(data)-1] != '\n'

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := string(bytes.TrimSpace(scanner.Bytes()))
		if line == "" {
			continue
		}

		if fingerprint.Valid(line) {
			st.entries.Add(line)
			continue
		}

		// an interrupted append leaves a short hex tail without a newline
		if torn && !scanner.Scan() && isHexPrefix(line) {
			log.Warnf("Ignoring incomplete trailing ledger entry at line %d: %q", lineNo, line)
			st.truncateAt = int64(bytes.LastIndexByte(data, '\n') + 1)
			return st, nil
		}

		return nil, &CorruptionError{Path: path, Line: lineNo, Content: line}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan ledger %q", path)
	}

	st.needsNewline = torn
	return st, nil
}

func isHexPrefix(s string) bool {
	if len(s) >= fingerprint.Size {
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
