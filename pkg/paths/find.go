package paths

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/pkg/errors"

	"github.com/onepicture/onepicture/pkg/logger"
)

// TempPrefix marks in-flight copies written next to their final destination.
const TempPrefix = ".onepicture-"

/* Structs */

type Path struct {
	Path         string
	FileName     string
	Directory    string
	Size         int64
	ModifiedTime time.Time
}

// Failure is an entry the walk could not inspect.
type Failure struct {
	Path string
	Err  error
}

/* Types */

// AcceptFn decides whether a regular file is returned by InFolder.
type AcceptFn func(Path) bool

/* Vars */

var (
	log = logger.GetLogger("paths")
)

/* Public */

// InFolder returns every regular file below folder, sorted by path. Directories in
// skipDirs are not descended into. Entries that cannot be read are returned as
// failures and never stop the walk.
func InFolder(folder string, followSymlinks bool, skipDirs []string, acceptFn AcceptFn) ([]Path, []Failure, error) {
	root, err := filepath.Abs(folder)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "resolve %q", folder)
	}

	st, err := os.Stat(root)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "stat %q", root)
	} else if !st.IsDir() {
		return nil, nil, errors.Errorf("not a directory: %q", root)
	}

	skip := make(map[string]bool, len(skipDirs))
	for _, dir := range skipDirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "resolve %q", dir)
		}
		skip[abs] = true
	}

	var (
		mu       sync.Mutex
		found    []Path
		failures []Failure
	)

	fail := func(path string, err error) {
		mu.Lock()
		failures = append(failures, Failure{Path: path, Err: err})
		mu.Unlock()
	}

	conf := fastwalk.Config{Follow: followSymlinks}
	err = fastwalk.Walk(&conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithError(err).Warnf("Failed walking: %q", path)
			fail(path, err)
			return nil
		}

		if d.IsDir() {
			if skip[path] && path != root {
				log.Debugf("Skipping excluded folder: %q", path)
				return fastwalk.SkipDir
			}
			return nil
		}

		info, err := entryInfo(path, d, followSymlinks)
		if err != nil {
			log.WithError(err).Warnf("Failed to get file info for %q", path)
			fail(path, err)
			return nil
		} else if info == nil || !info.Mode().IsRegular() {
			log.Tracef("Skipping non-regular file: %q", path)
			return nil
		}

		p := Path{
			Path:         path,
			FileName:     info.Name(),
			Directory:    filepath.Dir(path),
			Size:         info.Size(),
			ModifiedTime: info.ModTime(),
		}

		if acceptFn != nil && !acceptFn(p) {
			log.Tracef("Skipping rejected path: %q", path)
			return nil
		}

		mu.Lock()
		found = append(found, p)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "walk %q", root)
	}

	// the walk is concurrent, order is restored here
	sort.Slice(found, func(i, j int) bool {
		return found[i].Path < found[j].Path
	})
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Path < failures[j].Path
	})

	return found, failures, nil
}

// Exists reports whether path exists. Errors other than not-exist are returned.
func Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

/* Private */

func entryInfo(path string, d fs.DirEntry, followSymlinks bool) (fs.FileInfo, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		if !followSymlinks {
			return nil, nil
		}
		return os.Stat(path)
	}

	return d.Info()
}
