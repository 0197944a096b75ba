package archiver

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/onepicture/onepicture/pkg/fingerprint"
	"github.com/onepicture/onepicture/pkg/media"
	"github.com/onepicture/onepicture/pkg/scanner"
)

// partitionIndex finds content already present in a partition under another name.
// The directory is listed on the first lookup and only files of a matching size
// are fingerprinted, each at most once.
type partitionIndex struct {
	dir    string
	window int64
	log    *logrus.Entry

	bySize       map[int64][]string
	fingerprints map[string]string
}

func newPartitionIndex(dir string, window int64, log *logrus.Entry) *partitionIndex {
	return &partitionIndex{
		dir:    dir,
		window: window,
		log:    log,
	}
}

// find returns the path of an existing file with the fingerprint of r, or "".
func (p *partitionIndex) find(r media.FileRecord) (string, error) {
	if p.bySize == nil {
		if err := p.load(); err != nil {
			return "", err
		}
	}

	for _, path := range p.bySize[r.Size] {
		fp, ok := p.fingerprints[path]
		if !ok {
			var err error
			if fp, err = fingerprint.File(path, p.window); err != nil {
				p.log.WithError(err).Warnf("Failed fingerprinting archived file: %q", path)
			}
			p.fingerprints[path] = fp
		}

		if fp == r.Fingerprint {
			return path, nil
		}
	}

	return "", nil
}

func (p *partitionIndex) load() error {
	p.bySize = make(map[int64][]string)
	p.fingerprints = make(map[string]string)

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "list partition %q", p.dir)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || scanner.IsNoise(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			p.log.WithError(err).Warnf("Failed to get file info for %q", e.Name())
			continue
		}

		p.bySize[info.Size()] = append(p.bySize[info.Size()], filepath.Join(p.dir, e.Name()))
	}

	p.log.Tracef("Indexed %d existing files", len(entries))
	return nil
}
