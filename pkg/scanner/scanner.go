// Package scanner enumerates a source tree and fingerprints every candidate file.
package scanner

import (
	"context"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/dlclark/regexp2"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/onepicture/onepicture/pkg/config"
	"github.com/onepicture/onepicture/pkg/expression"
	"github.com/onepicture/onepicture/pkg/fingerprint"
	"github.com/onepicture/onepicture/pkg/media"
	"github.com/onepicture/onepicture/pkg/metadata"
	"github.com/onepicture/onepicture/pkg/paths"
)

const progressEvery = 1000

// ErrNoOutcome marks a file whose worker never reported back.
var ErrNoOutcome = errors.New("no scan outcome recorded")

type Scanner struct {
	cfg      config.ScanConfiguration
	exprs    []expression.CompiledExpression
	patterns []*regexp2.Regexp
	skipDirs []string
	log      *logrus.Entry
}

// Result holds the outcome of every enumerated file, ordered by Seq.
type Result struct {
	Records  []media.FileRecord
	Failures []media.ScanFailure
	// Ignored counts files excluded by noise names, filters or media sniffing.
	Ignored int
}

// Scanned is the number of candidate files that produced a record or a failure.
func (r *Result) Scanned() int {
	return len(r.Records) + len(r.Failures)
}

type outcome struct {
	record  *media.FileRecord
	failure *media.ScanFailure
	ignored bool
}

func New(cfg config.ScanConfiguration, filter config.FilterConfiguration, log *logrus.Entry) (*Scanner, error) {
	exprs, err := expression.Compile(filter.Ignore)
	if err != nil {
		return nil, errors.Wrap(err, "compile ignore expressions")
	}

	patterns, err := paths.CompilePatterns(filter.IgnorePatterns)
	if err != nil {
		return nil, errors.Wrap(err, "compile ignore patterns")
	}

	if !filter.Empty() {
		log.Debugf("Loaded %d ignore expressions and %d ignore patterns", len(exprs), len(patterns))
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.WindowBytes <= 0 {
		cfg.WindowBytes = config.DefaultWindowBytes
	}

	return &Scanner{
		cfg:      cfg,
		exprs:    exprs,
		patterns: patterns,
		log:      log,
	}, nil
}

// SkipDirs excludes folders below the scan root, such as our own output folders
// when they live inside the source.
func (s *Scanner) SkipDirs(dirs ...string) {
	s.skipDirs = append(s.skipDirs, dirs...)
}

// Scan walks root and fingerprints every candidate on a bounded worker pool.
// Candidates are numbered in path order before any hashing starts, so Seq does not
// depend on walk or completion order. Every candidate yields exactly one record,
// failure or ignore; a cancelled context turns the remaining files into failures.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	var ignored atomic.Int64

	candidates, walkFailures, err := paths.InFolder(root, s.cfg.FollowSymlinks, s.skipDirs, func(p paths.Path) bool {
		if s.ignore(p) {
			ignored.Add(1)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("Found %d candidate files under %q (%d ignored, %d unreadable entries)",
		len(candidates), root, ignored.Load(), len(walkFailures))

	pool, err := ants.NewPool(s.cfg.Workers)
	if err != nil {
		return nil, errors.Wrap(err, "create worker pool")
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		processed atomic.Int64
		outcomes  = xsync.NewMapOf[int, outcome]()
	)

	for seq, candidate := range candidates {
		if ctx.Err() != nil {
			outcomes.Store(seq, failed(seq, candidate.Path, ctx.Err()))
			continue
		}

		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()

			outcomes.Store(seq, s.process(ctx, seq, candidate))
			if n := processed.Add(1); n%progressEvery == 0 {
				s.log.Debugf("Fingerprinted %d / %d files", n, len(candidates))
			}
		}); err != nil {
			wg.Done()
			outcomes.Store(seq, failed(seq, candidate.Path, errors.Wrap(err, "submit to worker pool")))
		}
	}

	wg.Wait()

	res := &Result{}
	for _, f := range walkFailures {
		res.Failures = append(res.Failures, media.ScanFailure{Seq: -1, Path: f.Path, Cause: f.Err})
	}

	for seq, candidate := range candidates {
		o, ok := outcomes.Load(seq)
		switch {
		case !ok:
			res.Failures = append(res.Failures, media.ScanFailure{Seq: seq, Path: candidate.Path, Cause: ErrNoOutcome})
		case o.ignored:
			ignored.Add(1)
		case o.failure != nil:
			res.Failures = append(res.Failures, *o.failure)
		default:
			res.Records = append(res.Records, *o.record)
		}
	}

	res.Ignored = int(ignored.Load())

	for _, f := range res.Failures {
		s.log.WithError(f.Cause).Warnf("Failed scanning: %q", f.Path)
	}

	return res, nil
}

/* Private */

func (s *Scanner) ignore(p paths.Path) bool {
	if IsNoise(p.FileName) {
		s.log.Tracef("Skipping noise file: %q", p.Path)
		return true
	}

	if paths.IsIgnored(p.Path, s.patterns) {
		s.log.Debugf("File matches an ignore pattern, skipping: %q", p.Path)
		return true
	}

	if len(s.exprs) > 0 {
		match, reason, err := expression.CheckFileSingleMatchWithReason(
			expression.NewFile(p.Path, p.Size, p.ModifiedTime), s.exprs)
		if err != nil {
			s.log.WithError(err).Warnf("Failed evaluating ignore expressions, keeping: %q", p.Path)
			return false
		}
		if match {
			s.log.Debugf("File matches ignore expression %q, skipping: %q", reason, p.Path)
			return true
		}
	}

	return false
}

func (s *Scanner) process(ctx context.Context, seq int, p paths.Path) outcome {
	if err := ctx.Err(); err != nil {
		return failed(seq, p.Path, err)
	}

	// re-stat, the file may have changed or vanished since the walk
	info, err := os.Stat(p.Path)
	if err != nil {
		return failed(seq, p.Path, errors.Wrap(err, "stat"))
	} else if !info.Mode().IsRegular() {
		return failed(seq, p.Path, errors.New("no longer a regular file"))
	}

	if s.cfg.MediaOnly {
		ok, err := metadata.IsMedia(p.Path)
		if err != nil {
			return failed(seq, p.Path, err)
		}
		if !ok {
			s.log.Debugf("Not an image or video, skipping: %q", p.Path)
			return outcome{ignored: true}
		}
	}

	fp, err := fingerprint.File(p.Path, s.cfg.WindowBytes)
	if err != nil {
		return failed(seq, p.Path, err)
	}

	record := &media.FileRecord{
		Seq:         seq,
		Name:        info.Name(),
		SourcePath:  p.Path,
		Size:        info.Size(),
		ModifiedAt:  info.ModTime(),
		Fingerprint: fp,
	}

	if s.cfg.UseExifDate {
		if t, err := metadata.CaptureTime(p.Path); err == nil {
			record.CapturedAt = t
		} else {
			s.log.Tracef("No capture time, using modification time: %q", p.Path)
		}
	}

	return outcome{record: record}
}

func failed(seq int, path string, err error) outcome {
	return outcome{failure: &media.ScanFailure{Seq: seq, Path: path, Cause: err}}
}
