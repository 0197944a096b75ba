// Package pipeline runs scan, classify and archive as one run.
package pipeline

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/onepicture/onepicture/pkg/archiver"
	"github.com/onepicture/onepicture/pkg/classifier"
	"github.com/onepicture/onepicture/pkg/config"
	"github.com/onepicture/onepicture/pkg/logger"
	"github.com/onepicture/onepicture/pkg/media"
	"github.com/onepicture/onepicture/pkg/scanner"
)

// Summary is the externally visible result of a run.
type Summary struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	Scanned        int
	ScanFailures   []media.ScanFailure
	Ignored        int
	SizeMismatches int

	Report *archiver.Report
}

// Clean reports whether every file was handled without failure or collision.
func (s *Summary) Clean() bool {
	return len(s.ScanFailures) == 0 && s.Report.Failed == 0 && s.Report.Collisions == 0
}

func (s *Summary) Log(log *logrus.Entry) {
	s.Report.Log(log)

	log.WithField("duration", s.Duration.Round(time.Millisecond)).
		Infof("Scanned %d files: %d unique archived, %d duplicates quarantined, %d already archived, "+
			"%d scan failures, %d collisions, %d archive failures, %d ignored",
			s.Scanned, s.Report.Archived, s.Report.Quarantined, s.Report.Skipped,
			len(s.ScanFailures), s.Report.Collisions, s.Report.Failed, s.Ignored)
}

// Analyze scans cfg.Source and classifies the result without touching any
// destination.
func Analyze(ctx context.Context, cfg *config.Configuration) (*scanner.Result, *classifier.Classification, error) {
	s, err := scanner.New(cfg.Scan, cfg.Filter, logger.GetLogger("scanner"))
	if err != nil {
		return nil, nil, err
	}
	s.SkipDirs(cfg.Quarantine, cfg.Archive.Root)

	res, err := s.Scan(ctx, cfg.Source)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "scan %q", cfg.Source)
	}

	return res, classifier.Classify(res.Records, logger.GetLogger("classifier")), nil
}

// Run scans, classifies and archives cfg.Source. Per-file problems are part of the
// summary; only configuration and source root failures return an error.
func Run(ctx context.Context, cfg *config.Configuration, dryRun bool) (*Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	sum := &Summary{
		RunID:   uuid.New().String(),
		Started: time.Now(),
	}
	log := logger.GetLogger("pipeline").WithField("run", sum.RunID)

	log.Infof("Starting run: %q -> %q (quarantine %q)", cfg.Source, cfg.Archive.Root, cfg.Quarantine)
	log.Infof("Fingerprints cover the first and last %s of each file, files that differ only in between "+
		"are treated as duplicates", humanize.IBytes(uint64(cfg.Scan.WindowBytes)))
	if dryRun {
		log.Warn("Dry-run enabled, nothing will be written")
	}

	res, classes, err := Analyze(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sum.Scanned = res.Scanned()
	sum.ScanFailures = res.Failures
	sum.Ignored = res.Ignored
	sum.SizeMismatches = classes.SizeMismatches

	log.Infof("Found %d unique files and %d duplicates", len(classes.Representatives), len(classes.Redundant))

	a := archiver.New(archiver.Options{
		QuarantineDir:     cfg.Quarantine,
		ArchiveRoot:       cfg.Archive.Root,
		WindowBytes:       cfg.Scan.WindowBytes,
		RemoveSource:      cfg.Archive.RemoveSource,
		MaxFilesPerSecond: cfg.Archive.MaxFilesPerSecond,
		DryRun:            dryRun,
	}, logger.GetLogger("archiver"))

	sum.Report = a.Archive(ctx, classes)
	sum.Duration = time.Since(sum.Started)
	return sum, nil
}
