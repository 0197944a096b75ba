// Package archiver copies duplicates into quarantine and unique files into their
// monthly archive partitions, keeping each partition's ledger in step.
package archiver

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"

	"github.com/onepicture/onepicture/pkg/classifier"
	"github.com/onepicture/onepicture/pkg/fingerprint"
	"github.com/onepicture/onepicture/pkg/ledger"
	"github.com/onepicture/onepicture/pkg/media"
	"github.com/onepicture/onepicture/pkg/paths"
)

const progressEvery = 1000

type Options struct {
	QuarantineDir string
	ArchiveRoot   string
	// WindowBytes must match the window the records were fingerprinted with.
	WindowBytes int64
	// RemoveSource deletes a source file once its copy is confirmed.
	RemoveSource      bool
	MaxFilesPerSecond int
	DryRun            bool
}

type Archiver struct {
	opts    Options
	limiter ratelimit.Limiter
	log     *logrus.Entry

	total     int
	processed int
}

func New(opts Options, log *logrus.Entry) *Archiver {
	limiter := ratelimit.NewUnlimited()
	if opts.MaxFilesPerSecond > 0 {
		limiter = ratelimit.New(opts.MaxFilesPerSecond)
	}

	return &Archiver{
		opts:    opts,
		limiter: limiter,
		log:     log,
	}
}

// Archive quarantines every redundant record and archives every representative.
// It always returns a report with exactly one outcome per record. Partitions are
// processed one at a time in key order while holding that partition's ledger.
func (a *Archiver) Archive(ctx context.Context, c *classifier.Classification) *Report {
	report := &Report{DryRun: a.opts.DryRun}
	a.total = len(c.Redundant) + len(c.Representatives)
	a.processed = 0

	a.quarantine(ctx, c.Redundant, report)

	partitions := make(map[string][]media.FileRecord)
	for _, r := range c.Representatives {
		key := r.PartitionKey()
		partitions[key] = append(partitions[key], r)
	}

	keys := make([]string, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		records := partitions[key]
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Seq < records[j].Seq
		})

		if err := ctx.Err(); err != nil {
			for _, r := range records {
				a.done(report, failed(r, "", err))
			}
			continue
		}

		if a.opts.DryRun {
			a.planPartition(key, records, report)
		} else {
			a.archivePartition(ctx, key, records, report)
		}
	}

	report.sort()
	return report
}

/* Quarantine */

func (a *Archiver) quarantine(ctx context.Context, records []media.FileRecord, report *Report) {
	if len(records) == 0 {
		return
	}

	if !a.opts.DryRun && ctx.Err() == nil {
		if err := os.MkdirAll(a.opts.QuarantineDir, 0755); err != nil {
			err = errors.Wrapf(err, "create quarantine %q", a.opts.QuarantineDir)
			a.log.WithError(err).Error("Failed preparing quarantine, no duplicates will be moved")
			for _, r := range records {
				a.done(report, failed(r, "", err))
			}
			return
		}
	}

	for _, r := range records {
		dst := filepath.Join(a.opts.QuarantineDir, r.QuarantineName())

		if err := ctx.Err(); err != nil {
			a.done(report, failed(r, dst, err))
			continue
		}

		a.done(report, a.quarantineOne(r, dst))
	}
}

func (a *Archiver) quarantineOne(r media.FileRecord, dst string) Outcome {
	exists, err := paths.Exists(dst)
	if err != nil {
		return failed(r, dst, err)
	} else if exists {
		a.log.Debugf("Already quarantined: %q", dst)
		return Outcome{Record: r, Disposition: QuarantineSkipped, Destination: dst}
	}

	if a.opts.DryRun {
		a.log.Infof("Dry run, would quarantine %q as %q", r.SourcePath, dst)
		return Outcome{Record: r, Disposition: Quarantined, Destination: dst}
	}

	a.limiter.Take()

	if _, err := copyFile(r.SourcePath, dst); err != nil {
		if errors.Is(err, errDestinationExists) {
			return Outcome{Record: r, Disposition: QuarantineSkipped, Destination: dst}
		}
		return failed(r, dst, err)
	}

	a.log.Debugf("Quarantined %q as %q", r.SourcePath, dst)
	a.removeSource(r)
	return Outcome{Record: r, Disposition: Quarantined, Destination: dst}
}

/* Partitions */

// archivePartition holds the partition ledger for the duration of the batch. A
// partition that cannot be prepared fails all of its records.
func (a *Archiver) archivePartition(ctx context.Context, key string, records []media.FileRecord, report *Report) {
	dir := filepath.Join(a.opts.ArchiveRoot, key)
	log := a.log.WithField("partition", key)

	if err := os.MkdirAll(dir, 0755); err != nil {
		a.failPartition(log, records, report, errors.Wrapf(err, "create partition %q", dir))
		return
	}

	l, err := ledger.Open(dir)
	if err != nil {
		a.failPartition(log, records, report, err)
		return
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.WithError(err).Warn("Failed closing ledger")
		}
	}()

	log.Debugf("Archiving %d files, %d already recorded", len(records), l.Len())

	idx := newPartitionIndex(dir, a.opts.WindowBytes, log)
	placed := make(map[string]string)
	for _, r := range records {
		dst := filepath.Join(dir, r.Name)

		if err := ctx.Err(); err != nil {
			a.done(report, failed(r, dst, err))
			continue
		}

		o := a.archiveOne(l, idx, r, dst, placed)
		if o.Disposition == Archived || o.Disposition == Healed {
			placed[filepath.Base(o.Destination)] = r.SourcePath
		}
		a.done(report, o)
	}
}

func (a *Archiver) archiveOne(l *ledger.Ledger, idx *partitionIndex, r media.FileRecord, dst string, placed map[string]string) Outcome {
	if l.Has(r.Fingerprint) {
		a.log.Tracef("Already archived: %q", r.SourcePath)
		return Outcome{Record: r, Disposition: Skipped, Destination: dst}
	}

	exists, err := paths.Exists(dst)
	if err != nil {
		return failed(r, dst, err)
	}

	if exists {
		existing, err := fingerprint.File(dst, a.opts.WindowBytes)
		if err != nil {
			return failed(r, dst, errors.Wrap(err, "fingerprint existing destination"))
		}

		if existing != r.Fingerprint {
			return a.healElsewhere(l, idx, r, func() Outcome {
				return collision(r, dst, existing, placed)
			})
		}

		// present but unrecorded: an earlier run stopped before the ledger append
		if err := l.Record(r.Fingerprint); err != nil {
			return failed(r, dst, err)
		}

		a.log.Infof("Healed ledger entry for existing file: %q", dst)
		return Outcome{Record: r, Disposition: Healed, Destination: dst}
	}

	return a.healElsewhere(l, idx, r, func() Outcome {
		return a.place(l, r, dst)
	})
}

// healElsewhere records r when its content is already in the partition under
// another name, otherwise it falls through to next.
func (a *Archiver) healElsewhere(l *ledger.Ledger, idx *partitionIndex, r media.FileRecord, next func() Outcome) Outcome {
	other, err := idx.find(r)
	if err != nil {
		return failed(r, "", err)
	} else if other == "" {
		return next()
	}

	if err := l.Record(r.Fingerprint); err != nil {
		return failed(r, other, err)
	}

	a.log.Infof("Healed ledger entry for %q, already archived as: %q", r.SourcePath, other)
	return Outcome{Record: r, Disposition: Healed, Destination: other}
}

// place copies r to dst and records it once the copy is confirmed.
func (a *Archiver) place(l *ledger.Ledger, r media.FileRecord, dst string) Outcome {
	a.limiter.Take()

	if _, err := copyFile(r.SourcePath, dst); err != nil {
		return failed(r, dst, err)
	}

	if exists, err := paths.Exists(dst); err != nil {
		return failed(r, dst, errors.Wrap(err, "confirm destination"))
	} else if !exists {
		return failed(r, dst, errors.New("destination missing after copy"))
	}

	if err := l.Record(r.Fingerprint); err != nil {
		return failed(r, dst, err)
	}

	a.log.Debugf("Archived %q to %q", r.SourcePath, dst)
	a.removeSource(r)
	return Outcome{Record: r, Disposition: Archived, Destination: dst}
}

// planPartition decides dispositions from a read-only view of the partition.
func (a *Archiver) planPartition(key string, records []media.FileRecord, report *Report) {
	dir := filepath.Join(a.opts.ArchiveRoot, key)
	log := a.log.WithField("partition", key)

	recorded, err := ledger.Peek(dir)
	if err != nil {
		a.failPartition(log, records, report, err)
		return
	}

	idx := newPartitionIndex(dir, a.opts.WindowBytes, log)
	placed := make(map[string]string)
	for _, r := range records {
		dst := filepath.Join(dir, r.Name)
		a.done(report, a.planOne(idx, r, dst, recorded.Has(r.Fingerprint), placed))
	}
}

func (a *Archiver) planOne(idx *partitionIndex, r media.FileRecord, dst string, recorded bool, placed map[string]string) Outcome {
	if recorded {
		return Outcome{Record: r, Disposition: Skipped, Destination: dst}
	}

	if _, ok := placed[r.Name]; ok {
		return collision(r, dst, "", placed)
	}

	exists, err := paths.Exists(dst)
	if err != nil {
		return failed(r, dst, err)
	}

	if exists {
		existing, err := fingerprint.File(dst, a.opts.WindowBytes)
		if err != nil {
			return failed(r, dst, errors.Wrap(err, "fingerprint existing destination"))
		}
		if existing != r.Fingerprint {
			if other, err := idx.find(r); err != nil {
				return failed(r, dst, err)
			} else if other != "" {
				a.log.Infof("Dry run, would heal ledger entry for %q, already archived as: %q", r.SourcePath, other)
				return Outcome{Record: r, Disposition: Healed, Destination: other}
			}
			return collision(r, dst, existing, placed)
		}

		a.log.Infof("Dry run, would heal ledger entry for existing file: %q", dst)
		placed[r.Name] = r.SourcePath
		return Outcome{Record: r, Disposition: Healed, Destination: dst}
	}

	other, err := idx.find(r)
	if err != nil {
		return failed(r, dst, err)
	} else if other != "" {
		a.log.Infof("Dry run, would heal ledger entry for %q, already archived as: %q", r.SourcePath, other)
		return Outcome{Record: r, Disposition: Healed, Destination: other}
	}

	a.log.Infof("Dry run, would archive %q to %q", r.SourcePath, dst)
	placed[r.Name] = r.SourcePath
	return Outcome{Record: r, Disposition: Archived, Destination: dst}
}

/* Private */

func (a *Archiver) failPartition(log *logrus.Entry, records []media.FileRecord, report *Report, err error) {
	log.WithError(err).Errorf("Skipping partition, %d files not archived", len(records))
	for _, r := range records {
		a.done(report, failed(r, "", err))
	}
}

func (a *Archiver) removeSource(r media.FileRecord) {
	if !a.opts.RemoveSource {
		return
	}

	if err := os.Remove(r.SourcePath); err != nil {
		a.log.WithError(err).Warnf("Failed removing source after copy: %q", r.SourcePath)
		return
	}

	a.log.Tracef("Removed source: %q", r.SourcePath)
}

func (a *Archiver) done(report *Report, o Outcome) {
	report.add(o)

	a.processed++
	if a.processed%progressEvery == 0 {
		a.log.Infof("Processed %d / %d files", a.processed, a.total)
	}
}

func failed(r media.FileRecord, dst string, err error) Outcome {
	return Outcome{
		Record:      r,
		Disposition: Failed,
		Destination: dst,
		Err:         &ArchiveFailure{Path: r.SourcePath, Destination: dst, Cause: err},
	}
}

func collision(r media.FileRecord, dst, existing string, placed map[string]string) Outcome {
	conflicting := dst
	if src, ok := placed[r.Name]; ok {
		conflicting = src
	}

	return Outcome{
		Record:      r,
		Disposition: Collision,
		Destination: dst,
		Err: &NameCollision{
			Path:            r.SourcePath,
			Destination:     dst,
			ConflictingPath: conflicting,
			Fingerprint:     r.Fingerprint,
			Existing:        existing,
		},
	}
}
