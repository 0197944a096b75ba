package archiver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onepicture/onepicture/pkg/classifier"
	"github.com/onepicture/onepicture/pkg/fingerprint"
	"github.com/onepicture/onepicture/pkg/ledger"
	"github.com/onepicture/onepicture/pkg/logger"
	"github.com/onepicture/onepicture/pkg/media"
)

const testWindow = 16

type fixture struct {
	src        string
	quarantine string
	archive    string
	seq        int
	records    []media.FileRecord
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		src:        filepath.Join(root, "src"),
		quarantine: filepath.Join(root, "quarantine"),
		archive:    filepath.Join(root, "archive"),
	}
	require.NoError(t, os.MkdirAll(f.src, 0755))
	return f
}

// add writes a source file and records it with the next sequence number.
func (f *fixture) add(t *testing.T, rel, content string, modified time.Time) media.FileRecord {
	t.Helper()
	p := filepath.Join(f.src, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	require.NoError(t, os.Chtimes(p, modified, modified))

	fp, err := fingerprint.File(p, testWindow)
	require.NoError(t, err)

	r := media.FileRecord{
		Seq:         f.seq,
		Name:        filepath.Base(p),
		SourcePath:  p,
		Size:        int64(len(content)),
		ModifiedAt:  modified,
		Fingerprint: fp,
	}
	f.seq++
	f.records = append(f.records, r)
	return r
}

func (f *fixture) options() Options {
	return Options{
		QuarantineDir: f.quarantine,
		ArchiveRoot:   f.archive,
		WindowBytes:   testWindow,
	}
}

func (f *fixture) run(t *testing.T, opts Options) *Report {
	t.Helper()
	c := classifier.Classify(f.records, logger.Discard())
	report := New(opts, logger.Discard()).Archive(context.Background(), c)
	require.Equal(t, len(f.records), report.Total())
	return report
}

func ledgerLines(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, ledger.FileName))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 10, 0, 0, 0, time.Local)
}

func TestArchive_DuplicatePair(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "a.jpg", strings.Repeat("x", 1024), date(2024, 1, 5))
	f.add(t, "b.jpg", strings.Repeat("x", 1024), date(2024, 1, 6))

	report := f.run(t, f.options())

	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 1, report.Quarantined)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, int64(1024), report.BytesArchived)

	assert.FileExists(t, filepath.Join(f.archive, "2024-01", "a.jpg"))
	assert.NoFileExists(t, filepath.Join(f.archive, "2024-01", "b.jpg"))
	assert.FileExists(t, filepath.Join(f.quarantine, "1_b.jpg"))
	assert.Equal(t, []string{a.Fingerprint}, ledgerLines(t, filepath.Join(f.archive, "2024-01")))

	// additive by default
	assert.FileExists(t, filepath.Join(f.src, "a.jpg"))
	assert.FileExists(t, filepath.Join(f.src, "b.jpg"))

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, Archived, report.Outcomes[0].Disposition)
	assert.Equal(t, Quarantined, report.Outcomes[1].Disposition)
}

func TestArchive_PreservesModTime(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.jpg", "photo", date(2023, 6, 15))

	f.run(t, f.options())

	info, err := os.Stat(filepath.Join(f.archive, "2023-06", "a.jpg"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(date(2023, 6, 15)))
}

func TestArchive_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.jpg", "one", date(2024, 1, 5))
	f.add(t, "copy/a.jpg", "one", date(2024, 1, 5))
	f.add(t, "b.jpg", "two", date(2024, 2, 1))

	first := f.run(t, f.options())
	assert.Equal(t, 2, first.Archived)
	assert.Equal(t, 1, first.Quarantined)

	second := f.run(t, f.options())
	assert.Equal(t, 0, second.Archived)
	assert.Equal(t, 0, second.Quarantined)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 1, second.QuarantineSkipped)
	assert.Equal(t, 0, second.Failed)

	assert.Len(t, ledgerLines(t, filepath.Join(f.archive, "2024-01")), 1)
	assert.Len(t, ledgerLines(t, filepath.Join(f.archive, "2024-02")), 1)

	entries, err := os.ReadDir(filepath.Join(f.archive, "2024-01"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Name() != ledger.LockName {
			names = append(names, e.Name())
		}
	}
	assert.ElementsMatch(t, []string{"a.jpg", ledger.FileName}, names)
}

func TestArchive_HealsMissingLedgerEntry(t *testing.T) {
	f := newFixture(t)
	r := f.add(t, "a.jpg", "interrupted", date(2024, 3, 9))

	partition := filepath.Join(f.archive, "2024-03")
	dst := filepath.Join(partition, "a.jpg")
	require.NoError(t, os.MkdirAll(partition, 0755))
	require.NoError(t, os.WriteFile(dst, []byte("interrupted"), 0644))
	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(dst, old, old))

	report := f.run(t, f.options())

	assert.Equal(t, 1, report.Healed)
	assert.Equal(t, 0, report.Archived)
	assert.Equal(t, []string{r.Fingerprint}, ledgerLines(t, partition))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old))

	// healed entries are skipped afterwards
	again := f.run(t, f.options())
	assert.Equal(t, 1, again.Skipped)
}

func TestArchive_HealsContentUnderAnotherName(t *testing.T) {
	tests := []struct {
		name   string
		dryRun bool
	}{
		{name: "write"},
		{name: "dry_run", dryRun: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.add(t, "a.jpg", "renamed earlier", date(2024, 3, 9))
			f.add(t, "b.jpg", "same size diff!", date(2024, 3, 10))

			partition := filepath.Join(f.archive, "2024-03")
			renamed := filepath.Join(partition, "IMG_0001.jpg")
			require.NoError(t, os.MkdirAll(partition, 0755))
			require.NoError(t, os.WriteFile(renamed, []byte("renamed earlier"), 0644))
			old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
			require.NoError(t, os.Chtimes(renamed, old, old))

			opts := f.options()
			opts.DryRun = tt.dryRun
			report := f.run(t, opts)

			assert.Equal(t, 1, report.Healed)
			assert.Equal(t, 1, report.Archived)
			assert.Equal(t, renamed, report.Outcomes[0].Destination)
			assert.NoFileExists(t, filepath.Join(partition, "a.jpg"))

			info, err := os.Stat(renamed)
			require.NoError(t, err)
			assert.True(t, info.ModTime().Equal(old))

			if tt.dryRun {
				assert.Empty(t, ledgerLines(t, partition))
				assert.NoFileExists(t, filepath.Join(partition, "b.jpg"))
				return
			}

			assert.Contains(t, ledgerLines(t, partition), r.Fingerprint)
			assert.FileExists(t, filepath.Join(partition, "b.jpg"))

			again := f.run(t, f.options())
			assert.Equal(t, 2, again.Skipped)
		})
	}
}

func TestArchive_NameTakenButContentArchivedElsewhere(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.jpg", "photo", date(2024, 3, 9))

	partition := filepath.Join(f.archive, "2024-03")
	require.NoError(t, os.MkdirAll(partition, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(partition, "a.jpg"), []byte("other content"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(partition, "a_1.jpg"), []byte("photo"), 0644))

	report := f.run(t, f.options())

	assert.Equal(t, 0, report.Collisions)
	assert.Equal(t, 1, report.Healed)
	assert.Equal(t, filepath.Join(partition, "a_1.jpg"), report.Outcomes[0].Destination)
}

func TestArchive_RefusesNameCollision(t *testing.T) {
	f := newFixture(t)
	r := f.add(t, "a.jpg", "new content", date(2024, 4, 1))

	partition := filepath.Join(f.archive, "2024-04")
	dst := filepath.Join(partition, "a.jpg")
	require.NoError(t, os.MkdirAll(partition, 0755))
	require.NoError(t, os.WriteFile(dst, []byte("old content"), 0644))

	report := f.run(t, f.options())

	assert.Equal(t, 1, report.Collisions)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old content", string(data))
	assert.Empty(t, ledgerLines(t, partition))

	var nc *NameCollision
	require.True(t, errors.As(report.Outcomes[0].Err, &nc))
	assert.Equal(t, r.SourcePath, nc.Path)
	assert.Equal(t, dst, nc.ConflictingPath)
	assert.NotEqual(t, nc.Fingerprint, nc.Existing)
}

func TestArchive_CollisionWithinRun(t *testing.T) {
	f := newFixture(t)
	first := f.add(t, "x/a.jpg", "first", date(2024, 4, 1))
	second := f.add(t, "y/a.jpg", "second", date(2024, 4, 2))

	report := f.run(t, f.options())

	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 1, report.Collisions)

	data, err := os.ReadFile(filepath.Join(f.archive, "2024-04", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	var nc *NameCollision
	require.True(t, errors.As(report.Outcomes[1].Err, &nc))
	assert.Equal(t, second.SourcePath, nc.Path)
	assert.Equal(t, first.SourcePath, nc.ConflictingPath)
}

func TestArchive_FailureDoesNotStopBatch(t *testing.T) {
	f := newFixture(t)
	gone := f.add(t, "gone.jpg", "vanishes", date(2024, 5, 1))
	f.add(t, "kept.jpg", "stays", date(2024, 5, 2))
	require.NoError(t, os.Remove(gone.SourcePath))

	report := f.run(t, f.options())

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Archived)

	failures := report.With(Failed)
	require.Len(t, failures, 1)
	assert.Equal(t, gone.SourcePath, failures[0].Record.SourcePath)

	var af *ArchiveFailure
	require.True(t, errors.As(failures[0].Err, &af))
	assert.True(t, os.IsNotExist(errors.Cause(af.Cause)))

	assert.NoFileExists(t, filepath.Join(f.archive, "2024-05", "gone.jpg"))
	assert.Len(t, ledgerLines(t, filepath.Join(f.archive, "2024-05")), 1)

	leftovers, err := filepath.Glob(filepath.Join(f.archive, "2024-05", ".onepicture-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestArchive_CorruptLedgerHaltsPartition(t *testing.T) {
	f := newFixture(t)
	f.add(t, "jan.jpg", "january", date(2024, 1, 1))
	f.add(t, "feb.jpg", "february", date(2024, 2, 1))

	jan := filepath.Join(f.archive, "2024-01")
	require.NoError(t, os.MkdirAll(jan, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(jan, ledger.FileName), []byte("not a fingerprint\n"), 0644))

	report := f.run(t, f.options())

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Archived)
	assert.NoFileExists(t, filepath.Join(jan, "jan.jpg"))
	assert.FileExists(t, filepath.Join(f.archive, "2024-02", "feb.jpg"))

	var ce *ledger.CorruptionError
	assert.True(t, errors.As(report.With(Failed)[0].Err, &ce))
}

func TestArchive_LockedPartition(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.jpg", "a", date(2024, 7, 1))
	f.add(t, "b.jpg", "b", date(2024, 7, 2))

	partition := filepath.Join(f.archive, "2024-07")
	require.NoError(t, os.MkdirAll(partition, 0755))
	held, err := ledger.Open(partition)
	require.NoError(t, err)
	defer held.Close()

	report := f.run(t, f.options())

	assert.Equal(t, 2, report.Failed)
	for _, o := range report.Outcomes {
		assert.True(t, errors.Is(o.Err, ledger.ErrLocked))
	}
	assert.NoFileExists(t, filepath.Join(partition, "a.jpg"))
}

func TestArchive_DryRun(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.jpg", "same", date(2024, 1, 5))
	f.add(t, "b.jpg", "same", date(2024, 1, 6))
	f.add(t, "x/c.jpg", "one", date(2024, 2, 1))
	f.add(t, "y/c.jpg", "two", date(2024, 2, 1))

	opts := f.options()
	opts.DryRun = true
	report := f.run(t, opts)

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Archived)
	assert.Equal(t, 1, report.Quarantined)
	assert.Equal(t, 1, report.Collisions)

	assert.NoDirExists(t, f.archive)
	assert.NoDirExists(t, f.quarantine)
}

func TestArchive_RemoveSource(t *testing.T) {
	f := newFixture(t)
	a := f.add(t, "a.jpg", "same", date(2024, 1, 5))
	b := f.add(t, "b.jpg", "same", date(2024, 1, 6))

	opts := f.options()
	opts.RemoveSource = true
	report := f.run(t, opts)

	assert.Equal(t, 1, report.Archived)
	assert.Equal(t, 1, report.Quarantined)
	assert.NoFileExists(t, a.SourcePath)
	assert.NoFileExists(t, b.SourcePath)
	assert.FileExists(t, filepath.Join(f.archive, "2024-01", "a.jpg"))
	assert.FileExists(t, filepath.Join(f.quarantine, "1_b.jpg"))
}

func TestArchive_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.jpg", "same", date(2024, 1, 5))
	f.add(t, "b.jpg", "same", date(2024, 1, 6))
	f.add(t, "c.jpg", "other", date(2024, 2, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := classifier.Classify(f.records, logger.Discard())
	report := New(f.options(), logger.Discard()).Archive(ctx, c)

	require.Equal(t, 3, report.Total())
	assert.Equal(t, 3, report.Failed)
	for _, o := range report.Outcomes {
		assert.True(t, errors.Is(o.Err, context.Canceled))
	}
	assert.NoDirExists(t, f.archive)
}

func TestArchive_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a.jpg", "a", date(2024, 1, 1))
	f.add(t, "b.jpg", "b", date(2024, 1, 2))

	opts := f.options()
	opts.MaxFilesPerSecond = 1000
	report := f.run(t, opts)

	assert.Equal(t, 2, report.Archived)
}
