package archiver

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/onepicture/onepicture/pkg/media"
)

// Disposition is what happened to one record.
type Disposition string

const (
	Archived          Disposition = "archived"
	Healed            Disposition = "healed"
	Skipped           Disposition = "skipped"
	Quarantined       Disposition = "quarantined"
	QuarantineSkipped Disposition = "quarantine-skipped"
	Collision         Disposition = "collision"
	Failed            Disposition = "failed"
)

// ArchiveFailure is a copy or ledger update that failed for one file.
type ArchiveFailure struct {
	Path        string
	Destination string
	Cause       error
}

func (e *ArchiveFailure) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("archive %q: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("archive %q to %q: %v", e.Path, e.Destination, e.Cause)
}

func (e *ArchiveFailure) Unwrap() error {
	return e.Cause
}

// NameCollision is raised when a different file already owns the destination path.
type NameCollision struct {
	Path        string
	Destination string
	// ConflictingPath is the source of the file occupying Destination when it was
	// placed by this run, otherwise the destination itself.
	ConflictingPath string
	Fingerprint     string
	Existing        string
}

func (e *NameCollision) Error() string {
	return fmt.Sprintf("name collision at %q: %q (%s) conflicts with %q (%s)",
		e.Destination, e.Path, e.Fingerprint, e.ConflictingPath, e.Existing)
}

// Outcome is the disposition of a single record.
type Outcome struct {
	Record      media.FileRecord
	Disposition Disposition
	Destination string
	Err         error
}

// Report accounts for every record handed to Archive.
type Report struct {
	Outcomes []Outcome
	DryRun   bool

	Archived          int
	Healed            int
	Skipped           int
	Quarantined       int
	QuarantineSkipped int
	Collisions        int
	Failed            int

	BytesArchived    int64
	BytesQuarantined int64
}

func (r *Report) add(o Outcome) {
	switch o.Disposition {
	case Archived:
		r.Archived++
		r.BytesArchived += o.Record.Size
	case Healed:
		r.Healed++
	case Skipped:
		r.Skipped++
	case Quarantined:
		r.Quarantined++
		r.BytesQuarantined += o.Record.Size
	case QuarantineSkipped:
		r.QuarantineSkipped++
	case Collision:
		r.Collisions++
	case Failed:
		r.Failed++
	}

	r.Outcomes = append(r.Outcomes, o)
}

func (r *Report) sort() {
	sort.SliceStable(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Record.Seq < r.Outcomes[j].Record.Seq
	})
}

// Total is the number of records accounted for.
func (r *Report) Total() int {
	return len(r.Outcomes)
}

// With returns the outcomes that ended in disposition d, ordered by Seq.
func (r *Report) With(d Disposition) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Disposition == d {
			out = append(out, o)
		}
	}
	return out
}

// Log writes collisions, failures and the summary line.
func (r *Report) Log(log *logrus.Entry) {
	for _, o := range r.With(Collision) {
		log.Warn(o.Err.Error())
	}
	for _, o := range r.With(Failed) {
		log.WithError(o.Err).Errorf("Failed: %q", o.Record.SourcePath)
	}

	prefix := ""
	if r.DryRun {
		prefix = "Dry run: "
	}

	log.Infof("%sArchived %d files (%s), healed %d, skipped %d already archived",
		prefix, r.Archived, humanize.IBytes(uint64(r.BytesArchived)), r.Healed, r.Skipped)
	log.Infof("%sQuarantined %d duplicates (%s), %d already quarantined",
		prefix, r.Quarantined, humanize.IBytes(uint64(r.BytesQuarantined)), r.QuarantineSkipped)

	if r.Collisions > 0 || r.Failed > 0 {
		log.Warnf("%s%d name collisions, %d failures", prefix, r.Collisions, r.Failed)
	}
}
