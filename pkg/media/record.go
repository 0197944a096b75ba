package media

import (
	"fmt"
	"time"
)

// PartitionLayout is the time layout of an archive partition directory name.
const PartitionLayout = "2006-01"

// FileRecord is one scanned file with a computed content fingerprint.
type FileRecord struct {
	// Seq is the enumeration sequence number within a single run.
	// Lower Seq wins when choosing the representative of duplicates.
	Seq         int
	Name        string
	SourcePath  string
	Size        int64
	ModifiedAt  time.Time
	CapturedAt  time.Time
	Fingerprint string
}

// PartitionTime is the timestamp the partition key derives from.
func (r FileRecord) PartitionTime() time.Time {
	if !r.CapturedAt.IsZero() {
		return r.CapturedAt
	}

	return r.ModifiedAt
}

// PartitionKey returns the YYYY-MM archive partition for the record.
func (r FileRecord) PartitionKey() string {
	return PartitionKey(r.PartitionTime())
}

// QuarantineName is the collision-free name used when the record is set aside.
func (r FileRecord) QuarantineName() string {
	return fmt.Sprintf("%d_%s", r.Seq, r.Name)
}

func (r FileRecord) String() string {
	return fmt.Sprintf("#%d %s", r.Seq, r.SourcePath)
}

// PartitionKey formats t as a YYYY-MM partition key. The key is taken from the
// wall clock reading of t, without any timezone conversion.
func PartitionKey(t time.Time) string {
	return t.Format(PartitionLayout)
}

// ScanFailure records a file that could not be measured or fingerprinted.
type ScanFailure struct {
	Seq   int
	Path  string
	Cause error
}

func (f ScanFailure) Error() string {
	return fmt.Sprintf("scan %q: %v", f.Path, f.Cause)
}

func (f ScanFailure) Unwrap() error {
	return f.Cause
}
