package classifier

import (
	"sort"

	"github.com/onepicture/onepicture/pkg/media"
)

// FingerprintMap indexes records by content fingerprint, then by Seq.
type FingerprintMap struct {
	fingerprintMap map[string]map[int]media.FileRecord
}

func NewFingerprintMap(records []media.FileRecord) *FingerprintMap {
	fm := &FingerprintMap{
		fingerprintMap: make(map[string]map[int]media.FileRecord),
	}

	for _, record := range records {
		if _, exists := fm.fingerprintMap[record.Fingerprint]; exists {
			// fingerprint already seen, join its class
			fm.fingerprintMap[record.Fingerprint][record.Seq] = record
			continue
		}

		fm.fingerprintMap[record.Fingerprint] = map[int]media.FileRecord{
			record.Seq: record,
		}
	}

	return fm
}

// Members returns the records sharing fingerprint, ordered by Seq.
func (f *FingerprintMap) Members(fingerprint string) []media.FileRecord {
	members := make([]media.FileRecord, 0, len(f.fingerprintMap[fingerprint]))
	for _, record := range f.fingerprintMap[fingerprint] {
		members = append(members, record)
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].Seq < members[j].Seq
	})

	return members
}

// Length is the number of distinct fingerprints.
func (f *FingerprintMap) Length() int {
	return len(f.fingerprintMap)
}
