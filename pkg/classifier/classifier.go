// Package classifier splits fingerprinted records into representatives and
// redundant copies.
package classifier

import (
	"sort"

	"github.com/scylladb/go-set/strset"
	"github.com/sirupsen/logrus"

	"github.com/onepicture/onepicture/pkg/media"
)

// EquivalenceClass is every record sharing one fingerprint.
type EquivalenceClass struct {
	Fingerprint    string
	Representative media.FileRecord
	Redundant      []media.FileRecord
	// SizeMismatch is set when members share a fingerprint but not a size.
	SizeMismatch bool
}

// Len is the number of records in the class.
func (c EquivalenceClass) Len() int {
	return 1 + len(c.Redundant)
}

// Classification is the result of Classify. Every slice is ordered by Seq,
// classes by the Seq of their representative.
type Classification struct {
	Representatives []media.FileRecord
	Redundant       []media.FileRecord
	Classes         []EquivalenceClass
	SizeMismatches  int
}

// Duplicates returns only the classes that have redundant members.
func (c *Classification) Duplicates() []EquivalenceClass {
	var out []EquivalenceClass
	for _, class := range c.Classes {
		if len(class.Redundant) > 0 {
			out = append(out, class)
		}
	}
	return out
}

// Classify groups records by fingerprint. The member with the lowest Seq
// represents its class and all others are redundant. The output depends only on
// the records themselves, never on input or map order.
func Classify(records []media.FileRecord, log *logrus.Entry) *Classification {
	ordered := make([]media.FileRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Seq < ordered[j].Seq
	})

	fm := NewFingerprintMap(ordered)
	seen := strset.NewWithSize(fm.Length())
	res := &Classification{}

	for _, record := range ordered {
		if seen.Has(record.Fingerprint) {
			continue
		}
		seen.Add(record.Fingerprint)

		members := fm.Members(record.Fingerprint)
		class := EquivalenceClass{
			Fingerprint:    record.Fingerprint,
			Representative: members[0],
			Redundant:      members[1:],
		}

		for _, m := range class.Redundant {
			if m.Size != class.Representative.Size {
				class.SizeMismatch = true
				break
			}
		}

		if class.SizeMismatch {
			res.SizeMismatches++
			log.Warnf("Fingerprint %s is shared by files of different sizes, treating as duplicates: %s",
				class.Fingerprint, class.Representative.SourcePath)
		}

		res.Representatives = append(res.Representatives, class.Representative)
		res.Redundant = append(res.Redundant, class.Redundant...)
		res.Classes = append(res.Classes, class)
	}

	sort.SliceStable(res.Redundant, func(i, j int) bool {
		return res.Redundant[i].Seq < res.Redundant[j].Seq
	})

	log.Debugf("Classified %d records: %d unique, %d redundant",
		len(ordered), len(res.Representatives), len(res.Redundant))

	return res
}
