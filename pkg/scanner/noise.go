package scanner

import (
	"strings"

	"github.com/onepicture/onepicture/pkg/ledger"
	"github.com/onepicture/onepicture/pkg/paths"
)

// noiseNames are never archivable content. Compared case-insensitively.
var noiseNames = map[string]bool{
	"thumbs.db":                      true,
	"ehthumbs.db":                    true,
	"desktop.ini":                    true,
	".ds_store":                      true,
	".localized":                     true,
	strings.ToLower(ledger.FileName): true,
	strings.ToLower(ledger.LockName): true,
}

// IsNoise reports whether name is a platform cache, filesystem marker, or one of
// our own ledger and temporary files.
func IsNoise(name string) bool {
	if noiseNames[strings.ToLower(name)] {
		return true
	}

	// AppleDouble resource forks
	return strings.HasPrefix(name, "._") || strings.HasPrefix(name, paths.TempPrefix)
}
