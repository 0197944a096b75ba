package config

// FilterConfiguration narrows down which files the scanner considers.
type FilterConfiguration struct {
	// Ignore holds boolean expressions evaluated against each candidate file,
	// e.g. `Size < 1024` or `Ext in [".tmp", ".part"]`.
	Ignore []string `koanf:"ignore"`
	// IgnorePatterns holds regular expressions matched against the full path.
	IgnorePatterns []string `koanf:"ignore_patterns"`
}

// Empty reports whether no filter has been configured.
func (f FilterConfiguration) Empty() bool {
	return len(f.Ignore) == 0 && len(f.IgnorePatterns) == 0
}
