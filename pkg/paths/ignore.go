package paths

import (
	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
)

// CompilePatterns compiles ignore patterns. Patterns use .NET syntax, so lookarounds are allowed.
func CompilePatterns(patterns []string) ([]*regexp2.Regexp, error) {
	compiled := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp2.Compile(p, regexp2.None)
		if err != nil {
			return nil, errors.Wrapf(err, "compile ignore pattern %q", p)
		}
		compiled = append(compiled, re)
	}

	return compiled, nil
}

// IsIgnored reports whether path matches any of the patterns.
func IsIgnored(path string, patterns []*regexp2.Regexp) bool {
	for _, re := range patterns {
		match, err := re.MatchString(path)
		if err != nil {
			log.WithError(err).Warnf("Failed matching ignore pattern %q against %q", re.String(), path)
			continue
		}
		if match {
			return true
		}
	}

	return false
}
