package expression

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

// File is the environment ignore expressions are evaluated against.
type File struct {
	Name    string
	Path    string
	Dir     string
	Ext     string
	Size    int64
	ModTime time.Time
}

type CompiledExpression struct {
	Program *vm.Program
	Text    string
}

// NewFile builds an expression environment; Ext is lower-cased and keeps the dot.
func NewFile(path string, size int64, modTime time.Time) *File {
	return &File{
		Name:    filepath.Base(path),
		Path:    path,
		Dir:     filepath.Dir(path),
		Ext:     strings.ToLower(filepath.Ext(path)),
		Size:    size,
		ModTime: modTime,
	}
}

// Compile compiles boolean expressions against the File environment.
func Compile(expressions []string) ([]CompiledExpression, error) {
	compiled := make([]CompiledExpression, 0, len(expressions))

	for _, text := range expressions {
		program, err := expr.Compile(text, expr.Env(&File{}), expr.AsBool())
		if err != nil {
			return nil, errors.Wrapf(err, "compile expression %q", text)
		}

		compiled = append(compiled, CompiledExpression{
			Program: program,
			Text:    text,
		})
	}

	return compiled, nil
}
