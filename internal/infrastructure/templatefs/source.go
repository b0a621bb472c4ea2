// Package templatefs reads the application configuration template from a
// billy filesystem.
package templatefs

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Source implements [domain.TemplateSource] over a billy filesystem.
type Source struct {
	FS billy.Filesystem
}

// NewOS returns a source rooted at dir on the local disk.
func NewOS(dir string) *Source {
	return &Source{FS: osfs.New(dir)}
}

// NewMemory returns a source holding the given files in memory.
func NewMemory(files map[string]string) (*Source, error) {
	fs := memfs.New()
	for path, content := range files {
		if err := util.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			return nil, errors.Wrapf(err, "write %s", path)
		}
	}
	return &Source{FS: fs}, nil
}

func (s *Source) Load(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := util.ReadFile(s.FS, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errors.WithHint(
				errors.Wrapf(err, "template %s", path),
				"pass --template with the path of the application configuration script",
			)
		}
		return "", errors.Wrapf(err, "read template %s", path)
	}
	return string(b), nil
}
