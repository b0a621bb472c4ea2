package templatefs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms-dbmi/dseqr.aws/internal/domain"
	"github.com/hms-dbmi/dseqr.aws/internal/infrastructure/templatefs"
)

func TestMemory_Load(t *testing.T) {
	src, err := templatefs.NewMemory(map[string]string{"scripts/configure.sh": "echo drugseqr.com\n"})
	require.NoError(t, err)

	got, err := src.Load(context.Background(), "scripts/configure.sh")
	require.NoError(t, err)
	assert.Equal(t, "echo drugseqr.com\n", got)
}

func TestOS_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "configure.sh"), []byte("run\n"), 0o644))

	got, err := templatefs.NewOS(dir).Load(context.Background(), "scripts/configure.sh")
	require.NoError(t, err)
	assert.Equal(t, "run\n", got)
}

func TestLoad_Missing(t *testing.T) {
	src, err := templatefs.NewMemory(nil)
	require.NoError(t, err)

	_, err = src.Load(context.Background(), "scripts/configure.sh")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestResolver_TemplateMissingIsTemplateLoadError(t *testing.T) {
	src, err := templatefs.NewMemory(nil)
	require.NoError(t, err)

	r := &domain.Resolver{Templates: src}
	_, err = r.Resolve(context.Background(), map[string]string{"ssh_key_name": "k"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTemplateLoad))
}
