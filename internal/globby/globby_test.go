package globby

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
}

func TestGlobFilesExpandsDoubleStar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dist/a.js")
	writeFile(t, root, "dist/nested/b.js")
	writeFile(t, root, "dist/b.map")

	got, err := GlobFiles(root, []string{"dist/**/*.js"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/a.js", "dist/nested/b.js"}, got)
}

func TestGlobFilesHonorsExclusion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "dist/a.js")
	writeFile(t, root, "dist/a.test.js")

	got, err := GlobFiles(root, []string{"dist/*.js", "!dist/*.test.js"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/a.js"}, got)
}

func TestGlobFilesKeepsUnproducedLiteralOutput(t *testing.T) {
	root := t.TempDir()

	got, err := GlobFiles(root, []string{"dist/report.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/report.json"}, got)
}

func TestGlobFilesRejectsMalformedPattern(t *testing.T) {
	root := t.TempDir()

	_, err := GlobFiles(root, []string{"dist/[unterminated"})
	assert.Error(t, err)
	var globErr *GlobError
	assert.ErrorAs(t, err, &globErr)
}
