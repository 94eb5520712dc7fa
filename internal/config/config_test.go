package config

import (
	"errors"
	"os"
	"testing"

	"github.com/Masterminds/semver"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

func TestCacheModeCanReadWrite(t *testing.T) {
	assert.True(t, CacheReadWrite.CanRead())
	assert.True(t, CacheReadWrite.CanWrite())

	assert.True(t, CacheReadOnly.CanRead())
	assert.False(t, CacheReadOnly.CanWrite())

	assert.False(t, CacheWriteOnly.CanRead())
	assert.True(t, CacheWriteOnly.CanWrite())

	assert.False(t, CacheOff.CanRead())
	assert.False(t, CacheOff.CanWrite())
}

func TestParseCacheModeDefaultsToReadWrite(t *testing.T) {
	mode, err := parseCacheMode("")
	require.NoError(t, err)
	assert.Equal(t, CacheReadWrite, mode)
}

func TestParseCacheModeRejectsUnknown(t *testing.T) {
	_, err := parseCacheMode("bogus")
	assert.Error(t, err)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("MOON_CACHE", "off")
	dir := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())

	cfg, err := Load(dir, viper.New())
	require.NoError(t, err)
	assert.Equal(t, CacheOff, cfg.CacheMode)
}

func TestResolveRootPrefersExplicitOverride(t *testing.T) {
	cwd := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	root := ResolveRoot(cwd, "sub/dir")
	assert.Equal(t, cwd.UntypedJoin("sub/dir"), root)
}

func TestResolveRootFallsBackToEnv(t *testing.T) {
	cwd := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	t.Setenv("MOON_WORKSPACE_ROOT", "envroot")
	root := ResolveRoot(cwd, "")
	assert.Equal(t, cwd.UntypedJoin("envroot"), root)
}

func TestResolveRootFallsBackToCwd(t *testing.T) {
	os.Unsetenv("MOON_WORKSPACE_ROOT")
	cwd := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	assert.Equal(t, cwd, ResolveRoot(cwd, ""))
}

func TestRemoteConfigEnabled(t *testing.T) {
	assert.False(t, RemoteConfig{}.Enabled())
	assert.True(t, RemoteConfig{Host: "localhost:1234"}.Enabled())
}

func TestToolchainConstraintParsesDeclaredVersion(t *testing.T) {
	cfg := &WorkspaceConfig{ToolchainVersions: map[string]string{"node": "^18.0.0"}}
	constraint, ok, err := cfg.ToolchainConstraint("node")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, constraint.Check(mustSemver(t, "18.4.0")))
	assert.False(t, constraint.Check(mustSemver(t, "16.0.0")))
}

func TestToolchainConstraintMissingToolchainIsUnset(t *testing.T) {
	cfg := &WorkspaceConfig{ToolchainVersions: map[string]string{}}
	_, ok, err := cfg.ToolchainConstraint("rust")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestToolchainConstraintRejectsInvalidSyntax(t *testing.T) {
	cfg := &WorkspaceConfig{ToolchainVersions: map[string]string{"node": "not-a-version"}}
	_, _, err := cfg.ToolchainConstraint("node")
	assert.Error(t, err)
	var invalid *InvalidVersionConstraintError
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, invalid.ToolchainID, "node")
}

func TestLoadRejectsInvalidToolchainConstraint(t *testing.T) {
	dir := t.TempDir()
	workspaceYml := "toolchains:\n  node: not-a-version\n"
	require.NoError(t, os.MkdirAll(dir+"/.moon", 0o755))
	require.NoError(t, os.WriteFile(dir+"/.moon/workspace.yml", []byte(workspaceYml), 0o644))

	_, err := Load(turbopath.AbsoluteSystemPathFromUpstream(dir), viper.New())
	assert.Error(t, err)
	var invalid *InvalidVersionConstraintError
	assert.True(t, errors.As(err, &invalid))
}

func mustSemver(t *testing.T, raw string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(raw)
	require.NoError(t, err)
	return v
}
