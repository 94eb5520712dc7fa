// Package config resolves workspace-level settings for the action
// pipeline: the cache mode, the workspace root, and the handful of
// MOON_*-prefixed environment variables the pipeline reads directly,
// layered with an optional .moon/workspace.yml file via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/moonrepo/pipeline-core/internal/turbopath"
	"github.com/moonrepo/pipeline-core/internal/util"
)

// CacheMode controls whether the cache engine reads, writes, both, or is
// disabled entirely, per spec.md §4.2. Sourced from the MOON_CACHE
// environment variable or the workspace config's cache.mode key.
type CacheMode string

const (
	CacheReadWrite CacheMode = "read-write"
	CacheReadOnly  CacheMode = "read-only"
	CacheWriteOnly CacheMode = "write-only"
	CacheOff       CacheMode = "off"
)

// CanRead reports whether the cache engine is allowed to serve hits.
func (m CacheMode) CanRead() bool {
	return m == CacheReadWrite || m == CacheReadOnly
}

// CanWrite reports whether the cache engine is allowed to persist results.
func (m CacheMode) CanWrite() bool {
	return m == CacheReadWrite || m == CacheWriteOnly
}

func parseCacheMode(raw string) (CacheMode, error) {
	switch CacheMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CacheReadWrite:
		return CacheReadWrite, nil
	case CacheReadOnly:
		return CacheReadOnly, nil
	case CacheWriteOnly:
		return CacheWriteOnly, nil
	case CacheOff:
		return CacheOff, nil
	default:
		return "", fmt.Errorf("invalid cache mode %q: want one of read-write, read-only, write-only, off", raw)
	}
}

// RemoteConfig holds the Bazel Remote Execution API cache endpoint
// settings, if remote caching is configured.
type RemoteConfig struct {
	Host        string `mapstructure:"host"`
	Instance    string `mapstructure:"instance"`
	Insecure    bool   `mapstructure:"insecure"`
	TLSSkipVerify bool `mapstructure:"tlsSkipVerify"`
}

// Enabled reports whether a remote cache endpoint was configured.
func (r RemoteConfig) Enabled() bool {
	return r.Host != ""
}

// WorkspaceConfig is the resolved configuration for one pipeline run,
// merged from the .moon/workspace.yml file and CLI flags (flags win), with
// the MOON_CACHE, MOON_CONCURRENCY and MOON_REMOTE_HOST environment
// variables overriding both when set.
type WorkspaceConfig struct {
	Root turbopath.AbsoluteSystemPath

	CacheMode CacheMode
	CacheDir  turbopath.AbsoluteSystemPath

	Concurrency int

	Remote RemoteConfig

	// ToolchainVersions holds each toolchain id's version constraint
	// (e.g. "node" -> "^18.0.0"), read from workspace.yml's "toolchains"
	// key. Every value is validated as a semver.Constraint at Load time:
	// an unparseable constraint fails fast here rather than deep inside
	// SetupToolchain dispatch.
	ToolchainVersions map[string]string
}

// InvalidVersionConstraintError is returned when a workspace.yml toolchain
// entry's version string does not parse as a semver constraint.
type InvalidVersionConstraintError struct {
	ToolchainID string
	Constraint  string
	Cause       error
}

func (e *InvalidVersionConstraintError) Error() string {
	return fmt.Sprintf("toolchain %q version constraint %q is invalid: %v", e.ToolchainID, e.Constraint, e.Cause)
}

func (e *InvalidVersionConstraintError) Unwrap() error { return e.Cause }

// ToolchainConstraint parses and returns the semver.Constraint declared for
// toolchainID, or ok=false if the workspace config does not pin a version
// for it (any version is then acceptable to SetupToolchain).
func (c *WorkspaceConfig) ToolchainConstraint(toolchainID string) (constraint *semver.Constraints, ok bool, err error) {
	raw, present := c.ToolchainVersions[toolchainID]
	if !present {
		return nil, false, nil
	}
	parsed, err := semver.NewConstraint(raw)
	if err != nil {
		return nil, false, &InvalidVersionConstraintError{ToolchainID: toolchainID, Constraint: raw, Cause: err}
	}
	return parsed, true, nil
}

const (
	envCacheMode    = "MOON_CACHE"
	envWorkspaceDir = "MOON_WORKSPACE_ROOT"
	envConcurrency  = "MOON_CONCURRENCY"
	envRemoteHost   = "MOON_REMOTE_HOST"
)

// AddFlags registers the pipeline's workspace-level flags onto flags,
// binding each one directly into viper so flag, env, and file sources
// resolve through the same lookup.
func AddFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.String("cache-mode", "", "Cache mode: read-write, read-only, write-only, off")

	var concurrency int
	flags.Var(&util.ConcurrencyValue{Value: &concurrency}, "concurrency", "Maximum concurrent actions: a number, or a percentage of CPU cores (e.g. 50%)")

	flags.String("remote-host", "", "Bazel Remote Execution API host:port for remote caching")
	_ = v.BindPFlag("cache.mode", flags.Lookup("cache-mode"))
	_ = v.BindPFlag("concurrency", flags.Lookup("concurrency"))
	_ = v.BindPFlag("remote.host", flags.Lookup("remote-host"))
}

// Load resolves a WorkspaceConfig rooted at root. It reads
// <root>/.moon/workspace.yml if present, layers any flags already bound
// into v over it, then lets the MOON_CACHE, MOON_CONCURRENCY and
// MOON_REMOTE_HOST environment variables override both.
func Load(root turbopath.AbsoluteSystemPath, v *viper.Viper) (*WorkspaceConfig, error) {
	v.SetConfigName("workspace")
	v.SetConfigType("yaml")
	v.AddConfigPath(root.UntypedJoin(".moon").ToString())
	v.SetEnvPrefix("MOON")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading workspace config: %w", err)
		}
	}

	rawMode := v.GetString("cache.mode")
	if env := os.Getenv(envCacheMode); env != "" {
		rawMode = env
	}
	mode, err := parseCacheMode(rawMode)
	if err != nil {
		return nil, err
	}

	concurrency := v.GetInt("concurrency")
	if env := os.Getenv(envConcurrency); env != "" {
		parsed, err := util.ParseConcurrency(env)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envConcurrency, err)
		}
		concurrency = parsed
	}

	remote := RemoteConfig{}
	_ = v.UnmarshalKey("remote", &remote)
	if env := os.Getenv(envRemoteHost); env != "" {
		remote.Host = env
	}

	toolchainVersions := v.GetStringMapString("toolchains")
	for id, raw := range toolchainVersions {
		if _, err := semver.NewConstraint(raw); err != nil {
			return nil, &InvalidVersionConstraintError{ToolchainID: id, Constraint: raw, Cause: err}
		}
	}

	cacheDir := root.UntypedJoin(".moon", "cache")

	return &WorkspaceConfig{
		Root:              root,
		CacheMode:         mode,
		CacheDir:          cacheDir,
		Concurrency:       concurrency,
		Remote:            remote,
		ToolchainVersions: toolchainVersions,
	}, nil
}

// ResolveRoot finds the workspace root, preferring the explicit override,
// then the MOON_WORKSPACE_ROOT environment variable, then cwd. A relative
// override or env value is joined onto cwd; an absolute one is used as is.
func ResolveRoot(cwd turbopath.AbsoluteSystemPath, override string) turbopath.AbsoluteSystemPath {
	raw := override
	if raw == "" {
		raw = os.Getenv(envWorkspaceDir)
	}
	if raw == "" {
		return cwd
	}
	if filepath.IsAbs(raw) {
		return turbopath.AbsoluteSystemPathFromUpstream(raw)
	}
	return cwd.UntypedJoin(raw)
}
