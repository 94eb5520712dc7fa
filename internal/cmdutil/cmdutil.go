// Package cmdutil holds functionality shared by every pipeline-core
// subcommand: flag parsing, UI/logger construction, and workspace config
// resolution. Grounded on the teacher's internal/cmdutil.Helper, adapted
// from turbo's client/RepoConfig/UserConfig trio to this project's single
// config.WorkspaceConfig.
package cmdutil

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/moonrepo/pipeline-core/internal/config"
	"github.com/moonrepo/pipeline-core/internal/fs"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
	"github.com/moonrepo/pipeline-core/internal/ui"
)

const _envLogLevel = "MOON_LOG_LEVEL"

// Helper holds configuration values passed via flag, env var, or config
// file. It drives the construction of CmdBase, which subcommands use
// directly.
type Helper struct {
	// Version is the version of pipeline-core currently executing.
	Version string

	forceColor bool
	noColor    bool
	verbosity  int

	rawRepoRoot string

	cleanupsMu sync.Mutex
	cleanups   []io.Closer
}

// NewHelper returns a Helper for the given version string.
func NewHelper(version string) *Helper {
	return &Helper{Version: version}
}

// RegisterCleanup saves a function to run after the command completes,
// even if the command returns an error.
func (h *Helper) RegisterCleanup(cleanup io.Closer) {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	h.cleanups = append(h.cleanups, cleanup)
}

// Cleanup runs every registered cleanup handler, reporting failures to the
// UI built from flags.
func (h *Helper) Cleanup(flags *pflag.FlagSet) {
	h.cleanupsMu.Lock()
	defer h.cleanupsMu.Unlock()
	var term cli.Ui
	for _, cleanup := range h.cleanups {
		if err := cleanup.Close(); err != nil {
			if term == nil {
				term = h.getUI(flags)
			}
			term.Warn(fmt.Sprintf("failed cleanup: %v", err))
		}
	}
}

func (h *Helper) getUI(flags *pflag.FlagSet) cli.Ui {
	colorMode := ui.GetColorModeFromEnv()
	if flags.Changed("no-color") && h.noColor {
		colorMode = ui.ColorModeSuppressed
	}
	if flags.Changed("color") && h.forceColor {
		colorMode = ui.ColorModeForced
	}
	return ui.BuildColoredUi(colorMode)
}

func (h *Helper) getLogger() (hclog.Logger, error) {
	var level hclog.Level
	switch h.verbosity {
	case 0:
		if v := os.Getenv(_envLogLevel); v != "" {
			level = hclog.LevelFromString(v)
			if level == hclog.NoLevel {
				return nil, fmt.Errorf("%s value %q is not a valid log level", _envLogLevel, v)
			}
		} else {
			level = hclog.NoLevel
		}
	case 1:
		level = hclog.Info
	case 2:
		level = hclog.Debug
	default:
		level = hclog.Trace
	}

	output := ioutil.Discard
	colorOpt := hclog.ColorOff
	if level != hclog.NoLevel {
		output = os.Stderr
		colorOpt = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "pipeline-core",
		Level:  level,
		Color:  colorOpt,
		Output: output,
	}), nil
}

// AddFlags registers flags common to every subcommand, plus the
// config.WorkspaceConfig flags, and binds them into v.
func (h *Helper) AddFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.BoolVar(&h.forceColor, "color", false, "Force color usage in the terminal")
	flags.BoolVar(&h.noColor, "no-color", false, "Suppress color usage in the terminal")
	flags.CountVarP(&h.verbosity, "verbosity", "v", "verbosity")
	flags.StringVar(&h.rawRepoRoot, "cwd", "", "The directory in which to run")
	config.AddFlags(v, flags)
}

// GetCmdBase resolves a CmdBase from the current process environment and
// the flags already parsed into flags/v.
func (h *Helper) GetCmdBase(flags *pflag.FlagSet, v *viper.Viper) (*CmdBase, error) {
	term := h.getUI(flags)

	logger, err := h.getLogger()
	if err != nil {
		return nil, err
	}

	cwd, err := fs.GetCwd()
	if err != nil {
		return nil, errors.Wrap(err, "resolving current working directory")
	}

	rawOverride, err := homedir.Expand(h.rawRepoRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding home directory in --cwd %q", h.rawRepoRoot)
	}
	repoRoot := config.ResolveRoot(turbopath.AbsoluteSystemPathFromUpstream(cwd), rawOverride)

	ws, err := config.Load(repoRoot, v)
	if err != nil {
		return nil, errors.Wrapf(err, "loading workspace config at %v", repoRoot)
	}

	return &CmdBase{
		UI:        term,
		Logger:    logger,
		RepoRoot:  repoRoot,
		Workspace: ws,
		Version:   h.Version,
	}, nil
}

// CmdBase encompasses configured components common to all subcommands.
type CmdBase struct {
	UI        cli.Ui
	Logger    hclog.Logger
	RepoRoot  turbopath.AbsoluteSystemPath
	Workspace *config.WorkspaceConfig
	Version   string
}

// LogError prints an error to the UI.
func (b *CmdBase) LogError(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	b.Logger.Error("error", err)
	b.UI.Error(fmt.Sprintf("%s%s", ui.ERROR_PREFIX, color.RedString(" %v", err)))
}

// LogWarning logs and prints a warning.
func (b *CmdBase) LogWarning(prefix string, err error) {
	b.Logger.Warn(prefix, "warning", err)
	if prefix != "" {
		prefix = " " + prefix + ": "
	}
	b.UI.Warn(fmt.Sprintf("%s%s%s", ui.WARNING_PREFIX, prefix, color.YellowString(" %v", err)))
}

// LogInfo logs and prints an informational message.
func (b *CmdBase) LogInfo(msg string) {
	b.Logger.Info(msg)
	b.UI.Info(fmt.Sprintf("%s%s", ui.InfoPrefix, color.WhiteString(" %v", msg)))
}
