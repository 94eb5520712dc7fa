// Package console adapts the teacher's terminal-output stack (internal/ui,
// internal/colorcache, internal/logger, internal/spinner) into a concrete
// collaborators.ConsoleReporter, the pipeline's progress-reporting
// collaborator (spec.md §6). Grounded on the teacher's run summary/visitor
// printing in internal/ui and internal/logger, generalized from turbo's
// per-package task lines to this pipeline's per-Action lines.
package console

import (
	"fmt"
	"sync"

	"github.com/mitchellh/cli"

	"github.com/moonrepo/pipeline-core/internal/colorcache"
	"github.com/moonrepo/pipeline-core/internal/logger"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/ui"
	"github.com/moonrepo/pipeline-core/internal/util"
)

// Reporter is a concrete collaborators.ConsoleReporter printing one colored
// line per action transition to a cli.Ui, with each action's label holding
// a stable color across its whole lifetime via a colorcache.ColorCache.
type Reporter struct {
	UI     cli.Ui
	Logger *logger.Logger

	mu     sync.Mutex
	colors *colorcache.ColorCache
}

// New constructs a Reporter writing to term.
func New(term cli.Ui) *Reporter {
	util.InitPrintf()
	return &Reporter{UI: term, Logger: logger.New(), colors: colorcache.New()}
}

func (r *Reporter) prefix(label string) string {
	return r.colors.PrefixWithColor(label, label)
}

// OnActionStarted prints a dimmed "queued" line for action.
func (r *Reporter) OnActionStarted(action model.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UI.Output(fmt.Sprintf("%s%s", r.prefix(action.Label), ui.Dim("queued")))
}

// OnActionRunning prints a bold "running" line for action.
func (r *Reporter) OnActionRunning(action model.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UI.Output(fmt.Sprintf("%s%s", r.prefix(action.Label), ui.Bold("running")))
}

// OnActionCompleted prints the terminal status line for action, colored by
// outcome: green for a pass or cache hit, red for a failure, dimmed for a
// skip.
func (r *Reporter) OnActionCompleted(action model.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var status string
	switch action.Status {
	case model.StatusPassed:
		status = util.Sprintf("$BOLD_GREEN%s$RESET", ">>> PASSED")
	case model.StatusCached:
		status = util.Sprintf("$GREEN%s$RESET", ">>> CACHED")
	case model.StatusSkipped:
		status = ui.Dim(">>> SKIPPED")
	default:
		status = util.Sprintf("$BOLD_RED%s$RESET", ">>> "+string(action.Status))
	}

	line := fmt.Sprintf("%s%s (%s)", r.prefix(action.Label), status, action.Duration())
	if action.Status.IsFailure() {
		r.UI.Error(line)
		if action.Error != "" {
			r.UI.Error(fmt.Sprintf("%s%s", r.prefix(action.Label), action.Error))
		}
		return
	}
	r.UI.Output(line)
}

// WriteLine writes line to the UI unmodified, for plain status output
// (e.g. run summary totals) that isn't tied to a single action.
func (r *Reporter) WriteLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UI.Output(line)
}

// Render prints a best-effort string form of element. This reporter
// doesn't implement a structured rendering vocabulary (tables, checkpoint
// lists); callers that need one should build on top of cli.Ui directly.
func (r *Reporter) Render(element interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UI.Output(fmt.Sprintf("%v", element))
}
