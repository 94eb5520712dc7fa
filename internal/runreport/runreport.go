// Package runreport persists the outcome of one pipeline run to
// .moon/cache/runReport.json: every action, the run context, and the
// terminal pipeline status, so a CI job or a later invocation can inspect
// what happened without re-parsing console output.
//
// The on-disk shape is a flat JSON document keyed by Action/Operation
// records, written once per run so it stays diffable between runs.
package runreport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/moonrepo/pipeline-core/internal/fs"
	"github.com/moonrepo/pipeline-core/internal/model"
	"github.com/moonrepo/pipeline-core/internal/pipeline"
	"github.com/moonrepo/pipeline-core/internal/turbopath"
)

// reportVersion is an explicit format version field so a future reader can
// ignore unknown fields rather than fail to parse an older report
// (spec.md §9, "Config evolution").
const reportVersion = 1

// Context carries the run-level facts that aren't part of any single
// Action: what was requested and when.
type Context struct {
	Targets    []string `json:"targets"`
	Affected   bool     `json:"affected"`
	WorkingDir string   `json:"workingDir"`
}

// Counts summarizes terminal statuses across every action, for the
// console reporter's closing line (spec.md §7, "passed/failed/cached/skipped").
type Counts struct {
	Passed  int `json:"passed"`
	Cached  int `json:"cached"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Report is the full JSON document written to runReport.json.
type Report struct {
	Version  int             `json:"version"`
	Context  Context         `json:"context"`
	Status   pipeline.Status `json:"pipelineStatus"`
	Duration time.Duration   `json:"durationNanos"`
	Counts   Counts          `json:"counts"`
	Actions  []model.Action  `json:"actions"`
	WrittenAt time.Time      `json:"writtenAt"`
}

// Build assembles a Report from a pipeline result, without writing it.
func Build(result pipeline.Result, ctx Context, now time.Time) Report {
	counts := Counts{}
	for _, a := range result.Actions {
		switch a.Status {
		case model.StatusPassed:
			counts.Passed++
		case model.StatusCached:
			counts.Cached++
		case model.StatusSkipped:
			counts.Skipped++
		case model.StatusFailed, model.StatusFailedAndAbort, model.StatusInvalid:
			counts.Failed++
		}
	}
	return Report{
		Version:   reportVersion,
		Context:   ctx,
		Status:    result.Status,
		Duration:  result.Duration,
		Counts:    counts,
		Actions:   result.Actions,
		WrittenAt: now,
	}
}

// FailureError collects every failed action's error into a single
// *multierror.Error, one line per action, so a command's exit path can
// print one combined summary instead of only the counts table. Returns
// nil if no action ended in a failing status.
func (r Report) FailureError() error {
	var result *multierror.Error
	for i := range r.Actions {
		a := &r.Actions[i]
		switch a.Status {
		case model.StatusFailed, model.StatusFailedAndAbort, model.StatusInvalid:
			msg := a.Error
			if msg == "" {
				msg = string(a.Status)
			}
			result = multierror.Append(result, fmt.Errorf("%s: %s", a.Label, msg))
		}
	}
	return result.ErrorOrNil()
}

// Write serializes report as indented JSON and atomically writes it to
// <cacheDir>/runReport.json.
func Write(cacheDir turbopath.AbsoluteSystemPath, report Report) error {
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(cacheDir.UntypedJoin("runReport.json"), buf, 0o644)
}

// Read loads and parses a previously written run report, ignoring unknown
// fields (the default for encoding/json) so older/newer reports remain
// readable across a format version bump.
func Read(cacheDir turbopath.AbsoluteSystemPath) (Report, error) {
	buf, err := fs.ReadSystemFile(cacheDir.UntypedJoin("runReport.json"))
	if err != nil {
		return Report{}, err
	}
	var report Report
	if err := json.Unmarshal(buf, &report); err != nil {
		return Report{}, err
	}
	return report, nil
}
