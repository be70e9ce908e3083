// Package report aggregates per-step outcomes of a run into an ordered,
// in-memory report.
//
// A RunReport is append only: every attempted step contributes exactly one
// ActionResult, in the order the steps ran. A run that aborts early carries a
// terminal error and no results for the steps that never ran.
package report

import (
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
)

// ActionResult is the outcome of one step.
type ActionResult struct {
	Step     string
	Outcome  core.Outcome
	Message  string
	Order    int
	Duration time.Duration
}

// Line renders the result as "<marker> <step>".
func (r ActionResult) Line() string {
	return r.Outcome.Marker() + " " + r.Step
}

// Summary contains aggregated counts.
type Summary struct {
	Total    int
	Passed   int
	Failed   int
	Warnings int
}
