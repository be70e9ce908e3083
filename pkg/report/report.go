package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// RunReport is the ordered record of one run. It is not safe for concurrent use.
type RunReport struct {
	RunID     string
	StartTime time.Time

	results  []ActionResult
	seen     map[string]struct{}
	terminal string
	failed   bool
}

// New creates an empty report with a fresh run ID.
func New(start time.Time) *RunReport {
	return &RunReport{
		RunID:     uuid.New().String(),
		StartTime: start,
		seen:      make(map[string]struct{}),
	}
}

// Record appends the outcome of step. A step name may be recorded once;
// a second Record for the same name is a caller bug and appends nothing.
func (r *RunReport) Record(step string, outcome core.Outcome, message string) error {
	return r.RecordDuration(step, outcome, message, 0)
}

// RecordDuration is Record with the time the step took.
func (r *RunReport) RecordDuration(step string, outcome core.Outcome, message string, d time.Duration) error {
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	if _, dup := r.seen[step]; dup {
		return core.ErrConfiguration.WithMessage(fmt.Sprintf("step %q recorded twice", step))
	}
	r.seen[step] = struct{}{}
	r.results = append(r.results, ActionResult{
		Step:     step,
		Outcome:  outcome,
		Message:  message,
		Order:    len(r.results),
		Duration: d,
	})
	logger.Step(step, outcome.String(), d.Milliseconds(), message)
	return nil
}

// Has reports whether step has already been recorded.
func (r *RunReport) Has(step string) bool {
	_, ok := r.seen[step]
	return ok
}

// Fail sets the terminal error. Only the first call has an effect.
func (r *RunReport) Fail(message string) {
	if r.failed {
		return
	}
	r.failed = true
	r.terminal = message
	logger.Error("run aborted: %s", message)
}

// TerminalError returns the terminal error message and whether one is set.
func (r *RunReport) TerminalError() (string, bool) {
	return r.terminal, r.failed
}

// Passed reports whether the run finished without a terminal error or a
// failed step.
func (r *RunReport) Passed() bool {
	if r.failed {
		return false
	}
	for _, res := range r.results {
		if !res.Outcome.IsSuccess() {
			return false
		}
	}
	return true
}

// Results returns a copy of the recorded results in order.
func (r *RunReport) Results() []ActionResult {
	return append([]ActionResult(nil), r.results...)
}

// Len returns the number of recorded results.
func (r *RunReport) Len() int { return len(r.results) }

// Render returns one "<marker> <step>" line per result followed by
// "terminal error: <message>" when the run aborted.
func (r *RunReport) Render() []string {
	lines := make([]string, 0, len(r.results)+1)
	for _, res := range r.results {
		lines = append(lines, res.Line())
	}
	if r.failed {
		lines = append(lines, "terminal error: "+r.terminal)
	}
	return lines
}

// Summary counts results by outcome.
func (r *RunReport) Summary() Summary {
	s := Summary{Total: len(r.results)}
	for _, res := range r.results {
		switch res.Outcome {
		case core.OutcomeSuccess:
			s.Passed++
		case core.OutcomeFailure:
			s.Failed++
		case core.OutcomeWarning:
			s.Warnings++
		}
	}
	return s
}
