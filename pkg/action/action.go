// Package action performs interactions and validations against a session.
//
// Every Executor method takes a step name and records exactly one result in
// the run report before it returns. Interactions and assertions return an
// error; probes return a bool and never fail the run.
package action

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
	"github.com/devicelab-dev/ntr-runner/pkg/report"
	"github.com/devicelab-dev/ntr-runner/pkg/wait"
)

// Executor composes locator resolution and waiting into testable steps.
type Executor struct {
	Wait   *wait.Policy
	Report *report.RunReport

	// DefaultTimeout is used when a call passes a zero timeout.
	DefaultTimeout time.Duration
}

// New creates an executor recording into rep.
func New(policy *wait.Policy, rep *report.RunReport) *Executor {
	if policy == nil {
		policy = wait.NewPolicy(flow.DefaultPollInterval)
	}
	return &Executor{
		Wait:           policy,
		Report:         rep,
		DefaultTimeout: flow.DefaultTimeout,
	}
}

// ClickOptions configures Click.
type ClickOptions struct {
	// Condition to wait for before clicking; nil means Clickable.
	Condition *flow.Condition
	// ExpectedText, when set, must equal the element's text or the click
	// is skipped and the step fails with ErrValidationMismatch.
	ExpectedText string
	Timeout      time.Duration
}

// KeypadOptions configures TapKeys.
type KeypadOptions struct {
	// Widget restricts key lookups to one class, e.g. flow.WidgetButton.
	Widget  string
	Timeout time.Duration
	// Delay between key presses.
	Delay time.Duration
}

func (e *Executor) clock() wait.Clock {
	if e.Wait != nil && e.Wait.Clock != nil {
		return e.Wait.Clock
	}
	return wait.RealClock{}
}

func (e *Executor) timeout(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if e.DefaultTimeout > 0 {
		return e.DefaultTimeout
	}
	return flow.DefaultTimeout
}

// run executes fn as step and records its outcome. A step name that is
// already in the report is rejected before fn runs.
func (e *Executor) run(step string, fn func() (string, error)) error {
	if e.Report.Has(step) {
		return core.ErrConfiguration.WithMessage(fmt.Sprintf("step %q recorded twice", step))
	}

	clock := e.clock()
	start := clock.Now()
	logger.Info("step %q started", step)

	msg, err := fn()
	elapsed := clock.Now().Sub(start)

	outcome := core.OutcomeSuccess
	if err != nil {
		outcome = core.OutcomeFailure
		msg = err.Error()
	}
	if rerr := e.Report.RecordDuration(step, outcome, msg, elapsed); rerr != nil {
		return rerr
	}
	return err
}

// probe is run for calls whose miss is advisory.
func (e *Executor) probe(step string, fn func() (string, bool)) bool {
	if e.Report.Has(step) {
		logger.Error("step %q recorded twice", step)
		return false
	}

	clock := e.clock()
	start := clock.Now()
	msg, ok := fn()
	outcome := core.OutcomeSuccess
	if !ok {
		outcome = core.OutcomeWarning
	}
	if err := e.Report.RecordDuration(step, outcome, msg, clock.Now().Sub(start)); err != nil {
		logger.Error("record %q: %v", step, err)
	}
	return ok
}
