// Package executor runs a plan against one session, connecting actions to the report.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/action"
	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
	"github.com/devicelab-dev/ntr-runner/pkg/report"
	"github.com/devicelab-dev/ntr-runner/pkg/session"
	"github.com/devicelab-dev/ntr-runner/pkg/wait"
)

// LaunchStep is the name under which opening the session is recorded.
const LaunchStep = "Connection & App Launch"

// RunnerConfig configures the runner.
type RunnerConfig struct {
	Capabilities core.Capabilities

	// Service is started before the session opens. Optional.
	Service session.Service

	StepTimeout    time.Duration // Default step wait budget
	StartupTimeout time.Duration // Budget for the ready locator after open

	// Ready overrides the plan's ready locator.
	Ready *flow.Locator

	// Wait is the polling policy shared by every step.
	Wait *wait.Policy

	// Live progress callback, called after each recorded result.
	OnStepComplete func(res report.ActionResult)
}

// Runner executes plans sequentially, stopping at the first fatal step.
type Runner struct {
	config RunnerConfig
	remote core.Remote
}

// New creates a new Runner.
func New(remote core.Remote, cfg RunnerConfig) *Runner {
	if cfg.Wait == nil {
		cfg.Wait = wait.NewPolicy(flow.DefaultPollInterval)
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = flow.DefaultTimeout
	}
	return &Runner{config: cfg, remote: remote}
}

func (r *Runner) clock() wait.Clock {
	if r.config.Wait.Clock != nil {
		return r.config.Wait.Clock
	}
	return wait.RealClock{}
}

// Run validates plan, opens the session, runs the steps in order and closes
// the session. The returned report holds one result per attempted step; the
// first fatal failure sets its terminal error and ends the run.
func (r *Runner) Run(ctx context.Context, plan *flow.Plan) *report.RunReport {
	clock := r.clock()
	rep := report.New(clock.Now())
	logger.Info("=== Run %s started: %s (%d steps) ===", rep.RunID, plan.Config.Name, len(plan.Steps))

	if err := validate(plan); err != nil {
		logger.Error("Plan validation failed: %v", err)
		rep.Fail(err.Error())
		return rep
	}

	ready := r.config.Ready
	if ready == nil {
		ready = plan.Config.Ready
	}
	lc := session.New(r.remote, session.Options{
		Service:        r.config.Service,
		Ready:          ready,
		StartupTimeout: r.config.StartupTimeout,
		Wait:           r.config.Wait,
	})

	start := clock.Now()
	s, err := lc.Open(ctx, r.config.Capabilities)
	if err != nil {
		r.record(rep, LaunchStep, core.OutcomeFailure, err.Error(), clock.Now().Sub(start))
		rep.Fail(fmt.Sprintf("%s: %v", LaunchStep, err))
		return rep
	}
	r.record(rep, LaunchStep, core.OutcomeSuccess, "session "+s.ID, clock.Now().Sub(start))

	defer func() {
		if err := lc.Close(ctx); err != nil {
			logger.Warn("Failed to close session: %v", err)
		}
	}()

	exec := action.New(r.config.Wait, rep)
	exec.DefaultTimeout = r.config.StepTimeout

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if err := ctx.Err(); err != nil {
			rep.Fail(fmt.Sprintf("run cancelled before %q: %v", step.Name, err))
			break
		}

		logger.Info("Step %d/%d: %s (%s)", i+1, len(plan.Steps), step.Name, step.Describe())
		err := r.dispatch(ctx, exec, s, step)
		r.notify(rep)
		if err != nil {
			rep.Fail(fmt.Sprintf("%s: %v", step.Name, err))
			break
		}

		if step.SettleMs > 0 {
			if err := clock.Sleep(ctx, time.Duration(step.SettleMs)*time.Millisecond); err != nil {
				rep.Fail(fmt.Sprintf("run cancelled after %q: %v", step.Name, err))
				break
			}
		}
	}

	sum := rep.Summary()
	logger.Info("=== Run %s finished: %d passed, %d failed, %d warnings ===", rep.RunID, sum.Passed, sum.Failed, sum.Warnings)
	return rep
}

func validate(plan *flow.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	for _, step := range plan.Steps {
		if step.Name == LaunchStep {
			return core.ErrConfiguration.WithMessage(fmt.Sprintf("step name %q is reserved", LaunchStep))
		}
	}
	return nil
}

// dispatch performs one step. A nil error means the run continues.
func (r *Runner) dispatch(ctx context.Context, exec *action.Executor, s *core.Session, step *flow.Step) error {
	timeout := step.Timeout(r.config.StepTimeout)

	switch step.Action {
	case flow.ActionClick:
		cond, err := flow.ParseCondition(step.Wait, flow.CondClickable)
		if err != nil {
			return err
		}
		return exec.Click(ctx, s, step.Name, step.Locator, action.ClickOptions{
			Condition:    &cond,
			ExpectedText: step.Expect,
			Timeout:      timeout,
		})

	case flow.ActionType:
		return exec.TypeText(ctx, s, step.Name, step.Locator, step.Text, timeout)

	case flow.ActionKeypad:
		widget := step.Locator.Widget
		if widget == "" {
			widget = flow.WidgetButton
		}
		return exec.TapKeys(ctx, s, step.Name, step.Text, action.KeypadOptions{
			Widget:  widget,
			Timeout: timeout,
			Delay:   time.Duration(step.DelayMs) * time.Millisecond,
		})

	case flow.ActionPause:
		return exec.Pause(ctx, step.Name, time.Duration(step.Duration)*time.Millisecond)

	case flow.ActionProbeText:
		if step.OnMissing == flow.MissingFail {
			return exec.AssertTextVisible(ctx, s, step.Name, step.Text, timeout)
		}
		// Advisory: a miss is a warning, never fatal.
		exec.IsTextVisible(ctx, s, step.Name, step.Text, timeout)
		return nil

	case flow.ActionAssertPresent:
		return exec.AssertPresent(ctx, s, step.Name, step.Locator, timeout)

	case flow.ActionAssertClickable:
		return exec.AssertClickable(ctx, s, step.Name, step.Locator, timeout)

	case flow.ActionAssertText:
		return exec.AssertText(ctx, s, step.Name, step.Locator, step.Expect, timeout)

	default:
		return core.ErrConfiguration.WithMessage(fmt.Sprintf("unknown action %q", step.Action))
	}
}

func (r *Runner) record(rep *report.RunReport, step string, outcome core.Outcome, msg string, d time.Duration) {
	if err := rep.RecordDuration(step, outcome, msg, d); err != nil {
		logger.Error("record %q: %v", step, err)
		return
	}
	r.notify(rep)
}

func (r *Runner) notify(rep *report.RunReport) {
	if r.config.OnStepComplete == nil || rep.Len() == 0 {
		return
	}
	results := rep.Results()
	r.config.OnStepComplete(results[len(results)-1])
}
