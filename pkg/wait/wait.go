// Package wait polls a locator against a remote session until a condition
// holds or the timeout elapses.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/element"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// Clock abstracts time so waits can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	// WithDeadline returns a context that is done once the clock reaches t.
	WithDeadline(ctx context.Context, t time.Time) (context.Context, context.CancelFunc)
}

// RealClock is the wall clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// Sleep implements Clock. It returns early with ctx.Err() on cancellation.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithDeadline implements Clock.
func (RealClock) WithDeadline(ctx context.Context, t time.Time) (context.Context, context.CancelFunc) {
	return context.WithDeadline(ctx, t)
}

// Policy is a bounded polling contract.
type Policy struct {
	PollInterval time.Duration
	Clock        Clock
}

// NewPolicy creates a policy polling every interval on the wall clock.
func NewPolicy(interval time.Duration) *Policy {
	if interval <= 0 {
		interval = flow.DefaultPollInterval
	}
	return &Policy{PollInterval: interval, Clock: RealClock{}}
}

// observation is what the last poll saw.
type observation struct {
	present bool
	text    string
	err     error
}

// Await re-resolves loc on every poll and returns the fresh handle from the
// poll on which cond held. Handles from earlier polls are discarded.
//
// Lookup misses, stale handles and unclassified remote errors count as
// "not yet" and keep polling. Connection and configuration errors end the
// wait immediately. Every poll runs under a context that ends at the
// deadline, so a slow call is cut off rather than overrunning it. On timeout the error is core.ErrTimeout with details
// "locator", "condition", "polls", "present" and, for TextEquals, "observed".
func (p *Policy) Await(ctx context.Context, s *core.Session, loc flow.Locator, cond flow.Condition, timeout time.Duration) (core.Element, error) {
	if timeout <= 0 {
		timeout = flow.DefaultTimeout
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = flow.DefaultPollInterval
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock{}
	}

	start := clock.Now()
	deadline := start.Add(timeout)
	polls := 0
	var last observation

	for {
		polls++
		pollCtx, cancel := clock.WithDeadline(ctx, deadline)
		el, ok, obs := check(pollCtx, s, loc, cond)
		cancel()
		if obs.err != nil && ctx.Err() == nil && errors.Is(obs.err, context.DeadlineExceeded) {
			obs.err = context.DeadlineExceeded
			last = obs
			break
		}
		if obs.err != nil && !core.IsTransient(obs.err) {
			logger.Error("wait for %s (%s) aborted: %v", loc.Describe(), cond, obs.err)
			return core.Element{}, obs.err
		}
		if ok {
			logger.Debug("wait for %s (%s) satisfied after %d polls in %s", loc.Describe(), cond, polls, clock.Now().Sub(start))
			return el, nil
		}
		last = obs

		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			break
		}
		d := interval
		if remaining < d {
			d = remaining
		}
		if err := clock.Sleep(ctx, d); err != nil {
			return core.Element{}, fmt.Errorf("wait for %s cancelled: %w", loc.Describe(), err)
		}
	}

	logger.Warn("wait for %s (%s) timed out after %s (%d polls)", loc.Describe(), cond, timeout, polls)
	return core.Element{}, timeoutError(loc, cond, timeout, polls, last)
}

// check runs one poll: one lookup and the attribute reads the condition needs,
// all against the handle from this poll.
func check(ctx context.Context, s *core.Session, loc flow.Locator, cond flow.Condition) (core.Element, bool, observation) {
	var obs observation

	el, err := element.Resolve(ctx, s, loc)
	if err != nil {
		obs.err = err
		return core.Element{}, false, obs
	}
	obs.present = true

	attr := func(name string) (string, bool) {
		v, err := s.Attribute(ctx, el, name)
		if err != nil {
			obs.err = err
			return "", false
		}
		return v, true
	}

	switch cond.Kind {
	case flow.Present:
		return el, true, obs
	case flow.Visible:
		displayed, ok := attr(core.AttrDisplayed)
		return el, ok && displayed == "true", obs
	case flow.Clickable:
		displayed, ok := attr(core.AttrDisplayed)
		if !ok || displayed != "true" {
			return el, false, obs
		}
		enabled, ok := attr(core.AttrEnabled)
		return el, ok && enabled == "true", obs
	case flow.TextEquals:
		text, ok := attr(core.AttrText)
		obs.text = text
		return el, ok && text == cond.Expected, obs
	default:
		obs.err = core.ErrConfiguration.WithMessage(fmt.Sprintf("unknown wait condition %d", cond.Kind))
		return core.Element{}, false, obs
	}
}

func timeoutError(loc flow.Locator, cond flow.Condition, timeout time.Duration, polls int, last observation) *core.ExecutionError {
	details := map[string]interface{}{
		"locator":   loc.Describe(),
		"condition": cond.String(),
		"polls":     polls,
		"present":   fmt.Sprintf("%t", last.present),
	}
	if cond.Kind == flow.TextEquals && last.present {
		details["observed"] = last.text
	}

	err := core.ErrTimeout.
		WithMessage(fmt.Sprintf("timed out after %s waiting for %s to be %s", timeout, loc.Describe(), cond)).
		WithDetails(details)
	if last.err != nil {
		err = err.WithCause(last.err)
	}
	return err
}
