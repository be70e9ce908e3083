package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// IsTextVisible reports whether an element whose text contains substring is
// displayed within timeout. It never fails: a miss of any kind is recorded as
// a warning and returns false.
func (e *Executor) IsTextVisible(ctx context.Context, s *core.Session, step, substring string, timeout time.Duration) bool {
	loc := flow.ByTextContaining(substring)
	return e.probe(step, func() (string, bool) {
		if _, err := e.Wait.Await(ctx, s, loc, flow.CondVisible, e.timeout(timeout)); err != nil {
			logger.Warn("probe %q: %v", step, err)
			return fmt.Sprintf("text %q not visible: %v", substring, err), false
		}
		return fmt.Sprintf("text %q visible", substring), true
	})
}

// AssertTextVisible is IsTextVisible for call sites where a miss must fail
// the run.
func (e *Executor) AssertTextVisible(ctx context.Context, s *core.Session, step, substring string, timeout time.Duration) error {
	loc := flow.ByTextContaining(substring)
	return e.run(step, func() (string, error) {
		if _, err := e.Wait.Await(ctx, s, loc, flow.CondVisible, e.timeout(timeout)); err != nil {
			return "", validationFailed(err, fmt.Sprintf("text %q not visible", substring))
		}
		return fmt.Sprintf("text %q visible", substring), nil
	})
}

// AssertPresent fails with ErrValidationFailed unless loc is found within timeout.
func (e *Executor) AssertPresent(ctx context.Context, s *core.Session, step string, loc flow.Locator, timeout time.Duration) error {
	return e.run(step, func() (string, error) {
		if _, err := e.Wait.Await(ctx, s, loc, flow.CondPresent, e.timeout(timeout)); err != nil {
			return "", validationFailed(err, subject(loc)+" not found")
		}
		return subject(loc) + " present", nil
	})
}

// AssertClickable fails with ErrValidationFailed unless loc is displayed and
// enabled within timeout.
func (e *Executor) AssertClickable(ctx context.Context, s *core.Session, step string, loc flow.Locator, timeout time.Duration) error {
	return e.run(step, func() (string, error) {
		if _, err := e.Wait.Await(ctx, s, loc, flow.CondClickable, e.timeout(timeout)); err != nil {
			return "", validationFailed(err, subject(loc)+" not found or not clickable")
		}
		return subject(loc) + " clickable", nil
	})
}

// AssertText waits for the text of loc to equal expected. If the element was
// found but its text never matched, the error is ErrValidationMismatch;
// otherwise ErrValidationFailed.
func (e *Executor) AssertText(ctx context.Context, s *core.Session, step string, loc flow.Locator, expected string, timeout time.Duration) error {
	return e.run(step, func() (string, error) {
		_, err := e.Wait.Await(ctx, s, loc, flow.TextIs(expected), e.timeout(timeout))
		if err == nil {
			return fmt.Sprintf("%s has text %q", subject(loc), expected), nil
		}

		var ee *core.ExecutionError
		if errors.As(err, &ee) && errors.Is(ee, core.ErrTimeout) && ee.Detail("present") == "true" {
			return "", mismatch(loc, expected, ee.Detail("observed"))
		}
		return "", validationFailed(err, subject(loc)+" not found")
	})
}

// validationFailed turns a lookup miss into ErrValidationFailed. Connection
// and configuration errors pass through unchanged.
func validationFailed(err error, msg string) error {
	switch core.CategoryOf(err) {
	case core.ErrCategoryConnection, core.ErrCategoryConfig:
		return err
	}
	if errors.Is(err, core.ErrTimeout) || errors.Is(err, core.ErrNotFound) {
		return core.ErrValidationFailed.
			WithMessage("validation failed: " + msg).
			WithCause(err)
	}
	return err
}

// subject names the element in assertion messages.
func subject(loc flow.Locator) string {
	switch loc.Kind {
	case flow.ByStableID:
		return fmt.Sprintf("element with id '%s'", loc.Value)
	case flow.ByVisibleText:
		return fmt.Sprintf("element with text '%s'", loc.Value)
	default:
		return "element " + loc.Describe()
	}
}
