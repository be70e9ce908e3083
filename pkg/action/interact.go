package action

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
)

// Click waits for loc and clicks it.
func (e *Executor) Click(ctx context.Context, s *core.Session, step string, loc flow.Locator, opts ClickOptions) error {
	cond := flow.CondClickable
	if opts.Condition != nil {
		cond = *opts.Condition
	}

	return e.run(step, func() (string, error) {
		el, err := e.Wait.Await(ctx, s, loc, cond, e.timeout(opts.Timeout))
		if err != nil {
			return "", err
		}

		if opts.ExpectedText != "" {
			text, err := s.Attribute(ctx, el, core.AttrText)
			if err != nil {
				return "", fmt.Errorf("read text of %s: %w", loc.Describe(), err)
			}
			if text != opts.ExpectedText {
				return "", mismatch(loc, opts.ExpectedText, text)
			}
		}

		if err := s.Click(ctx, el); err != nil {
			return "", fmt.Errorf("click %s: %w", loc.Describe(), err)
		}
		return "clicked " + loc.Describe(), nil
	})
}

// TypeText waits for loc to be present and sends text in one call.
func (e *Executor) TypeText(ctx context.Context, s *core.Session, step string, loc flow.Locator, text string, timeout time.Duration) error {
	return e.run(step, func() (string, error) {
		el, err := e.Wait.Await(ctx, s, loc, flow.CondPresent, e.timeout(timeout))
		if err != nil {
			return "", err
		}
		if err := s.SendText(ctx, el, text); err != nil {
			return "", fmt.Errorf("send text to %s: %w", loc.Describe(), err)
		}
		return fmt.Sprintf("entered %d characters into %s", len(text), loc.Describe()), nil
	})
}

// TapKeys enters keys on an on-screen keypad, one click per character on
// the key whose visible text is that character.
func (e *Executor) TapKeys(ctx context.Context, s *core.Session, step string, keys string, opts KeypadOptions) error {
	return e.run(step, func() (string, error) {
		chars := []rune(keys)
		for i, ch := range chars {
			loc := flow.Locator{Kind: flow.ByVisibleText, Value: string(ch), Widget: opts.Widget}
			el, err := e.Wait.Await(ctx, s, loc, flow.CondClickable, e.timeout(opts.Timeout))
			if err != nil {
				return "", fmt.Errorf("key %q: %w", ch, err)
			}
			if err := s.Click(ctx, el); err != nil {
				return "", fmt.Errorf("key %q: %w", ch, err)
			}
			if opts.Delay > 0 && i < len(chars)-1 {
				if err := e.clock().Sleep(ctx, opts.Delay); err != nil {
					return "", err
				}
			}
		}
		return fmt.Sprintf("tapped %d keys", len(chars)), nil
	})
}

// Pause sleeps for d. It is recorded like any other step.
func (e *Executor) Pause(ctx context.Context, step string, d time.Duration) error {
	return e.run(step, func() (string, error) {
		if err := e.clock().Sleep(ctx, d); err != nil {
			return "", err
		}
		return "paused " + d.String(), nil
	})
}

func mismatch(loc flow.Locator, expected, found string) error {
	return core.ErrValidationMismatch.
		WithMessage(fmt.Sprintf("validation failed for %s: expected %q, found %q", loc.Describe(), expected, found)).
		WithDetails(map[string]interface{}{
			"locator":  loc.Describe(),
			"expected": expected,
			"observed": found,
		})
}
