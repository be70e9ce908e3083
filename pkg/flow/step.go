package flow

import (
	"fmt"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
)

// Action is the kind of work a step performs.
type Action string

// Action constants.
const (
	// Interaction
	ActionClick  Action = "click"
	ActionType   Action = "type"
	ActionKeypad Action = "keypad"
	ActionPause  Action = "pause"

	// Validation
	ActionProbeText       Action = "probeText"
	ActionAssertPresent   Action = "assertPresent"
	ActionAssertClickable Action = "assertClickable"
	ActionAssertText      Action = "assertText"
)

// MissingPolicy decides what a text probe does when the text never shows up.
type MissingPolicy string

const (
	MissingWarn MissingPolicy = "warn" // Record a warning and continue
	MissingFail MissingPolicy = "fail" // Fail the step and abort the run
)

// Step is one declarative step descriptor.
type Step struct {
	Name      string        `yaml:"name"`
	Action    Action        `yaml:"action"`
	Locator   Locator       `yaml:"locator"`
	Wait      string        `yaml:"wait"`      // Click wait condition: clickable (default) or visible
	Text      string        `yaml:"text"`      // Input for type/keypad, substring for probeText
	Expect    string        `yaml:"expect"`    // Expected text for click/assertText
	TimeoutMs int           `yaml:"timeout"`   // Wait budget, default 10000
	DelayMs   int           `yaml:"delay"`     // Keypad inter-key delay
	Duration  int           `yaml:"duration"`  // Pause length (ms)
	OnMissing MissingPolicy `yaml:"onMissing"` // probeText only, default warn
	SettleMs  int           `yaml:"settle"`    // Sleep after the step succeeds (ms)
}

// Timeout returns the step's wait budget, or def if unset.
func (s *Step) Timeout(def time.Duration) time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return def
}

// Describe returns a human-readable description.
func (s *Step) Describe() string {
	switch s.Action {
	case ActionProbeText:
		return fmt.Sprintf("%s: %q", s.Action, s.Text)
	case ActionPause:
		return fmt.Sprintf("%s: %dms", s.Action, s.Duration)
	case ActionKeypad:
		return fmt.Sprintf("%s: %q", s.Action, s.Text)
	default:
		return fmt.Sprintf("%s: %s", s.Action, s.Locator.Describe())
	}
}

// Validate checks that the step has everything its action needs.
func (s *Step) Validate() error {
	if s.Name == "" {
		return s.invalid("step has no name")
	}

	switch s.Action {
	case ActionClick:
		if _, err := ParseCondition(s.Wait, CondClickable); err != nil {
			return s.invalid(err.Error())
		}
		return s.requireLocator()
	case ActionType, ActionAssertPresent, ActionAssertClickable:
		return s.requireLocator()
	case ActionAssertText:
		if err := s.requireLocator(); err != nil {
			return err
		}
		if s.Expect == "" {
			return s.invalid("assertText requires expect")
		}
	case ActionKeypad, ActionProbeText:
		if s.Text == "" {
			return s.invalid(fmt.Sprintf("%s requires text", s.Action))
		}
		switch s.OnMissing {
		case "", MissingWarn, MissingFail:
		default:
			return s.invalid(fmt.Sprintf("unknown onMissing %q", s.OnMissing))
		}
	case ActionPause:
		if s.Duration <= 0 {
			return s.invalid("pause requires a positive duration")
		}
	case "":
		return s.invalid("step has no action")
	default:
		return s.invalid(fmt.Sprintf("unknown action %q", s.Action))
	}
	return nil
}

func (s *Step) requireLocator() error {
	if s.Locator.IsEmpty() {
		return s.invalid("neither an id, text nor xpath was given")
	}
	return nil
}

func (s *Step) invalid(msg string) error {
	name := s.Name
	if name == "" {
		name = string(s.Action)
	}
	return core.ErrConfiguration.WithMessage(fmt.Sprintf("step %q: %s", name, msg))
}
