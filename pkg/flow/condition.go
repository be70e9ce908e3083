package flow

import (
	"fmt"
	"strings"
	"time"
)

// Default wait budget.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// ConditionKind is the state a wait polls for.
type ConditionKind int

const (
	Present ConditionKind = iota
	Visible
	Clickable
	TextEquals
)

// Condition is a wait condition. Expected is used by TextEquals only.
type Condition struct {
	Kind     ConditionKind
	Expected string
}

// Predefined conditions.
var (
	CondPresent   = Condition{Kind: Present}
	CondVisible   = Condition{Kind: Visible}
	CondClickable = Condition{Kind: Clickable}
)

// TextIs returns a TextEquals condition.
func TextIs(expected string) Condition {
	return Condition{Kind: TextEquals, Expected: expected}
}

// String returns a human-readable description.
func (c Condition) String() string {
	switch c.Kind {
	case Present:
		return "present"
	case Visible:
		return "visible"
	case Clickable:
		return "clickable"
	case TextEquals:
		return fmt.Sprintf("text == %q", c.Expected)
	default:
		return "unknown"
	}
}

// ParseCondition parses the wait field of a step.
// Empty input returns def.
func ParseCondition(s string, def Condition) (Condition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def, nil
	case "present":
		return CondPresent, nil
	case "visible":
		return CondVisible, nil
	case "clickable":
		return CondClickable, nil
	default:
		return Condition{}, fmt.Errorf("unknown wait condition %q (want present, visible or clickable)", s)
	}
}
