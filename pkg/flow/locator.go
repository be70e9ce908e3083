// Package flow handles the declarative step plan: locators, wait conditions
// and step descriptors, and their YAML representation.
package flow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// LocatorKind is the strategy used to find an element.
type LocatorKind int

const (
	ByStableID       LocatorKind = iota // Resource ID
	ByVisibleText                       // Visible text, optionally scoped to a widget class
	ByStructuralPath                    // Raw XPath
)

// String returns the string representation of LocatorKind
func (k LocatorKind) String() string {
	switch k {
	case ByStableID:
		return "id"
	case ByVisibleText:
		return "text"
	case ByStructuralPath:
		return "xpath"
	default:
		return "unknown"
	}
}

// Locator references one UI element. It is a value type built per lookup
// and must not be cached with a resolved handle across steps.
type Locator struct {
	Kind    LocatorKind
	Value   string
	Widget  string // Class name for ByVisibleText, empty matches any
	Partial bool   // ByVisibleText matches a substring
}

// ByID returns a resource-ID locator.
func ByID(id string) Locator {
	return Locator{Kind: ByStableID, Value: id}
}

// ByText returns an exact visible-text locator matching any widget.
func ByText(text string) Locator {
	return Locator{Kind: ByVisibleText, Value: text}
}

// ByButtonText returns a visible-text locator scoped to Android buttons.
func ByButtonText(text string) Locator {
	return Locator{Kind: ByVisibleText, Value: text, Widget: WidgetButton}
}

// ByTextContaining returns a substring visible-text locator.
func ByTextContaining(text string) Locator {
	return Locator{Kind: ByVisibleText, Value: text, Partial: true}
}

// ByXPath returns a structural-path locator.
func ByXPath(path string) Locator {
	return Locator{Kind: ByStructuralPath, Value: path}
}

// Common Android widget classes.
const (
	WidgetButton   = "android.widget.Button"
	WidgetEditText = "android.widget.EditText"
)

// IsEmpty returns true if no locator value is set.
func (l Locator) IsEmpty() bool {
	return strings.TrimSpace(l.Value) == ""
}

// Describe returns a quoted description like id="value" or text="value".
func (l Locator) Describe() string {
	switch l.Kind {
	case ByVisibleText:
		op := "text"
		if l.Partial {
			op = "text~"
		}
		if l.Widget != "" {
			return fmt.Sprintf("%s[%s=%q]", l.Widget, op, l.Value)
		}
		return fmt.Sprintf("%s=%q", op, l.Value)
	case ByStructuralPath:
		return fmt.Sprintf("xpath=%q", l.Value)
	default:
		return fmt.Sprintf("id=%q", l.Value)
	}
}

// locatorRaw is used for YAML parsing.
type locatorRaw struct {
	ID       string `yaml:"id"`
	Text     string `yaml:"text"`
	Contains string `yaml:"contains"`
	XPath    string `yaml:"xpath"`
	Widget   string `yaml:"widget"`
}

// UnmarshalYAML allows Locator to be unmarshaled from a string (visible text)
// or a mapping with one of id, text, contains or xpath. When several are
// set, id wins over text, and text over xpath.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = ByText(node.Value)
		return nil
	}

	var raw locatorRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}

	switch {
	case raw.ID != "":
		*l = ByID(raw.ID)
	case raw.Text != "":
		*l = Locator{Kind: ByVisibleText, Value: raw.Text, Widget: widgetAlias(raw.Widget)}
	case raw.Contains != "":
		*l = Locator{Kind: ByVisibleText, Value: raw.Contains, Widget: widgetAlias(raw.Widget), Partial: true}
	case raw.XPath != "":
		*l = ByXPath(raw.XPath)
	default:
		*l = Locator{}
	}
	return nil
}

// widgetAlias expands short widget names used in plan files.
func widgetAlias(w string) string {
	switch strings.ToLower(w) {
	case "button":
		return WidgetButton
	case "edittext", "input":
		return WidgetEditText
	default:
		return w
	}
}
