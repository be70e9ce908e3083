// Package element translates flow locators into single remote lookups.
package element

import (
	"context"
	"fmt"
	"strings"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
)

// Query returns the remote strategy and value for a locator.
func Query(loc flow.Locator) (strategy, value string, err error) {
	if loc.IsEmpty() {
		return "", "", core.ErrConfiguration.WithMessage("locator has neither an id, text nor xpath")
	}

	switch loc.Kind {
	case flow.ByStableID:
		return core.StrategyID, loc.Value, nil
	case flow.ByVisibleText:
		widget := loc.Widget
		if widget == "" {
			widget = "*"
		}
		if loc.Partial {
			return core.StrategyXPath, fmt.Sprintf("//%s[contains(@text, %s)]", widget, xpathLiteral(loc.Value)), nil
		}
		return core.StrategyXPath, fmt.Sprintf("//%s[@text=%s]", widget, xpathLiteral(loc.Value)), nil
	case flow.ByStructuralPath:
		return core.StrategyXPath, loc.Value, nil
	default:
		return "", "", core.ErrConfiguration.WithMessage(fmt.Sprintf("unknown locator kind %d", loc.Kind))
	}
}

// Resolve performs exactly one remote query for loc. It never retries;
// a missing element surfaces as core.ErrNotFound.
func Resolve(ctx context.Context, s *core.Session, loc flow.Locator) (core.Element, error) {
	strategy, value, err := Query(loc)
	if err != nil {
		return core.Element{}, err
	}

	el, err := s.Find(ctx, strategy, value)
	if err != nil {
		return core.Element{}, err
	}
	if el.ID == "" {
		return core.Element{}, core.ErrNotFound.WithMessage("element not found: " + loc.Describe())
	}
	return el, nil
}

// xpathLiteral quotes s as an XPath 1.0 string literal.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}

	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, part := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + part + `"`)
	}
	b.WriteString(")")
	return b.String()
}
