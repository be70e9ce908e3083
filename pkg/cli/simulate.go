package cli

import (
	"regexp"

	"github.com/devicelab-dev/ntr-runner/pkg/driver/mock"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// textPath matches structural paths of the form //Class[@text="v"].
var textPath = regexp.MustCompile(`^//([\w.]+)\[@text=["']([^"']*)["']\]$`)

// simulateScreen adds one mock element for everything plan looks up, so a
// dry run exercises the engine without a device. Structural paths other
// than //Class[@text="v"] cannot be derived and are left unmatched.
func simulateScreen(r *mock.Remote, plan *flow.Plan, ready *flow.Locator) {
	if ready == nil {
		ready = plan.Config.Ready
	}
	if ready != nil {
		addLocator(r, *ready, "")
	}

	keys := make(map[string]bool)
	for _, step := range plan.Steps {
		switch step.Action {
		case flow.ActionProbeText:
			r.Add(mock.Element{Text: step.Text})
		case flow.ActionKeypad:
			widget := step.Locator.Widget
			if widget == "" {
				widget = flow.WidgetButton
			}
			for _, k := range step.Text {
				if key := widget + string(k); !keys[key] {
					keys[key] = true
					r.Add(mock.Element{Text: string(k), Class: widget})
				}
			}
		case flow.ActionPause:
		default:
			addLocator(r, step.Locator, step.Expect)
		}
	}
}

func addLocator(r *mock.Remote, loc flow.Locator, text string) {
	switch loc.Kind {
	case flow.ByStableID:
		r.Add(mock.Element{ResourceID: loc.Value, Text: text})
	case flow.ByVisibleText:
		r.Add(mock.Element{Text: loc.Value, Class: loc.Widget})
	case flow.ByStructuralPath:
		if m := textPath.FindStringSubmatch(loc.Value); m != nil {
			r.Add(mock.Element{Text: m[2], Class: m[1]})
			return
		}
		logger.Debug("Not simulating %s", loc.Describe())
	default:
		logger.Debug("Not simulating %s", loc.Describe())
	}
}
