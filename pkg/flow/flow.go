package flow

import (
	"fmt"
	"regexp"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
)

// Plan is a parsed plan file: a fixed, ordered list of steps.
type Plan struct {
	SourcePath string // Path to the source file, "builtin:<name>" for embedded plans
	Config     Config // Plan configuration
	Steps      []Step // Steps to execute, in order
}

// Config represents plan-level configuration.
type Config struct {
	Name string            `yaml:"name"`
	Vars map[string]string `yaml:"vars"`  // Values may reference ${VAR} from the environment
	Ready *Locator         `yaml:"ready"` // Element that marks the app's initial screen
}

// Validate checks every step and rejects duplicate step names.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return core.ErrConfiguration.WithMessage("plan has no steps")
	}
	seen := make(map[string]int, len(p.Steps))
	for i := range p.Steps {
		step := &p.Steps[i]
		if err := step.Validate(); err != nil {
			return err
		}
		if prev, ok := seen[step.Name]; ok {
			return core.ErrConfiguration.WithMessage(
				fmt.Sprintf("duplicate step name %q (steps %d and %d)", step.Name, prev+1, i+1))
		}
		seen[step.Name] = i
	}
	return nil
}

// Expand returns a copy of the plan with ${VAR} references substituted.
// Plan vars are resolved against env first, then steps against env plus vars.
// Unknown references and every other $ are left untouched.
func (p *Plan) Expand(env map[string]string) *Plan {
	vars := make(map[string]string, len(env)+len(p.Config.Vars))
	for k, v := range env {
		vars[k] = v
	}
	for k, v := range p.Config.Vars {
		vars[k] = expand(v, env)
	}

	out := &Plan{
		SourcePath: p.SourcePath,
		Config:     p.Config,
		Steps:      make([]Step, len(p.Steps)),
	}
	out.Config.Vars = vars
	if p.Config.Ready != nil {
		ready := *p.Config.Ready
		ready.Value = expand(ready.Value, vars)
		out.Config.Ready = &ready
	}

	for i, s := range p.Steps {
		s.Name = expand(s.Name, vars)
		s.Text = expand(s.Text, vars)
		s.Expect = expand(s.Expect, vars)
		s.Locator.Value = expand(s.Locator.Value, vars)
		out.Steps[i] = s
	}
	return out
}

// varRef matches ${NAME}. Any other $ is literal text.
var varRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expand(s string, vars map[string]string) string {
	return varRef.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := vars[ref[2:len(ref)-1]]; ok {
			return v
		}
		return ref
	})
}
