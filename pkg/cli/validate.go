package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var validateCommand = &cli.Command{
	Name:      "validate",
	Usage:     "Parse and check a plan without running it",
	ArgsUsage: "[plan-file]",
	Description: `Parse a plan file, or the built-in plan when none is given, and list
its steps. Exits non-zero if the plan is invalid.`,
	Action: validatePlan,
}

func validatePlan(c *cli.Context) error {
	plan, err := loadPlan(c.Args().First())
	if err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "%s%s%s: %d steps\n", color(colorBold), plan.SourcePath, color(colorReset), len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		fmt.Fprintf(w, "  %2d. %s %s(%s)%s\n", i+1, step.Name, color(colorGray), step.Describe(), color(colorReset))
	}
	fmt.Fprintf(w, "%s✓ plan is valid%s\n", color(colorGreen), color(colorReset))
	return nil
}
