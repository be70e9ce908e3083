package flow

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed plans/*.yaml
var builtinPlans embed.FS

// DefaultPlan is the name of the embedded plan run when no plan file is given.
const DefaultPlan = "ntr-signup"

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a plan file.
func ParseFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided plan file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Builtin parses an embedded plan by name.
func Builtin(name string) (*Plan, error) {
	data, err := builtinPlans.ReadFile("plans/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown builtin plan %q", name)
	}
	return Parse(data, "builtin:"+name)
}

// Parse parses plan YAML content. A plan is either a bare list of steps or
// a config document followed by a "---" separator and the list of steps.
func Parse(data []byte, sourcePath string) (*Plan, error) {
	parts := splitYAMLDocuments(string(data))

	plan := &Plan{
		SourcePath: sourcePath,
	}

	if len(parts) == 0 {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    1,
			Message: "empty plan file",
		}
	}

	if len(parts) == 1 {
		if err := parseSteps(parts[0], plan); err != nil {
			return nil, err
		}
	} else {
		if err := parseConfig(parts[0], plan); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], plan); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimRight(line, " \t\r") == "---" {
			if strings.TrimSpace(current.String()) != "" {
				parts = append(parts, current.String())
			}
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}
	return parts
}

func parseConfig(content string, plan *Plan) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    plan.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	plan.Config = config
	return nil
}

func parseSteps(content string, plan *Plan) error {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(content), &node); err != nil {
		return &ParseError{
			Path:    plan.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.SequenceNode {
		return &ParseError{
			Path:    plan.SourcePath,
			Line:    node.Line,
			Message: "steps must be a list",
		}
	}

	for _, item := range node.Content[0].Content {
		var step Step
		if err := item.Decode(&step); err != nil {
			return &ParseError{
				Path:    plan.SourcePath,
				Line:    item.Line,
				Message: err.Error(),
			}
		}
		plan.Steps = append(plan.Steps, step)
	}
	return nil
}
