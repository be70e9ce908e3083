package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/config"
	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/device"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/report"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printBanner(w io.Writer) {
	title := fmt.Sprintf("  ntr-runner %s", Version)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║%s%s║\n", title, strings.Repeat(" ", max(0, 50-len(title))))
	fmt.Fprintln(w, "║  Appium UI runs for the NTR terminal app         ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════════╝")
}

func printSetup(w io.Writer, cfg *config.Config, plan *flow.Plan, endpoint, phone string, info *device.DeviceInfo) {
	serial := cfg.Capabilities.DeviceIdentifier
	if serial == "" {
		serial = "(any)"
	}
	if info != nil && info.Model != "" {
		serial = fmt.Sprintf("%s (%s %s, SDK %s)", serial, info.Brand, info.Model, info.SDK)
	}
	name := plan.Config.Name
	if name == "" {
		name = plan.SourcePath
	}

	fmt.Fprintf(w, "\n%sSetup%s\n", color(colorBold), color(colorReset))
	fmt.Fprintf(w, "  Plan:    %s (%d steps, %s)\n", name, len(plan.Steps), plan.SourcePath)
	fmt.Fprintf(w, "  Server:  %s\n", endpoint)
	fmt.Fprintf(w, "  Device:  %s\n", serial)
	if cfg.Capabilities.AppPackage != "" {
		fmt.Fprintf(w, "  App:     %s\n", cfg.Capabilities.AppPackage)
	}
	if phone != "" {
		fmt.Fprintf(w, "  Phone:   %s\n", phone)
	}
}

// printStep prints one live result line.
func printStep(w io.Writer, res report.ActionResult) {
	ms := res.Duration.Milliseconds()
	durStr := formatDuration(ms)

	switch res.Outcome {
	case core.OutcomeSuccess:
		durColor := ""
		if ms >= slowThresholdMs {
			durColor = color(colorYellow)
		}
		fmt.Fprintf(w, "    %s%s%s %s %s(%s)%s\n",
			color(colorGreen), res.Outcome.Marker(), color(colorReset), res.Step, durColor, durStr, color(colorReset))
	case core.OutcomeWarning:
		fmt.Fprintf(w, "    %s%s%s %s (%s)\n",
			color(colorYellow), res.Outcome.Marker(), color(colorReset), res.Step, durStr)
		if res.Message != "" {
			fmt.Fprintf(w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), res.Message)
		}
	default:
		fmt.Fprintf(w, "    %s%s%s %s (%s)\n",
			color(colorRed), res.Outcome.Marker(), color(colorReset), res.Step, durStr)
		if res.Message != "" {
			fmt.Fprintf(w, "      %s╰─%s %s\n", color(colorGray), color(colorReset), res.Message)
		}
	}
}

// printSummary prints the ordered step report followed by the success
// banner or the terminal error.
func printSummary(w io.Writer, rep *report.RunReport) {
	sum := rep.Summary()

	fmt.Fprintf(w, "\n%sSummary%s\n", color(colorBold), color(colorReset))
	for _, line := range rep.Render() {
		if strings.HasPrefix(line, "terminal error:") {
			fmt.Fprintf(w, "\n  %s%s%s\n", color(colorRed), line, color(colorReset))
			continue
		}
		fmt.Fprintf(w, "  %s\n", line)
	}

	fmt.Fprintln(w)
	if sum.Passed > 0 {
		fmt.Fprintf(w, "  %s%d steps passing%s (%s)\n", color(colorGreen), sum.Passed, color(colorReset),
			formatDuration(time.Since(rep.StartTime).Milliseconds()))
	}
	if sum.Warnings > 0 {
		fmt.Fprintf(w, "  %s%d warnings%s\n", color(colorYellow), sum.Warnings, color(colorReset))
	}
	if sum.Failed > 0 {
		fmt.Fprintf(w, "  %s%d steps failing%s\n", color(colorRed), sum.Failed, color(colorReset))
	}

	if rep.Passed() {
		fmt.Fprintf(w, "\n  %s🎉 All steps completed successfully%s\n", color(colorGreen), color(colorReset))
	}
}

func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
