package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ntr-runner/pkg/config"
	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/driver/appium"
	"github.com/devicelab-dev/ntr-runner/pkg/driver/mock"
	"github.com/devicelab-dev/ntr-runner/pkg/executor"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/report"
	"github.com/devicelab-dev/ntr-runner/pkg/server"
	"github.com/devicelab-dev/ntr-runner/pkg/wait"
)

const quickPlan = `name: quick
---
- name: Check banner
  action: probeText
  text: Welcome

- name: Tap OK
  action: click
  locator:
    text: OK
    widget: button

- name: Enter phone
  action: keypad
  text: ${PHONE}

- name: Check field
  action: assertText
  locator:
    id: app:id/phone
  expect: "Enter your mobile #"
`

const failingPlan = `- name: Check banner
  action: probeText
  text: Welcome

- name: Tap unknown
  action: click
  timeout: 300
  locator:
    xpath: //android.widget.TextView[@index="1"]

- name: Never reached
  action: assertPresent
  locator:
    id: app:id/after
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// testApp returns the app with output captured and exit handling disabled.
func testApp(out *bytes.Buffer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = out
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func runArgs(t *testing.T, dir, planPath string, extra ...string) []string {
	t.Helper()
	cfgPath := writeFile(t, dir, "ntr.yaml", "timeouts:\n  pollMs: 50\n")
	args := []string{"ntr-runner", "--no-ansi", "run",
		"--config", cfgPath,
		"--driver", "mock",
		"--counter-file", filepath.Join(dir, "last_phone.txt"),
		"--log", filepath.Join(dir, "logs", "run.log"),
	}
	if planPath != "" {
		args = append(args, "--plan", planPath)
	}
	return append(args, extra...)
}

func TestParseEnvVars_Valid(t *testing.T) {
	envs := []string{"USER=test", "PASS=secret", "EMPTY="}
	result := parseEnvVars(envs)

	if result["USER"] != "test" {
		t.Errorf("expected USER=test, got %s", result["USER"])
	}
	if result["PASS"] != "secret" {
		t.Errorf("expected PASS=secret, got %s", result["PASS"])
	}
	if result["EMPTY"] != "" {
		t.Errorf("expected EMPTY='', got %s", result["EMPTY"])
	}
}

func TestParseEnvVars_ValueWithEquals(t *testing.T) {
	result := parseEnvVars([]string{"URL=http://example.com?foo=bar"})
	if result["URL"] != "http://example.com?foo=bar" {
		t.Errorf("expected URL with equals in value, got %s", result["URL"])
	}
}

func TestParseEnvVars_InvalidFormat(t *testing.T) {
	result := parseEnvVars([]string{"NOEQUALS"})
	if _, ok := result["NOEQUALS"]; ok {
		t.Error("expected NOEQUALS to be ignored")
	}
}

func TestGlobalFlags(t *testing.T) {
	flagNames := make(map[string]bool)
	for _, f := range GlobalFlags {
		for _, name := range f.Names() {
			flagNames[name] = true
		}
	}
	for _, name := range []string{"verbose", "no-ansi"} {
		if !flagNames[name] {
			t.Errorf("expected flag %q to be defined", name)
		}
	}
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	names := make(map[string]bool)
	for _, cmd := range app.Commands {
		names[cmd.Name] = true
	}
	for _, name := range []string{"run", "validate"} {
		if !names[name] {
			t.Errorf("expected command %q", name)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms       int64
		expected string
	}{
		{0, "0ms"},
		{999, "999ms"},
		{1000, "1.0s"},
		{2126, "2.1s"},
		{59999, "60.0s"},
		{60000, "1m 0s"},
		{125000, "2m 5s"},
	}
	for _, tc := range tests {
		if result := formatDuration(tc.ms); result != tc.expected {
			t.Errorf("formatDuration(%d) = %q, expected %q", tc.ms, result, tc.expected)
		}
	}
}

func TestValidateCommand_Builtin(t *testing.T) {
	var out bytes.Buffer
	colorsEnabled = false

	if err := testApp(&out).Run([]string{"ntr-runner", "validate"}); err != nil {
		t.Fatalf("validate error = %v", err)
	}
	got := out.String()
	for _, want := range []string{"builtin:ntr-signup", "Click OK Button", "plan is valid"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestValidateCommand_InvalidPlan(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "- name: Tap\n  action: click\n")

	var out bytes.Buffer
	err := testApp(&out).Run([]string{"ntr-runner", "validate", path})
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("validate error = %v, want ErrConfiguration", err)
	}
}

func TestRunCommand_MockDriverPasses(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "quick.yaml", quickPlan)

	var out bytes.Buffer
	if err := testApp(&out).Run(runArgs(t, dir, planPath)); err != nil {
		t.Fatalf("run error = %v\n%s", err, out.String())
	}

	got := out.String()
	for _, want := range []string{
		"✅ Connection & App Launch",
		"✅ Check banner",
		"✅ Tap OK",
		"✅ Enter phone",
		"✅ Check field",
		"All steps completed successfully",
		"Phone:   4066720001",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "terminal error") {
		t.Errorf("passing run printed a terminal error:\n%s", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "last_phone.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "4066720001" {
		t.Errorf("counter file = %q, want 4066720001", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "run.log")); err != nil {
		t.Errorf("log file not written: %v", err)
	}
}

func TestRunCommand_CounterAdvancesPerRun(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "quick.yaml", quickPlan)

	for _, want := range []string{"4066720001", "4066720002"} {
		var out bytes.Buffer
		if err := testApp(&out).Run(runArgs(t, dir, planPath)); err != nil {
			t.Fatalf("run error = %v", err)
		}
		if !strings.Contains(out.String(), "Phone:   "+want) {
			t.Errorf("expected phone %s:\n%s", want, out.String())
		}
	}
}

func TestRunCommand_PhoneFromFlagSkipsCounter(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "quick.yaml", quickPlan)

	var out bytes.Buffer
	if err := testApp(&out).Run(runArgs(t, dir, planPath, "-e", "PHONE=555")); err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !strings.Contains(out.String(), "Phone:   555") {
		t.Errorf("expected phone 555:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "last_phone.txt")); !os.IsNotExist(err) {
		t.Errorf("counter file should not be touched, stat err = %v", err)
	}
}

func TestRunCommand_FailureExitsOne(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "failing.yaml", failingPlan)

	var out bytes.Buffer
	err := testApp(&out).Run(runArgs(t, dir, planPath))

	var exitErr cli.ExitCoder
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("run error = %v, want exit code 1", err)
	}

	got := out.String()
	if !strings.Contains(got, "✅ Check banner") || !strings.Contains(got, "❌ Tap unknown") {
		t.Errorf("expected pass then failure:\n%s", got)
	}
	if !strings.Contains(got, "terminal error: Tap unknown:") {
		t.Errorf("expected terminal error line:\n%s", got)
	}
	if strings.Contains(got, "Never reached") {
		t.Errorf("steps after the failure must not run:\n%s", got)
	}
	if strings.Contains(got, "All steps completed") {
		t.Errorf("failed run printed the success banner:\n%s", got)
	}
}

func TestRunCommand_UnknownDriver(t *testing.T) {
	dir := t.TempDir()
	planPath := writeFile(t, dir, "quick.yaml", quickPlan)

	var out bytes.Buffer
	err := testApp(&out).Run(runArgs(t, dir, planPath, "--driver", "selenium"))
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("run error = %v, want unknown driver", err)
	}
}

func TestResolveConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "ntr.yaml", `
appiumURL: http://file:4723
capabilities:
  deviceIdentifier: from-file
plan: file-plan.yaml
`)
	t.Setenv(config.EnvAppiumURL, "")
	os.Unsetenv(config.EnvAppiumURL)
	t.Setenv(config.EnvDevice, "from-env")

	var got *config.Config
	app := &cli.App{
		Commands: []*cli.Command{{
			Name:  "run",
			Flags: runCommand.Flags,
			Action: func(c *cli.Context) error {
				var err error
				got, err = resolveConfig(c)
				return err
			},
		}},
	}
	err := app.Run([]string{"ntr-runner", "run", "--config", cfgPath, "--plan", "flag-plan.yaml", "--server-port", "4800"})
	if err != nil {
		t.Fatalf("resolveConfig error = %v", err)
	}

	if got.AppiumURL != "http://file:4723" {
		t.Errorf("AppiumURL = %q, want file value", got.AppiumURL)
	}
	// The device flag reads NTR_DEVICE, so it counts as set
	if got.Capabilities.DeviceIdentifier != "from-env" {
		t.Errorf("DeviceIdentifier = %q, want env value", got.Capabilities.DeviceIdentifier)
	}
	if got.Plan != "flag-plan.yaml" {
		t.Errorf("Plan = %q, want flag value", got.Plan)
	}
	if got.ServerPort != 4800 {
		t.Errorf("ServerPort = %d", got.ServerPort)
	}
}

func TestResolveConfig_InvalidTimeouts(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "ntr.yaml", "timeouts:\n  stepMs: 10000\n  startupMs: 1000\n")

	app := &cli.App{
		Commands: []*cli.Command{{
			Name:  "run",
			Flags: runCommand.Flags,
			Action: func(c *cli.Context) error {
				_, err := resolveConfig(c)
				return err
			},
		}},
	}
	err := app.Run([]string{"ntr-runner", "run", "--config", cfgPath})
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
}

func TestBuildRemote(t *testing.T) {
	cfg := config.Default()
	cfg.AppiumURL = "http://10.0.0.5:4723"
	plan := &flow.Plan{Steps: []flow.Step{{Name: "x", Action: flow.ActionPause, Duration: 1}}}

	remote, service, endpoint, err := buildRemote(driverAppium, cfg, plan)
	if err != nil {
		t.Fatal(err)
	}
	if c, ok := remote.(*appium.Client); !ok || c.URL() != "http://10.0.0.5:4723" {
		t.Errorf("remote = %#v, want appium client for the configured URL", remote)
	}
	if service != nil || endpoint != "http://10.0.0.5:4723" {
		t.Errorf("service = %v, endpoint = %q", service, endpoint)
	}

	cfg.StartServer = true
	cfg.ServerPort = 4800
	remote, service, _, err = buildRemote(driverAppium, cfg, plan)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := service.(*server.Manager); !ok {
		t.Errorf("service = %T, want *server.Manager", service)
	}
	if c := remote.(*appium.Client); c.URL() != "http://127.0.0.1:4800" {
		t.Errorf("client URL = %q, want managed server URL", c.URL())
	}

	remote, _, _, err = buildRemote(driverMock, cfg, plan)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := remote.(*mock.Remote); !ok {
		t.Errorf("remote = %T, want *mock.Remote", remote)
	}
}

func TestSimulateScreen_BuiltinPlanPasses(t *testing.T) {
	plan, err := flow.Builtin(flow.DefaultPlan)
	if err != nil {
		t.Fatal(err)
	}
	plan = plan.Expand(map[string]string{"PHONE": "4066720001"})

	clock := wait.NewFakeClock()
	remote := mock.New(mock.Config{Now: clock.Now})
	simulateScreen(remote, plan, nil)

	runner := executor.New(remote, executor.RunnerConfig{
		Wait: &wait.Policy{PollInterval: 500 * time.Millisecond, Clock: clock},
	})
	rep := runner.Run(context.Background(), plan)

	if msg, failed := rep.TerminalError(); failed {
		t.Fatalf("simulated run failed: %s\n%s", msg, strings.Join(rep.Render(), "\n"))
	}
	if rep.Len() != len(plan.Steps)+1 {
		t.Errorf("results = %d, want %d", rep.Len(), len(plan.Steps)+1)
	}
}

func TestSimulateScreen_SkipsStructuralPaths(t *testing.T) {
	remote := mock.New(mock.Config{})
	plan := &flow.Plan{Steps: []flow.Step{
		{Name: "a", Action: flow.ActionClick, Locator: flow.ByXPath(`//android.widget.TextView[@index="1"]`)},
		{Name: "b", Action: flow.ActionClick, Locator: flow.ByXPath(`//android.widget.EditText[@text="First name"]`)},
	}}
	simulateScreen(remote, plan, nil)

	s := core.NewSession("mock-session", remote)
	if _, err := remote.Open(context.Background(), core.Capabilities{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Find(context.Background(), core.StrategyXPath, `//android.widget.EditText[@text="First name"]`); err != nil {
		t.Errorf("text path should be simulated: %v", err)
	}
	if _, err := s.Find(context.Background(), core.StrategyID, "anything"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unexpected element: %v", err)
	}
}

func TestPrintStep(t *testing.T) {
	colorsEnabled = false
	tests := []struct {
		res  report.ActionResult
		want []string
	}{
		{report.ActionResult{Step: "Tap OK", Outcome: core.OutcomeSuccess, Duration: 1500 * time.Millisecond},
			[]string{"✅ Tap OK (1.5s)"}},
		{report.ActionResult{Step: "Probe", Outcome: core.OutcomeWarning, Message: "text not shown"},
			[]string{"⚠️ Probe (0ms)", "╰─ text not shown"}},
		{report.ActionResult{Step: "Confirm", Outcome: core.OutcomeFailure, Message: "timed out"},
			[]string{"❌ Confirm (0ms)", "╰─ timed out"}},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		printStep(&out, tt.res)
		for _, want := range tt.want {
			if !strings.Contains(out.String(), want) {
				t.Errorf("printStep(%s) = %q, missing %q", tt.res.Step, out.String(), want)
			}
		}
	}
}

func TestPreflight_FillsSerial(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
if [ "$1" = devices ]; then
  printf 'List of devices attached\nCAA25040001\tdevice\n'
elif [ "$5" = ro.product.model ]; then
  printf 'NTR Terminal\n'
fi
`
	if err := os.WriteFile(filepath.Join(dir, "adb"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir)

	cfg := config.Default()
	info, err := preflight(context.Background(), cfg)
	if err != nil {
		t.Fatalf("preflight() error = %v", err)
	}
	if cfg.Capabilities.DeviceIdentifier != "CAA25040001" {
		t.Errorf("DeviceIdentifier = %q", cfg.Capabilities.DeviceIdentifier)
	}
	if info.Model != "NTR Terminal" {
		t.Errorf("Model = %q", info.Model)
	}
}
