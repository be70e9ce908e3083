package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/ntr-runner/pkg/config"
	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/counter"
	"github.com/devicelab-dev/ntr-runner/pkg/device"
	"github.com/devicelab-dev/ntr-runner/pkg/driver/appium"
	"github.com/devicelab-dev/ntr-runner/pkg/driver/mock"
	"github.com/devicelab-dev/ntr-runner/pkg/executor"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
	"github.com/devicelab-dev/ntr-runner/pkg/report"
	"github.com/devicelab-dev/ntr-runner/pkg/server"
	"github.com/devicelab-dev/ntr-runner/pkg/session"
	"github.com/devicelab-dev/ntr-runner/pkg/wait"
)

// Driver names accepted by --driver.
const (
	driverAppium = "appium"
	driverMock   = "mock"
)

// phoneVar is the plan variable filled from the counter file.
const phoneVar = "PHONE"

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Run a plan against the device",
	Description: `Run the built-in NTR sign-up plan, or the plan given with --plan.

Configuration is read from ntr.yaml in the working directory, or the file
given with --config. Flags override file values. Each run takes the next
number from the counter file and exposes it to the plan as ${PHONE}.

Examples:
  ntr-runner run
  ntr-runner run --config lab.yaml --plan plans/signup.yaml
  ntr-runner run --appium-url http://10.0.0.5:4723 --device emulator-5554
  ntr-runner run -e PHONE=4066720123 -e STORE=42`,
	Flags: []cli.Flag{
		// Configuration
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to ntr.yaml",
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Load KEY=VALUE pairs from this file before resolving configuration",
		},
		&cli.StringFlag{
			Name:    "plan",
			Usage:   "Plan file (default: built-in " + flow.DefaultPlan + ")",
			EnvVars: []string{"NTR_PLAN"},
		},
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Plan variables (KEY=VALUE)",
		},

		// Driver settings
		&cli.StringFlag{
			Name:    "driver",
			Aliases: []string{"d"},
			Usage:   "Driver to use (appium, mock)",
			Value:   driverAppium,
			EnvVars: []string{"NTR_DRIVER"},
		},
		&cli.StringFlag{
			Name:    "appium-url",
			Usage:   "Appium server URL",
			EnvVars: []string{config.EnvAppiumURL},
		},
		&cli.StringFlag{
			Name:    "device",
			Aliases: []string{"udid"},
			Usage:   "Device serial passed as appium:deviceName",
			EnvVars: []string{config.EnvDevice},
		},
		&cli.BoolFlag{
			Name:  "start-server",
			Usage: "Start a local Appium server for the run",
		},
		&cli.IntFlag{
			Name:  "server-port",
			Usage: "Port for --start-server",
		},
		&cli.BoolFlag{
			Name:  "preflight",
			Usage: "Check the device over adb before opening the session (auto-detects --device when unset)",
		},

		// State and output
		&cli.StringFlag{
			Name:    "counter-file",
			Usage:   "Counter file for ${PHONE}",
			EnvVars: []string{config.EnvCounterFile},
		},
		&cli.StringFlag{
			Name:  "log",
			Usage: "Log file (default: <home>/logs/ntr-runner-<timestamp>.log)",
		},
	},
	Action: runPlan,
}

// RunConfig is the resolved configuration for one run.
type RunConfig struct {
	Config    *config.Config
	Driver    string
	Vars      map[string]string // -e values, override everything else
	LogPath   string
	Verbose   bool
	Preflight bool // Resolve the device with adb first
}

func runPlan(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := config.LoadDotEnv(path); err != nil {
			return err
		}
	}

	cfg, err := resolveConfig(c)
	if err != nil {
		return err
	}

	logPath := c.String("log")
	if logPath == "" {
		logPath = filepath.Join(config.GetLogsDir(),
			fmt.Sprintf("ntr-runner-%s.log", time.Now().Format("2006-01-02_15-04-05")))
	}

	return executeRun(c.Context, c.App.Writer, &RunConfig{
		Config:    cfg,
		Driver:    c.String("driver"),
		Vars:      parseEnvVars(c.StringSlice("env")),
		LogPath:   logPath,
		Verbose:   c.Bool("verbose"),
		Preflight: c.Bool("preflight"),
	})
}

// resolveConfig merges, lowest first: defaults, config file, environment,
// explicit flags.
func resolveConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv()

	setString := func(dst *string, name string) {
		if v := c.String(name); c.IsSet(name) && v != "" {
			*dst = v
		}
	}
	setString(&cfg.AppiumURL, "appium-url")
	setString(&cfg.Capabilities.DeviceIdentifier, "device")
	setString(&cfg.Plan, "plan")
	setString(&cfg.Counter.Path, "counter-file")
	if c.IsSet("start-server") {
		cfg.StartServer = c.Bool("start-server")
	}
	if c.IsSet("server-port") {
		cfg.ServerPort = c.Int("server-port")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func executeRun(ctx context.Context, out io.Writer, rc *RunConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if out == nil {
		out = os.Stdout
	}
	cfg := rc.Config

	// 1. Initialize logging
	logger.SetVerbose(rc.Verbose)
	if err := os.MkdirAll(filepath.Dir(rc.LogPath), 0o755); err != nil {
		fmt.Fprintf(out, "Warning: Failed to create log directory: %v\n", err)
	}
	if err := logger.Init(rc.LogPath); err != nil {
		fmt.Fprintf(out, "Warning: Failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	printBanner(out)
	logger.Info("=== ntr-runner %s started ===", Version)
	logger.Info("Driver: %s", rc.Driver)

	// 2. Load and expand the plan
	plan, err := loadPlan(cfg.Plan)
	if err != nil {
		logger.Error("Plan load failed: %v", err)
		return err
	}
	vars, err := planVars(cfg, rc.Vars)
	if err != nil {
		logger.Error("Counter failed: %v", err)
		return err
	}
	plan = plan.Expand(vars)
	if err := plan.Validate(); err != nil {
		logger.Error("Plan validation failed: %v", err)
		return err
	}

	// 3. Check the device and build the remote
	var info *device.DeviceInfo
	if rc.Preflight && rc.Driver != driverMock {
		if info, err = preflight(ctx, cfg); err != nil {
			logger.Error("Preflight failed: %v", err)
			return err
		}
	}
	remote, service, endpoint, err := buildRemote(rc.Driver, cfg, plan)
	if err != nil {
		return err
	}

	printSetup(out, cfg, plan, endpoint, vars[phoneVar], info)

	// Cancel the run on SIGINT/SIGTERM so the session still closes
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received signal %v, cancelling run...", sig)
			fmt.Fprintf(os.Stderr, "\nReceived %v, closing session...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// 4. Execute
	fmt.Fprintf(out, "\n%sExecution%s\n", color(colorBold), color(colorReset))
	runner := executor.New(remote, executor.RunnerConfig{
		Capabilities:   cfg.Capabilities,
		Service:        service,
		StepTimeout:    cfg.Timeouts.Step(),
		StartupTimeout: cfg.Timeouts.Startup(),
		Ready:          cfg.ReadyLocator(),
		Wait:           wait.NewPolicy(cfg.Timeouts.Poll()),
		OnStepComplete: func(res report.ActionResult) { printStep(out, res) },
	})
	rep := runner.Run(ctx, plan)

	// 5. Summary
	printSummary(out, rep)
	fmt.Fprintf(out, "\n  Log: %s\n", rc.LogPath)

	if !rep.Passed() {
		return cli.Exit("", 1)
	}
	return nil
}

// preflight resolves the device serial with adb and fills it into the
// capabilities.
func preflight(ctx context.Context, cfg *config.Config) (*device.DeviceInfo, error) {
	adb, err := device.NewADB()
	if err != nil {
		return nil, err
	}
	serial, err := adb.Resolve(ctx, cfg.Capabilities.DeviceIdentifier)
	if err != nil {
		return nil, err
	}
	cfg.Capabilities.DeviceIdentifier = serial

	info := adb.Info(ctx, serial)
	logger.Info("Device %s: %s %s (SDK %s, emulator: %v)", serial, info.Brand, info.Model, info.SDK, info.IsEmulator)
	return &info, nil
}

func loadPlan(path string) (*flow.Plan, error) {
	if path == "" {
		return flow.Builtin(flow.DefaultPlan)
	}
	return flow.ParseFile(path)
}

// planVars builds the variables a plan is expanded with. PHONE comes from
// the counter file unless given with -e.
func planVars(cfg *config.Config, cliVars map[string]string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	for k, v := range cfg.Env {
		vars[k] = v
	}

	if _, ok := cliVars[phoneVar]; !ok {
		phone, err := counter.Next(cfg.Counter.Path, cfg.Counter.Initial)
		if err != nil {
			return nil, err
		}
		vars[phoneVar] = phone
	}
	for k, v := range cliVars {
		vars[k] = v // CLI overrides everything
	}
	return vars, nil
}

// buildRemote returns the remote for driver, the service to start before
// the session opens (nil if none) and a description of where it points.
func buildRemote(driver string, cfg *config.Config, plan *flow.Plan) (core.Remote, session.Service, string, error) {
	switch driver {
	case driverAppium, "":
		if cfg.StartServer {
			mgr := server.NewManager(server.Config{Port: cfg.ServerPort})
			return appium.NewClient(mgr.URL()), mgr, mgr.URL() + " (managed)", nil
		}
		return appium.NewClient(cfg.AppiumURL), nil, cfg.AppiumURL, nil

	case driverMock:
		remote := mock.New(mock.Config{})
		simulateScreen(remote, plan, cfg.ReadyLocator())
		return remote, nil, "simulated screen", nil

	default:
		return nil, nil, "", fmt.Errorf("unknown driver %q (supported: %s, %s)", driver, driverAppium, driverMock)
	}
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
