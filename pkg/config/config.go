// Package config handles the run configuration for ntr-runner.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
)

// DefaultInitialPhone seeds the counter when no counter file exists yet.
const DefaultInitialPhone int64 = 4066720000

// Environment variables that override file values.
const (
	EnvAppiumURL   = "APPIUM_URL"
	EnvDevice      = "NTR_DEVICE"
	EnvCounterFile = "NTR_COUNTER_FILE"
)

// Config represents the run configuration (ntr.yaml).
type Config struct {
	// Server settings
	AppiumURL   string `yaml:"appiumURL"`
	StartServer bool   `yaml:"startServer"` // Launch a local appium process
	ServerPort  int    `yaml:"serverPort"`

	// Session settings
	Capabilities core.Capabilities `yaml:"capabilities"`
	ReadyText    string            `yaml:"readyText"` // Text that marks the app's first screen
	Ready        *flow.Locator     `yaml:"ready"`     // Takes precedence over readyText

	Timeouts Timeouts `yaml:"timeouts"`
	Counter  Counter  `yaml:"counter"`

	// Plan file, empty runs the built-in plan
	Plan string `yaml:"plan"`

	Env map[string]string `yaml:"env"` // Extra plan variables
}

// Timeouts holds wait budgets in milliseconds.
type Timeouts struct {
	StepMs    int `yaml:"stepMs"`
	PollMs    int `yaml:"pollMs"`
	StartupMs int `yaml:"startupMs"`
}

// Step returns the default step budget.
func (t Timeouts) Step() time.Duration { return time.Duration(t.StepMs) * time.Millisecond }

// Poll returns the polling interval.
func (t Timeouts) Poll() time.Duration { return time.Duration(t.PollMs) * time.Millisecond }

// Startup returns the app launch budget.
func (t Timeouts) Startup() time.Duration { return time.Duration(t.StartupMs) * time.Millisecond }

// Counter configures the test-data counter file.
type Counter struct {
	Path    string `yaml:"path"`
	Initial int64  `yaml:"initial"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.AppiumURL == "" {
		c.AppiumURL = "http://127.0.0.1:4723"
	}
	if c.ServerPort == 0 {
		c.ServerPort = 4723
	}
	if c.Capabilities.Platform == "" {
		c.Capabilities.Platform = "Android"
	}
	if c.Capabilities.AutomationDriver == "" {
		c.Capabilities.AutomationDriver = "UiAutomator2"
	}
	if c.Timeouts.StepMs <= 0 {
		c.Timeouts.StepMs = int(flow.DefaultTimeout / time.Millisecond)
	}
	if c.Timeouts.PollMs <= 0 {
		c.Timeouts.PollMs = int(flow.DefaultPollInterval / time.Millisecond)
	}
	if c.Timeouts.StartupMs <= 0 {
		c.Timeouts.StartupMs = 30000
	}
	if c.Counter.Path == "" {
		c.Counter.Path = GetCounterPath()
	}
	if c.Counter.Initial <= 0 {
		c.Counter.Initial = DefaultInitialPhone
	}
}

// ReadyLocator returns the configured ready marker, or nil.
func (c *Config) ReadyLocator() *flow.Locator {
	if c.Ready != nil {
		return c.Ready
	}
	if c.ReadyText != "" {
		loc := flow.ByText(c.ReadyText)
		return &loc
	}
	return nil
}

// Validate rejects values no run could use.
func (c *Config) Validate() error {
	if c.Timeouts.StartupMs < c.Timeouts.StepMs {
		return core.ErrConfiguration.WithMessage(fmt.Sprintf(
			"timeouts.startupMs (%d) must not be shorter than timeouts.stepMs (%d)",
			c.Timeouts.StartupMs, c.Timeouts.StepMs))
	}
	if c.Timeouts.PollMs > c.Timeouts.StepMs {
		return core.ErrConfiguration.WithMessage(fmt.Sprintf(
			"timeouts.pollMs (%d) must not exceed timeouts.stepMs (%d)",
			c.Timeouts.PollMs, c.Timeouts.StepMs))
	}
	return nil
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAppiumURL); v != "" {
		c.AppiumURL = v
	}
	if v := os.Getenv(EnvDevice); v != "" {
		c.Capabilities.DeviceIdentifier = v
	}
	if v := os.Getenv(EnvCounterFile); v != "" {
		c.Counter.Path = v
	}
}

// Load loads configuration from a file. Unset fields get defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFromDir looks for ntr.yaml or ntr.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try ntr.yaml first
	configPath := filepath.Join(dir, "ntr.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// Try ntr.yml
	configPath = filepath.Join(dir, "ntr.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, use defaults
	return Default(), nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set are not overwritten. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
