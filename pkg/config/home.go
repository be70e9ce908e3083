package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "NTR_RUNNER_HOME"

// CounterFile is the counter file name under the home directory.
const CounterFile = "last_phone.txt"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the ntr-runner home directory: $NTR_RUNNER_HOME, else
// <home> when the binary is installed as <home>/bin/ntr-runner, else the
// working directory. The result is computed once.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// GetLogsDir returns the directory run logs are written to.
func GetLogsDir() string {
	return filepath.Join(GetHome(), "logs")
}

// GetCounterPath returns the default counter file.
func GetCounterPath() string {
	return filepath.Join(GetHome(), CounterFile)
}

func resolveHome() string {
	if dir := os.Getenv(envHome); dir != "" {
		return dir
	}
	if dir, ok := installDir(); ok {
		return dir
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// installDir returns the parent of the binary's bin directory.
func installDir() (string, bool) {
	exe, err := os.Executable()
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	bin := filepath.Dir(exe)
	if filepath.Base(bin) != "bin" {
		return "", false
	}
	return filepath.Dir(bin), true
}

// ResetHome clears the cached home so tests can change $NTR_RUNNER_HOME.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
