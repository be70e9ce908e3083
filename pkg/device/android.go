// Package device checks Android devices over ADB before a session opens.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// ADB device states.
const (
	StateDevice       = "device"
	StateOffline      = "offline"
	StateUnauthorized = "unauthorized"
)

// Device is one line of `adb devices`.
type Device struct {
	Serial string
	State  string
}

// DeviceInfo contains basic device information.
type DeviceInfo struct {
	Serial     string
	Model      string
	SDK        string
	Brand      string
	IsEmulator bool
}

// ADB runs adb commands.
type ADB struct {
	path string
}

// NewADB locates the adb binary.
func NewADB() (*ADB, error) {
	path, err := findADB()
	if err != nil {
		return nil, err
	}
	return &ADB{path: path}, nil
}

// NewADBAt uses the adb binary at path.
func NewADBAt(path string) *ADB {
	return &ADB{path: path}
}

// Devices lists attached devices in every state.
func (a *ADB) Devices(ctx context.Context) ([]Device, error) {
	out, err := a.run(ctx, "", "devices")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// Resolve returns the serial to run on. An empty serial picks the first
// ready device; a given serial must be attached and ready.
func (a *ADB) Resolve(ctx context.Context, serial string) (string, error) {
	devices, err := a.Devices(ctx)
	if err != nil {
		return "", err
	}

	if serial == "" {
		for _, d := range devices {
			if d.State == StateDevice {
				logger.Info("Auto-detected device %s", d.Serial)
				return d.Serial, nil
			}
		}
		return "", core.ErrConnection.WithMessage("no connected devices found")
	}

	for _, d := range devices {
		if d.Serial != serial {
			continue
		}
		if d.State != StateDevice {
			return "", core.ErrConnection.WithMessage(fmt.Sprintf("device %s is %s", serial, d.State))
		}
		return serial, nil
	}

	attached := make([]string, 0, len(devices))
	for _, d := range devices {
		attached = append(attached, d.Serial)
	}
	msg := fmt.Sprintf("device %s not connected", serial)
	if len(attached) > 0 {
		msg += fmt.Sprintf(" (attached: %s)", strings.Join(attached, ", "))
	}
	return "", core.ErrConnection.WithMessage(msg)
}

// Info returns device information.
func (a *ADB) Info(ctx context.Context, serial string) DeviceInfo {
	info := DeviceInfo{Serial: serial}
	prop := func(name string) string {
		out, err := a.run(ctx, serial, "shell", "getprop", name)
		if err != nil {
			logger.Debug("getprop %s: %v", name, err)
			return ""
		}
		return strings.TrimSpace(out)
	}

	info.Model = prop("ro.product.model")
	info.SDK = prop("ro.build.version.sdk")
	info.Brand = prop("ro.product.brand")
	info.IsEmulator = prop("ro.kernel.qemu") == "1"
	return info
}

// ParseDevices parses `adb devices` output.
func ParseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			devices = append(devices, Device{Serial: parts[0], State: parts[1]})
		}
	}
	return devices
}

// run executes an ADB command, scoped to serial when it is set.
func (a *ADB) run(ctx context.Context, serial string, args ...string) (string, error) {
	cmdArgs := make([]string, 0, len(args)+2)
	if serial != "" {
		cmdArgs = append(cmdArgs, "-s", serial)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, a.path, cmdArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = strings.TrimSpace(stdout.String())
		}
		return "", core.ErrConnection.
			WithMessage(fmt.Sprintf("adb %s: %s", strings.Join(args, " "), errMsg)).
			WithCause(err)
	}

	return stdout.String(), nil
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	// Try PATH first
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}

	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
		if home := os.Getenv(env); home != "" {
			path := filepath.Join(home, "platform-tools", "adb")
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", core.ErrConfiguration.WithMessage("adb not found in PATH or $ANDROID_HOME/platform-tools; ensure Android SDK is installed")
}
