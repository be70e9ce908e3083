package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
)

// fakeADB writes a shell script standing in for adb.
func fakeADB(t *testing.T, body string) *ADB {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "adb")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return NewADBAt(path)
}

const devicesOutput = `* daemon started successfully
List of devices attached
CAA25040001	device
emulator-5554	offline
R58M123ABC	unauthorized

`

func TestParseDevices(t *testing.T) {
	got := ParseDevices(devicesOutput)
	want := []Device{
		{Serial: "CAA25040001", State: StateDevice},
		{Serial: "emulator-5554", State: StateOffline},
		{Serial: "R58M123ABC", State: StateUnauthorized},
	}
	if len(got) != len(want) {
		t.Fatalf("ParseDevices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("device %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseDevices_Empty(t *testing.T) {
	if got := ParseDevices("List of devices attached\n\n"); len(got) != 0 {
		t.Errorf("ParseDevices() = %v, want none", got)
	}
}

func TestResolve(t *testing.T) {
	adb := fakeADB(t, "cat <<'OUT'\n"+devicesOutput+"OUT")

	tests := []struct {
		name    string
		serial  string
		want    string
		wantErr string
	}{
		{"auto-detect picks first ready device", "", "CAA25040001", ""},
		{"given serial is ready", "CAA25040001", "CAA25040001", ""},
		{"offline", "emulator-5554", "", "is offline"},
		{"unauthorized", "R58M123ABC", "", "is unauthorized"},
		{"not attached", "XYZ", "", "attached: CAA25040001, emulator-5554, R58M123ABC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := adb.Resolve(context.Background(), tt.serial)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Resolve() error = %v", err)
				}
				if got != tt.want {
					t.Errorf("Resolve() = %q, want %q", got, tt.want)
				}
				return
			}
			if !errors.Is(err, core.ErrConnection) {
				t.Fatalf("Resolve() error = %v, want ErrConnection", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolve_NoDevices(t *testing.T) {
	adb := fakeADB(t, "echo 'List of devices attached'")

	_, err := adb.Resolve(context.Background(), "")
	if !errors.Is(err, core.ErrConnection) {
		t.Fatalf("Resolve() error = %v, want ErrConnection", err)
	}
}

func TestResolve_ADBFails(t *testing.T) {
	adb := fakeADB(t, "echo 'cannot connect to daemon' >&2; exit 1")

	_, err := adb.Resolve(context.Background(), "")
	if !errors.Is(err, core.ErrConnection) {
		t.Fatalf("Resolve() error = %v, want ErrConnection", err)
	}
	if !strings.Contains(err.Error(), "cannot connect to daemon") {
		t.Errorf("error %q should carry adb's stderr", err)
	}
}

func TestInfo(t *testing.T) {
	adb := fakeADB(t, `case "$5" in
ro.product.model) echo "NTR Terminal" ;;
ro.build.version.sdk) echo 30 ;;
ro.product.brand) echo AppCard ;;
ro.kernel.qemu) echo 0 ;;
esac`)

	info := adb.Info(context.Background(), "CAA25040001")
	want := DeviceInfo{Serial: "CAA25040001", Model: "NTR Terminal", SDK: "30", Brand: "AppCard"}
	if info != want {
		t.Errorf("Info() = %+v, want %+v", info, want)
	}
}

func TestInfo_Emulator(t *testing.T) {
	adb := fakeADB(t, `[ "$5" = ro.kernel.qemu ] && echo 1`)

	if info := adb.Info(context.Background(), "emulator-5554"); !info.IsEmulator {
		t.Errorf("Info() = %+v, want emulator", info)
	}
}
