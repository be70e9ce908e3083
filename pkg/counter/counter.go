// Package counter persists the numeric seed used to derive unique test data
// such as the sign-up phone number.
package counter

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// Next reads the last value from path, increments it, writes it back and
// returns the new value. A missing or unparsable file starts from initial,
// so the first value returned is initial+1.
func Next(path string, initial int64) (string, error) {
	last := initial

	data, err := os.ReadFile(path) //#nosec G304 -- counter path comes from config
	switch {
	case err == nil:
		if n, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil {
			last = n
			logger.Info("Read last counter value from %s: %d", path, n)
		} else {
			logger.Warn("Counter file %s is not a number, using initial value %d", path, initial)
		}
	case os.IsNotExist(err):
		logger.Info("Counter file %s not found, using initial value %d", path, initial)
	default:
		return "", fmt.Errorf("failed to read counter file: %w", err)
	}

	next := last + 1
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create counter directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.FormatInt(next, 10)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write counter file: %w", err)
	}
	return strconv.FormatInt(next, 10), nil
}
