// Package server manages a local Appium server process.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/driver/appium"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// Defaults for a local Appium 2 install.
const (
	DefaultBinary       = "appium"
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 4723
	DefaultReadyTimeout = 60 * time.Second
	DefaultPollInterval = 500 * time.Millisecond

	stopGrace = 5 * time.Second
)

// Config configures the server process.
type Config struct {
	Binary       string   // Executable, default "appium"
	Host         string   // Listen address, default 127.0.0.1
	Port         int      // Listen port, default 4723
	Args         []string // Extra arguments
	ReadyTimeout time.Duration
	PollInterval time.Duration

	// Output receives the server's stdout and stderr. Defaults to the run log.
	Output io.Writer
}

// Manager starts and stops one Appium server. If a server is already
// answering on the configured address, Start reuses it and Stop leaves it
// running.
type Manager struct {
	cfg    Config
	client *appium.Client

	mu    sync.Mutex
	cmd   *exec.Cmd
	done  chan struct{}
	err   error // Process exit error, valid after done is closed
	owned bool
}

// NewManager creates a manager for cfg.
func NewManager(cfg Config) *Manager {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	m := &Manager{cfg: cfg}
	m.client = appium.NewClient(m.URL())
	return m
}

// URL returns the server URL.
func (m *Manager) URL() string {
	return fmt.Sprintf("http://%s:%d", m.cfg.Host, m.cfg.Port)
}

// Owned reports whether this manager started the running process.
func (m *Manager) Owned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned
}

// Start launches the server and blocks until GET /status reports ready,
// the process exits, or the ready timeout elapses.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd != nil {
		return nil
	}

	if ready, err := m.client.Status(ctx); err == nil && ready {
		logger.Info("Appium server already running at %s, reusing it", m.URL())
		return nil
	}

	args := append([]string{"--address", m.cfg.Host, "--port", strconv.Itoa(m.cfg.Port)}, m.cfg.Args...)
	cmd := exec.Command(m.cfg.Binary, args...)
	out := m.cfg.Output
	if out == nil {
		out = logger.GetWriter()
	}
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Debug("Appium command: %s %v", m.cfg.Binary, args)
	if err := cmd.Start(); err != nil {
		return core.ErrConnection.
			WithMessage(fmt.Sprintf("failed to start %s", m.cfg.Binary)).
			WithCause(err)
	}
	logger.Info("Appium server process started (PID: %d)", cmd.Process.Pid)

	m.cmd = cmd
	m.owned = true
	m.done = make(chan struct{})
	go func(done chan struct{}) {
		m.err = cmd.Wait()
		close(done)
	}(m.done)

	start := time.Now()
	if err := m.waitReady(ctx); err != nil {
		m.stopLocked()
		return err
	}
	logger.Info("Appium server ready at %s in %v", m.URL(), time.Since(start).Round(time.Millisecond))
	return nil
}

// waitReady polls /status with exponential backoff until the server is
// ready. A process exit ends the wait early.
func (m *Manager) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := false
	op := func() error {
		select {
		case <-m.done:
			exited = true
			cancel()
			return fmt.Errorf("appium exited: %v", m.err)
		default:
		}
		ready, err := m.client.Status(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return errors.New("appium is not ready yet")
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.PollInterval
	b.MaxInterval = 4 * m.cfg.PollInterval
	b.MaxElapsedTime = m.cfg.ReadyTimeout

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}
	if exited {
		return core.ErrConnection.WithMessage("appium server exited during startup").WithCause(err)
	}
	return core.ErrConnection.
		WithMessage(fmt.Sprintf("appium server not ready at %s after %v", m.URL(), m.cfg.ReadyTimeout)).
		WithCause(err)
}

// Stop terminates the server if this manager started it.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

func (m *Manager) stopLocked() error {
	if m.cmd == nil {
		return nil
	}
	cmd, done := m.cmd, m.done
	m.cmd = nil
	m.owned = false

	select {
	case <-done:
		logger.Info("Appium server already exited: %v", m.err)
		return nil
	default:
	}

	logger.Info("Stopping Appium server (PID: %d)", cmd.Process.Pid)
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		logger.Debug("interrupt failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(stopGrace):
		logger.Warn("Appium server did not exit after %v, killing it", stopGrace)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill appium: %w", err)
		}
		<-done
	}
	return nil
}
