// Package session owns the remote session and the automation server behind it.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/flow"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
	"github.com/devicelab-dev/ntr-runner/pkg/wait"
)

// DefaultStartupTimeout bounds the wait for the app's first screen. It is
// longer than any step timeout.
const DefaultStartupTimeout = 30 * time.Second

// closeTimeout bounds session teardown, which runs even after ctx is cancelled.
const closeTimeout = 15 * time.Second

// State is the lifecycle state.
type State int

const (
	StateUnopened State = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is a process the session depends on, such as a local Appium server.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

// Options configures a Lifecycle.
type Options struct {
	// Service is started before the session opens and stopped after it
	// closes. Optional.
	Service Service

	// Ready, when set, must be present before Open returns.
	Ready          *flow.Locator
	StartupTimeout time.Duration

	// Wait polls for Ready. Defaults to a wall-clock policy.
	Wait *wait.Policy
}

// Lifecycle opens and guarantees closure of one remote session.
// It is not safe for concurrent use.
type Lifecycle struct {
	remote core.Remote
	opts   Options

	state          State
	session        *core.Session
	serviceStarted bool
}

// New creates a lifecycle for remote.
func New(remote core.Remote, opts Options) *Lifecycle {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = DefaultStartupTimeout
	}
	if opts.Wait == nil {
		opts.Wait = wait.NewPolicy(flow.DefaultPollInterval)
	}
	return &Lifecycle{remote: remote, opts: opts}
}

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

// Session returns the open session, or nil.
func (l *Lifecycle) Session() *core.Session { return l.session }

func (l *Lifecycle) transition(to State) {
	logger.Debug("session: %s -> %s", l.state, to)
	l.state = to
}

// Open starts the service, opens the session and waits for the ready
// locator. On failure everything acquired so far is released, the state is
// StateFailed and the error is core.ErrConnection.
func (l *Lifecycle) Open(ctx context.Context, caps core.Capabilities) (*core.Session, error) {
	if l.state != StateUnopened {
		return nil, core.ErrConfiguration.WithMessage(fmt.Sprintf("session cannot be opened from state %s", l.state))
	}
	l.transition(StateOpening)

	if l.opts.Service != nil {
		logger.Info("Starting automation server")
		if err := l.opts.Service.Start(ctx); err != nil {
			return nil, l.fail(ctx, "start automation server", err)
		}
		l.serviceStarted = true
	}

	logger.Info("Opening session: platform=%s device=%s app=%s/%s",
		caps.Platform, caps.DeviceIdentifier, caps.AppPackage, caps.AppActivity)
	id, err := l.remote.Open(ctx, caps)
	if err != nil {
		return nil, l.fail(ctx, "open session", err)
	}
	l.session = core.NewSession(id, l.remote)
	logger.Info("Session opened: %s", id)

	if l.opts.Ready != nil {
		if _, err := l.opts.Wait.Await(ctx, l.session, *l.opts.Ready, flow.CondPresent, l.opts.StartupTimeout); err != nil {
			return nil, l.fail(ctx, fmt.Sprintf("app did not show %s", l.opts.Ready.Describe()), err)
		}
		logger.Info("App ready: %s", l.opts.Ready.Describe())
	}

	l.transition(StateOpen)
	return l.session, nil
}

func (l *Lifecycle) fail(ctx context.Context, what string, cause error) error {
	logger.Error("%s: %v", what, cause)
	if err := l.release(ctx); err != nil {
		logger.Warn("release after failed open: %v", err)
	}
	l.transition(StateFailed)
	return core.ErrConnection.WithMessage(what).WithCause(cause)
}

// Close closes the session and stops the service if this lifecycle started
// it. Calling Close more than once, or before Open, is a no-op.
func (l *Lifecycle) Close(ctx context.Context) error {
	if l.state != StateOpen {
		return nil
	}
	l.transition(StateClosing)
	err := l.release(ctx)
	l.transition(StateClosed)
	return err
}

// release closes whatever is held. It runs even if ctx is already
// cancelled.
func (l *Lifecycle) release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	var first error
	if l.session != nil {
		logger.Info("Closing session: %s", l.session.ID)
		if err := l.remote.Close(ctx, l.session.ID); err != nil {
			first = fmt.Errorf("close session: %w", err)
		}
		l.session = nil
	}
	if l.serviceStarted {
		logger.Info("Stopping automation server")
		if err := l.opts.Service.Stop(); err != nil && first == nil {
			first = fmt.Errorf("stop automation server: %w", err)
		}
		l.serviceStarted = false
	}
	return first
}

// With opens a session, runs fn and closes the session on every exit path,
// including a panic in fn.
func (l *Lifecycle) With(ctx context.Context, caps core.Capabilities, fn func(*core.Session) error) (err error) {
	s, err := l.Open(ctx, caps)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := l.Close(ctx); cerr != nil {
			logger.Warn("close: %v", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(s)
}
