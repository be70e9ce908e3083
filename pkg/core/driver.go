package core

import (
	"context"
)

// Remote defines the automation-server session protocol.
// Implementations: Appium (W3C WebDriver over HTTP), mock.
// The core treats it as a synchronous RPC surface; no method retries.
type Remote interface {
	// Open creates a session and returns its ID
	Open(ctx context.Context, caps Capabilities) (string, error)

	// Find resolves one element. Returns ErrNotFound if nothing matches.
	Find(ctx context.Context, sessionID, strategy, value string) (string, error)

	// Attribute reads a named attribute (text, displayed, enabled, ...)
	Attribute(ctx context.Context, sessionID, elementID, name string) (string, error)

	// Click clicks an element
	Click(ctx context.Context, sessionID, elementID string) error

	// SendText populates a field with the full text in one call
	SendText(ctx context.Context, sessionID, elementID, text string) error

	// Close deletes the session
	Close(ctx context.Context, sessionID string) error
}

// Locator strategies understood by the remote.
const (
	StrategyID    = "id"
	StrategyXPath = "xpath"
)

// Attribute names read by waits and validations.
const (
	AttrText      = "text"
	AttrDisplayed = "displayed"
	AttrEnabled   = "enabled"
)

// Element is a handle to one resolved remote element.
// Handles are valid only for the call that resolved them.
type Element struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
	Value    string `json:"value"`
}

// Session is a live remote session. It is owned by session.Lifecycle;
// other packages borrow it for the duration of a call.
type Session struct {
	ID     string
	remote Remote
}

// NewSession binds a session ID to the remote that created it.
func NewSession(id string, remote Remote) *Session {
	return &Session{ID: id, remote: remote}
}

// Find performs exactly one remote lookup.
func (s *Session) Find(ctx context.Context, strategy, value string) (Element, error) {
	id, err := s.remote.Find(ctx, s.ID, strategy, value)
	if err != nil {
		return Element{}, err
	}
	return Element{ID: id, Strategy: strategy, Value: value}, nil
}

// Attribute reads an attribute of el.
func (s *Session) Attribute(ctx context.Context, el Element, name string) (string, error) {
	return s.remote.Attribute(ctx, s.ID, el.ID, name)
}

// Click clicks el.
func (s *Session) Click(ctx context.Context, el Element) error {
	return s.remote.Click(ctx, s.ID, el.ID)
}

// SendText sends text to el in a single call.
func (s *Session) SendText(ctx context.Context, el Element, text string) error {
	return s.remote.SendText(ctx, s.ID, el.ID, text)
}

// ResetPolicy controls app state handling at session start.
type ResetPolicy struct {
	NoReset   bool `yaml:"noReset" json:"noReset"`
	FullReset bool `yaml:"fullReset" json:"fullReset"`
}

// Capabilities are the session-open options. Values are passed through
// to the remote unchanged.
type Capabilities struct {
	Platform               string                 `yaml:"platform"`
	AutomationDriver       string                 `yaml:"automationDriver"`
	DeviceIdentifier       string                 `yaml:"deviceIdentifier"`
	AppPackage             string                 `yaml:"appPackage"`
	AppActivity            string                 `yaml:"appActivity"`
	AppWaitActivity        string                 `yaml:"appWaitActivity"`
	Reset                  ResetPolicy            `yaml:"reset"`
	ServerInstallTimeoutMs int                    `yaml:"serverInstallTimeoutMs"`
	Extra                  map[string]interface{} `yaml:"extra"` // Extra appium:* capabilities
}

// W3C returns the capabilities in W3C alwaysMatch form.
func (c Capabilities) W3C() map[string]interface{} {
	caps := make(map[string]interface{})
	for k, v := range c.Extra {
		caps[k] = v
	}

	setString := func(key, val string) {
		if val != "" {
			caps[key] = val
		}
	}
	setString("platformName", c.Platform)
	setString("appium:automationName", c.AutomationDriver)
	setString("appium:deviceName", c.DeviceIdentifier)
	setString("appium:appPackage", c.AppPackage)
	setString("appium:appActivity", c.AppActivity)
	setString("appium:appWaitActivity", c.AppWaitActivity)

	caps["appium:noReset"] = c.Reset.NoReset
	caps["appium:fullReset"] = c.Reset.FullReset
	if c.ServerInstallTimeoutMs > 0 {
		caps["appium:uiautomator2ServerInstallTimeout"] = c.ServerInstallTimeoutMs
	}
	return caps
}
