// Package mock provides a scripted in-memory remote for testing without a device.
package mock

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
)

// Remote is a mock implementation of core.Remote. Elements are matched by
// resource ID or by the XPath shapes //Class[@text="v"] and
// //Class[contains(@text, "v")]; Class may be "*".
type Remote struct {
	// Configuration
	Config Config

	mu         sync.Mutex
	elements   []*Element
	handles    map[string]handle
	generation int
	openedAt   time.Time
	sessionID  string
	nextHandle int
	calls      []string
	finds      int
	closes     int
}

// Config configures mock remote behavior.
type Config struct {
	// Now returns the current time; defaults to time.Now.
	// Element timelines are measured from session open.
	Now func() time.Time
	// OpenErr makes Open fail with this error.
	OpenErr error
	// FindErr makes every Find fail with this error.
	FindErr error
	// RebuildOnFind invalidates every previously issued handle on each
	// Find, as if the UI tree were torn down and rebuilt between lookups.
	RebuildOnFind bool
}

// Element is one scripted UI element.
type Element struct {
	ResourceID string
	Text       string
	Class      string

	AppearAfter  time.Duration // Not present before this offset
	VisibleAfter time.Duration // displayed=false before this offset
	EnabledAfter time.Duration // enabled=false before this offset
	TextAfter    time.Duration // Text reads as InitialText before this offset
	InitialText  string
	Hidden       bool // Never displayed
	Disabled     bool // Never enabled

	// OnClick runs after the element is clicked, e.g. to reveal the next screen.
	OnClick func(r *Remote)

	clicks int
	value  string
}

type handle struct {
	el         *Element
	generation int
}

// New creates a new mock remote.
func New(cfg Config) *Remote {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Remote{
		Config:  cfg,
		handles: make(map[string]handle),
	}
}

// Add adds elements to the screen and returns the first one.
func (r *Remote) Add(elements ...Element) *Element {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first *Element
	for i := range elements {
		el := elements[i]
		r.elements = append(r.elements, &el)
		if first == nil {
			first = &el
		}
	}
	return first
}

// Clear removes every element, invalidating all handles.
func (r *Remote) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elements = nil
	r.generation++
}

// Open implements core.Remote.
func (r *Remote) Open(ctx context.Context, caps core.Capabilities) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, "open")
	if r.Config.OpenErr != nil {
		return "", r.Config.OpenErr
	}
	r.sessionID = "mock-session"
	r.openedAt = r.Config.Now()
	return r.sessionID, nil
}

// Find implements core.Remote.
func (r *Remote) Find(ctx context.Context, sessionID, strategy, value string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finds++
	r.calls = append(r.calls, fmt.Sprintf("find %s %s", strategy, value))
	if err := r.checkSession(sessionID); err != nil {
		return "", err
	}
	if r.Config.FindErr != nil {
		return "", r.Config.FindErr
	}
	if r.Config.RebuildOnFind {
		r.generation++
	}

	match, err := matcher(strategy, value)
	if err != nil {
		return "", err
	}

	elapsed := r.elapsed()
	for _, el := range r.elements {
		if elapsed < el.AppearAfter {
			continue
		}
		if match(el, elapsed) {
			r.nextHandle++
			id := "el-" + strconv.Itoa(r.nextHandle)
			r.handles[id] = handle{el: el, generation: r.generation}
			return id, nil
		}
	}
	return "", core.ErrNotFound.WithMessage(fmt.Sprintf("element %s %q not found", strategy, value))
}

// Attribute implements core.Remote.
func (r *Remote) Attribute(ctx context.Context, sessionID, elementID, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, fmt.Sprintf("attribute %s %s", elementID, name))
	el, err := r.lookup(sessionID, elementID)
	if err != nil {
		return "", err
	}

	elapsed := r.elapsed()
	switch name {
	case core.AttrText:
		return el.currentText(elapsed), nil
	case core.AttrDisplayed:
		return strconv.FormatBool(!el.Hidden && elapsed >= el.VisibleAfter), nil
	case core.AttrEnabled:
		return strconv.FormatBool(!el.Disabled && elapsed >= el.EnabledAfter), nil
	case "resource-id":
		return el.ResourceID, nil
	case "class":
		return el.Class, nil
	default:
		return "", nil
	}
}

// Click implements core.Remote.
func (r *Remote) Click(ctx context.Context, sessionID, elementID string) error {
	r.mu.Lock()
	r.calls = append(r.calls, "click "+elementID)
	el, err := r.lookup(sessionID, elementID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	el.clicks++
	onClick := el.OnClick
	r.mu.Unlock()

	if onClick != nil {
		onClick(r)
	}
	return nil
}

// SendText implements core.Remote.
func (r *Remote) SendText(ctx context.Context, sessionID, elementID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, fmt.Sprintf("send %s %s", elementID, text))
	el, err := r.lookup(sessionID, elementID)
	if err != nil {
		return err
	}
	el.value += text
	return nil
}

// Close implements core.Remote.
func (r *Remote) Close(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, "close")
	if err := r.checkSession(sessionID); err != nil {
		return err
	}
	r.closes++
	r.sessionID = ""
	return nil
}

// Calls returns every remote call in order.
func (r *Remote) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// CallCount returns how many calls start with prefix ("click", "send", ...).
func (r *Remote) CallCount(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// FindCount returns the number of Find calls.
func (r *Remote) FindCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finds
}

// CloseCount returns the number of successful Close calls.
func (r *Remote) CloseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// Clicks returns how many times el was clicked.
func (r *Remote) Clicks(el *Element) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return el.clicks
}

// Value returns the text sent to el.
func (r *Remote) Value(el *Element) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return el.value
}

func (r *Remote) elapsed() time.Duration {
	return r.Config.Now().Sub(r.openedAt)
}

func (r *Remote) checkSession(sessionID string) error {
	if r.sessionID == "" || sessionID != r.sessionID {
		return core.NewExecutionError(core.ErrCategoryConnection, "invalid_session", "invalid session id: "+sessionID)
	}
	return nil
}

func (r *Remote) lookup(sessionID, elementID string) (*Element, error) {
	if err := r.checkSession(sessionID); err != nil {
		return nil, err
	}
	h, ok := r.handles[elementID]
	if !ok || h.generation != r.generation {
		return nil, core.ErrStaleElement.WithMessage("stale element reference: " + elementID)
	}
	return h.el, nil
}

func (el *Element) currentText(elapsed time.Duration) string {
	if el.value != "" {
		return el.value
	}
	if elapsed < el.TextAfter {
		return el.InitialText
	}
	return el.Text
}

var textXPath = regexp.MustCompile(`^//([\w.*]+)\[(?:@text=(.+)|contains\(@text,\s*(.+)\))\]$`)

func matcher(strategy, value string) (func(el *Element, elapsed time.Duration) bool, error) {
	switch strategy {
	case core.StrategyID:
		return func(el *Element, _ time.Duration) bool {
			return el.ResourceID != "" && el.ResourceID == value
		}, nil
	case core.StrategyXPath:
		m := textXPath.FindStringSubmatch(value)
		if m == nil {
			return nil, core.NewExecutionError(core.ErrCategoryAssertion, "invalid_selector", "mock cannot evaluate xpath: "+value)
		}
		class := m[1]
		classOK := func(el *Element) bool { return class == "*" || el.Class == class }
		if m[2] != "" {
			want, ok := unquote(m[2])
			if !ok {
				return nil, core.NewExecutionError(core.ErrCategoryAssertion, "invalid_selector", "mock cannot evaluate literal: "+m[2])
			}
			return func(el *Element, elapsed time.Duration) bool {
				return classOK(el) && el.currentText(elapsed) == want
			}, nil
		}
		want, ok := unquote(m[3])
		if !ok {
			return nil, core.NewExecutionError(core.ErrCategoryAssertion, "invalid_selector", "mock cannot evaluate literal: "+m[3])
		}
		return func(el *Element, elapsed time.Duration) bool {
			return classOK(el) && strings.Contains(el.currentText(elapsed), want)
		}, nil
	default:
		return nil, core.NewExecutionError(core.ErrCategoryAssertion, "invalid_selector", "unsupported strategy: "+strategy)
	}
}

func unquote(lit string) (string, bool) {
	if len(lit) >= 2 && (lit[0] == '"' || lit[0] == '\'') && lit[len(lit)-1] == lit[0] {
		return lit[1 : len(lit)-1], true
	}
	return "", false
}
