// Package appium implements core.Remote using Appium server via W3C WebDriver protocol.
package appium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
	"github.com/devicelab-dev/ntr-runner/pkg/logger"
)

// W3C WebDriver element identifier key (standard constant)
const w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

// DefaultURL is where a local Appium 2 server listens.
const DefaultURL = "http://127.0.0.1:4723"

// W3C error codes the core distinguishes.
const (
	w3cNoSuchElement     = "no such element"
	w3cStaleElement      = "stale element reference"
	w3cInvalidSession    = "invalid session id"
	w3cSessionNotCreated = "session not created"
	w3cInvalidSelector   = "invalid selector"
	w3cInvalidArgument   = "invalid argument"
)

// Client handles HTTP communication with Appium server.
// It holds no session state; every call names its session.
type Client struct {
	serverURL string
	client    *http.Client
}

// NewClient creates a new Appium client.
func NewClient(serverURL string) *Client {
	if serverURL == "" {
		serverURL = DefaultURL
	}
	return &Client{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		client: &http.Client{
			Timeout: 5 * time.Minute, // Long timeout for driver server install on first session
		},
	}
}

// URL returns the server URL.
func (c *Client) URL() string {
	return c.serverURL
}

// Status queries GET /status and reports whether the server is ready to
// create sessions.
func (c *Client) Status(ctx context.Context) (bool, error) {
	resp, err := c.get(ctx, "/status")
	if err != nil {
		return false, err
	}
	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return false, nil
	}
	ready, ok := value["ready"].(bool)
	if !ok {
		// Appium 1.x omits ready; a response at all means it is up
		return true, nil
	}
	return ready, nil
}

// Open creates a new session with the given capabilities.
func (c *Client) Open(ctx context.Context, caps core.Capabilities) (string, error) {
	body := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"alwaysMatch": caps.W3C(),
			"firstMatch":  []interface{}{map[string]interface{}{}},
		},
	}

	resp, err := c.post(ctx, "/session", body)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	value, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", core.ErrConnection.WithMessage("invalid session response")
	}

	sessionID, _ := value["sessionId"].(string)
	if sessionID == "" {
		// Legacy JSONWP puts it at the top level
		sessionID, _ = resp["sessionId"].(string)
	}
	if sessionID == "" {
		return "", core.ErrConnection.WithMessage("no session ID in response")
	}
	return sessionID, nil
}

// Find finds a single element.
func (c *Client) Find(ctx context.Context, sessionID, strategy, value string) (string, error) {
	body := map[string]interface{}{
		"using": strategy,
		"value": value,
	}

	resp, err := c.post(ctx, sessionPath(sessionID)+"/element", body)
	if err != nil {
		return "", err
	}

	elemValue, ok := resp["value"].(map[string]interface{})
	if !ok {
		return "", core.ErrNotFound.WithMessage(fmt.Sprintf("element %s %q not found", strategy, value))
	}
	id := extractElementID(elemValue)
	if id == "" {
		return "", core.ErrNotFound.WithMessage(fmt.Sprintf("element %s %q not found", strategy, value))
	}
	return id, nil
}

// Attribute returns an element's attribute value. Boolean attributes such
// as displayed and enabled come back as "true" or "false".
func (c *Client) Attribute(ctx context.Context, sessionID, elementID, name string) (string, error) {
	resp, err := c.get(ctx, elementPath(sessionID, elementID)+"/attribute/"+url.PathEscape(name))
	if err != nil {
		return "", err
	}
	switch v := resp["value"].(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Click clicks an element using WebDriver standard endpoint.
func (c *Client) Click(ctx context.Context, sessionID, elementID string) error {
	_, err := c.post(ctx, elementPath(sessionID, elementID)+"/click", map[string]interface{}{})
	return err
}

// SendText populates an element with text in a single request.
func (c *Client) SendText(ctx context.Context, sessionID, elementID, text string) error {
	_, err := c.post(ctx, elementPath(sessionID, elementID)+"/value", map[string]interface{}{
		"text":  text,
		"value": strings.Split(text, ""),
	})
	return err
}

// Close deletes the session.
func (c *Client) Close(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	_, err := c.delete(ctx, sessionPath(sessionID))
	return err
}

// HTTP Helpers

func sessionPath(sessionID string) string {
	return "/session/" + sessionID
}

func elementPath(sessionID, elementID string) string {
	return sessionPath(sessionID) + "/element/" + elementID
}

func (c *Client) get(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

func (c *Client) delete(ctx context.Context, path string) (map[string]interface{}, error) {
	return c.request(ctx, http.MethodDelete, path, nil)
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) (map[string]interface{}, error) {
	target := c.serverURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, core.ErrConfiguration.WithMessage("invalid server URL " + c.serverURL).WithCause(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Debug("%s %s failed: %v", method, path, err)
		return nil, core.ErrConnection.
			WithMessage(fmt.Sprintf("%s %s", method, target)).
			WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrConnection.WithMessage("read response").WithCause(err)
	}
	logger.Debug("%s %s -> %d (%dms)", method, path, resp.StatusCode, time.Since(start).Milliseconds())

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, core.NewExecutionError(core.ErrCategoryUnknown, "bad_response",
			fmt.Sprintf("failed to parse response (HTTP %d)", resp.StatusCode)).WithCause(err)
	}

	// Check for WebDriver error
	if errValue, ok := result["value"].(map[string]interface{}); ok {
		if errType, ok := errValue["error"].(string); ok {
			errMsg, _ := errValue["message"].(string)
			return result, classify(errType, errMsg)
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return result, core.NewExecutionError(core.ErrCategoryUnknown, "http_"+strconv.Itoa(resp.StatusCode),
			fmt.Sprintf("HTTP %d from %s %s", resp.StatusCode, method, path))
	}

	return result, nil
}

// classify maps a W3C error code onto the core error model.
func classify(errType, errMsg string) error {
	msg := errType
	if errMsg != "" {
		msg = fmt.Sprintf("%s: %s", errType, firstLine(errMsg))
	}
	switch errType {
	case w3cNoSuchElement:
		return core.ErrNotFound.WithMessage(msg)
	case w3cStaleElement:
		return core.ErrStaleElement.WithMessage(msg)
	case w3cInvalidSession, w3cSessionNotCreated:
		return core.ErrConnection.WithMessage(msg)
	case w3cInvalidSelector, w3cInvalidArgument:
		return core.ErrConfiguration.WithMessage(msg)
	default:
		return core.NewExecutionError(core.ErrCategoryUnknown, strings.ReplaceAll(errType, " ", "_"), msg)
	}
}

// firstLine trims the Java stack trace Appium appends to messages.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func extractElementID(value map[string]interface{}) string {
	// W3C format
	if id, ok := value[w3cElementKey].(string); ok {
		return id
	}
	// Legacy format
	if id, ok := value["ELEMENT"].(string); ok {
		return id
	}
	return ""
}

var _ core.Remote = (*Client)(nil)
