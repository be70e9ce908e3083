package appium

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devicelab-dev/ntr-runner/pkg/core"
)

// writeJSON encodes data as JSON to the response writer.
func writeJSON(w http.ResponseWriter, data interface{}) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func w3cError(w http.ResponseWriter, status int, code, msg string) {
	w.WriteHeader(status)
	writeJSON(w, map[string]interface{}{
		"value": map[string]interface{}{
			"error":      code,
			"message":    msg,
			"stacktrace": "io.appium.uiautomator2...",
		},
	})
}

func TestClient_Open(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session" && r.Method == "POST" {
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &got); err != nil {
				t.Errorf("bad body: %v", err)
			}
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					"sessionId": "test-session-123",
					"capabilities": map[string]interface{}{
						"platformName": "Android",
					},
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL + "/")
	id, err := client.Open(context.Background(), core.Capabilities{
		Platform:         "Android",
		AutomationDriver: "UiAutomator2",
		AppPackage:       "com.appcard.androidterminal",
		Reset:            core.ResetPolicy{NoReset: true},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if id != "test-session-123" {
		t.Errorf("Expected sessionID 'test-session-123', got '%s'", id)
	}

	caps, _ := got["capabilities"].(map[string]interface{})
	always, _ := caps["alwaysMatch"].(map[string]interface{})
	if always["platformName"] != "Android" {
		t.Errorf("platformName = %v", always["platformName"])
	}
	if always["appium:appPackage"] != "com.appcard.androidterminal" {
		t.Errorf("appPackage = %v", always["appium:appPackage"])
	}
	if always["appium:noReset"] != true {
		t.Errorf("noReset = %v", always["appium:noReset"])
	}
}

func TestClient_Open_LegacySessionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"sessionId": "legacy-1",
			"value":     map[string]interface{}{},
		})
	}))
	defer server.Close()

	id, err := NewClient(server.URL).Open(context.Background(), core.Capabilities{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if id != "legacy-1" {
		t.Errorf("id = %q, want legacy-1", id)
	}
}

func TestClient_Open_SessionNotCreated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w3cError(w, http.StatusInternalServerError, "session not created", "Could not find a connected Android device\n\tat ...")
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Open(context.Background(), core.Capabilities{})
	if !errors.Is(err, core.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url).Find(context.Background(), "s", "id", "x")
	if !errors.Is(err, core.ErrConnection) {
		t.Fatalf("err = %v, want ErrConnection", err)
	}
	if core.IsTransient(err) {
		t.Error("connection errors must not be transient")
	}
}

func TestClient_Close(t *testing.T) {
	deleteCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/test-session" && r.Method == "DELETE" {
			deleteCalled = true
			writeJSON(w, map[string]interface{}{"value": nil})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.Close(context.Background(), "test-session"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !deleteCalled {
		t.Error("Expected DELETE request")
	}
	if err := client.Close(context.Background(), ""); err != nil {
		t.Errorf("Close with empty session = %v", err)
	}
}

func TestClient_Find(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/s1/element" && r.Method == "POST" {
			json.NewDecoder(r.Body).Decode(&got)
			writeJSON(w, map[string]interface{}{
				"value": map[string]interface{}{
					w3cElementKey: "elem-123",
				},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	id, err := NewClient(server.URL).Find(context.Background(), "s1", "xpath", `//*[@text="OK"]`)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if id != "elem-123" {
		t.Errorf("Expected 'elem-123', got '%s'", id)
	}
	if got["using"] != "xpath" || got["value"] != `//*[@text="OK"]` {
		t.Errorf("request body = %v", got)
	}
}

func TestClient_Find_Errors(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		want      error
		transient bool
	}{
		{"no such element", "no such element", core.ErrNotFound, true},
		{"stale", "stale element reference", core.ErrStaleElement, true},
		{"invalid session", "invalid session id", core.ErrConnection, false},
		{"invalid selector", "invalid selector", core.ErrConfiguration, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w3cError(w, http.StatusNotFound, tt.code, "An element could not be located\nstack")
			}))
			defer server.Close()

			_, err := NewClient(server.URL).Find(context.Background(), "s1", "id", "confirm_btn")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if got := core.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestClient_Find_UnknownErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w3cError(w, http.StatusInternalServerError, "unknown error", "instrumentation process is not running")
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Find(context.Background(), "s1", "id", "x")
	var ee *core.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExecutionError", err)
	}
	if ee.Code != "unknown_error" {
		t.Errorf("Code = %q", ee.Code)
	}
	if ee.Message != "unknown error: instrumentation process is not running" {
		t.Errorf("Message = %q", ee.Message)
	}
	if !core.IsTransient(err) {
		t.Error("unknown errors should keep polling")
	}
}

func TestClient_Attribute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/s1/element/e1/attribute/text":
			writeJSON(w, map[string]interface{}{"value": "Enter your mobile #"})
		case "/session/s1/element/e1/attribute/displayed":
			writeJSON(w, map[string]interface{}{"value": "true"})
		case "/session/s1/element/e1/attribute/enabled":
			writeJSON(w, map[string]interface{}{"value": false})
		case "/session/s1/element/e1/attribute/content-desc":
			writeJSON(w, map[string]interface{}{"value": nil})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL)
	tests := map[string]string{
		core.AttrText:      "Enter your mobile #",
		core.AttrDisplayed: "true",
		core.AttrEnabled:   "false",
		"content-desc":     "",
	}
	for name, want := range tests {
		got, err := client.Attribute(context.Background(), "s1", "e1", name)
		if err != nil {
			t.Fatalf("Attribute(%s) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("Attribute(%s) = %q, want %q", name, got, want)
		}
	}
}

func TestClient_Click(t *testing.T) {
	clicked := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/s1/element/e1/click" && r.Method == "POST" {
			clicked = true
			writeJSON(w, map[string]interface{}{"value": nil})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := NewClient(server.URL).Click(context.Background(), "s1", "e1"); err != nil {
		t.Fatalf("Click failed: %v", err)
	}
	if !clicked {
		t.Error("Expected click request")
	}
}

func TestClient_SendText(t *testing.T) {
	var got map[string]interface{}
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session/s1/element/e1/value" && r.Method == "POST" {
			requests++
			json.NewDecoder(r.Body).Decode(&got)
			writeJSON(w, map[string]interface{}{"value": nil})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if err := NewClient(server.URL).SendText(context.Background(), "s1", "e1", "orena+1@appcard.com"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
	if got["text"] != "orena+1@appcard.com" {
		t.Errorf("text = %v", got["text"])
	}
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  bool
	}{
		{"ready", map[string]interface{}{"ready": true, "message": "The server is ready to accept new connections"}, true},
		{"not ready", map[string]interface{}{"ready": false}, false},
		{"appium 1", map[string]interface{}{"build": map[string]interface{}{"version": "1.22.3"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/status" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				writeJSON(w, map[string]interface{}{"value": tt.value})
			}))
			defer server.Close()

			got, err := NewClient(server.URL).Status(context.Background())
			if err != nil {
				t.Fatalf("Status failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		writeJSON(w, map[string]interface{}{"value": nil})
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewClient(server.URL).Click(ctx, "s1", "e1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestClient_BadResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Find(context.Background(), "s1", "id", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if core.CategoryOf(err) != core.ErrCategoryUnknown {
		t.Errorf("category = %v", core.CategoryOf(err))
	}
}

func TestNewClient_DefaultURL(t *testing.T) {
	if got := NewClient("").URL(); got != DefaultURL {
		t.Errorf("URL() = %q, want %q", got, DefaultURL)
	}
}

func TestExtractElementID(t *testing.T) {
	tests := []struct {
		name  string
		value map[string]interface{}
		want  string
	}{
		{"W3C format", map[string]interface{}{w3cElementKey: "w3c-id"}, "w3c-id"},
		{"Legacy format", map[string]interface{}{"ELEMENT": "legacy-id"}, "legacy-id"},
		{"Empty", map[string]interface{}{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractElementID(tt.value); got != tt.want {
				t.Errorf("extractElementID() = %q, want %q", got, tt.want)
			}
		})
	}
}
