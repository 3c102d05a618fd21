package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type captured struct {
	path, title, tags, priority, auth, body string
}

func TestClient_SendsLifecycleNotifications(t *testing.T) {
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			path:     r.URL.Path,
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			auth:     r.Header.Get("Authorization"),
			body:     string(body),
		})
		mu.Unlock()
	}))
	defer srv.Close()

	logger, _ := zap.NewDevelopment()
	c := NewClient(&Config{Enabled: true, Server: srv.URL + "/", Topic: "chat", Priority: "low", Tags: "speech_balloon", Token: "tk"}, logger)
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	c.StreamStarted("abcdefghijk")
	c.Close()
	c.StreamStopped("abcdefghijk", "broadcast ended")
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	start, stop := got[0], got[1]
	if start.path != "/chat" || start.title != "Chat stream started: abcdefghijk" {
		t.Errorf("unexpected start notification %+v", start)
	}
	if start.tags != "speech_balloon,arrow_forward" || start.priority != "low" || start.auth != "Bearer tk" {
		t.Errorf("unexpected headers %+v", start)
	}
	if !strings.Contains(start.body, "Started: 2024-05-01T12:00:00Z") {
		t.Errorf("unexpected body %q", start.body)
	}
	if !strings.Contains(stop.body, "Reason: broadcast ended") {
		t.Errorf("stop body missing reason: %q", stop.body)
	}
}

func TestClient_SendReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "chat", Priority: "default"}, zap.NewNop())
	if err := c.send(t.Context(), "t", "m", "x", "default"); err == nil {
		t.Error("expected error for 403")
	}
}

func TestNew_DisabledIsNoop(t *testing.T) {
	if _, ok := New(&Config{}, zap.NewNop()).(NoopNotifier); !ok {
		t.Error("expected NoopNotifier when disabled")
	}
	if _, ok := New(nil, zap.NewNop()).(NoopNotifier); !ok {
		t.Error("expected NoopNotifier for nil config")
	}
	if _, ok := New(&Config{Enabled: true, Topic: "x"}, zap.NewNop()).(*Client); !ok {
		t.Error("expected ntfy client when enabled")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"missing topic", Config{Enabled: true, Priority: "default"}, true},
		{"bad priority", Config{Enabled: true, Topic: "t", Priority: "loud"}, true},
		{"ok", Config{Enabled: true, Topic: "t", Priority: "urgent"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
