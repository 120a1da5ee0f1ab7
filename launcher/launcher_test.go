package launcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLauncher(t *testing.T, srv *httptest.Server) *Launcher {
	t.Helper()
	logger := zerolog.Nop()
	return &Launcher{
		logger:  &logger,
		client:  srv.Client(),
		baseURL: srv.URL,
		opts:    Options{StartupTimeout: time.Second},
	}
}

func TestWaitReadySucceedsOnStatusOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	l := newTestLauncher(t, srv)
	if err := l.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
}

func TestWaitReadyTimesOutWithoutStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	l := newTestLauncher(t, srv)
	l.opts.StartupTimeout = 200 * time.Millisecond

	if err := l.WaitReady(context.Background()); err == nil {
		t.Fatal("expected WaitReady to time out")
	}
}

func TestNewSessionDecodesWebSocketURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":{"sessionId":"s1","capabilities":{"webSocketUrl":"ws://127.0.0.1:1234/session"}}}`))
	}))
	defer srv.Close()

	l := newTestLauncher(t, srv)
	id, wsURL, err := l.NewSession(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if id != "s1" {
		t.Fatalf("id = %q, want %q", id, "s1")
	}
	if wsURL != "ws://127.0.0.1:1234/session" {
		t.Fatalf("webSocketUrl = %q", wsURL)
	}
}

func TestNewSessionFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`bad capabilities`))
	}))
	defer srv.Close()

	l := newTestLauncher(t, srv)
	if _, _, err := l.NewSession(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestEndSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/session/s1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	l := newTestLauncher(t, srv)
	if err := l.EndSession(context.Background(), "s1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
}

func TestAcquirePortReturnsUsablePort(t *testing.T) {
	port, err := acquirePort()
	if err != nil {
		t.Fatalf("acquirePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("port = %d, out of range", port)
	}
}
