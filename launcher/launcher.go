// Package launcher starts and supervises a browser driver binary: a process
// that exposes the WebDriver BiDi launcher HTTP surface (GET /status,
// POST /session, DELETE /session/{id}, optional GET /shutdown) and hosts the
// WebSocket endpoint a bidi.Transport connects to.
//
// The transport core does not depend on this package; any producer of a
// WebSocket URL suffices. This package is one concrete implementation of
// that external collaborator.
package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// portAcquisitionMu is a process-wide lock guarding the find-a-free-port,
// then-spawn-the-driver window, per the port-acquisition race note: binding
// to port 0, reading back the OS-assigned port, releasing it, and handing
// the number to the spawned driver is inherently racy against other local
// binders, but a short, single-process critical section is an acceptable
// mitigation.
var portAcquisitionMu sync.Mutex

// Options configures a driver process.
type Options struct {
	// BinaryPath is the path to the driver executable.
	BinaryPath string
	// Args are extra arguments passed to the driver, before "--port=<n>".
	Args []string
	// StartupTimeout bounds how long WaitReady waits for GET /status to
	// succeed. Zero means DefaultStartupTimeout.
	StartupTimeout time.Duration
	// ShutdownGrace bounds how long Shutdown waits for GET /shutdown to
	// take effect before force-terminating the process group. Zero means
	// DefaultShutdownGrace.
	ShutdownGrace time.Duration
}

// DefaultStartupTimeout is used when Options.StartupTimeout is zero.
const DefaultStartupTimeout = 30 * time.Second

// DefaultShutdownGrace is used when Options.ShutdownGrace is zero.
const DefaultShutdownGrace = 5 * time.Second

// Launcher supervises one running driver process.
type Launcher struct {
	logger  *zerolog.Logger
	client  *http.Client
	baseURL string
	opts    Options

	cmd *exec.Cmd
}

// Start picks a free local port, spawns the driver binary with it, and
// waits for the driver to report readiness. The logger attached to ctx (see
// [zerolog.Ctx]) is used for this launcher's diagnostic output.
func Start(ctx context.Context, opts Options) (*Launcher, error) {
	logger := zerolog.Ctx(ctx)

	portAcquisitionMu.Lock()
	port, err := acquirePort()
	if err != nil {
		portAcquisitionMu.Unlock()
		return nil, fmt.Errorf("launcher: failed to acquire a free port: %w", err)
	}

	args := append(append([]string{}, opts.Args...), fmt.Sprintf("--port=%d", port))
	cmd := exec.CommandContext(ctx, opts.BinaryPath, args...)
	setProcessGroup(cmd)

	err = cmd.Start()
	portAcquisitionMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("launcher: failed to start driver process: %w", err)
	}

	l := &Launcher{
		logger:  logger,
		client:  &http.Client{},
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		opts:    opts,
		cmd:     cmd,
	}

	if l.opts.StartupTimeout == 0 {
		l.opts.StartupTimeout = DefaultStartupTimeout
	}
	if l.opts.ShutdownGrace == 0 {
		l.opts.ShutdownGrace = DefaultShutdownGrace
	}

	if err := l.WaitReady(ctx); err != nil {
		_ = killProcessGroup(cmd)
		return nil, err
	}

	logger.Debug().Str("base_url", l.baseURL).Msg("driver process ready")
	return l, nil
}

// acquirePort binds to port 0 to let the OS assign a free port, reads it
// back, and releases it before returning. Start calls it while holding
// portAcquisitionMu.
func acquirePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()

	return ln.Addr().(*net.TCPAddr).Port, nil
}

// WaitReady polls GET /status until it returns HTTP 200, ctx is canceled,
// or the launcher's startup timeout elapses.
func (l *Launcher) WaitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.StartupTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.statusOK(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("launcher: driver did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Launcher) statusOK(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/status", http.NoBody)
	if err != nil {
		return false
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// sessionResponse is the driver's POST /session response shape, per the
// WebDriver Classic capabilities envelope.
type sessionResponse struct {
	Value struct {
		SessionId    string `json:"sessionId"`
		Capabilities struct {
			WebSocketUrl string `json:"webSocketUrl"`
		} `json:"capabilities"`
	} `json:"value"`
}

// NewSession requests a new browser session with the given WebDriver
// Classic capabilities payload, and returns the session id and the
// WebSocket URL a bidi.Transport should connect to.
func (l *Launcher) NewSession(ctx context.Context, capabilities any) (sessionID, webSocketURL string, err error) {
	body, err := json.Marshal(map[string]any{"capabilities": capabilities})
	if err != nil {
		return "", "", fmt.Errorf("launcher: failed to marshal capabilities: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("launcher: failed to construct /session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("launcher: /session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("launcher: /session returned %s: %s", resp.Status, raw)
	}

	var decoded sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", "", fmt.Errorf("launcher: failed to decode /session response: %w", err)
	}

	l.logger.Debug().Str("session_id", decoded.Value.SessionId).Msg("new driver session")
	return decoded.Value.SessionId, decoded.Value.Capabilities.WebSocketUrl, nil
}

// EndSession quits the browser session identified by id.
func (l *Launcher) EndSession(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, l.baseURL+"/session/"+id, http.NoBody)
	if err != nil {
		return fmt.Errorf("launcher: failed to construct /session/%s request: %w", id, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("launcher: DELETE /session/%s failed: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("launcher: DELETE /session/%s returned %s: %s", id, resp.Status, raw)
	}

	return nil
}

// Shutdown tries GET /shutdown first; if the driver doesn't support it, or
// doesn't exit within the launcher's shutdown grace period, the process
// group is force-terminated.
func (l *Launcher) Shutdown(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/shutdown", http.NoBody)
	if err == nil {
		if resp, err := l.client.Do(req); err == nil {
			resp.Body.Close()
		}
	}

	done := make(chan error, 1)
	go func() { done <- l.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(l.opts.ShutdownGrace):
		l.logger.Warn().Msg("driver did not exit within grace period, force-terminating")
		if err := killProcessGroup(l.cmd); err != nil {
			return fmt.Errorf("launcher: failed to terminate driver process group: %w", err)
		}
		<-done
		return nil
	}
}
