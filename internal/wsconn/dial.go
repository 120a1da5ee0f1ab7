package wsconn

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // Required by RFC 6455, not used for anything security-sensitive.
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// webSocketGUID is the fixed value appended to the handshake nonce before
// hashing, per https://datatracker.ietf.org/doc/html/rfc6455#section-1.3.
const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// DialOpt customizes a [Conn] before it performs its handshake.
type DialOpt func(*Conn)

// WithHeader adds a custom HTTP header to the handshake request, e.g. an
// "Authorization" header required by a specific WebSocket server.
func WithHeader(key, value string) DialOpt {
	return func(c *Conn) {
		c.headers.Add(key, value)
	}
}

// WithHTTPClient overrides the HTTP client used to perform the handshake
// request. This is mainly useful to configure TLS settings for "wss://" URLs.
func WithHTTPClient(client *http.Client) DialOpt {
	return func(c *Conn) {
		c.client = client
	}
}

// Dial establishes a new WebSocket connection to the given URL ("ws://" or
// "wss://"), and starts its read and write loops. The logger attached to ctx
// (see [zerolog.Ctx]) is used for this connection's diagnostic output.
func Dial(ctx context.Context, rawURL string, opts ...DialOpt) (*Conn, error) {
	c := newConn(zerolog.Ctx(ctx), &http.Client{}, http.Header{})
	for _, opt := range opts {
		opt(c)
	}

	nonce, err := generateNonce(c.nonceGen)
	if err != nil {
		return nil, fmt.Errorf("failed to generate WebSocket handshake nonce: %w", err)
	}

	req, err := c.handshakeRequest(ctx, rawURL, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to construct WebSocket handshake request: %w", err)
	}

	client := adjustHTTPClient(*c.client)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send WebSocket handshake request: %w", err)
	}

	if err := checkHandshakeResponse(resp, nonce); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("WebSocket handshake failed: %w", err)
	}

	// The body of a 101 response is the upgraded socket itself, so it stays
	// open and becomes owned by c.
	rwc, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		resp.Body.Close()
		return nil, errors.New("HTTP transport did not return a hijackable connection")
	}

	c.closer = rwc
	c.bufio = bufio.NewReadWriter(bufio.NewReader(rwc), bufio.NewWriter(rwc))
	c.readC = make(chan Frame)
	c.writeC = make(chan writeRequest)

	go c.readMessages()
	go c.writeMessages()

	c.logger.Debug().Str("url", rawURL).Msg("established WebSocket connection")

	return c, nil
}

// adjustHTTPClient returns a copy of c that doesn't follow HTTP redirects,
// so that the caller observes the raw handshake response (in particular,
// a 101 Switching Protocols status can't be masked by a followed redirect).
func adjustHTTPClient(c http.Client) http.Client {
	c.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// generateNonce reads 16 random bytes from r and base64-encodes them, to
// produce a "Sec-WebSocket-Key" header value, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
func generateNonce(r io.Reader) (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// handshakeRequest constructs the client's HTTP Upgrade request, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
func (c *Conn) handshakeRequest(ctx context.Context, rawURL, nonce string) (*http.Request, error) {
	httpURL := rawURL
	switch {
	case strings.HasPrefix(rawURL, "ws://"):
		httpURL = "http://" + rawURL[len("ws://"):]
	case strings.HasPrefix(rawURL, "wss://"):
		httpURL = "https://" + rawURL[len("wss://"):]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", nonce)

	return req, nil
}

// checkHandshakeResponse validates the server's handshake response, per
// https://datatracker.ietf.org/doc/html/rfc6455#section-4.1.
func checkHandshakeResponse(resp *http.Response, nonce string) error {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	if err := checkHTTPHeader(resp.Header, "Upgrade", "websocket"); err != nil {
		return err
	}
	if err := checkHTTPHeader(resp.Header, "Connection", "Upgrade"); err != nil {
		return err
	}

	want := acceptKey(nonce)
	return checkHTTPHeader(resp.Header, "Sec-WebSocket-Accept", want)
}

// acceptKey computes the expected "Sec-WebSocket-Accept" header value for
// the given handshake nonce.
func acceptKey(nonce string) string {
	h := sha1.New() //nolint:gosec // Required by RFC 6455, not used for anything security-sensitive.
	_, _ = io.WriteString(h, nonce+webSocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// checkHTTPHeader reports whether h's value for key case-insensitively
// matches want.
func checkHTTPHeader(h http.Header, key, want string) error {
	got := h.Get(key)
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("unexpected %q header: got %q, want %q", key, got, want)
	}
	return nil
}
