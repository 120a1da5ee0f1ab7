// Package session is a thin typed facade over the "session.*" and
// "browsingContext.load"/"browsingContext.navigate" BiDi methods, showing
// how a module wrapper uses bidi.SendCommandAndWait, bidi.Subscribe and a
// bidi.Schema descriptor without the transport knowing anything about what
// these particular methods mean.
package session

import "github.com/tzrikka/bidigo/bidi"

// StatusResult is the decoded result of "session.status".
type StatusResult struct {
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

var statusSchema = bidi.Schema[StatusResult]{}

// Status asks the peer for its readiness state.
func Status(t *bidi.Transport) (StatusResult, error) {
	return bidi.SendCommandAndWait(t, bidi.Command{Method: "session.status", Params: struct{}{}}, statusSchema)
}

// NewResult is the decoded result of "session.new".
type NewResult struct {
	SessionId    string         `json:"sessionId"`
	Capabilities map[string]any `json:"capabilities"`
}

type newParams struct {
	Capabilities map[string]any `json:"capabilities"`
}

var newSchema = bidi.Schema[NewResult]{}

// New requests a new BiDi session with the given capabilities.
func New(t *bidi.Transport, capabilities map[string]any) (NewResult, error) {
	return bidi.SendCommandAndWait(t, bidi.Command{
		Method: "session.new",
		Params: newParams{Capabilities: capabilities},
	}, newSchema)
}

var endSchema = bidi.Schema[struct{}]{}

// End terminates the current BiDi session.
func End(t *bidi.Transport) error {
	_, err := bidi.SendCommandAndWait(t, bidi.Command{Method: "session.end", Params: struct{}{}}, endSchema)
	return err
}

// LoadEvent is the decoded payload of a "browsingContext.load" event.
type LoadEvent struct {
	Context   string `json:"context"`
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"`
}

var loadSchema = bidi.Schema[LoadEvent]{}

// OnLoad subscribes fn to every "browsingContext.load" event. The returned
// Subscription can be passed to bidi.Unsubscribe to remove it.
func OnLoad(t *bidi.Transport, fn func(LoadEvent)) bidi.Subscription {
	return bidi.Subscribe(t, "browsingContext.load", loadSchema, fn)
}

type navigateParams struct {
	Context string `json:"context"`
	URL     string `json:"url"`
}

var navigateSchema = bidi.Schema[struct{}]{}

// Navigate points the given browsing context at url.
func Navigate(t *bidi.Transport, context, url string) error {
	_, err := bidi.SendCommandAndWait(t, bidi.Command{
		Method: "browsingContext.navigate",
		Params: navigateParams{Context: context, URL: url},
	}, navigateSchema)
	return err
}
