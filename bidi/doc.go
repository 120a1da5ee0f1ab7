// Package bidi implements a client-side request/response multiplexer and
// event router for the WebDriver BiDi protocol: a bidirectional JSON
// message protocol spoken over a WebSocket between a controlling program
// and a browser.
//
// The [Transport] is the centerpiece: it owns a [Connection], a command
// registry, and an event registry. Callers issue named commands with
// [SendCommand] or [SendCommandAndWait] and receive correlated, typed
// results; unsolicited events are routed to subscribers registered with
// [RegisterEvent].
//
// This package knows nothing about what any particular BiDi command or
// event means — "browsingContext.navigate" is just a method name with a
// JSON params value, as far as bidi is concerned. Typed facades over
// specific BiDi modules belong in their own packages (see
// github.com/tzrikka/bidigo/modules).
package bidi
