package bidi

import (
	"encoding/json"
	"sync/atomic"
)

// CommandId identifies one outgoing command for the lifetime of a Transport.
// Ids are assigned by strictly monotonic increment starting at 1; id 0 is
// never issued and never reused.
type CommandId uint64

// Command is a named request with arbitrary structured parameters. Params is
// marshaled as-is by [json.Marshal], so it may be a struct, a map, or nil.
type Command struct {
	Method string
	Params any
}

// ErrorResponse is the decoded form of a peer error frame, for both
// command-scoped errors and unsolicited ones.
type ErrorResponse struct {
	Error      string  `json:"error"`
	Message    string  `json:"message"`
	Stacktrace *string `json:"stacktrace,omitempty"`
}

// outcomeKind tags which field of outcome is meaningful. The zero value,
// outcomeNone, means the command is still in flight.
type outcomeKind int

const (
	outcomeNone outcomeKind = iota
	outcomeResult
	outcomeError
	outcomeDecodeFailure
	outcomeConnectionClosed
)

// outcome is the tagged result of a completed command. Exactly one non-zero
// field is populated, selected by kind. It is written exactly once, by the
// receive loop, before completion is signaled; callers only read it after
// that signal, so no mutex guards it.
type outcome struct {
	kind   outcomeKind
	result any
	err    ErrorResponse
	decErr error
}

// pendingCommand is the Command Registry's entry for one in-flight command.
// completion is closed exactly once, by the first caller of complete, when
// outcome is finalized; waiters select on it rather than polling.
type pendingCommand struct {
	id      CommandId
	command Command
	decode  decodeFunc

	completion chan struct{}
	outcome    outcome

	// done guards against completing the same entry twice: a response can
	// land on the receive loop and leave the entry in the registry (only
	// take removes it), so teardown's drain of still-registered entries
	// can otherwise race a result that arrived just before disconnect.
	done atomic.Bool
}

func newPendingCommand(id CommandId, cmd Command, decode decodeFunc) *pendingCommand {
	return &pendingCommand{
		id:         id,
		command:    cmd,
		decode:     decode,
		completion: make(chan struct{}),
	}
}

// complete finalizes p's outcome and signals completion. Only the first
// call has any effect; later calls are a no-op, leaving the
// already-recorded outcome untouched, per spec.md §3's "outcome is never
// mutated" once completion has been signaled.
func (p *pendingCommand) complete(o outcome) {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	p.outcome = o
	close(p.completion)
}

// completed reports whether complete has already been called, without
// blocking on completion. Used by the Command Registry's drain to leave
// already-completed-but-uncollected entries in place for
// TakeCommandResponse to still retrieve, instead of clobbering them with
// ConnectionClosed.
func (p *pendingCommand) completed() bool {
	return p.done.Load()
}

// outgoingFrame is the JSON shape of a client-to-peer command frame, per
// the wire contract: every outgoing frame carries an id.
type outgoingFrame struct {
	Id     CommandId `json:"id"`
	Method string    `json:"method"`
	Params any       `json:"params"`
}

func (p *pendingCommand) marshal() ([]byte, error) {
	return json.Marshal(outgoingFrame{
		Id:     p.id,
		Method: p.command.Method,
		Params: p.command.Params,
	})
}
