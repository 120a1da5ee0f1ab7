package bidi

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// transportState is the Transport's lifecycle state, per the state machine:
// New -> Connecting -> Connected -> Disconnecting -> Closed.
type transportState int

const (
	stateNew transportState = iota
	stateConnecting
	stateConnected
	stateDisconnecting
	stateClosed
)

func (s transportState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDisconnecting:
		return "disconnecting"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const defaultCommandTimeout = 30 * time.Second

// EventNotification is published on [Transport.EventReceived] for every
// decoded event. Only events whose name is registered are decoded; other
// events are reported on [Transport.UnknownMessageReceived] instead.
type EventNotification struct {
	Method  string
	Payload any
}

// Option customizes a Transport at construction time.
type Option func(*Transport)

// WithCommandTimeout sets the default timeout used by SendCommandAndWait.
// The zero value (not calling this option) keeps the package default.
func WithCommandTimeout(d time.Duration) Option {
	return func(t *Transport) { t.defaultTimeout = d }
}

// Transport is a client-side request/response multiplexer and event router
// for a single Connection. It owns the Connection, the Command Registry and
// the Event Registry for the lifetime of one session; see [New].
type Transport struct {
	logger *zerolog.Logger
	conn   Connection

	commands      *commandRegistry
	events        *eventRegistry
	dispatch      *dispatchQueue
	subscriptions *subscriberSet

	counter        atomic.Uint64
	defaultTimeout time.Duration

	mu    sync.RWMutex
	state transportState

	eventReceivedC chan EventNotification
	protocolErrorC chan ErrorResponse
	unknownC       chan []byte

	closeOnce sync.Once
}

// New constructs a Transport around conn. conn is not started until
// [Transport.Connect] is called. The logger attached to ctx (see
// [zerolog.Ctx]) is used for this transport's diagnostic output.
func New(ctx context.Context, conn Connection, opts ...Option) *Transport {
	t := &Transport{
		logger:         zerolog.Ctx(ctx),
		conn:           conn,
		commands:       &commandRegistry{},
		events:         newEventRegistry(),
		dispatch:       newDispatchQueue(),
		subscriptions:  newSubscriberSet(),
		defaultTimeout: defaultCommandTimeout,
		eventReceivedC: make(chan EventNotification),
		protocolErrorC: make(chan ErrorResponse),
		unknownC:       make(chan []byte),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// currentState reports the transport's current lifecycle state, mainly for
// tests and diagnostics.
func (t *Transport) currentState() transportState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Connect dials uri and starts the receive loop. It is valid only from the
// New state; returns ErrTransportStartFailed if the handshake does not
// complete.
func (t *Transport) Connect(ctx context.Context, uri string) error {
	t.mu.Lock()
	if t.state != stateNew {
		t.mu.Unlock()
		return fmt.Errorf("bidi: Connect called in state %s", t.state)
	}
	t.state = stateConnecting
	t.mu.Unlock()

	if err := t.conn.Start(ctx, uri); err != nil {
		t.mu.Lock()
		t.state = stateClosed
		t.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransportStartFailed, err)
	}

	t.mu.Lock()
	t.state = stateConnected
	t.mu.Unlock()

	t.logger.Debug().Str("uri", uri).Msg("bidi transport connected")

	go t.dispatchLoop()
	go t.receiveLoop()

	return nil
}

// Disconnect initiates a graceful shutdown: the underlying Connection is
// stopped, which drains its receive loop and transitions this Transport to
// Closed. It is safe to call more than once.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.state != stateConnected {
		t.mu.Unlock()
		return
	}
	t.state = stateDisconnecting
	t.mu.Unlock()

	t.conn.Stop()
}

// registerEvent forwards name's schema and dispatch callback to the Event
// Registry. Re-registering the same name is last-writer-wins.
func (t *Transport) registerEvent(name string, decode decodeFunc, dispatch func(any)) {
	t.events.register(name, decode, dispatch)
}

// EventReceived publishes a notification for every successfully decoded
// inbound event, after its dispatch callback has been queued. Events with
// no registered name are not decoded and do not appear here; they go to
// UnknownMessageReceived. Callers must drain this channel continuously; the receive loop blocks on
// it like every other observable output.
func (t *Transport) EventReceived() <-chan EventNotification {
	return t.eventReceivedC
}

// ProtocolErrorReceived publishes every decoded unsolicited error frame.
func (t *Transport) ProtocolErrorReceived() <-chan ErrorResponse {
	return t.protocolErrorC
}

// UnknownMessageReceived publishes the raw bytes of every inbound frame
// that could not be classified, or whose id/event name was not recognized.
func (t *Transport) UnknownMessageReceived() <-chan []byte {
	return t.unknownC
}

func (t *Transport) nextID() CommandId {
	return CommandId(t.counter.Add(1))
}

// failFatal reports an internal invariant violation and transitions the
// transport straight to Closed, per spec.md §7: "internal invariant
// failures ... are fatal; the transport transitions to Closed and reports
// via log." This should be unreachable in practice (the atomic counter
// guarantees distinct ids), but a violation indicates the registry can no
// longer be trusted, so the connection is torn down rather than left
// running in a corrupted state.
func (t *Transport) failFatal(err error) {
	t.logger.Error().Err(err).Msg("bidi: internal invariant violation, closing transport")

	t.mu.Lock()
	t.state = stateClosed
	t.mu.Unlock()

	t.conn.Stop()
}

// sendCommand assigns an id, inserts the registry entry, serializes cmd and
// writes it to the Connection, in that exact order. If the write fails the
// registry entry is removed and the id is never reused.
func (t *Transport) sendCommand(cmd Command, decode decodeFunc) (CommandId, error) {
	t.mu.RLock()
	state := t.state
	t.mu.RUnlock()
	if state != stateConnected {
		return 0, ErrNotConnected
	}

	id := t.nextID()
	p := newPendingCommand(id, cmd, decode)
	if err := t.commands.insert(p); err != nil {
		t.failFatal(err)
		return 0, err
	}

	data, err := p.marshal()
	if err != nil {
		t.commands.remove(id)
		return 0, fmt.Errorf("bidi: failed to marshal command %q: %w", cmd.Method, err)
	}

	if err := <-t.conn.SendText(data); err != nil {
		t.commands.remove(id)
		return 0, fmt.Errorf("bidi: failed to send command %q: %w", cmd.Method, err)
	}

	return id, nil
}

// waitForCommand blocks until id's completion is signaled or timeout
// elapses. It does not remove the registry entry: a late response still
// lands in it until take removes it, or until disconnect.
func (t *Transport) waitForCommand(id CommandId, timeout time.Duration) error {
	p, ok := t.commands.tryGet(id)
	if !ok {
		return ErrUnknownCommandID
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.completion:
		return nil
	case <-timer.C:
		return ErrCommandTimeout
	}
}

// takeCommandResponse removes id's registry entry and returns its raw
// outcome. It is the caller's responsibility to have waited for completion
// first; this blocks until completion is signaled.
func (t *Transport) takeCommandResponse(id CommandId) (outcome, Command, error) {
	p, ok := t.commands.remove(id)
	if !ok {
		return outcome{}, Command{}, ErrUnknownCommandID
	}
	<-p.completion
	return p.outcome, p.command, nil
}

// receiveLoop is the Transport's single reader of Connection frames. It
// runs until the Connection's Incoming channel closes, then tears down any
// still-pending commands.
func (t *Transport) receiveLoop() {
	for raw := range t.conn.Incoming() {
		t.handleFrame(raw)
	}
	t.teardown()
}

// handleFrame implements the inbound dispatch algorithm: classify, then
// route to command completion, event dispatch, protocol-error reporting,
// or unknown-message reporting.
func (t *Transport) handleFrame(raw []byte) {
	frame := classify(raw)

	switch frame.kind {
	case frameCommandResponse:
		p, ok := t.commands.tryGet(frame.id)
		if !ok {
			t.unknownC <- raw
			return
		}
		v, err := p.decode(frame.result)
		if err != nil {
			p.complete(outcome{kind: outcomeDecodeFailure, decErr: err})
			return
		}
		p.complete(outcome{kind: outcomeResult, result: v})

	case frameCommandError:
		p, ok := t.commands.tryGet(frame.id)
		if !ok {
			t.unknownC <- raw
			return
		}
		p.complete(outcome{kind: outcomeError, err: frame.err})

	case frameUnsolicitedError:
		t.protocolErrorC <- frame.err

	case frameEvent:
		desc, ok := t.events.lookup(frame.method)
		if !ok {
			t.unknownC <- raw
			return
		}
		v, err := desc.decode(frame.params)
		if err != nil {
			t.unknownC <- raw
			return
		}
		t.dispatch.push(dispatchJob{descriptor: desc, method: frame.method, decoded: v})
		t.eventReceivedC <- EventNotification{Method: frame.method, Payload: v}

	default:
		t.unknownC <- raw
	}
}

// dispatchLoop is the single drain goroutine for the dispatch queue, so a
// blocking subscriber callback never stalls receiveLoop.
func (t *Transport) dispatchLoop() {
	for {
		job, ok := t.dispatch.pop()
		if !ok {
			return
		}
		job.descriptor.dispatch(job.decoded)
	}
}

// teardown runs once, when the Connection's receive loop has drained. Every
// still-pending command is completed with ErrConnectionClosed so no waiter
// ever deadlocks on disconnect.
func (t *Transport) teardown() {
	t.mu.Lock()
	t.state = stateClosed
	t.mu.Unlock()

	for _, p := range t.commands.drain() {
		p.complete(outcome{kind: outcomeConnectionClosed})
	}

	t.dispatch.close()

	t.closeOnce.Do(func() {
		close(t.eventReceivedC)
		close(t.protocolErrorC)
		close(t.unknownC)
	})

	t.logger.Debug().Msg("bidi transport closed")
}

// SendCommand assigns cmd an id, registers schema as its result decoder,
// and writes it to the underlying Connection. It returns the assigned id,
// or ErrNotConnected if the transport is not in the Connected state.
func SendCommand[T any](t *Transport, cmd Command, schema Schema[T]) (CommandId, error) {
	return t.sendCommand(cmd, eraseSchema(schema))
}

// WaitForCommand blocks until id's completion is signaled or timeout
// elapses, without consuming the result; call [TakeCommandResponse]
// afterwards to retrieve it.
func WaitForCommand(t *Transport, id CommandId, timeout time.Duration) error {
	return t.waitForCommand(id, timeout)
}

// TakeCommandResponse removes id's entry from the Command Registry and
// returns its decoded result, or the error captured for it. It fails with
// ErrUnknownCommandID if id was never issued or was already taken.
func TakeCommandResponse[T any](t *Transport, id CommandId) (T, error) {
	var zero T

	o, cmd, err := t.takeCommandResponse(id)
	if err != nil {
		return zero, err
	}

	switch o.kind {
	case outcomeResult:
		v, ok := o.result.(T)
		if !ok {
			return zero, &DecodeError{Method: cmd.Method, Err: fmt.Errorf("unexpected result type %T", o.result)}
		}
		return v, nil
	case outcomeError:
		return zero, &PeerError{Response: o.err}
	case outcomeDecodeFailure:
		return zero, &DecodeError{Method: cmd.Method, Err: o.decErr}
	case outcomeConnectionClosed:
		return zero, ErrConnectionClosed
	default:
		return zero, ErrUnknownCommandID
	}
}

// SendCommandAndWait composes SendCommand, WaitForCommand (with the
// transport's configured default timeout) and TakeCommandResponse.
func SendCommandAndWait[T any](t *Transport, cmd Command, schema Schema[T]) (T, error) {
	var zero T

	id, err := SendCommand(t, cmd, schema)
	if err != nil {
		return zero, err
	}

	if err := WaitForCommand(t, id, t.defaultTimeout); err != nil {
		return zero, err
	}

	return TakeCommandResponse[T](t, id)
}

// RegisterEvent registers name's payload schema and a typed dispatch
// callback with the Event Registry. Re-registering the same name replaces
// the previous dispatch callback (last-writer-wins).
func RegisterEvent[T any](t *Transport, name string, schema Schema[T], dispatch func(T)) {
	t.registerEvent(name, eraseSchema(schema), func(v any) {
		dispatch(v.(T))
	})
}
