package bidi

import (
	"sync"

	"github.com/lithammer/shortuuid/v4"
)

// Subscription is an opaque handle returned by [Subscribe]; pass it to
// [Unsubscribe] to remove the subscriber.
type Subscription struct {
	method string
	id     string
}

// subscriberSet multiplexes the Event Registry's single dispatch callback
// per event name to an arbitrary number of module-layer subscribers.
// Adding or removing a subscriber is safe with respect to a concurrent
// dispatch; dispatch never invokes a subscriber that has been removed.
type subscriberSet struct {
	mu   sync.RWMutex
	subs map[string]map[string]func(any)
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{subs: make(map[string]map[string]func(any))}
}

// add registers fn under method/id. It reports whether this was the first
// subscriber registered for method, so the caller knows whether it still
// needs to register a dispatch trampoline with the Event Registry.
func (s *subscriberSet) add(method, id string, fn func(any)) (firstForMethod bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.subs[method]
	if !ok {
		byID = make(map[string]func(any))
		s.subs[method] = byID
	}
	byID[id] = fn
	return !ok
}

func (s *subscriberSet) remove(method, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs[method], id)
}

func (s *subscriberSet) dispatch(method string, v any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fn := range s.subs[method] {
		fn(v)
	}
}

// Subscribe registers fn to be called with every decoded payload of events
// named method. The first call for a given method registers that method's
// schema with the Event Registry; later calls for the same method reuse it
// and only add to the fan-out set.
//
// Every subscriber for a given method must agree on the payload type T: the
// Event Registry only decodes each method once, using the schema from the
// first Subscribe call. A later Subscribe call for the same method with a
// different T cannot be type-checked at registration time, so a mismatch is
// caught per dispatch (logged and dropped) rather than risking a panic from
// an unchecked type assertion.
func Subscribe[T any](t *Transport, method string, schema Schema[T], fn func(T)) Subscription {
	id := shortuuid.New()

	first := t.subscriptions.add(method, id, func(v any) {
		tv, ok := v.(T)
		if !ok {
			t.logger.Error().Str("method", method).Msg("bidi: subscriber payload type mismatch, dropping event")
			return
		}
		fn(tv)
	})

	if first {
		t.registerEvent(method, eraseSchema(schema), func(v any) {
			t.subscriptions.dispatch(method, v)
		})
	}

	return Subscription{method: method, id: id}
}

// Unsubscribe removes sub's callback. Dispatch in progress for sub's method
// will not invoke it again once Unsubscribe returns.
func Unsubscribe(t *Transport, sub Subscription) {
	t.subscriptions.remove(sub.method, sub.id)
}
