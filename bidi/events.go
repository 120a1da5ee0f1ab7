package bidi

import (
	"sync"

	"github.com/eapache/queue"
)

// eventDescriptor is the registry entry for one event name: how to decode
// its payload, and the callback to hand the decoded value to.
type eventDescriptor struct {
	decode   decodeFunc
	dispatch func(any)
}

// eventRegistry maps event method name to eventDescriptor. Registration is
// rare and lookup is hot, so unlike the command registry this is a plain
// map guarded by a sync.RWMutex rather than a sync.Map.
type eventRegistry struct {
	mu          sync.RWMutex
	descriptors map[string]*eventDescriptor
}

func newEventRegistry() *eventRegistry {
	return &eventRegistry{descriptors: make(map[string]*eventDescriptor)}
}

// register adds or replaces the descriptor for name. Re-registering a name
// is last-writer-wins: only the most recently registered dispatch callback
// is ever invoked again.
func (r *eventRegistry) register(name string, decode decodeFunc, dispatch func(any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[name] = &eventDescriptor{decode: decode, dispatch: dispatch}
}

func (r *eventRegistry) lookup(name string) (*eventDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// dispatchJob is one decoded event payload waiting to be handed to its
// descriptor's dispatch callback. Decoding happens synchronously on the
// receive loop (it's needed there to decide unknown_message_received); only
// the dispatch call itself, which a subscriber might block in, is deferred.
type dispatchJob struct {
	descriptor *eventDescriptor
	method     string
	decoded    any
}

// dispatchQueue hands dispatchJob values from the receive loop to a single
// drain goroutine, so a slow or blocking dispatch callback never stalls
// frame processing. Built on eapache/queue's ring buffer rather than a
// fixed-capacity channel, so pushes never block.
type dispatchQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
}

func newDispatchQueue() *dispatchQueue {
	dq := &dispatchQueue{q: queue.New()}
	dq.cond = sync.NewCond(&dq.mu)
	return dq
}

// push enqueues job. It is a no-op once the queue has been closed.
func (dq *dispatchQueue) push(job dispatchJob) {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	if dq.closed {
		return
	}
	dq.q.Add(job)
	dq.cond.Signal()
}

// pop blocks until a job is available or the queue is closed and drained,
// in which case ok is false.
func (dq *dispatchQueue) pop() (job dispatchJob, ok bool) {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	for dq.q.Length() == 0 && !dq.closed {
		dq.cond.Wait()
	}
	if dq.q.Length() == 0 {
		return dispatchJob{}, false
	}
	j := dq.q.Remove()
	return j.(dispatchJob), true
}

// close marks the queue closed and wakes the drain goroutine; any jobs
// already queued are still delivered before pop starts returning false.
func (dq *dispatchQueue) close() {
	dq.mu.Lock()
	defer dq.mu.Unlock()
	dq.closed = true
	dq.cond.Broadcast()
}
