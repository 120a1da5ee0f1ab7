package bidi

import (
	"fmt"
	"sync"
)

// commandRegistry is a thread-safe CommandId -> *pendingCommand table. It
// uses sync.Map rather than a map guarded by a mutex, following the
// teacher's convention for a concurrently accessed id-keyed table.
//
// Entries are inserted only by the send path (insert), and removed only by
// the caller's collect-result path (remove); the receive path never removes
// an entry, it only completes one in place (see tryGet).
type commandRegistry struct {
	entries sync.Map // CommandId -> *pendingCommand
}

// insert adds p to the registry. It returns ErrDuplicateCommandID if p.id is
// already present - this should be unreachable given the monotonic counter
// that assigns ids, but the check is mandatory.
func (r *commandRegistry) insert(p *pendingCommand) error {
	if _, loaded := r.entries.LoadOrStore(p.id, p); loaded {
		return fmt.Errorf("%w: %d", ErrDuplicateCommandID, p.id)
	}
	return nil
}

// tryGet performs a non-removing lookup, used by the receive loop while
// decoding a response.
func (r *commandRegistry) tryGet(id CommandId) (*pendingCommand, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*pendingCommand), true
}

// remove deletes and returns the entry for id, if present. Called by the
// caller's side after a command has completed.
func (r *commandRegistry) remove(id CommandId) (*pendingCommand, bool) {
	v, ok := r.entries.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*pendingCommand), true
}

// drain returns every entry that has not yet completed, in no particular
// order, without removing any of them. Used by the Transport when leaving
// the Connected state, to complete every still-pending command with
// ErrConnectionClosed; the entries stay registered so that
// TakeCommandResponse can still collect that outcome.
//
// Entries that already completed (a result or error landed on the receive
// loop, but the caller has not yet called TakeCommandResponse) are not
// returned: per spec.md §5, a late response "will still land in the entry
// until the caller invokes take_command_response... or until disconnect" -
// disconnect must not overwrite a real outcome.
func (r *commandRegistry) drain() []*pendingCommand {
	var all []*pendingCommand
	r.entries.Range(func(_, value any) bool {
		p := value.(*pendingCommand)
		if p.completed() {
			return true
		}
		all = append(all, p)
		return true
	})
	return all
}
