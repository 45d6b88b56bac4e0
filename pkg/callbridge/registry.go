package callbridge

import "sync"

// CallSummary is the read-only snapshot returned by Registry.List, per
// spec.md §4.7.
type CallSummary struct {
	CallUUID     string
	CustomParams map[string]string
	Mode         Mode
}

// Registry is the process-wide active-call registry plus takeover switch
// (C7). It is constructed once at process start and passed explicitly into
// every WS accept handler, rather than living as module-level state (per
// SPEC_FULL.md §9 / spec.md's re-architecture guidance).
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// Add inserts a call, created on its telephony `start` frame. Calling Add
// twice for the same call_uuid replaces the prior entry.
func (r *Registry) Add(call *Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call.CallUUID] = call
}

// Remove deletes a call_uuid from the registry, idempotently. Called from
// the terminal phase of the session loop.
func (r *Registry) Remove(callUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, callUUID)
}

// Get returns the call for callUUID, if active.
func (r *Registry) Get(callUUID string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callUUID]
	return c, ok
}

// List returns a snapshot of all active calls.
func (r *Registry) List() []CallSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]CallSummary, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, CallSummary{
			CallUUID:     c.CallUUID,
			CustomParams: c.CustomParams,
			Mode:         c.Mode(),
		})
	}
	return out
}

// RequestTakeover atomically switches callUUID into OPERATOR mode and
// attaches the operator channel. Returns ErrCallNotFound if the call is
// absent, leaving registry state unchanged.
func (r *Registry) RequestTakeover(callUUID string, ch OperatorChannel) error {
	r.mu.RLock()
	c, ok := r.calls[callUUID]
	r.mu.RUnlock()
	if !ok {
		return ErrCallNotFound
	}
	c.SetOperatorMode(ch)
	return nil
}

// EndTakeover atomically reverts callUUID to AI mode. No-op (not an error)
// if the call is absent, since the call may have ended concurrently.
func (r *Registry) EndTakeover(callUUID string) {
	r.mu.RLock()
	c, ok := r.calls[callUUID]
	r.mu.RUnlock()
	if ok {
		c.EndTakeover()
	}
}
