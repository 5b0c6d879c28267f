package control

import (
	"context"
	"strconv"
	"sync"
)

// HookOutput is the structured result a hook callback returns. All fields
// are optional and passed through to the wire untouched.
type HookOutput struct {
	Continue          *bool          `json:"continue,omitempty"`
	SuppressOutput    *bool          `json:"suppressOutput,omitempty"`
	StopReason        string         `json:"stopReason,omitempty"`
	Decision          string         `json:"decision,omitempty"`
	SystemMessage     string         `json:"systemMessage,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	HookSpecificOutput map[string]any `json:"hookSpecificOutput,omitempty"`
	Async             *bool          `json:"async,omitempty"`
	AsyncTimeout      *int           `json:"asyncTimeout,omitempty"`
}

// HookCallback is invoked for an inbound hook_callback control request.
type HookCallback func(ctx context.Context, input map[string]any, toolUseID string) (HookOutput, error)

// HookMatcherConfig is one caller-supplied matcher: an optional string
// matcher paired with the callback functions it should invoke.
type HookMatcherConfig struct {
	Matcher   *string
	Callbacks []HookCallback
	Timeout   *int
}

// hookRegistry maps allocated callback IDs to callback functions. It
// becomes immutable once the initialize handshake completes.
type hookRegistry struct {
	mu        sync.RWMutex
	callbacks map[string]HookCallback
	sealed    bool
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{callbacks: make(map[string]HookCallback)}
}

// allocate assigns sequential IDs ("hook_0", "hook_1", ...) from one counter
// to every callback across every event's matchers, and returns the
// wire-ready matcher list per event. Within an event, IDs follow matcher and
// callback order; events are visited in map iteration order, so which event
// receives the lower IDs is not fixed.
func (r *hookRegistry) allocate(config map[string][]HookMatcherConfig) map[string][]hookMatcherWire {
	r.mu.Lock()
	defer r.mu.Unlock()

	wire := make(map[string][]hookMatcherWire, len(config))
	n := 0
	for event, matchers := range config {
		wireMatchers := make([]hookMatcherWire, 0, len(matchers))
		for _, m := range matchers {
			ids := make([]string, 0, len(m.Callbacks))
			for _, cb := range m.Callbacks {
				id := callbackID(n)
				n++
				r.callbacks[id] = cb
				ids = append(ids, id)
			}
			wireMatchers = append(wireMatchers, hookMatcherWire{
				Matcher:         m.Matcher,
				HookCallbackIDs: ids,
				Timeout:         m.Timeout,
			})
		}
		wire[event] = wireMatchers
	}
	r.sealed = true
	return wire
}

func (r *hookRegistry) get(id string) (HookCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[id]
	return cb, ok
}

func (r *hookRegistry) hasAny() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks) > 0
}

type hookMatcherWire struct {
	Matcher         *string  `json:"matcher,omitempty"`
	HookCallbackIDs []string `json:"hookCallbackIds"`
	Timeout         *int     `json:"timeout,omitempty"`
}

func callbackID(n int) string {
	return "hook_" + strconv.Itoa(n)
}
