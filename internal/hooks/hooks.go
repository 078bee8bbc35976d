// Package hooks implements the request-lifecycle event bus. Hooks observe
// dispatcher and stream activity in a deterministic order; a failing hook
// never disturbs the request it observes.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event identifies a lifecycle or stream notification.
type Event string

const (
	RequestStarted           Event = "request_started"
	RequestCompleted         Event = "request_completed"
	RequestFailed            Event = "request_failed"
	ProviderRequestSent      Event = "provider_request_sent"
	ProviderResponseReceived Event = "provider_response_received"
	ProviderError            Event = "provider_error"
	ProviderStreamStart      Event = "provider_stream_start"
	ProviderStreamChunk      Event = "provider_stream_chunk"
	ProviderStreamEnd        Event = "provider_stream_end"
)

// Priority layers, lower runs earlier.
const (
	PriorityCritical    = 100
	PriorityAuth        = 300
	PriorityEnrichment  = 500
	PriorityProcessing  = 700
	PriorityObservation = 800
	PriorityCleanup     = 900
)

// HookContext is the mutable payload passed through the hook chain. Later
// hooks observe mutations made by earlier ones; the context is discarded
// after dispatch.
type HookContext struct {
	Event     Event
	Timestamp time.Time
	Provider  string
	Plugin    string
	Data      map[string]any
	Metadata  map[string]any
	Err       error
}

// Hook is a single observer callback.
type Hook interface {
	Name() string
	Handle(ctx context.Context, hc *HookContext) error
}

// HookFunc adapts a function to the Hook interface.
type HookFunc struct {
	HookName string
	Fn       func(ctx context.Context, hc *HookContext) error
}

func (h HookFunc) Name() string { return h.HookName }

func (h HookFunc) Handle(ctx context.Context, hc *HookContext) error {
	return h.Fn(ctx, hc)
}

type registration struct {
	hook     Hook
	priority int
	seq      int // registration order breaks priority ties
}

// Registry holds per-event hook lists ordered by (priority, registration).
// Registration happens at startup; Emit-time reads take the lock briefly to
// copy the slice, so hooks registered later still land in order.
type Registry struct {
	mu    sync.RWMutex
	seq   int
	hooks map[Event][]registration
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[Event][]registration)}
}

// Register adds a hook for the given events at the given priority.
func (r *Registry) Register(hook Hook, priority int, events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range events {
		r.seq++
		list := append(r.hooks[ev], registration{hook: hook, priority: priority, seq: r.seq})
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].priority != list[j].priority {
				return list[i].priority < list[j].priority
			}
			return list[i].seq < list[j].seq
		})
		r.hooks[ev] = list
	}
}

// RegisterFunc adds a function hook.
func (r *Registry) RegisterFunc(name string, priority int, fn func(ctx context.Context, hc *HookContext) error, events ...Event) {
	r.Register(HookFunc{HookName: name, Fn: fn}, priority, events...)
}

func (r *Registry) ordered(ev Event) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.hooks[ev]
	out := make([]registration, len(list))
	copy(out, list)
	return out
}

// Manager dispatches events against a registry. Dispatch is sequential and
// awaited: each hook completes (or fails) before the next runs. Hook errors
// are logged and swallowed.
type Manager struct {
	registry *Registry
}

// NewManager creates a manager bound to the registry.
func NewManager(registry *Registry) *Manager {
	return &Manager{registry: registry}
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Emit builds a HookContext and walks the ordered hook list.
func (m *Manager) Emit(ctx context.Context, ev Event, data map[string]any) *HookContext {
	hc := &HookContext{
		Event:     ev,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  make(map[string]any),
	}
	if hc.Data == nil {
		hc.Data = make(map[string]any)
	}
	m.EmitContext(ctx, hc)
	return hc
}

// EmitContext dispatches a prepared context, used when the caller needs to
// set Provider/Plugin fields.
func (m *Manager) EmitContext(ctx context.Context, hc *HookContext) {
	for _, reg := range m.registry.ordered(hc.Event) {
		if err := reg.hook.Handle(ctx, hc); err != nil {
			logrus.WithFields(logrus.Fields{
				"hook":  reg.hook.Name(),
				"event": hc.Event,
			}).Warnf("Hook failed: %v", err)
		}
	}
}
