package plugin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ccproxy-dev/ccproxy/internal/config"
	"github.com/ccproxy-dev/ccproxy/internal/credentials"
	"github.com/ccproxy-dev/ccproxy/internal/format"
	"github.com/ccproxy-dev/ccproxy/internal/hooks"
	"github.com/ccproxy-dev/ccproxy/internal/scheduler"
)

// Context gives plugins weak references to shared services. The registry
// owns runtime instances; plugins must not retain services beyond their own
// lifetime.
type Context struct {
	Settings   *config.Settings
	HTTPClient *http.Client
	Hooks      *hooks.Registry
	Scheduler  *scheduler.Scheduler

	// Registry is populated after all plugins are instantiated.
	Registry *Registry
}

// Options returns the plugin's config options block, never nil.
func (c *Context) Options(pluginName string) map[string]any {
	if ps, ok := c.Settings.Plugins[pluginName]; ok && ps.Options != nil {
		return ps.Options
	}
	return map[string]any{}
}

// Provider is the upstream-facing half of a provider plugin: route prefix,
// native wire format, endpoint mapping, and request authorization.
type Provider interface {
	Name() string
	Prefix() string
	UpstreamFormat() format.Name
	// UpstreamURL maps a client endpoint suffix such as "/v1/messages" to
	// the full upstream URL.
	UpstreamURL(endpoint string) string
	// Headers returns upstream identification and authorization headers.
	// Obtaining a token may trigger a credential refresh.
	Headers(ctx context.Context) (http.Header, error)
	// StreamingOnly reports that the upstream accepts only streaming calls,
	// forcing the stream-buffer adapter for unary clients.
	StreamingOnly() bool
	// Models returns the model cards served from GET <prefix>/v1/models.
	Models() []ModelCard
}

// ModelCard is one entry of a models listing.
type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Router is an HTTP route group contributed by a plugin.
type Router struct {
	Prefix   string
	Register func(group *gin.RouterGroup)
}

// HookBinding attaches a hook at a priority to lifecycle events.
type HookBinding struct {
	Hook     hooks.Hook
	Priority int
	Events   []hooks.Event
}

// TaskBinding attaches a scheduled task.
type TaskBinding struct {
	Task    scheduler.Task
	Options scheduler.TaskOptions
}

// Runtime is what a factory produces: the plugin's live contributions.
type Runtime struct {
	Provider    Provider
	Routers     []Router
	Hooks       []HookBinding
	Tasks       []TaskBinding
	Credentials *credentials.Manager

	// Shutdown, when set, is called during server teardown.
	Shutdown func(ctx context.Context) error
}

// Factory instantiates a plugin runtime from the shared context.
type Factory func(ctx *Context) (*Runtime, error)

// Entry pairs a manifest with its factory, the unit of discovery.
type Entry struct {
	Manifest *Manifest
	Factory  Factory
}

// loadedPlugin is one resolved plugin inside the registry.
type loadedPlugin struct {
	manifest *Manifest
	runtime  *Runtime
}

// Registry is the immutable resolved plugin set. It is safe for concurrent
// reads without locking.
type Registry struct {
	plugins   map[string]*loadedPlugin
	order     []string
	providers map[string]Provider // keyed by route prefix
	adapters  map[string]string   // adapter pair -> providing plugin ("" = builtin)
}

// builtinAdapterPairs lists the translation directions the converter engine
// provides without any plugin.
func builtinAdapterPairs() map[string]string {
	names := []format.Name{format.Anthropic, format.Chat, format.Responses}
	out := make(map[string]string)
	for _, from := range names {
		for _, to := range names {
			if from != to {
				out[string(from)+"->"+string(to)] = ""
			}
		}
	}
	return out
}

// Build instantiates the surviving entries into a registry. Hard
// dependencies and required format adapters are resolved here; any failure
// aborts startup.
func Build(ctx *Context, entries []Entry) (*Registry, error) {
	byName := make(map[string]*Manifest, len(entries))
	for _, e := range entries {
		if _, dup := byName[e.Manifest.Name]; dup {
			return nil, fmt.Errorf("plugin: duplicate name %q", e.Manifest.Name)
		}
		byName[e.Manifest.Name] = e.Manifest
	}

	adapters := builtinAdapterPairs()
	for _, e := range entries {
		for _, spec := range e.Manifest.FormatAdapters {
			adapters[spec.String()] = e.Manifest.Name
		}
	}

	for _, e := range entries {
		m := e.Manifest
		for _, dep := range m.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("plugin %q: missing required dependency %q", m.Name, dep)
			}
		}
		for _, spec := range m.RequiredFormatAdapters {
			if _, ok := adapters[spec.String()]; !ok {
				return nil, fmt.Errorf("plugin %q: no adapter provides %s", m.Name, spec)
			}
		}
	}

	r := &Registry{
		plugins:   make(map[string]*loadedPlugin, len(entries)),
		providers: make(map[string]Provider),
		adapters:  adapters,
	}
	ctx.Registry = r

	for _, e := range entries {
		runtime, err := e.Factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("plugin %q: factory: %w", e.Manifest.Name, err)
		}
		if e.Manifest.IsProvider && runtime.Provider == nil {
			return nil, fmt.Errorf("plugin %q: declared is_provider but contributed no provider", e.Manifest.Name)
		}
		if runtime.Provider != nil {
			prefix := runtime.Provider.Prefix()
			if other, taken := r.providers[prefix]; taken {
				return nil, fmt.Errorf("plugin %q: prefix %q already claimed by provider %q", e.Manifest.Name, prefix, other.Name())
			}
			r.providers[prefix] = runtime.Provider
		}
		r.plugins[e.Manifest.Name] = &loadedPlugin{manifest: e.Manifest, runtime: runtime}
		r.order = append(r.order, e.Manifest.Name)
	}
	return r, nil
}

// Names returns plugin names in load order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Manifest returns the manifest for a loaded plugin.
func (r *Registry) Manifest(name string) (*Manifest, bool) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	return p.manifest, true
}

// Runtime returns the runtime for a loaded plugin.
func (r *Registry) Runtime(name string) (*Runtime, bool) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, false
	}
	return p.runtime, true
}

// ProviderByPrefix resolves a route prefix to its provider.
func (r *Registry) ProviderByPrefix(prefix string) (Provider, bool) {
	p, ok := r.providers[prefix]
	return p, ok
}

// Providers returns all providers keyed by prefix.
func (r *Registry) Providers() map[string]Provider {
	out := make(map[string]Provider, len(r.providers))
	for k, v := range r.providers {
		out[k] = v
	}
	return out
}

// HasAdapter reports whether a translation direction is available.
func (r *Registry) HasAdapter(from, to format.Name) bool {
	_, ok := r.adapters[string(from)+"->"+string(to)]
	return ok
}

// Runtimes returns runtimes in load order.
func (r *Registry) Runtimes() []*Runtime {
	out := make([]*Runtime, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name].runtime)
	}
	return out
}
