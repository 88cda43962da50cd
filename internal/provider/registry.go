package provider

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	gateway "github.com/farebox-io/farebox/internal"
)

// apiPrefix is the public mount point of the proxy surface.
const apiPrefix = "/api/v1"

// Entry pairs an immutable provider config with its driver.
type Entry struct {
	Config gateway.ProviderConfig
	Driver Driver
}

// Registry maps provider names to registered entries and resolves the
// target provider for incoming requests. It is safe for concurrent use;
// after startup registration it is effectively read-only.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	defaultName string
}

// NewRegistry returns an empty Registry. defaultName is consulted when
// neither the X-LLM-Provider header nor the path names a provider. The
// value "both" means every configured backend is eligible with no single
// default; requests must then select a provider via header or path.
func NewRegistry(defaultName string) *Registry {
	name := strings.ToLower(defaultName)
	if name == "both" {
		name = ""
	}
	return &Registry{
		entries:     make(map[string]*Entry),
		defaultName: name,
	}
}

// CheckDefault reports a configuration error when the default names an
// unregistered provider. Called once after startup registration so a bad
// LLM_BACKEND fails the boot instead of every header-less request. An empty
// default is valid.
func (r *Registry) CheckDefault() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return nil
	}
	if _, ok := r.entries[r.defaultName]; !ok {
		return fmt.Errorf("default provider %q is not registered", r.defaultName)
	}
	return nil
}

// Register adds a provider. It fails on duplicate names and when the config
// requires an API key that is absent. The allowed-path set always covers the
// driver's supported paths.
func (r *Registry) Register(cfg gateway.ProviderConfig, d Driver) error {
	name := strings.ToLower(cfg.Name)
	if name == "" {
		return fmt.Errorf("provider: empty name")
	}
	if cfg.RequiresAPIKey && cfg.APIKey == "" {
		return fmt.Errorf("provider %q: API key required but not configured", name)
	}

	cfg.Name = name
	for _, p := range d.SupportedPaths() {
		if !slices.Contains(cfg.AllowedPaths, p) {
			cfg.AllowedPaths = append(cfg.AllowedPaths, p)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.entries[name] = &Entry{Config: cfg, Driver: d}
	return nil
}

// Unregister removes a provider by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.entries, strings.ToLower(name))
	r.mu.Unlock()
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.entries[strings.ToLower(name)]
	r.mu.RUnlock()
	return ok
}

// Get returns the entry registered under name, or nil.
func (r *Registry) Get(name string) *Entry {
	r.mu.RLock()
	e := r.entries[strings.ToLower(name)]
	r.mu.RUnlock()
	return e
}

// List returns the sorted registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Resolve picks the provider and upstream path for a request, in order:
// explicit X-LLM-Provider header, then the first path segment after /api/v1/
// when it names a registered provider, then the configured default.
// Failing resolution returns ErrProviderDisabled; a resolved path outside
// the provider's allow-list returns ErrPathNotAllowed. No upstream call is
// made in either case.
func (r *Registry) Resolve(req *http.Request) (*Entry, string, error) {
	rest := strings.TrimPrefix(req.URL.Path, apiPrefix)
	if rest == "" {
		rest = "/"
	}

	var entry *Entry
	path := rest

	if h := strings.ToLower(req.Header.Get("X-LLM-Provider")); h != "" {
		entry = r.Get(h)
		if entry == nil {
			return nil, "", fmt.Errorf("%w: %s", gateway.ErrProviderDisabled, h)
		}
	} else if seg, remainder, ok := firstSegment(rest); ok && r.Has(seg) {
		entry = r.Get(seg)
		path = remainder
	} else if r.defaultName != "" {
		entry = r.Get(r.defaultName)
	}
	if entry == nil {
		return nil, "", gateway.ErrProviderDisabled
	}

	if !MatchAny(entry.Config.AllowedPaths, path) {
		return nil, "", fmt.Errorf("%w: %s %s", gateway.ErrPathNotAllowed, entry.Config.Name, path)
	}
	return entry, path, nil
}

// firstSegment splits "/openai/v1/chat/completions" into
// ("openai", "/v1/chat/completions", true).
func firstSegment(path string) (seg, remainder string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	seg, remainder, found := strings.Cut(trimmed, "/")
	if !found || seg == "" {
		return "", "", false
	}
	return strings.ToLower(seg), "/" + remainder, true
}
