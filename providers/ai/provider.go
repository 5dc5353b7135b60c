package ai

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Provider is the adapter contract every upstream dialect implements. Both
// operations take the canonical request; SendMessage returns the complete
// response and StreamMessage returns the canonical event stream.
type Provider interface {
	SendMessage(ctx context.Context, request *MessagesRequest) (*MessagesResponse, error)
	StreamMessage(ctx context.Context, request *MessagesRequest) (*MessageStream, error)
}

// Registry routes requests to providers by model-name prefix. Registration
// happens once at startup; lookups are concurrent-safe afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	prefixes  []prefixRoute
}

type prefixRoute struct {
	prefix     string
	providerID string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under an id and binds it to the given model-name
// prefixes. Longer prefixes win over shorter ones at resolution time.
func (r *Registry) Register(id string, provider Provider, prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[id] = provider
	for _, prefix := range prefixes {
		r.prefixes = append(r.prefixes, prefixRoute{prefix: prefix, providerID: id})
	}
	sort.SliceStable(r.prefixes, func(i, j int) bool {
		return len(r.prefixes[i].prefix) > len(r.prefixes[j].prefix)
	})
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[id]
	return provider, ok
}

// Resolve returns the provider whose longest registered prefix matches the
// model name.
func (r *Registry) Resolve(model string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, route := range r.prefixes {
		if strings.HasPrefix(model, route.prefix) {
			provider, ok := r.providers[route.providerID]
			return provider, ok
		}
	}
	return nil, false
}
