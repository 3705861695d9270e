// Package adapters maps processor names to the factories that build them.
package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/vetclinic/internal/payment/domain"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
}

// NewRegistry indexes factories by normalized provider name. Nil factories
// and blank names are skipped; a later factory replaces an earlier one.
func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		if name := normalize(f.Provider()); name != "" {
			r.factories[name] = f
		}
	}
	return r
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

// Providers lists the registered names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewAdapter builds the processor for provider with cfg.Provider set to the
// normalized name.
func (r *Registry) NewAdapter(provider string, cfg domain.AdapterConfig) (domain.Processor, error) {
	name := normalize(provider)
	if !r.ProviderExists(name) {
		return nil, fmt.Errorf("%w: %q (registered: %s)", domain.ErrProviderNotFound, name, strings.Join(r.Providers(), ", "))
	}
	cfg.Provider = name
	return r.factories[name].NewAdapter(cfg)
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
