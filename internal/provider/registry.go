// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package provider

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// Router resolves a model reference to a provider and a bare model name.
type Router interface {
	Route(ctx context.Context, modelRef string) (Provider, string, error)
}

// Registry manages provider registration, lookup, and routing with
// failover. It implements Router.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider

	defaultRef string   // "provider/model" format
	failover   []string // ordered list of "provider/model" refs
}

// Compile-time check that Registry implements Router.
var _ Router = (*Registry)(nil)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider to the registry under name.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, tallyerr.New(tallyerr.CodeProviderNotFound, "provider not found: "+name, tallyerr.FieldProvider(name))
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetDefault sets the "provider/model" reference used when a request names
// no model. The provider must already be registered.
func (r *Registry) SetDefault(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkRefLocked(ref); err != nil {
		return err
	}
	r.defaultRef = ref
	return nil
}

// SetFailover sets the ordered failover chain of "provider/model" refs.
func (r *Registry) SetFailover(chain []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ref := range chain {
		if err := r.checkRefLocked(ref); err != nil {
			return err
		}
	}
	r.failover = slices.Clone(chain)
	return nil
}

// Route selects the first available provider for modelRef, walking the
// failover chain when the primary is unavailable. An empty modelRef uses
// the default.
func (r *Registry) Route(ctx context.Context, modelRef string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref := modelRef
	if ref == "" || ref == "default" {
		ref = r.defaultRef
	}
	if ref == "" {
		return nil, "", tallyerr.New(tallyerr.CodeProviderNoDefault, "no default provider configured")
	}
	if !strings.Contains(ref, "/") {
		return nil, "", tallyerr.Errorf(tallyerr.CodeProviderInvalidModelRef,
			"model name %q must use provider/model format", ref)
	}

	for _, candidate := range append([]string{ref}, r.failover...) {
		p, model, err := r.tryRef(ctx, candidate)
		if err == nil {
			return p, model, nil
		}
	}

	return nil, "", tallyerr.New(tallyerr.CodeProviderAllUnavailable, "all providers unavailable: no healthy provider found")
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return tallyerr.Join(errs...)
	}
	return nil
}

// checkRefLocked verifies the provider portion of ref is registered.
// Caller must hold r.mu.
func (r *Registry) checkRefLocked(ref string) error {
	provName, _ := ParseRef(ref)
	if _, ok := r.providers[provName]; !ok {
		return tallyerr.New(tallyerr.CodeProviderNotFound, "provider not registered: "+provName, tallyerr.FieldProvider(provName))
	}
	return nil
}

// tryRef looks up the provider for ref and checks availability.
// Caller must hold r.mu (at least RLock).
func (r *Registry) tryRef(ctx context.Context, ref string) (Provider, string, error) {
	providerName, model := ParseRef(ref)

	p, ok := r.providers[providerName]
	if !ok {
		return nil, "", tallyerr.New(tallyerr.CodeProviderNotFound, "provider not found: "+providerName, tallyerr.FieldProvider(providerName))
	}
	if !p.Available(ctx) {
		return nil, "", tallyerr.New(tallyerr.CodeProviderUpstreamFailure, "provider unavailable: "+providerName, tallyerr.FieldProvider(providerName))
	}
	return p, model, nil
}

// ParseRef splits a "provider/model" reference on the first "/". Model
// names may themselves contain slashes, as OpenRouter's do.
func ParseRef(ref string) (providerName, model string) {
	idx := strings.Index(ref, "/")
	if idx < 0 {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
