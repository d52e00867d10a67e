// Package registry indexes provider adapters by declared capability and
// gates them by live availability, per spec.md §4.B. Replaces the teacher's
// single injected `getter` with a map-indexed registry generalized across
// nine capabilities (spec.md §9 "Dynamic dispatch via capabilities").
package registry

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jukasdrj/alexandria/internal/logging"
	"github.com/jukasdrj/alexandria/internal/model"
)

// Provider is implemented by every adapter. Capability-typed methods
// (ResolveISBN, FetchCover, ...) live on concrete adapter types and are
// type-asserted by orchestrators, mirroring the teacher's pattern of
// injecting one `getter` whose methods cover every capability it supports —
// generalized here so an adapter only needs to implement the capabilities it
// declares.
//
//go:generate go run go.uber.org/mock/mockgen -typed -source registry.go -package registry -destination mock.go . Provider
type Provider interface {
	Name() string
	Tier() model.Tier
	Capabilities() []model.Capability
	// IsAvailable reports whether the provider can currently serve calls
	// (API key present, quota remaining, base URL reachable, ...). Errors
	// and false are both treated as unavailable by the registry.
	IsAvailable(ctx context.Context) (bool, error)
}

// Stats summarizes the registry contents.
type Stats struct {
	Total        int
	ByTier       map[model.Tier]int
	ByCapability map[model.Capability]int
}

// Registry has no locking and no freeze step; it is treated as immutable once
// registration is done, and reads are plain map lookups.
type Registry struct {
	byCapability map[model.Capability][]Provider
	byName       map[string]Provider
	order        []Provider // registration order, for deterministic within-tier ordering

	// maxConcurrentAvailability bounds how many IsAvailable calls run at
	// once, mirroring the teacher's c.refreshG.SetLimit(15) bound on
	// background fan-out.
	maxConcurrentAvailability int

	// quarantine holds ISBN/author keys known to be un-enrichable, consulted
	// before dispatch so a key that will never resolve doesn't burn a
	// provider call every time it's requested. Generalizes the teacher's
	// hard-coded unknownAuthor() id list into configuration.
	quarantine map[string]bool
}

// New creates an empty Registry. Register providers, then treat it as
// immutable: there is no unregister.
func New() *Registry {
	return &Registry{
		byCapability:              map[model.Capability][]Provider{},
		byName:                    map[string]Provider{},
		maxConcurrentAvailability: 15,
		quarantine:                map[string]bool{},
	}
}

// Quarantine marks keys (ISBNs or author keys) as known to be un-enrichable,
// per spec.md's "unknown author"/self-quarantine behavior. Call before
// dispatch; Quarantined reports whether a key was marked.
func (r *Registry) Quarantine(keys ...string) {
	for _, k := range keys {
		r.quarantine[k] = true
	}
}

// Quarantined reports whether key was previously marked with Quarantine.
// Orchestrators consult this before touching any provider, mirroring the
// teacher's unknownAuthor(authorID) short-circuit.
func (r *Registry) Quarantined(key string) bool {
	return r.quarantine[key]
}

// Register adds one provider under each of its declared capabilities.
func (r *Registry) Register(p Provider) {
	r.byName[p.Name()] = p
	r.order = append(r.order, p)
	for _, cap := range p.Capabilities() {
		r.byCapability[cap] = append(r.byCapability[cap], p)
	}
}

// RegisterAll registers each provider in order.
func (r *Registry) RegisterAll(ps ...Provider) {
	for _, p := range ps {
		r.Register(p)
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// ByCapability returns every registered provider for a capability,
// regardless of current availability.
func (r *Registry) ByCapability(cap model.Capability) []Provider {
	return append([]Provider(nil), r.byCapability[cap]...)
}

// AvailableByCapability concurrently invokes IsAvailable for every provider
// registered under cap and returns only those that reported true. Providers
// that return false are dropped; those that error are dropped with a logged
// warning — an
// availability failure is a demotion, not an orchestration failure. If every
// provider is unavailable, the empty slice is returned and no provider
// method beyond IsAvailable is ever invoked.
func (r *Registry) AvailableByCapability(ctx context.Context, cap model.Capability) []Provider {
	candidates := r.byCapability[cap]
	if len(candidates) == 0 {
		return nil
	}

	results := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrentAvailability)

	for i, p := range candidates {
		i, p := i, p
		g.Go(func() error {
			ok, err := p.IsAvailable(gctx)
			if err != nil {
				logging.Log(ctx).Warn("registry: provider availability check failed", "provider", p.Name(), "err", err)
				return nil // Demotion, not an orchestration failure.
			}
			results[i] = ok
			return nil
		})
	}
	_ = g.Wait() // IsAvailable never returns a non-nil error from the goroutines above.

	available := make([]Provider, 0, len(candidates))
	for i, p := range candidates {
		if results[i] {
			available = append(available, p)
		}
	}
	return available
}

// Stats summarizes the registry.
func (r *Registry) Stats() Stats {
	s := Stats{
		Total:        len(r.order),
		ByTier:       map[model.Tier]int{},
		ByCapability: map[model.Capability]int{},
	}
	for _, p := range r.order {
		s.ByTier[p.Tier()]++
	}
	for cap, ps := range r.byCapability {
		s.ByCapability[cap] = len(ps)
	}
	return s
}

// Order orders providers for dispatch. If priority is non-empty, providers
// named in it come first in that order; any remaining providers go last in
// their original discovery order. Otherwise providers are ordered paid
// (only when quotaOK is true), then free, then ai, preserving registration
// order within a tier — matching spec.md §4.D "Ordering".
func Order(providers []Provider, priority []string, quotaOK bool) []Provider {
	if len(priority) > 0 {
		return orderByPriority(providers, priority)
	}
	return orderByTier(providers, quotaOK)
}

func orderByPriority(providers []Provider, priority []string) []Provider {
	byName := map[string]Provider{}
	for _, p := range providers {
		byName[p.Name()] = p
	}
	seen := map[string]bool{}
	ordered := make([]Provider, 0, len(providers))
	for _, name := range priority {
		if p, ok := byName[name]; ok && !seen[name] {
			ordered = append(ordered, p)
			seen[name] = true
		}
	}
	for _, p := range providers {
		if !seen[p.Name()] {
			ordered = append(ordered, p)
			seen[p.Name()] = true
		}
	}
	return ordered
}

func orderByTier(providers []Provider, quotaOK bool) []Provider {
	var paid, free, ai []Provider
	for _, p := range providers {
		switch p.Tier() {
		case model.TierPaid:
			paid = append(paid, p)
		case model.TierFree:
			free = append(free, p)
		case model.TierAI:
			ai = append(ai, p)
		}
	}
	ordered := make([]Provider, 0, len(providers))
	if quotaOK {
		ordered = append(ordered, paid...)
		ordered = append(ordered, free...)
	} else {
		ordered = append(ordered, free...)
		ordered = append(ordered, paid...)
	}
	ordered = append(ordered, ai...)
	return ordered
}
