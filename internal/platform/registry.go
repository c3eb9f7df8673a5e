package platform

import (
	"context"
	"fmt"
	"sort"
	"strings"

	config "github.com/maheshrc27/postpublisher/configs"
	"golang.org/x/time/rate"
)

// Registry maps platform types to adapters. Every type gets its own rate limiter
// so a burst on one network does not eat into another's budget.
// A Registry is read-only once built.
type Registry struct {
	adapters map[string]Adapter
	limiters map[string]*rate.Limiter
}

// NewRegistry builds a registry limited to ratePerSecond publishes per platform type.
// A non-positive rate disables limiting.
func NewRegistry(ratePerSecond float64, adapters ...Adapter) *Registry {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		if int(ratePerSecond) > burst {
			burst = int(ratePerSecond)
		}
	}

	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		limiters: make(map[string]*rate.Limiter, len(adapters)),
	}
	for _, a := range adapters {
		key := normalize(a.Type())
		r.adapters[key] = a
		r.limiters[key] = rate.NewLimiter(limit, burst)
	}
	return r
}

// NewSimulatedRegistry builds one simulated adapter per catalog entry.
func NewSimulatedRegistry(catalog *config.PlatformCatalog, sim config.Simulation, opts ...Option) *Registry {
	base := []Option{WithFailureRate(sim.FailureRate), WithLatency(sim.Latency)}
	base = append(base, opts...)

	adapters := make([]Adapter, 0, len(catalog.Platforms))
	for _, seed := range catalog.Platforms {
		adapters = append(adapters, NewSimulated(seed.Type, seed.CharacterLimit, base...))
	}
	return NewRegistry(sim.RatePerSecond, adapters...)
}

func normalize(platformType string) string {
	return strings.ToLower(strings.TrimSpace(platformType))
}

func (r *Registry) Get(platformType string) (Adapter, error) {
	a, ok := r.adapters[normalize(platformType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platformType)
	}
	return a, nil
}

// Wait blocks until the platform's limiter admits one more publish or ctx ends.
func (r *Registry) Wait(ctx context.Context, platformType string) error {
	l, ok := r.limiters[normalize(platformType)]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlatform, platformType)
	}
	return l.Wait(ctx)
}

func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
