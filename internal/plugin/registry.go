package plugin

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/zhu327/pingsix/internal/catalog"
)

// registered is one plugin's factory plus its fixed priority: the
// value that drives request-phase ordering (priority desc, name asc)
// per spec.md §4.5/§8.
type registered struct {
	name     string
	priority int
	factory  Factory
}

// Registry holds every compiled-in plugin's factory and priority. It
// implements catalog.PluginValidator by attempting a dry-run build of
// a plugin's config.
type Registry struct {
	byName map[string]registered
}

// NewRegistry builds a Registry with the core plugin set of spec.md
// §4.5 pre-registered. logger may be nil (access-log silently no-ops),
// matching the rest of the codebase's "logger is always injected, but
// tests may pass nil" convention.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	r := &Registry{byName: map[string]registered{}}
	r.register("traffic-split", 22000, newTrafficSplit)
	r.register("proxy-rewrite", 21000, newProxyRewrite)
	r.register("response-rewrite", -2000, newResponseRewrite)
	r.register("rate-limit", 11000, newRateLimit)
	r.register("jwt-auth", 2510, newJWTAuth)
	r.register("key-auth", 2500, newKeyAuth)
	r.register("basic-auth", 2520, newBasicAuth)
	r.register("ip-restriction", 3000, newIPRestriction)
	r.register("cors", 4000, newCORS)
	r.register("csrf", 2900, newCSRF)
	r.register("cache", 1085, newCache)
	r.register("compression", -1995, newCompression)
	r.register("fault-injection", 11010, newFaultInjection)
	r.register("request-id", 11015, newRequestID)
	r.register("access-log", -12000, newAccessLogFactory(logger))
	return r
}

func (r *Registry) register(name string, priority int, f Factory) {
	r.byName[name] = registered{name: name, priority: priority, factory: f}
}

// Validate implements catalog.PluginValidator: it rejects unknown
// plugin names and any config that fails the plugin's own factory.
func (r *Registry) Validate(name string, cfg catalog.PluginConfig) error {
	_, err := r.build(name, cfg)
	return err
}

func (r *Registry) build(name string, cfg catalog.PluginConfig) (Plugin, error) {
	reg, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("plugin %q: not registered", name)
	}
	return reg.factory(cfg)
}

// instance is one built plugin paired with the priority that orders it.
type instance struct {
	name     string
	priority int
	plugin   Plugin
}

// Build assembles the sorted, innermost-wins pipeline for one request,
// given the plugin maps attached to the matched global rules, the
// matched service (may be nil), and the matched route (may be nil).
// Per spec.md §4.5: for each plugin name appearing in any of the three
// sources, the innermost definition wins (route > service > global).
func (r *Registry) Build(globalRules []*catalog.GlobalRule, service *catalog.Service, route *catalog.Route) (*Pipeline, error) {
	effective := map[string]catalog.PluginConfig{}

	for _, g := range globalRules {
		for name, cfg := range g.Plugins {
			effective[name] = cfg
		}
	}
	if service != nil {
		for name, cfg := range service.Plugins {
			effective[name] = cfg
		}
	}
	if route != nil {
		for name, cfg := range route.Plugins {
			effective[name] = cfg
		}
	}

	instances := make([]instance, 0, len(effective))
	for name, cfg := range effective {
		reg, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("plugin %q: not registered", name)
		}
		p, err := reg.factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("plugin %q: %w", name, err)
		}
		instances = append(instances, instance{name: name, priority: reg.priority, plugin: p})
	}

	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].priority != instances[j].priority {
			return instances[i].priority > instances[j].priority
		}
		return instances[i].name < instances[j].name
	})

	return &Pipeline{instances: instances}, nil
}
