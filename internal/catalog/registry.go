package catalog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// PluginValidator checks a single plugin's configuration against that
// plugin's own schema. The plugin package implements this and is wired
// in after construction via Registry.SetPluginValidator, avoiding an
// import cycle between catalog and plugin.
type PluginValidator interface {
	Validate(name string, cfg PluginConfig) error
}

// EventKind classifies a RegistryUpdate event.
type EventKind int

const (
	Added EventKind = iota
	Removed
	Replaced
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// UpstreamEvent describes a change to a single upstream's membership in
// the catalog, consumed by the health-check supervisor.
type UpstreamEvent struct {
	Kind     EventKind
	ID       string
	Upstream *Upstream // nil for Removed
}

// Registry owns the current Snapshot and publishes upstream-change events.
// Readers call Current() and never block; writers call ReplaceAll or one
// of the Put*/Delete* methods, which build a new snapshot and atomically
// install it, or reject it leaving the prior snapshot authoritative.
type Registry struct {
	logger    *zap.SugaredLogger
	current   atomic.Pointer[Snapshot]
	validator PluginValidator

	mu   sync.Mutex // serializes writers; readers are always lock-free
	subs []chan UpstreamEvent
}

// NewRegistry builds a Registry seeded with an empty Snapshot.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	r := &Registry{logger: logger}
	r.current.Store(emptySnapshot())
	return r
}

// SetPluginValidator wires in the plugin package's schema checker.
func (r *Registry) SetPluginValidator(v PluginValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validator = v
}

// Current returns the active Snapshot. Safe for concurrent use; never blocks.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Subscribe registers a channel that receives UpstreamEvent for every
// Added/Removed/Replaced transition, emitted only after the snapshot
// swap that caused it has succeeded. The channel is buffered; when a
// slow subscriber's buffer is full, the new event is dropped rather than
// blocking a writer.
func (r *Registry) Subscribe(buffer int) <-chan UpstreamEvent {
	ch := make(chan UpstreamEvent, buffer)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Registry) publish(ev UpstreamEvent) {
	r.mu.Lock()
	subs := r.subs
	r.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Overflow: the event is dropped and only this warning
			// records it. The subscriber is not told, and the health-check
			// supervisor does not resync from the current snapshot.
			if r.logger != nil {
				r.logger.Warnw("registry event dropped: subscriber buffer full", "kind", ev.Kind.String(), "upstream", ev.ID)
			}
		}
	}
}

// ReplaceAll validates and installs an entirely new catalog built from
// the given resource slices. On validation failure the prior snapshot
// stays authoritative and the error is returned; no partial state is
// ever visible to readers.
func (r *Registry) ReplaceAll(routes []*Route, upstreams []*Upstream, services []*Service, rules []*GlobalRule, ssls []*SSLCert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	next.Version = r.current.Load().Version + 1

	if err := indexUnique(upstreams, func(u *Upstream) string { return u.ID }, next.Upstreams); err != nil {
		return fmt.Errorf("upstreams: %w", err)
	}
	if err := indexUnique(services, func(s *Service) string { return s.ID }, next.Services); err != nil {
		return fmt.Errorf("services: %w", err)
	}
	if err := indexUnique(routes, func(rt *Route) string { return rt.ID }, next.Routes); err != nil {
		return fmt.Errorf("routes: %w", err)
	}
	if err := indexUnique(rules, func(g *GlobalRule) string { return g.ID }, next.GlobalRules); err != nil {
		return fmt.Errorf("global_rules: %w", err)
	}
	if err := indexUnique(ssls, func(c *SSLCert) string { return c.ID }, next.SSLs); err != nil {
		return fmt.Errorf("ssls: %w", err)
	}

	if err := r.validate(next); err != nil {
		return err
	}

	prev := r.current.Load()
	r.current.Store(next)
	r.emitDelta(prev, next)
	return nil
}

// PutUpstream validates and installs a single upstream into a copy of the
// current snapshot — the admin API's unit of change. Cross-references
// from routes/services into this id are re-checked.
func (r *Registry) PutUpstream(u *Upstream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := prev.clone()
	next.Version = prev.Version + 1
	next.Upstreams = cloneMap(prev.Upstreams)
	next.Upstreams[u.ID] = u

	if err := r.validate(next); err != nil {
		return err
	}
	r.current.Store(next)
	r.emitDelta(prev, next)
	return nil
}

// DeleteUpstream removes an upstream, refusing if any route or service
// still references it.
func (r *Registry) DeleteUpstream(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	for _, rt := range prev.Routes {
		if rt.UpstreamID == id {
			return fmt.Errorf("upstream %q: still referenced by route %q", id, rt.ID)
		}
	}
	for _, svc := range prev.Services {
		if svc.UpstreamID == id {
			return fmt.Errorf("upstream %q: still referenced by service %q", id, svc.ID)
		}
	}
	if _, ok := prev.Upstreams[id]; !ok {
		return fmt.Errorf("upstream %q: not found", id)
	}

	next := prev.clone()
	next.Version = prev.Version + 1
	next.Upstreams = cloneMap(prev.Upstreams)
	delete(next.Upstreams, id)
	// Catches the remaining references: route clusters and traffic-split rules.
	if err := r.validate(next); err != nil {
		return fmt.Errorf("upstream %q: still referenced: %w", id, err)
	}
	r.current.Store(next)
	r.publish(UpstreamEvent{Kind: Removed, ID: id})
	return nil
}

// PutRoute validates and installs a single route.
func (r *Registry) PutRoute(rt *Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := prev.clone()
	next.Version = prev.Version + 1
	next.Routes = cloneMap(prev.Routes)
	next.Routes[rt.ID] = rt

	if err := r.validate(next); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// DeleteRoute removes a route by id.
func (r *Registry) DeleteRoute(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	if _, ok := prev.Routes[id]; !ok {
		return fmt.Errorf("route %q: not found", id)
	}
	next := prev.clone()
	next.Version = prev.Version + 1
	next.Routes = cloneMap(prev.Routes)
	delete(next.Routes, id)
	r.current.Store(next)
	return nil
}

// PutService validates and installs a single service.
func (r *Registry) PutService(svc *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := prev.clone()
	next.Version = prev.Version + 1
	next.Services = cloneMap(prev.Services)
	next.Services[svc.ID] = svc

	if err := r.validate(next); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// DeleteService removes a service, refusing if any route still references it.
func (r *Registry) DeleteService(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	for _, rt := range prev.Routes {
		if rt.ServiceID == id {
			return fmt.Errorf("service %q: still referenced by route %q", id, rt.ID)
		}
	}
	if _, ok := prev.Services[id]; !ok {
		return fmt.Errorf("service %q: not found", id)
	}
	next := prev.clone()
	next.Version = prev.Version + 1
	next.Services = cloneMap(prev.Services)
	delete(next.Services, id)
	r.current.Store(next)
	return nil
}

// PutGlobalRule validates and installs a single global rule.
func (r *Registry) PutGlobalRule(g *GlobalRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := prev.clone()
	next.Version = prev.Version + 1
	next.GlobalRules = cloneMap(prev.GlobalRules)
	next.GlobalRules[g.ID] = g

	if err := r.validate(next); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// DeleteGlobalRule removes a global rule by id.
func (r *Registry) DeleteGlobalRule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	if _, ok := prev.GlobalRules[id]; !ok {
		return fmt.Errorf("global_rule %q: not found", id)
	}
	next := prev.clone()
	next.Version = prev.Version + 1
	next.GlobalRules = cloneMap(prev.GlobalRules)
	delete(next.GlobalRules, id)
	r.current.Store(next)
	return nil
}

// PutSSL validates and installs a single SSL certificate.
func (r *Registry) PutSSL(c *SSLCert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	next := prev.clone()
	next.Version = prev.Version + 1
	next.SSLs = cloneMap(prev.SSLs)
	next.SSLs[c.ID] = c

	if err := r.validate(next); err != nil {
		return err
	}
	r.current.Store(next)
	return nil
}

// DeleteSSL removes an SSL certificate by id.
func (r *Registry) DeleteSSL(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current.Load()
	if _, ok := prev.SSLs[id]; !ok {
		return fmt.Errorf("ssl %q: not found", id)
	}
	next := prev.clone()
	next.Version = prev.Version + 1
	next.SSLs = cloneMap(prev.SSLs)
	delete(next.SSLs, id)
	r.current.Store(next)
	return nil
}

// emitDelta diffs prev and next upstream maps and publishes the
// Added/Removed/Replaced events the health-check supervisor consumes.
func (r *Registry) emitDelta(prev, next *Snapshot) {
	for id, u := range next.Upstreams {
		if old, ok := prev.Upstreams[id]; !ok {
			r.publish(UpstreamEvent{Kind: Added, ID: id, Upstream: u})
		} else if old != u {
			r.publish(UpstreamEvent{Kind: Replaced, ID: id, Upstream: u})
		}
	}
	for id := range prev.Upstreams {
		if _, ok := next.Upstreams[id]; !ok {
			r.publish(UpstreamEvent{Kind: Removed, ID: id})
		}
	}
}

func indexUnique[T any](items []T, idOf func(T) string, into map[string]T) error {
	for _, item := range items {
		id := idOf(item)
		if id == "" {
			return fmt.Errorf("resource missing id")
		}
		if _, exists := into[id]; exists {
			return fmt.Errorf("duplicate id %q", id)
		}
		into[id] = item
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
