package catalog

import "math/rand"

// Snapshot is an immutable, atomically swapped bundle of all resources at
// a version. Readers dereference the pointer once per request and never
// block; a Snapshot, once published, is never mutated.
type Snapshot struct {
	Version     int64
	Routes      map[string]*Route
	Upstreams   map[string]*Upstream
	Services    map[string]*Service
	GlobalRules map[string]*GlobalRule
	SSLs        map[string]*SSLCert
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Routes:      map[string]*Route{},
		Upstreams:   map[string]*Upstream{},
		Services:    map[string]*Service{},
		GlobalRules: map[string]*GlobalRule{},
		SSLs:        map[string]*SSLCert{},
	}
}

// clone returns a shallow copy of s suitable as the base for a Replace
// that only touches one kind — the resource maps themselves are always
// rebuilt in full by the caller, but unrelated kinds are shared as-is.
func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		Version:     s.Version,
		Routes:      s.Routes,
		Upstreams:   s.Upstreams,
		Services:    s.Services,
		GlobalRules: s.GlobalRules,
		SSLs:        s.SSLs,
	}
}

// ResolveUpstream resolves a Route to its effective Upstream, per
// spec.md §4.6 step 5: embedded upstream, then upstream_id, then a
// weighted pick across route.Clusters (the hermes-style
// multi-cluster route, a second way to reach a traffic-split-like
// effective upstream without a separate plugin rule), then the
// matched service's upstream_id. Returns nil if none resolve.
func (s *Snapshot) ResolveUpstream(route *Route) *Upstream {
	if route.Upstream != nil {
		return route.Upstream
	}
	if route.UpstreamID != "" {
		return s.Upstreams[route.UpstreamID]
	}
	if len(route.Clusters) > 0 {
		if id := pickWeightedCluster(route.Clusters); id != "" {
			if u := s.Upstreams[id]; u != nil {
				return u
			}
		}
	}
	if route.ServiceID != "" {
		if svc := s.Services[route.ServiceID]; svc != nil && svc.UpstreamID != "" {
			return s.Upstreams[svc.UpstreamID]
		}
	}
	return nil
}

// pickWeightedCluster draws one upstream id uniformly at random by
// weight, collapsing to that single id when there is exactly one
// candidate. Weights <= 0 default to 1, matching traffic-split's
// candidate weighting.
func pickWeightedCluster(clusters []WeightedUpstream) string {
	if len(clusters) == 1 {
		return clusters[0].UpstreamID
	}
	total := 0
	for _, c := range clusters {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	if total == 0 {
		return ""
	}
	r := rand.Intn(total)
	for _, c := range clusters {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		if r < w {
			return c.UpstreamID
		}
		r -= w
	}
	return clusters[len(clusters)-1].UpstreamID
}

// Service looks up the Service referenced by a Route, or nil.
func (s *Snapshot) Service(route *Route) *Service {
	if route.ServiceID == "" {
		return nil
	}
	return s.Services[route.ServiceID]
}
