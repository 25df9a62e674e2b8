package catalog

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// validate checks every invariant in spec.md §3/§4.1 against a candidate
// snapshot: cross-references resolve, URI patterns are well-formed,
// catch-alls are only final segments, SSL material parses, and every
// plugin config passes its own schema check.
func (r *Registry) validate(s *Snapshot) error {
	for id, u := range s.Upstreams {
		// Zero-node upstreams are legal (spec.md §8: "zero-node
		// upstream ⇒ 503"); no rejection here, the lifecycle handles it.
		if u.ID != id {
			return fmt.Errorf("upstream id mismatch: key %q vs %q", id, u.ID)
		}
		if u.HealthCheck != nil {
			switch u.HealthCheck.Type {
			case "http", "https", "tcp", "":
			default:
				return fmt.Errorf("upstream %q: invalid health_check.type %q", id, u.HealthCheck.Type)
			}
		}
	}

	for id, svc := range s.Services {
		if svc.ID != id {
			return fmt.Errorf("service id mismatch: key %q vs %q", id, svc.ID)
		}
		if svc.UpstreamID != "" {
			if _, ok := s.Upstreams[svc.UpstreamID]; !ok {
				return fmt.Errorf("service %q: upstream_id %q does not resolve", id, svc.UpstreamID)
			}
		}
		if err := r.validatePlugins(svc.Plugins); err != nil {
			return fmt.Errorf("service %q: %w", id, err)
		}
	}

	for id, rt := range s.Routes {
		if rt.ID != id {
			return fmt.Errorf("route id mismatch: key %q vs %q", id, rt.ID)
		}
		if len(rt.URIs) == 0 {
			return fmt.Errorf("route %q: must declare at least one URI pattern", id)
		}
		for _, uri := range rt.URIs {
			if err := validateURIPattern(uri); err != nil {
				return fmt.Errorf("route %q: %w", id, err)
			}
		}
		if rt.UpstreamID != "" {
			if _, ok := s.Upstreams[rt.UpstreamID]; !ok {
				return fmt.Errorf("route %q: upstream_id %q does not resolve", id, rt.UpstreamID)
			}
		}
		if rt.ServiceID != "" {
			if _, ok := s.Services[rt.ServiceID]; !ok {
				return fmt.Errorf("route %q: service_id %q does not resolve", id, rt.ServiceID)
			}
		}
		for _, wu := range rt.Clusters {
			if _, ok := s.Upstreams[wu.UpstreamID]; !ok {
				return fmt.Errorf("route %q: clusters reference unresolved upstream_id %q", id, wu.UpstreamID)
			}
		}
		if err := r.validatePlugins(rt.Plugins); err != nil {
			return fmt.Errorf("route %q: %w", id, err)
		}
		if tsCfg, ok := rt.Plugins["traffic-split"]; ok {
			if err := validateTrafficSplitRefs(tsCfg, s); err != nil {
				return fmt.Errorf("route %q: %w", id, err)
			}
		}
	}

	for id, g := range s.GlobalRules {
		if g.ID != id {
			return fmt.Errorf("global_rule id mismatch: key %q vs %q", id, g.ID)
		}
		if err := r.validatePlugins(g.Plugins); err != nil {
			return fmt.Errorf("global_rule %q: %w", id, err)
		}
	}

	for id, c := range s.SSLs {
		if c.ID != id {
			return fmt.Errorf("ssl id mismatch: key %q vs %q", id, c.ID)
		}
		if strings.TrimSpace(c.Cert) == "" || strings.TrimSpace(c.Key) == "" {
			return fmt.Errorf("ssl %q: cert and key are required", id)
		}
		if _, err := tls.X509KeyPair([]byte(c.Cert), []byte(c.Key)); err != nil {
			return fmt.Errorf("ssl %q: cert/key do not parse: %w", id, err)
		}
		if len(c.SNIs) == 0 {
			return fmt.Errorf("ssl %q: must declare at least one SNI pattern", id)
		}
	}

	return nil
}

func (r *Registry) validatePlugins(plugins PluginMap) error {
	if r.validator == nil {
		return nil
	}
	for name, cfg := range plugins {
		if err := r.validator.Validate(name, cfg); err != nil {
			return fmt.Errorf("plugin %q: %w", name, err)
		}
	}
	return nil
}

// validateTrafficSplitRefs checks that every candidate upstream_id
// named by a traffic-split rule resolves, matching the config shape
// newTrafficSplit actually parses: rules: [{predicates, upstreams:
// [{upstream_id, weight}]}].
func validateTrafficSplitRefs(cfg PluginConfig, s *Snapshot) error {
	rules, ok := cfg["rules"].([]any)
	if !ok {
		return nil
	}
	for _, rawRule := range rules {
		rule, ok := rawRule.(map[string]any)
		if !ok {
			continue
		}
		items, ok := rule["upstreams"].([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["upstream_id"].(string)
			if id == "" {
				continue
			}
			if _, ok := s.Upstreams[id]; !ok {
				return fmt.Errorf("traffic-split: rule references unresolved upstream_id %q", id)
			}
		}
	}
	return nil
}

// validateURIPattern enforces: a catch-all ("{*name}") segment may only
// be the final segment, and at most one named/catch-all parameter per
// segment (a segment is either a whole static literal, a whole "{name}",
// or a whole "{*name}" — no partial-segment mixing).
func validateURIPattern(uri string) error {
	if uri == "" || uri[0] != '/' {
		return fmt.Errorf("uri pattern %q must start with '/'", uri)
	}
	segments := strings.Split(strings.TrimPrefix(uri, "/"), "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{*") {
			if !strings.HasSuffix(seg, "}") || len(seg) < 4 {
				return fmt.Errorf("uri pattern %q: malformed catch-all segment %q", uri, seg)
			}
			if i != len(segments)-1 {
				return fmt.Errorf("uri pattern %q: catch-all %q must be the final segment", uri, seg)
			}
		} else if strings.HasPrefix(seg, "{") {
			if !strings.HasSuffix(seg, "}") || len(seg) < 3 {
				return fmt.Errorf("uri pattern %q: malformed named-param segment %q", uri, seg)
			}
			inner := seg[1 : len(seg)-1]
			if strings.ContainsAny(inner, "{}*") {
				return fmt.Errorf("uri pattern %q: at most one parameter per segment, got %q", uri, seg)
			}
		} else if strings.ContainsAny(seg, "{}") {
			return fmt.Errorf("uri pattern %q: malformed segment %q", uri, seg)
		}
	}
	return nil
}
