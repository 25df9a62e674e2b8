package plugin

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/zhu327/pingsix/internal/catalog"
)

// trafficSplitRule is one (predicates, weighted candidates) clause. An
// empty Predicates list matches unconditionally (the default rule).
type trafficSplitRule struct {
	predicates []predicate
	candidates []catalog.WeightedUpstream
}

type predicateOp string

const (
	opEq  predicateOp = "=="
	opNeq predicateOp = "!="
)

type predicate struct {
	variable string // "arg_<name>", "http_<name>", or "cookie_<name>"
	op       predicateOp
	literal  string
}

// trafficSplit overrides the effective upstream for requests matching
// a rule's predicates, choosing uniformly at random among the rule's
// weighted candidates. It hooks AccessFilter: spec.md's request
// lifecycle resolves the effective upstream, traffic-split override
// included, before upstream selection — ahead of BeforeProxy.
type trafficSplit struct {
	rules []trafficSplitRule
}

func newTrafficSplit(cfg catalog.PluginConfig) (Plugin, error) {
	rawRules, _ := cfg["rules"].([]any)
	ts := &trafficSplit{}
	for _, rawRule := range rawRules {
		rm, ok := rawRule.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("traffic-split: malformed rule")
		}
		rule := trafficSplitRule{}

		if rawPreds, ok := rm["predicates"].([]any); ok {
			for _, rp := range rawPreds {
				pm, ok := rp.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("traffic-split: malformed predicate")
				}
				p := predicate{
					variable: fmt.Sprint(pm["variable"]),
					op:       predicateOp(fmt.Sprint(pm["operator"])),
					literal:  fmt.Sprint(pm["value"]),
				}
				if p.op != opEq && p.op != opNeq {
					return nil, fmt.Errorf("traffic-split: unsupported operator %q", p.op)
				}
				rule.predicates = append(rule.predicates, p)
			}
		}

		rawCands, _ := rm["upstreams"].([]any)
		for _, rc := range rawCands {
			cm, ok := rc.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("traffic-split: malformed candidate")
			}
			w := 1
			if wv, ok := cm["weight"]; ok {
				w = toInt(wv)
			}
			rule.candidates = append(rule.candidates, catalog.WeightedUpstream{
				UpstreamID: fmt.Sprint(cm["upstream_id"]),
				Weight:     w,
			})
		}
		if len(rule.candidates) == 0 {
			return nil, fmt.Errorf("traffic-split: rule has no candidate upstreams")
		}
		ts.rules = append(ts.rules, rule)
	}
	return ts, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

func (t *trafficSplit) Name() string { return "traffic-split" }

func (t *trafficSplit) AccessFilter(s *Session, c *Ctx) Result {
	for _, rule := range t.rules {
		if !rule.matches(s) {
			continue
		}
		chosen := pickWeighted(rule.candidates)
		if chosen != "" {
			s.OverrideUpstreamID = chosen
		}
		return ok()
	}
	return ok()
}

func (r trafficSplitRule) matches(s *Session) bool {
	for _, p := range r.predicates {
		if !p.eval(s) {
			return false
		}
	}
	return true
}

func (p predicate) eval(s *Session) bool {
	got := resolveVar(p.variable, s)
	switch p.op {
	case opEq:
		return got == p.literal
	case opNeq:
		return got != p.literal
	default:
		return false
	}
}

func resolveVar(variable string, s *Session) string {
	switch {
	case strings.HasPrefix(variable, "arg_"):
		name := strings.TrimPrefix(variable, "arg_")
		return queryArg(s.URI, name)
	case strings.HasPrefix(variable, "http_"):
		name := strings.TrimPrefix(variable, "http_")
		return s.Headers.Get(headerCanonical(name))
	case strings.HasPrefix(variable, "cookie_"):
		name := strings.TrimPrefix(variable, "cookie_")
		return cookieValue(s.Headers.Get("Cookie"), name)
	default:
		return ""
	}
}

func queryArg(uri, name string) string {
	idx := strings.IndexByte(uri, '?')
	if idx < 0 {
		return ""
	}
	for _, kv := range strings.Split(uri[idx+1:], "&") {
		parts := strings.SplitN(kv, "=", 2)
		if parts[0] == name {
			if len(parts) == 2 {
				return parts[1]
			}
			return ""
		}
	}
	return ""
}

// headerCanonical turns "x_forwarded_for" into "X-Forwarded-For", the
// canonical MIME header form http.Header.Get expects.
func headerCanonical(name string) string {
	parts := strings.Split(strings.ReplaceAll(name, "_", "-"), "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

func cookieValue(cookieHeader, name string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && kv[0] == name {
			return kv[1]
		}
	}
	return ""
}

// pickWeighted draws one upstream id uniformly at random by weight.
func pickWeighted(candidates []catalog.WeightedUpstream) string {
	total := 0
	for _, c := range candidates {
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
	for _, c := range candidates {
		w := c.Weight
		if w <= 0 {
			w = 1
		}
		if r < w {
			return c.UpstreamID
		}
		r -= w
	}
	return candidates[len(candidates)-1].UpstreamID
}
