// Package router implements the Route Matcher: a host index over an URI
// trie, per spec.md §4.2.
package router

import (
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/zhu327/pingsix/internal/catalog"
)

// Outcome distinguishes the three terminal states of a match attempt.
type Outcome int

const (
	Matched Outcome = iota
	NoMatch
	MethodNotAllowedOutcome
)

// Result is the output of a successful match: the route and its bound
// path parameters.
type Result struct {
	Route  *catalog.Route
	Params map[string]string
}

const catchAllHost = "*"

// Matcher indexes one Snapshot's routes by host, each bucket holding a
// URI trie. Matchers are cheap to build and are rebuilt whenever a new
// Snapshot is published — they hold no mutable state shared with the
// registry beyond the Route pointers themselves.
type Matcher struct {
	byHost map[string]*trieNode
	routes map[string]*catalog.Route
}

// Build constructs a Matcher from a catalog Snapshot.
func Build(snap *catalog.Snapshot) *Matcher {
	m := &Matcher{
		byHost: map[string]*trieNode{},
		routes: snap.Routes,
	}
	for _, rt := range snap.Routes {
		hosts := rt.Hosts
		if len(hosts) == 0 {
			hosts = []string{catchAllHost}
		}
		for _, host := range hosts {
			bucket, ok := m.byHost[host]
			if !ok {
				bucket = newTrieNode()
				m.byHost[host] = bucket
			}
			for _, uri := range rt.URIs {
				bucket.insert(uri, rt.ID)
			}
		}
	}
	return m
}

// Match performs the procedure in spec.md §4.2: collect host+catch-all
// candidates, evaluate URI patterns, filter by method and headers, sort
// by priority/specificity/id, and return the first match.
func (m *Matcher) Match(host, method, path string, header http.Header) (Result, Outcome) {
	var candidates []found
	if bucket, ok := m.byHost[host]; ok {
		candidates = append(candidates, bucket.match(path)...)
	}
	if bucket, ok := m.byHost[catchAllHost]; ok && host != catchAllHost {
		candidates = append(candidates, bucket.match(path)...)
	}
	if len(candidates) == 0 {
		return Result{}, NoMatch
	}

	type ranked struct {
		found
		route *catalog.Route
	}
	var uriOK []ranked
	methodExcluded := false

	for _, f := range candidates {
		rt := m.routes[f.routeID]
		if rt == nil {
			continue
		}
		if !headersMatch(rt.Headers, header) {
			continue
		}
		if !methodAllowed(rt.Methods, method) {
			methodExcluded = true
			continue
		}
		uriOK = append(uriOK, ranked{f, rt})
	}

	if len(uriOK) == 0 {
		if methodExcluded {
			return Result{}, MethodNotAllowedOutcome
		}
		return Result{}, NoMatch
	}

	sort.SliceStable(uriOK, func(i, j int) bool {
		a, b := uriOK[i], uriOK[j]
		if a.route.Priority != b.route.Priority {
			return a.route.Priority > b.route.Priority
		}
		if c := compareSpecificity(a.kinds, b.kinds); c != 0 {
			return c < 0
		}
		return a.route.ID < b.route.ID
	})

	best := uriOK[0]
	return Result{Route: best.route, Params: best.params}, Matched
}

// compareSpecificity orders two segment-kind sequences: lexicographically,
// segStatic < segNamed < segCatchAll per position (lower value wins,
// i.e. is "more specific"), matching spec.md's "static > named-param >
// catch-all, compared segment-by-segment". Returns <0 if a is more
// specific, >0 if b is, 0 if equal.
func compareSpecificity(a, b []segKind) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

func methodAllowed(allowed []string, method string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func headersMatch(matchers []catalog.HeaderMatcher, header http.Header) bool {
	for _, hm := range matchers {
		got := header.Get(hm.Name)
		ok := evalHeaderMatcher(hm, got)
		if hm.Invert {
			ok = !ok
		}
		if !ok {
			return false
		}
	}
	return true
}

func evalHeaderMatcher(hm catalog.HeaderMatcher, got string) bool {
	switch hm.MatchType {
	case catalog.HeaderPresent:
		return got != ""
	case catalog.HeaderPrefix:
		return strings.HasPrefix(got, hm.Value)
	case catalog.HeaderRegex:
		re, err := regexp.Compile(hm.Value)
		if err != nil {
			return false
		}
		return re.MatchString(got)
	case catalog.HeaderExact, "":
		return got == hm.Value
	default:
		return false
	}
}
