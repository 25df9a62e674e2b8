package router

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhu327/pingsix/internal/catalog"
)

func buildSnapshot(routes ...*catalog.Route) *catalog.Snapshot {
	m := map[string]*catalog.Route{}
	for _, r := range routes {
		m[r.ID] = r
	}
	return &catalog.Snapshot{Routes: m}
}

func TestMatcher_StaticBeatsNamedParam(t *testing.T) {
	admin := &catalog.Route{ID: "A", Hosts: []string{"api.example.com"}, URIs: []string{"/api/users/admin"}, Priority: 100}
	byID := &catalog.Route{ID: "B", Hosts: []string{"api.example.com"}, URIs: []string{"/api/users/{id}"}, Priority: 50}

	m := Build(buildSnapshot(admin, byID))

	res, outcome := m.Match("api.example.com", "GET", "/api/users/admin", http.Header{})
	require.Equal(t, Matched, outcome)
	assert.Equal(t, "A", res.Route.ID)

	res2, outcome2 := m.Match("api.example.com", "GET", "/api/users/7", http.Header{})
	require.Equal(t, Matched, outcome2)
	assert.Equal(t, "B", res2.Route.ID)
	assert.Equal(t, "7", res2.Params["id"])
}

func TestMatcher_SpecificityAtEqualPriority(t *testing.T) {
	static := &catalog.Route{ID: "static", URIs: []string{"/a/b"}}
	named := &catalog.Route{ID: "named", URIs: []string{"/a/{x}"}}
	catchall := &catalog.Route{ID: "catchall", URIs: []string{"/a/{*x}"}}

	m := Build(buildSnapshot(static, named, catchall))

	res, outcome := m.Match("", "GET", "/a/b", http.Header{})
	require.Equal(t, Matched, outcome)
	assert.Equal(t, "static", res.Route.ID)
}

func TestMatcher_MethodNotAllowed(t *testing.T) {
	rt := &catalog.Route{ID: "r1", URIs: []string{"/only-post"}, Methods: []string{"POST"}}
	m := Build(buildSnapshot(rt))

	_, outcome := m.Match("", "GET", "/only-post", http.Header{})
	assert.Equal(t, MethodNotAllowedOutcome, outcome)

	_, outcome2 := m.Match("", "POST", "/only-post", http.Header{})
	assert.Equal(t, Matched, outcome2)
}

func TestMatcher_NoMatch(t *testing.T) {
	rt := &catalog.Route{ID: "r1", URIs: []string{"/a"}}
	m := Build(buildSnapshot(rt))
	_, outcome := m.Match("", "GET", "/b", http.Header{})
	assert.Equal(t, NoMatch, outcome)
}

func TestMatcher_CatchAll(t *testing.T) {
	rt := &catalog.Route{ID: "r1", URIs: []string{"/static/{*path}"}}
	m := Build(buildSnapshot(rt))
	res, outcome := m.Match("", "GET", "/static/css/site.css", http.Header{})
	require.Equal(t, Matched, outcome)
	assert.Equal(t, "css/site.css", res.Params["path"])
}

func TestMatcher_HostCatchAllBucket(t *testing.T) {
	rt := &catalog.Route{ID: "r1", URIs: []string{"/a"}} // no Hosts: catch-all bucket
	m := Build(buildSnapshot(rt))
	res, outcome := m.Match("anything.example.com", "GET", "/a", http.Header{})
	require.Equal(t, Matched, outcome)
	assert.Equal(t, "r1", res.Route.ID)
}
