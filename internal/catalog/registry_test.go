package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ReplaceAll_RejectsUnresolvedReference(t *testing.T) {
	r := NewRegistry(nil)

	route := &Route{ID: "r1", URIs: []string{"/a"}, UpstreamID: "missing"}
	err := r.ReplaceAll([]*Route{route}, nil, nil, nil, nil)
	require.Error(t, err)

	// Prior (empty) snapshot must remain bit-identical.
	snap := r.Current()
	assert.Empty(t, snap.Routes)
}

func TestRegistry_ReplaceAll_AcceptsResolvedCatalog(t *testing.T) {
	r := NewRegistry(nil)

	ups := &Upstream{ID: "up1", Nodes: []Node{{Host: "10.0.0.1", Port: 80, Weight: 1}}}
	route := &Route{ID: "r1", URIs: []string{"/a"}, UpstreamID: "up1"}

	err := r.ReplaceAll([]*Route{route}, []*Upstream{ups}, nil, nil, nil)
	require.NoError(t, err)

	snap := r.Current()
	assert.Equal(t, int64(1), snap.Version)
	assert.Same(t, ups, snap.ResolveUpstream(route))
}

func TestRegistry_ReplaceAll_RejectsDuplicateIDs(t *testing.T) {
	r := NewRegistry(nil)
	u1 := &Upstream{ID: "dup"}
	u2 := &Upstream{ID: "dup"}
	err := r.ReplaceAll(nil, []*Upstream{u1, u2}, nil, nil, nil)
	require.Error(t, err)
}

func TestRegistry_PutUpstream_EmitsEvents(t *testing.T) {
	r := NewRegistry(nil)
	events := r.Subscribe(8)

	u := &Upstream{ID: "up1", Nodes: []Node{{Host: "h", Port: 1, Weight: 1}}}
	require.NoError(t, r.PutUpstream(u))

	ev := <-events
	assert.Equal(t, Added, ev.Kind)
	assert.Equal(t, "up1", ev.ID)

	u2 := &Upstream{ID: "up1", Nodes: []Node{{Host: "h2", Port: 2, Weight: 1}}}
	require.NoError(t, r.PutUpstream(u2))
	ev2 := <-events
	assert.Equal(t, Replaced, ev2.Kind)

	require.NoError(t, r.DeleteUpstream("up1"))
	ev3 := <-events
	assert.Equal(t, Removed, ev3.Kind)
}

func TestRegistry_DeleteUpstream_RefusedWhileReferenced(t *testing.T) {
	r := NewRegistry(nil)
	ups := &Upstream{ID: "up1", Nodes: []Node{{Host: "h", Port: 1, Weight: 1}}}
	route := &Route{ID: "r1", URIs: []string{"/a"}, UpstreamID: "up1"}
	require.NoError(t, r.ReplaceAll([]*Route{route}, []*Upstream{ups}, nil, nil, nil))

	err := r.DeleteUpstream("up1")
	require.Error(t, err)
}

func TestValidateURIPattern(t *testing.T) {
	cases := map[string]bool{
		"/api/users/{id}":      true,
		"/api/{*rest}":         true,
		"/api/{*rest}/more":    false,
		"/api/{a}{b}":          false,
		"no-leading-slash":     false,
		"/static/path":         true,
	}
	for uri, ok := range cases {
		err := validateURIPattern(uri)
		if ok {
			assert.NoError(t, err, uri)
		} else {
			assert.Error(t, err, uri)
		}
	}
}
