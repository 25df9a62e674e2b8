package plugin

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhu327/pingsix/internal/catalog"
)

func TestRegistry_Build_InnermostWins(t *testing.T) {
	reg := NewRegistry(nil)

	global := &catalog.GlobalRule{ID: "g1", Plugins: catalog.PluginMap{
		"key-auth": catalog.PluginConfig{"keys": []any{"global-key"}},
	}}
	service := &catalog.Service{ID: "s1", Plugins: catalog.PluginMap{
		"key-auth": catalog.PluginConfig{"keys": []any{"service-key"}},
	}}
	route := &catalog.Route{ID: "r1", Plugins: catalog.PluginMap{
		"key-auth": catalog.PluginConfig{"keys": []any{"route-key"}},
	}}

	pipe, err := reg.Build([]*catalog.GlobalRule{global}, service, route)
	require.NoError(t, err)
	require.Len(t, pipe.instances, 1)

	ka := pipe.instances[0].plugin.(*keyAuth)
	_, hasRouteKey := ka.keys["route-key"]
	_, hasGlobalKey := ka.keys["global-key"]
	assert.True(t, hasRouteKey)
	assert.False(t, hasGlobalKey)
}

func TestRegistry_Build_SortsByPriorityDescThenNameAsc(t *testing.T) {
	reg := NewRegistry(nil)
	route := &catalog.Route{ID: "r1", Plugins: catalog.PluginMap{
		"response-rewrite": catalog.PluginConfig{"status": 201},
		"compression":      catalog.PluginConfig{},
		"cors":             catalog.PluginConfig{},
	}}
	pipe, err := reg.Build(nil, nil, route)
	require.NoError(t, err)
	require.Len(t, pipe.instances, 3)
	// cors(4000) > response-rewrite(-2000) > compression(-1995) is wrong
	// ordering by value: cors(4000), compression(-1995), response-rewrite(-2000)
	assert.Equal(t, "cors", pipe.instances[0].name)
	assert.Equal(t, "compression", pipe.instances[1].name)
	assert.Equal(t, "response-rewrite", pipe.instances[2].name)
}

func TestPipeline_AccessFilterStopShortCircuits(t *testing.T) {
	reg := NewRegistry(nil)
	route := &catalog.Route{ID: "r1", Plugins: catalog.PluginMap{
		"key-auth": catalog.PluginConfig{"keys": []any{"secret"}},
	}}
	pipe, err := reg.Build(nil, nil, route)
	require.NoError(t, err)

	s := &Session{Headers: http.Header{}, UpstreamHeaders: http.Header{}}
	res := pipe.RunAccessFilter(s, NewCtx())
	assert.Equal(t, Stop, res.Verdict)
	assert.Equal(t, 401, res.Response.Status)

	s2 := &Session{Headers: http.Header{"Apikey": []string{"secret"}}, UpstreamHeaders: http.Header{}}
	res2 := pipe.RunAccessFilter(s2, NewCtx())
	assert.Equal(t, Continue, res2.Verdict)
}

func TestPipeline_LogSkipsPluginWithoutLogHook(t *testing.T) {
	reg := NewRegistry(nil)
	route := &catalog.Route{ID: "r1", Plugins: catalog.PluginMap{
		"request-id": catalog.PluginConfig{},
	}}
	pipe, err := reg.Build(nil, nil, route)
	require.NoError(t, err)

	s := &Session{Headers: http.Header{}, UpstreamHeaders: http.Header{}, ResponseHeaders: http.Header{}}
	ctx := NewCtx()
	_ = pipe.RunAccessFilter(s, ctx)
	pipe.RunLog(s, ctx) // request-id has no Log hook; must not panic
}

func TestRateLimit_RejectsAfterCount(t *testing.T) {
	reg := NewRegistry(nil)
	route := &catalog.Route{ID: "r1", Plugins: catalog.PluginMap{
		"rate-limit": catalog.PluginConfig{"count": 2, "time_window": 60},
	}}
	pipe, err := reg.Build(nil, nil, route)
	require.NoError(t, err)

	s := &Session{RemoteAddr: "1.2.3.4:5", Headers: http.Header{}, ResponseHeaders: http.Header{}}
	r1 := pipe.RunAccessFilter(s, NewCtx())
	r2 := pipe.RunAccessFilter(s, NewCtx())
	r3 := pipe.RunAccessFilter(s, NewCtx())
	assert.Equal(t, Continue, r1.Verdict)
	assert.Equal(t, Continue, r2.Verdict)
	assert.Equal(t, Stop, r3.Verdict)
	assert.Equal(t, 429, r3.Response.Status)
}
