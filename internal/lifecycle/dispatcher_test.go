package lifecycle

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhu327/pingsix/internal/catalog"
	"github.com/zhu327/pingsix/internal/plugin"
	"github.com/zhu327/pingsix/internal/upstream"
)

// fakeDialer is a Dialer stub for exercising the retry loop without a
// real network round trip: its first failFirst attempts return an
// error, then every further attempt returns the canned response.
type fakeDialer struct {
	failFirst int
	attempts  int
	status    int
	body      string
}

func (f *fakeDialer) Do(ctx context.Context, peer upstream.Peer, req *OutboundRequest) (*InboundResponse, error) {
	f.attempts++
	if f.attempts <= f.failFirst {
		return nil, assert.AnError
	}
	return &InboundResponse{
		StatusCode: f.status,
		Headers:    http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(f.body)),
	}, nil
}

func newDispatcher(t *testing.T, routes []*catalog.Route, ups []*catalog.Upstream, dialer Dialer) *Dispatcher {
	t.Helper()
	reg := catalog.NewRegistry(nil)
	require.NoError(t, reg.ReplaceAll(routes, ups, nil, nil, nil))
	plugins := plugin.NewRegistry(nil)
	return NewDispatcher(nil, reg, plugins, nil, dialer)
}

func TestDispatch_NoRouteMatch404(t *testing.T) {
	d := newDispatcher(t, nil, nil, nil)
	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "example.com", "/missing", http.Header{}, nil)
	assert.Equal(t, 404, out.Status)
}

func TestDispatch_MethodNotAllowed405(t *testing.T) {
	route := &catalog.Route{ID: "r1", URIs: []string{"/a"}, Methods: []string{"POST"}, UpstreamID: "up1"}
	ups := &catalog.Upstream{ID: "up1", Nodes: []catalog.Node{{Host: "10.0.0.1", Port: 80, Weight: 1}}}
	d := newDispatcher(t, []*catalog.Route{route}, []*catalog.Upstream{ups}, nil)
	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", http.Header{}, nil)
	assert.Equal(t, 405, out.Status)
}

func TestDispatch_AccessFilterStopShortCircuits(t *testing.T) {
	route := &catalog.Route{
		ID:   "r1",
		URIs: []string{"/a"},
		Plugins: catalog.PluginMap{
			"key-auth": catalog.PluginConfig{"keys": []any{"secret"}},
		},
		UpstreamID: "up1",
	}
	ups := &catalog.Upstream{ID: "up1", Nodes: []catalog.Node{{Host: "10.0.0.1", Port: 80, Weight: 1}}}
	d := newDispatcher(t, []*catalog.Route{route}, []*catalog.Upstream{ups}, nil)

	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", http.Header{}, nil)
	assert.Equal(t, 401, out.Status)
}

func TestDispatch_NoUpstreamReturns503(t *testing.T) {
	route := &catalog.Route{ID: "r1", URIs: []string{"/a"}}
	d := newDispatcher(t, []*catalog.Route{route}, nil, nil)
	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", http.Header{}, nil)
	assert.Equal(t, 503, out.Status)
}

func TestDispatch_SuccessfulResponseStreamsBody(t *testing.T) {
	route := &catalog.Route{ID: "r1", URIs: []string{"/a"}, UpstreamID: "up1"}
	ups := &catalog.Upstream{ID: "up1", Nodes: []catalog.Node{{Host: "10.0.0.1", Port: 80, Weight: 1}}}

	dialer := &fakeDialer{status: 200, body: "hello"}
	d := newDispatcher(t, []*catalog.Route{route}, []*catalog.Upstream{ups}, dialer)

	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", http.Header{}, nil)
	require.Equal(t, 200, out.Status)
	b, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	require.NoError(t, out.Body.Close())
	assert.Equal(t, "hello", string(b))
}

func TestDispatch_AccessFilterHeadersSurviveUpstreamResponse(t *testing.T) {
	// Guards against the upstream response overwriting sess.ResponseHeaders
	// wholesale: rate-limit's AccessFilter sets quota headers before the
	// upstream round trip, and they must still be present on a successful
	// (non-rejected) response.
	route := &catalog.Route{
		ID:   "r1",
		URIs: []string{"/a"},
		Plugins: catalog.PluginMap{
			"rate-limit": catalog.PluginConfig{
				"count":                   10,
				"time_window":             60,
				"show_limit_quota_header": true,
			},
		},
		UpstreamID: "up1",
	}
	ups := &catalog.Upstream{ID: "up1", Nodes: []catalog.Node{{Host: "10.0.0.1", Port: 80, Weight: 1}}}
	dialer := &fakeDialer{status: 200, body: "hello"}
	d := newDispatcher(t, []*catalog.Route{route}, []*catalog.Upstream{ups}, dialer)

	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", http.Header{}, nil)
	require.Equal(t, 200, out.Status)
	_, _ = io.ReadAll(out.Body)
	require.NoError(t, out.Body.Close())
	assert.Equal(t, "10", out.Headers.Get("X-RateLimit-Limit"))
	assert.Equal(t, "text/plain", out.Headers.Get("Content-Type"))
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	route := &catalog.Route{ID: "r1", URIs: []string{"/a"}, UpstreamID: "up1"}
	ups := &catalog.Upstream{
		ID:    "up1",
		Nodes: []catalog.Node{{Host: "10.0.0.1", Port: 80, Weight: 1}, {Host: "10.0.0.2", Port: 80, Weight: 1}},
		Retry: catalog.RetryPolicy{MaxAttempts: 3},
	}
	dialer := &fakeDialer{failFirst: 1, status: 200, body: "ok"}
	d := newDispatcher(t, []*catalog.Route{route}, []*catalog.Upstream{ups}, dialer)

	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", http.Header{}, nil)
	require.Equal(t, 200, out.Status)
	b, _ := io.ReadAll(out.Body)
	assert.Equal(t, "ok", string(b))
	assert.GreaterOrEqual(t, dialer.attempts, 2)
}

func TestDispatch_ExhaustedRetriesReturns502(t *testing.T) {
	route := &catalog.Route{ID: "r1", URIs: []string{"/a"}, UpstreamID: "up1"}
	ups := &catalog.Upstream{
		ID:    "up1",
		Nodes: []catalog.Node{{Host: "10.0.0.1", Port: 80, Weight: 1}},
		Retry: catalog.RetryPolicy{MaxAttempts: 2},
	}
	dialer := &fakeDialer{failFirst: 99, status: 200}
	d := newDispatcher(t, []*catalog.Route{route}, []*catalog.Upstream{ups}, dialer)

	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", http.Header{}, nil)
	assert.Equal(t, 502, out.Status)
}

func TestDispatch_RouteMissWithNoPlugins404(t *testing.T) {
	// A plain route miss never builds a pipeline at all (no plugins are
	// configured to participate), so this guards against a future
	// regression that moves pipeline construction ahead of the match.
	d := newDispatcher(t, nil, nil, nil)
	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/nope", http.Header{}, nil)
	assert.Equal(t, 404, out.Status)
}

func TestDispatch_ResponseBodyFilterSeesEndOfStream(t *testing.T) {
	route := &catalog.Route{
		ID:   "r1",
		URIs: []string{"/a"},
		Plugins: catalog.PluginMap{
			"compression": catalog.PluginConfig{"min_length": 1},
		},
		UpstreamID: "up1",
	}
	ups := &catalog.Upstream{ID: "up1", Nodes: []catalog.Node{{Host: "10.0.0.1", Port: 80, Weight: 1}}}
	dialer := &fakeDialer{status: 200, body: strings.Repeat("x", 512)}
	d := newDispatcher(t, []*catalog.Route{route}, []*catalog.Upstream{ups}, dialer)

	headers := http.Header{"Accept-Encoding": []string{"gzip"}}
	out := d.Dispatch(context.Background(), "1.2.3.4:1", http.MethodGet, "*", "/a", headers, nil)
	require.Equal(t, 200, out.Status)
	b, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	require.NoError(t, out.Body.Close())
	assert.NotEqual(t, strings.Repeat("x", 512), string(b)) // gzip-compressed, not passthrough
	assert.Equal(t, "gzip", out.Headers.Get("Content-Encoding"))
}
