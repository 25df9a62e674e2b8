// Package lifecycle implements the per-request dispatch procedure of
// spec.md §4.6, wiring together internal/catalog, internal/router,
// internal/upstream and internal/plugin.
package lifecycle

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhu327/pingsix/internal/catalog"
	"github.com/zhu327/pingsix/internal/gwerrors"
	"github.com/zhu327/pingsix/internal/plugin"
	"github.com/zhu327/pingsix/internal/router"
	"github.com/zhu327/pingsix/internal/upstream"
)

// matcherCache rebuilds a router.Matcher only when the catalog
// snapshot version changes, since Build walks every route's URIs.
type matcherCache struct {
	mu      sync.Mutex
	version int64
	matcher *router.Matcher
}

func (c *matcherCache) get(snap *catalog.Snapshot) *router.Matcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matcher == nil || c.version != snap.Version {
		c.matcher = router.Build(snap)
		c.version = snap.Version
	}
	return c.matcher
}

// balancerCache memoizes one upstream.Balancer per (upstream id,
// pointer identity) so a hot request path does not rebuild a weighted
// round-robin sequence or hash ring on every call.
type balancerCache struct {
	mu    sync.Mutex
	byPtr map[*catalog.Upstream]*upstream.Balancer
}

func newBalancerCache() *balancerCache {
	return &balancerCache{byPtr: map[*catalog.Upstream]*upstream.Balancer{}}
}

func (c *balancerCache) get(u *catalog.Upstream, health upstream.HealthChecker) (*upstream.Balancer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.byPtr[u]; ok {
		return b, nil
	}
	b, err := upstream.NewBalancer(u, health)
	if err != nil {
		return nil, err
	}
	c.byPtr[u] = b
	return b, nil
}

// Dialer is the minimal transport contract the dispatcher needs to
// reach a chosen peer; production wiring supplies an *http.Transport-
// backed implementation, tests supply a fake.
type Dialer interface {
	Do(ctx context.Context, peer upstream.Peer, req *OutboundRequest) (*InboundResponse, error)
}

// OutboundRequest is the rewritten request the dispatcher hands to a Dialer.
type OutboundRequest struct {
	Method  string
	URI     string
	Headers http.Header
	Body    io.Reader
}

// InboundResponse is what a Dialer returns for a completed attempt.
type InboundResponse struct {
	StatusCode int
	Headers    http.Header
	Body       io.ReadCloser
}

// Dispatcher executes spec.md §4.6's ten-step request procedure.
type Dispatcher struct {
	logger   *zap.SugaredLogger
	registry *catalog.Registry
	plugins  *plugin.Registry
	health   upstream.HealthChecker
	dialer   Dialer

	matchers  matcherCache
	balancers *balancerCache
}

// NewDispatcher builds a Dispatcher. health may be nil (defaults to
// AlwaysHealthy, i.e. no active health-check supervisor configured).
func NewDispatcher(logger *zap.SugaredLogger, registry *catalog.Registry, plugins *plugin.Registry, health upstream.HealthChecker, dialer Dialer) *Dispatcher {
	if health == nil {
		health = upstream.AlwaysHealthy{}
	}
	return &Dispatcher{
		logger:    logger,
		registry:  registry,
		plugins:   plugins,
		health:    health,
		dialer:    dialer,
		balancers: newBalancerCache(),
	}
}

// Outcome is the terminal result of one dispatch, independent of how
// the lifecycle produced it (route miss, plugin stop, upstream error,
// or a real upstream response).
type Outcome struct {
	Status  int
	Headers http.Header
	Body    io.ReadCloser
}

// Dispatch runs one request through the full lifecycle and returns the
// response to send to the client. Plugin and upstream failures are
// converted to an Outcome, not a panic. Once the pipeline is built,
// every failure path records ctx.Err and runs Log hooks before
// returning. A route miss, a method mismatch and a pipeline build
// failure return before any pipeline exists, so no Log hook runs for them.
func (d *Dispatcher) Dispatch(ctx context.Context, remoteAddr, method, host, uri string, headers http.Header, body io.Reader) Outcome {
	snap := d.registry.Current()
	matcher := d.matchers.get(snap)

	res, matchOutcome := matcher.Match(host, method, stripQuery(uri), headers)
	switch matchOutcome {
	case router.NoMatch:
		return Outcome{Status: gwerrors.StatusOf(gwerrors.New(gwerrors.NoRouteMatched, "no route matched")), Headers: http.Header{}}
	case router.MethodNotAllowedOutcome:
		return Outcome{Status: gwerrors.StatusOf(gwerrors.New(gwerrors.MethodNotAllowed, "method not allowed")), Headers: http.Header{}}
	}

	route := res.Route
	service := snap.Service(route)

	var globalRules []*catalog.GlobalRule
	for _, g := range snap.GlobalRules {
		globalRules = append(globalRules, g)
	}

	pipe, err := d.plugins.Build(globalRules, service, route)
	if err != nil {
		return Outcome{Status: 500, Headers: http.Header{}}
	}

	pctx := plugin.NewCtx()
	pctx.RouteID = route.ID
	if service != nil {
		pctx.ServiceID = service.ID
	}
	for k, v := range res.Params {
		if pctx.Params == nil {
			pctx.Params = map[string]string{}
		}
		pctx.Params[k] = v
	}

	sess := &plugin.Session{
		RemoteAddr:      remoteAddr,
		Method:          method,
		URI:             uri,
		Host:            host,
		Headers:         headers,
		UpstreamHeaders: cloneHeader(headers),
		UpstreamMethod:  method,
		UpstreamURI:     uri,
		ResponseHeaders: http.Header{},
	}

	// Step 4: access_filter.
	accessRes := pipe.RunAccessFilter(sess, pctx)
	if out, done := d.terminal(accessRes, sess, pctx, pipe); done {
		return out
	}

	// Step 5: resolve effective upstream, honoring any traffic-split override.
	up := snap.ResolveUpstream(route)
	if sess.OverrideUpstreamID != "" {
		if overridden := snap.Upstreams[sess.OverrideUpstreamID]; overridden != nil {
			up = overridden
		}
	}
	if up == nil {
		pctx.Err = gwerrors.New(gwerrors.NoUpstream, "no upstream")
		pipe.RunLog(sess, pctx)
		return Outcome{Status: 503, Headers: http.Header{}}
	}
	pctx.UpstreamID = up.ID

	// Step 6: host-passing policy, then balancer peer selection.
	applyHostPolicy(sess, up)

	bal, err := d.balancers.get(up, d.health)
	if err != nil {
		pctx.Err = err
		pipe.RunLog(sess, pctx)
		return Outcome{Status: gwerrors.StatusOf(err), Headers: http.Header{}}
	}

	// Step 7: before_proxy, then max-body-size enforcement, then
	// upstream_request_filter.
	beforeRes := pipe.RunBeforeProxy(sess, pctx)
	if out, done := d.terminal(beforeRes, sess, pctx, pipe); done {
		return out
	}
	if route.MaxBodyBytes > 0 {
		if n, ok := contentLength(headers); ok && n > route.MaxBodyBytes {
			pctx.Err = gwerrors.Rejected(http.StatusRequestEntityTooLarge, "request body exceeds max_body_bytes")
			pipe.RunLog(sess, pctx)
			return Outcome{Status: http.StatusRequestEntityTooLarge, Headers: http.Header{}}
		}
	}
	reqRes := pipe.RunUpstreamRequestFilter(sess, pctx)
	if out, done := d.terminal(reqRes, sess, pctx, pipe); done {
		return out
	}

	// Step 8: connect + send with retry policy.
	timeout := effectiveTimeout(route, up)
	attempted := map[string]struct{}{}
	maxAttempts := up.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	var resp *InboundResponse

	deadline := time.Now().Add(totalBudget(up.Retry, timeout))
	attemptCtx := ctx
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if time.Now().After(deadline) {
			lastErr = gwerrors.New(gwerrors.UpstreamTimeout, "retry budget exhausted")
			break
		}
		pick, err := bal.Select(selectKeyFrom(sess), attempted)
		if err != nil && len(attempted) > 0 {
			// Every peer has been tried once; retry one of them again.
			pick, err = bal.Select(selectKeyFrom(sess), nil)
		}
		if err != nil {
			lastErr = err
			break
		}
		attempted[pick.Peer.Addr] = struct{}{}
		pctx.UpstreamAddr = pick.Peer.Addr

		callCtx, cancel := context.WithTimeout(attemptCtx, connectSendTimeout(pick.Peer, timeout))
		r, callErr := d.dialer.Do(callCtx, pick.Peer, &OutboundRequest{
			Method:  sess.UpstreamMethod,
			URI:     sess.UpstreamURI,
			Headers: sess.UpstreamHeaders,
			Body:    body,
		})
		cancel()
		if callErr == nil {
			resp = r
			lastErr = nil
			break
		}
		lastErr = gwerrors.Wrap(gwerrors.UpstreamConnect, "upstream connect failed", callErr)
	}

	if lastErr != nil || resp == nil {
		pctx.Err = lastErr
		pipe.RunLog(sess, pctx)
		return Outcome{Status: gwerrors.StatusOf(lastErr), Headers: http.Header{}}
	}

	// Step 9: upstream_response_filter, then stream through response_body_filter.
	sess.StatusCode = resp.StatusCode
	if sess.ResponseHeaders == nil {
		sess.ResponseHeaders = http.Header{}
	}
	for k, vs := range resp.Headers {
		sess.ResponseHeaders[k] = append(sess.ResponseHeaders[k], vs...)
	}
	respRes := pipe.RunUpstreamResponseFilter(sess, pctx)
	if out, done := d.terminal(respRes, sess, pctx, pipe); done {
		_ = resp.Body.Close()
		return out
	}

	// Step 10: log hooks run once for the streamed body; the filtered
	// reader runs pipe.RunLog right after the end-of-stream
	// response_body_filter call, or from Close if the body is closed
	// before its end. A non-streamed terminal path (stop/error) already
	// ran Log above, in d.terminal.
	filteredBody := newFilteredReader(resp.Body, pipe, sess, pctx)

	return Outcome{Status: sess.StatusCode, Headers: sess.ResponseHeaders, Body: filteredBody}
}

// terminal converts a Stop/Error plugin Result into a final Outcome,
// running Log hooks since no further request-side hooks will run. It
// returns done=false for Continue.
func (d *Dispatcher) terminal(res plugin.Result, sess *plugin.Session, pctx *plugin.Ctx, pipe *plugin.Pipeline) (Outcome, bool) {
	switch res.Verdict {
	case plugin.Continue:
		return Outcome{}, false
	case plugin.Stop:
		sess.StatusCode = res.Response.Status
		sess.BodyBytesSent = int64(len(res.Response.Body))
		pipe.RunLog(sess, pctx)
		h := http.Header{}
		for k, v := range res.Response.Headers {
			h[k] = v
		}
		return Outcome{Status: res.Response.Status, Headers: h, Body: io.NopCloser(bytes.NewReader(res.Response.Body))}, true
	default: // plugin.Error
		pctx.Err = res.Err
		pipe.RunLog(sess, pctx)
		return Outcome{Status: gwerrors.StatusOf(res.Err), Headers: http.Header{}}, true
	}
}

func applyHostPolicy(sess *plugin.Session, up *catalog.Upstream) {
	switch up.PassHost {
	case catalog.PassHostRewrite:
		sess.UpstreamHeaders.Set("Host", up.UpstreamHost)
	case catalog.PassHostNode:
		// left to the dialer: it sets Host to the dialed peer address.
	default: // PassHostPass or unset
		if h := sess.Headers.Get("Host"); h != "" {
			sess.UpstreamHeaders.Set("Host", h)
		} else {
			sess.UpstreamHeaders.Set("Host", sess.Host)
		}
	}
}

func effectiveTimeout(route *catalog.Route, up *catalog.Upstream) catalog.Timeout {
	if route.Timeout != nil {
		return *route.Timeout
	}
	return up.Timeout
}

func totalBudget(retry catalog.RetryPolicy, timeout catalog.Timeout) time.Duration {
	if retry.TotalBudget > 0 {
		return time.Duration(retry.TotalBudget * float64(time.Second))
	}
	attempts := retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	per := timeout.Connect + timeout.Send + timeout.Read
	if per <= 0 {
		per = 10
	}
	return time.Duration(float64(attempts)*per) * time.Second
}

func connectSendTimeout(peer upstream.Peer, timeout catalog.Timeout) time.Duration {
	total := peer.ConnectTimeout + peer.SendTimeout + peer.ReadTimeout
	if total <= 0 {
		return 10 * time.Second
	}
	return total
}

func selectKeyFrom(sess *plugin.Session) upstream.SelectKey {
	return upstream.SelectKey{
		RemoteAddr: sess.RemoteAddr,
		URI:        sess.URI,
		Header:     sess.Headers.Get,
		Cookie: func(name string) string {
			return cookieFromHeader(sess.Headers.Get("Cookie"), name)
		},
	}
}

func cookieFromHeader(cookieHeader, name string) string {
	for _, part := range strings.Split(cookieHeader, ";") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 && kv[0] == name {
			return kv[1]
		}
	}
	return ""
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func contentLength(h http.Header) (int64, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func stripQuery(uri string) string {
	for i, c := range uri {
		if c == '?' {
			return uri[:i]
		}
	}
	return uri
}

