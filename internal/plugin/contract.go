// Package plugin implements the phase state machine and core plugin set
// of spec.md §4.5: each plugin may hook any subset of the request/
// response phases, and a sorted, innermost-wins pipeline is assembled
// per request from global rules, the matched service, and the matched
// route.
package plugin

import (
	"net/http"
	"time"

	"github.com/zhu327/pingsix/internal/catalog"
)

// Verdict is the three-valued result every phase hook returns.
type Verdict int

const (
	// Continue lets the pipeline proceed to the next plugin.
	Continue Verdict = iota
	// Stop emits Response immediately and skips remaining request-side
	// hooks; log hooks for plugins that already ran still execute.
	Stop
	// Error aborts remaining request-side hooks and surfaces Err to the
	// lifecycle, which maps it to an HTTP status via gwerrors.
	Error
)

// Result is the return value of every phase hook.
type Result struct {
	Verdict  Verdict
	Response *StopResponse // set when Verdict == Stop
	Err      error         // set when Verdict == Error
}

// StopResponse is the literal response a Stop verdict emits.
type StopResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

func ok() Result                  { return Result{Verdict: Continue} }
func stop(r *StopResponse) Result { return Result{Verdict: Stop, Response: r} }
func fail(err error) Result       { return Result{Verdict: Error, Err: err} }

// Ctx is the per-request scratch space visible to every plugin hook,
// satisfying spec.md §4.6's minimum field list plus a typed KV store
// for plugin-to-plugin handoff (e.g. auth storing a decoded JWT claim
// set for a later plugin to read).
type Ctx struct {
	RequestID  string
	RouteID    string
	ServiceID  string
	UpstreamID string
	Params     map[string]string
	Started    time.Time
	Err        error

	UpstreamAddr string

	vars map[string]any
}

func NewCtx() *Ctx {
	return &Ctx{Started: time.Now(), vars: map[string]any{}}
}

func (c *Ctx) Set(key string, v any) { c.vars[key] = v }
func (c *Ctx) Get(key string) (any, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Elapsed returns time since the request entered the pipeline.
func (c *Ctx) Elapsed() time.Duration { return time.Since(c.Started) }

// Session carries the live, mutable request/response state a plugin
// hook may inspect or rewrite. It is intentionally not an interface:
// every phase receives the same concrete struct and mutates the fields
// relevant to its phase.
type Session struct {
	RemoteAddr string
	Method     string
	URI        string // path + query, as received from the client
	Host       string
	Headers    http.Header // client request headers, read-only after access_filter

	// Outbound request to the upstream, mutable through
	// upstream_request_filter.
	UpstreamHeaders http.Header
	UpstreamMethod  string
	UpstreamURI     string

	// Response, mutable through upstream_response_filter.
	StatusCode      int
	ResponseHeaders http.Header
	// BodyBytesSent is set by the lifecycle once response body streaming
	// completes, ahead of running Log hooks, for plugins (e.g. access-log)
	// that report bytes transferred.
	BodyBytesSent int64

	// Effective upstream, settable by access_filter hooks (e.g. traffic-split)
	// ahead of upstream resolution.
	OverrideUpstreamID string
}

// BodyChunk is one call to response_body_filter.
type BodyChunk struct {
	Data        []byte
	EndOfStream bool
}

// The interfaces below are the phase methods a plugin instance may
// implement. A plugin need not implement every method; the pipeline
// checks each optional interface via type assertion when it runs a phase.
type AccessFilter interface {
	AccessFilter(s *Session, c *Ctx) Result
}
type BeforeProxy interface {
	BeforeProxy(s *Session, c *Ctx) Result
}
type UpstreamRequestFilter interface {
	UpstreamRequestFilter(s *Session, c *Ctx) Result
}
type UpstreamResponseFilter interface {
	UpstreamResponseFilter(s *Session, c *Ctx) Result
}
type ResponseBodyFilter interface {
	ResponseBodyFilter(s *Session, c *Ctx, chunk *BodyChunk) Result
}
type LogHook interface {
	Log(s *Session, c *Ctx)
}

// Plugin is the minimum every plugin implements: a stable name used for
// collision resolution, logging, and config validation.
type Plugin interface {
	Name() string
}

// Factory builds one configured Plugin instance from an opaque config
// blob. Registered factories are keyed by plugin name in the Registry.
type Factory func(cfg catalog.PluginConfig) (Plugin, error)
