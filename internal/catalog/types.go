// Package catalog holds the gateway's dynamic resource model — Routes,
// Upstreams, Services, GlobalRules and SSL certificates — and the
// Registry that atomically swaps snapshots of them.
package catalog

import "strconv"

// LBType enumerates the supported load-balancing policies.
type LBType string

const (
	LBRoundRobin LBType = "roundrobin"
	LBRandom     LBType = "random"
	LBChash      LBType = "chash"
	LBFNVHash    LBType = "fnv_hash"
)

// Scheme is the upstream connection scheme.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// PassHost controls how the Host header is set on the upstream request.
type PassHost string

const (
	PassHostPass    PassHost = "pass"    // forward the client's Host header unchanged
	PassHostRewrite PassHost = "rewrite" // use UpstreamHost
	PassHostNode    PassHost = "node"    // use the selected peer's host:port
)

// Node is one weighted backend in an Upstream's pool.
type Node struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Weight int    `yaml:"weight" json:"weight"`
}

func (n Node) Addr() string {
	return n.Host + ":" + strconv.Itoa(n.Port)
}

// Timeout holds connect/send/read budgets, in seconds, for an Upstream.
type Timeout struct {
	Connect float64 `yaml:"connect" json:"connect"`
	Send    float64 `yaml:"send" json:"send"`
	Read    float64 `yaml:"read" json:"read"`
}

// RetryPolicy bounds reattempts of a failed upstream connection.
type RetryPolicy struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	TotalBudget float64 `yaml:"total_budget" json:"total_budget"` // seconds, 0 = no extra cap beyond attempts
}

// ActiveHealthCheck configures the background probe the Health-Check
// Supervisor runs for an Upstream.
type ActiveHealthCheck struct {
	Type             string            `yaml:"type" json:"type"` // "http", "https", "tcp"
	Path             string            `yaml:"path" json:"path"`
	Headers          map[string]string `yaml:"req_headers" json:"req_headers"`
	ExpectedStatuses []int             `yaml:"healthy_statuses" json:"healthy_statuses"`
	IntervalSeconds  float64           `yaml:"interval" json:"interval"`
	TimeoutSeconds   float64           `yaml:"timeout" json:"timeout"`
	HealthySuccesses int               `yaml:"healthy_successes" json:"healthy_successes"`
	UnhealthyHTTP    int               `yaml:"unhealthy_http_failures" json:"unhealthy_http_failures"`
	UnhealthyTCP     int               `yaml:"unhealthy_tcp_failures" json:"unhealthy_tcp_failures"`
}

// HashKeySpec picks the variable consistent-hash/FNV-hash balancers hash on.
type HashKeySpec struct {
	Kind string `yaml:"kind" json:"kind"`   // "vars", "header" or "cookie"
	Name string `yaml:"name" json:"name"`   // e.g. "remote_addr", "uri", or header name
}

// Upstream is a pool of backend nodes plus a balancing policy.
type Upstream struct {
	ID          string             `yaml:"id" json:"id"`
	Nodes       []Node             `yaml:"nodes" json:"nodes"`
	Type        LBType             `yaml:"type" json:"type"`
	HashKey     *HashKeySpec       `yaml:"hash_key,omitempty" json:"hash_key,omitempty"`
	Scheme      Scheme             `yaml:"scheme" json:"scheme"`
	PassHost    PassHost           `yaml:"pass_host" json:"pass_host"`
	UpstreamHost string            `yaml:"upstream_host,omitempty" json:"upstream_host,omitempty"`
	Timeout     Timeout            `yaml:"timeout" json:"timeout"`
	Retry       RetryPolicy        `yaml:"retry" json:"retry"`
	HealthCheck *ActiveHealthCheck `yaml:"health_check,omitempty" json:"health_check,omitempty"`
}

// PluginConfig is an opaque, plugin-defined configuration blob.
type PluginConfig map[string]any

// PluginMap is an ordered-by-name set of plugin configs attached to a
// Route, Service or GlobalRule. Execution order is computed from each
// plugin's declared priority, not map iteration order.
type PluginMap map[string]PluginConfig

// HeaderMatchType enumerates how a HeaderMatcher compares a value.
type HeaderMatchType string

const (
	HeaderExact   HeaderMatchType = "exact"
	HeaderPrefix  HeaderMatchType = "prefix"
	HeaderRegex   HeaderMatchType = "regex"
	HeaderPresent HeaderMatchType = "present"
)

// HeaderMatcher is one AND-ed header predicate on a Route.
type HeaderMatcher struct {
	Name      string          `yaml:"name" json:"name"`
	Value     string          `yaml:"value,omitempty" json:"value,omitempty"`
	MatchType HeaderMatchType `yaml:"match_type" json:"match_type"`
	Invert    bool            `yaml:"invert,omitempty" json:"invert,omitempty"`
}

// WeightedUpstream references an Upstream by id with a relative weight,
// used by both traffic-split and multi-cluster routes.
type WeightedUpstream struct {
	UpstreamID string `yaml:"upstream_id" json:"upstream_id"`
	Weight     int    `yaml:"weight" json:"weight"`
}

// Route is a matchable entry mapping (host, method, path pattern) to an
// upstream and a plugin set.
type Route struct {
	ID         string          `yaml:"id" json:"id"`
	URIs       []string        `yaml:"uris" json:"uris"`
	Hosts      []string        `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	Methods    []string        `yaml:"methods,omitempty" json:"methods,omitempty"`
	Headers    []HeaderMatcher `yaml:"headers,omitempty" json:"headers,omitempty"`
	Priority   int             `yaml:"priority" json:"priority"`

	// Effective-upstream resolution: at most one of these should be set;
	// Upstream (embedded) wins over UpstreamID, which wins over ServiceID.
	Upstream   *Upstream          `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	UpstreamID string             `yaml:"upstream_id,omitempty" json:"upstream_id,omitempty"`
	ServiceID  string             `yaml:"service_id,omitempty" json:"service_id,omitempty"`
	Clusters   []WeightedUpstream `yaml:"clusters,omitempty" json:"clusters,omitempty"`

	Plugins      PluginMap `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Timeout      *Timeout  `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxBodyBytes int64     `yaml:"max_body_bytes,omitempty" json:"max_body_bytes,omitempty"`
}

// Service is a reusable bundle of upstream + plugins, referenced by routes.
type Service struct {
	ID         string    `yaml:"id" json:"id"`
	Hosts      []string  `yaml:"hosts,omitempty" json:"hosts,omitempty"`
	UpstreamID string    `yaml:"upstream_id,omitempty" json:"upstream_id,omitempty"`
	Plugins    PluginMap `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// GlobalRule is a plugin set applied to every request before route/service
// plugins.
type GlobalRule struct {
	ID      string    `yaml:"id" json:"id"`
	Plugins PluginMap `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// SSLCert is a PEM certificate + key with the SNI patterns it serves.
type SSLCert struct {
	ID   string   `yaml:"id" json:"id"`
	Cert string   `yaml:"cert" json:"cert"`
	Key  string   `yaml:"key" json:"key"`
	SNIs []string `yaml:"snis" json:"snis"`
}
