// Package upstream implements the backend node pool and the four
// balancing policies described in spec.md §4.3.
package upstream

import (
	"time"

	"github.com/zhu327/pingsix/internal/catalog"
)

// Peer is a single concrete backend address chosen by the balancer for
// one attempt.
type Peer struct {
	Addr           string
	Scheme         catalog.Scheme
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
	ReadTimeout    time.Duration
}

// HealthChecker reports whether a given upstream node is currently
// healthy. Implemented by internal/healthcheck.Table; declared here to
// avoid an import cycle (upstream has no knowledge of the supervisor).
type HealthChecker interface {
	Healthy(upstreamID, addr string) bool
}

// AlwaysHealthy is a HealthChecker that reports every node healthy; used
// when an Upstream has no active health check configured.
type AlwaysHealthy struct{}

func (AlwaysHealthy) Healthy(string, string) bool { return true }

func toDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
