// Package healthcheck runs one active-probe loop per upstream and
// exposes the result as a peer health table guarded by a read-write
// mutex, per spec.md §4.4.
package healthcheck

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhu327/pingsix/internal/catalog"
)

// peerState is the mutable per-peer counters a probe loop advances.
type peerState struct {
	healthy  bool
	successN int
	failN    int
}

// Table is the health table shared by every upstream's probe goroutine
// and the balancer. Reads take a shared read lock and writes an
// exclusive lock; reads are not lock-free. It implements
// upstream.HealthChecker.
type Table struct {
	mu    sync.RWMutex
	peers map[string]map[string]bool // upstreamID -> addr -> healthy
}

func newTable() *Table {
	return &Table{peers: map[string]map[string]bool{}}
}

// Healthy reports whether addr is currently marked healthy for
// upstreamID. Unknown upstreams/peers default to healthy — an upstream
// with no active health check configured never has an entry here, so
// it must fail open.
func (t *Table) Healthy(upstreamID, addr string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers, ok := t.peers[upstreamID]
	if !ok {
		return true
	}
	healthy, ok := peers[addr]
	if !ok {
		return true
	}
	return healthy
}

func (t *Table) set(upstreamID, addr string, healthy bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peers, ok := t.peers[upstreamID]
	if !ok {
		peers = map[string]bool{}
		t.peers[upstreamID] = peers
	}
	peers[addr] = healthy
}

func (t *Table) drop(upstreamID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, upstreamID)
}

// Supervisor owns the Table and one probe goroutine per upstream that
// has an ActiveHealthCheck configured, keyed by upstream id. It follows
// the catalog.Registry's event stream to start/stop probes as upstreams
// are added, replaced or removed.
type Supervisor struct {
	logger   *zap.SugaredLogger
	registry *catalog.Registry
	table    *Table

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewSupervisor builds a Supervisor. Call Run to start consuming
// registry events; Table() is usable immediately (defaults to
// fail-open for every peer until a probe reports otherwise).
func NewSupervisor(logger *zap.SugaredLogger, registry *catalog.Registry) *Supervisor {
	return &Supervisor{
		logger:   logger,
		registry: registry,
		table:    newTable(),
		cancels:  map[string]context.CancelFunc{},
	}
}

// Table returns the shared health table, implementing upstream.HealthChecker.
func (s *Supervisor) Table() *Table { return s.table }

// Run subscribes to the registry and blocks until ctx is done,
// starting/stopping per-upstream probe loops as upstreams change. It
// first seeds probes for every upstream already present in the current
// snapshot, then reacts to subsequent events.
func (s *Supervisor) Run(ctx context.Context) {
	events := s.registry.Subscribe(64)

	for id, u := range s.registry.Current().Upstreams {
		s.start(ctx, id, u)
	}

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case ev := <-events:
			switch ev.Kind {
			case catalog.Added:
				s.start(ctx, ev.ID, ev.Upstream)
			case catalog.Replaced:
				s.stop(ev.ID)
				s.start(ctx, ev.ID, ev.Upstream)
			case catalog.Removed:
				s.stop(ev.ID)
			}
		}
	}
}

func (s *Supervisor) start(ctx context.Context, id string, u *catalog.Upstream) {
	if u == nil || u.HealthCheck == nil {
		return
	}
	probeCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()

	go s.loop(probeCtx, id, u)
}

func (s *Supervisor) stop(id string) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	s.table.drop(id)
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = map[string]context.CancelFunc{}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// loop runs one upstream's probe cycle for every node until ctx is done.
func (s *Supervisor) loop(ctx context.Context, upstreamID string, u *catalog.Upstream) {
	hc := u.HealthCheck
	interval := toDuration(hc.IntervalSeconds, 5*time.Second)
	states := make(map[string]*peerState, len(u.Nodes))
	for _, n := range u.Nodes {
		states[n.Addr()] = &peerState{healthy: true}
		s.table.set(upstreamID, n.Addr(), true)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := newProbeClient(hc, u.Scheme)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, n := range u.Nodes {
				addr := n.Addr()
				st := states[addr]
				ok := probe(ctx, client, hc, u.Scheme, addr)
				s.advance(upstreamID, addr, st, hc, ok)
			}
		}
	}
}

// advance applies one probe result's threshold counters, per spec.md
// §4.4's healthy/unhealthy consecutive-count rule, and publishes any
// resulting flip to the table.
func (s *Supervisor) advance(upstreamID, addr string, st *peerState, hc *catalog.ActiveHealthCheck, ok bool) {
	healthyThreshold := hc.HealthySuccesses
	if healthyThreshold <= 0 {
		healthyThreshold = 2
	}
	var unhealthyThreshold int
	switch hc.Type {
	case "tcp":
		unhealthyThreshold = hc.UnhealthyTCP
	default:
		unhealthyThreshold = hc.UnhealthyHTTP
	}
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = 3
	}

	if ok {
		st.successN++
		st.failN = 0
		if !st.healthy && st.successN >= healthyThreshold {
			st.healthy = true
			s.table.set(upstreamID, addr, true)
			if s.logger != nil {
				s.logger.Infow("peer recovered", "upstream", upstreamID, "addr", addr)
			}
		}
	} else {
		st.failN++
		st.successN = 0
		if st.healthy && st.failN >= unhealthyThreshold {
			st.healthy = false
			s.table.set(upstreamID, addr, false)
			if s.logger != nil {
				s.logger.Warnw("peer marked unhealthy", "upstream", upstreamID, "addr", addr)
			}
		}
	}
}

func toDuration(seconds float64, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds * float64(time.Second))
}

func newProbeClient(hc *catalog.ActiveHealthCheck, scheme catalog.Scheme) *http.Client {
	timeout := toDuration(hc.TimeoutSeconds, 2*time.Second)
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: scheme == catalog.SchemeHTTPS}, //nolint:gosec // health probes only, not proxied traffic
			DialContext: (&net.Dialer{Timeout: timeout}).DialContext,
		},
	}
}
