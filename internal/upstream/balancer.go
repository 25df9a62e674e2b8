package upstream

import (
	"fmt"
	"sync/atomic"

	"github.com/zhu327/pingsix/internal/catalog"
	"github.com/zhu327/pingsix/internal/gwerrors"
)

// Pick is one balancer decision: the chosen peer, and whether the choice
// had to fall back to an unhealthy node because every candidate was down.
type Pick struct {
	Peer        Peer
	FailedOpen  bool
	NodeIndex   int // index into the Balancer's node list, for Retry exclusion
}

// Balancer selects a backend Peer from an Upstream's node pool according
// to its configured LBType. One Balancer is built per Upstream and is
// safe for concurrent use; round-robin state is the only mutable field
// and is advanced atomically.
type Balancer struct {
	upstreamID string
	lbType     catalog.LBType
	nodes      []catalog.Node
	scheme     catalog.Scheme
	timeout    catalog.Timeout
	hashKey    *catalog.HashKeySpec

	rrCounter uint64
	rrWeights []int // expanded weighted round-robin sequence of node indices
	chash     *ring
	fnvRing   *ring

	health HealthChecker
}

// NewBalancer builds a Balancer for one Upstream. health may be nil, in
// which case AlwaysHealthy is used.
func NewBalancer(u *catalog.Upstream, health HealthChecker) (*Balancer, error) {
	if len(u.Nodes) == 0 {
		return nil, gwerrors.New(gwerrors.NoUpstream, fmt.Sprintf("upstream %q has no nodes", u.ID))
	}
	if health == nil {
		health = AlwaysHealthy{}
	}
	b := &Balancer{
		upstreamID: u.ID,
		lbType:     u.Type,
		nodes:      u.Nodes,
		scheme:     u.Scheme,
		timeout:    u.Timeout,
		hashKey:    u.HashKey,
		health:     health,
	}

	addrs := make([]string, len(u.Nodes))
	weights := make([]int, len(u.Nodes))
	for i, n := range u.Nodes {
		addrs[i] = n.Addr()
		w := n.Weight
		if w <= 0 {
			w = 1
		}
		weights[i] = w
	}

	switch b.lbType {
	case catalog.LBRoundRobin, "":
		b.rrWeights = expandWeighted(weights)
	case catalog.LBRandom:
		// no precomputation; selection draws uniformly at request time
	case catalog.LBChash:
		b.chash = buildRing(addrs, weights, xxhashKey)
	case catalog.LBFNVHash:
		b.fnvRing = buildRing(addrs, weights, fnv1aKey)
	default:
		return nil, gwerrors.New(gwerrors.ConfigInvalid, fmt.Sprintf("upstream %q: unknown lb type %q", u.ID, b.lbType))
	}
	return b, nil
}

// expandWeighted lays out node indices into a sequence long enough that
// each index i appears weights[i] times, interleaved round-robin style
// (A B A C A B A ... pattern for weights 4,2,1) rather than in blocks, so
// that consecutive picks stay spread across heavy nodes too.
func expandWeighted(weights []int) []int {
	total := 0
	for _, w := range weights {
		total += w
	}
	seq := make([]int, 0, total)
	counters := make([]int, len(weights))
	for len(seq) < total {
		best := -1
		bestScore := -1 << 62
		for i, w := range weights {
			counters[i] += w
			if counters[i] > bestScore {
				bestScore = counters[i]
				best = i
			}
		}
		seq = append(seq, best)
		counters[best] -= total
	}
	return seq
}

// Select chooses a Peer for one request attempt. exclude names node
// addresses already attempted in a prior retry of this same request, so
// a retry does not land on the same dead node twice.
func (b *Balancer) Select(key SelectKey, exclude map[string]struct{}) (Pick, error) {
	skip := map[int]struct{}{}
	for i, n := range b.nodes {
		if _, excluded := exclude[n.Addr()]; excluded {
			skip[i] = struct{}{}
		}
	}

	isHealthy := func(idx int) bool {
		return b.health.Healthy(b.upstreamID, b.nodes[idx].Addr())
	}

	var idx int
	failedOpen := false

	switch b.lbType {
	case catalog.LBRoundRobin, "":
		idx, failedOpen = b.pickRoundRobin(skip, isHealthy)
	case catalog.LBRandom:
		idx, failedOpen = b.pickRandom(skip, isHealthy)
	case catalog.LBChash:
		idx, failedOpen = b.chash.pick(hashFromKey(b.hashKey, key, xxhashKey), skip, isHealthy)
	case catalog.LBFNVHash:
		idx, failedOpen = b.fnvRing.pick(hashFromKey(b.hashKey, key, fnv1aKey), skip, isHealthy)
	}

	if idx < 0 {
		return Pick{}, gwerrors.New(gwerrors.NoUpstream, fmt.Sprintf("upstream %q: no available peer", b.upstreamID))
	}

	n := b.nodes[idx]
	return Pick{
		Peer: Peer{
			Addr:           n.Addr(),
			Scheme:         b.scheme,
			ConnectTimeout: toDuration(b.timeout.Connect),
			SendTimeout:    toDuration(b.timeout.Send),
			ReadTimeout:    toDuration(b.timeout.Read),
		},
		FailedOpen: !failedOpen,
		NodeIndex:  idx,
	}, nil
}

func (b *Balancer) pickRoundRobin(skip map[int]struct{}, isHealthy func(int) bool) (int, bool) {
	n := len(b.rrWeights)
	if n == 0 {
		return -1, false
	}
	start := int(atomic.AddUint64(&b.rrCounter, 1) % uint64(n))

	fallback := -1
	for i := 0; i < n; i++ {
		idx := b.rrWeights[(start+i)%n]
		if _, excluded := skip[idx]; excluded {
			continue
		}
		if fallback == -1 {
			fallback = idx
		}
		if isHealthy(idx) {
			return idx, true
		}
	}
	return fallback, false
}

func (b *Balancer) pickRandom(skip map[int]struct{}, isHealthy func(int) bool) (int, bool) {
	candidates := make([]int, 0, len(b.nodes))
	for i := range b.nodes {
		if _, excluded := skip[i]; !excluded {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1, false
	}
	start := int(atomic.AddUint64(&b.rrCounter, 1) % uint64(len(candidates)))

	fallback := -1
	for i := 0; i < len(candidates); i++ {
		idx := candidates[(start+i)%len(candidates)]
		if fallback == -1 {
			fallback = idx
		}
		if isHealthy(idx) {
			return idx, true
		}
	}
	return fallback, false
}

func hashFromKey(spec *catalog.HashKeySpec, key SelectKey, hashFn func(string) uint64) uint64 {
	if spec == nil {
		return hashFn(key.RemoteAddr)
	}
	switch spec.Kind {
	case "header":
		if key.Header != nil {
			return hashFn(key.Header(spec.Name))
		}
	case "cookie":
		if key.Cookie != nil {
			return hashFn(key.Cookie(spec.Name))
		}
	case "vars":
		switch spec.Name {
		case "uri":
			return hashFn(key.URI)
		case "remote_addr":
			return hashFn(key.RemoteAddr)
		}
	}
	return hashFn(key.RemoteAddr)
}
