package upstream

import (
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ringEntry is one virtual-node position on a weighted hash ring.
type ringEntry struct {
	hash    uint64
	nodeIdx int
}

// ring is a ketama-style weighted consistent-hash ring: each node gets a
// number of virtual-node replicas proportional to its weight, and a key
// maps to the first replica at or after its hash position.
type ring struct {
	entries []ringEntry
}

const replicasPerWeightUnit = 40

func buildRing(nodeAddrs []string, weights []int, hashFn func(string) uint64) *ring {
	var entries []ringEntry
	for idx, addr := range nodeAddrs {
		w := weights[idx]
		if w <= 0 {
			w = 1
		}
		replicas := w * replicasPerWeightUnit
		for i := 0; i < replicas; i++ {
			key := addr + "-" + strconv.Itoa(i)
			entries = append(entries, ringEntry{hash: hashFn(key), nodeIdx: idx})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })
	return &ring{entries: entries}
}

// pick returns the node index whose replica is the first at or after
// keyHash (wrapping around), skipping any node index present in skip,
// preferring to return a healthy node if isHealthy is non-nil. If no
// node satisfies both skip and health filters, it returns the first
// candidate ignoring health (fail-open) with ok=false.
func (r *ring) pick(keyHash uint64, skip map[int]struct{}, isHealthy func(nodeIdx int) bool) (nodeIdx int, healthyPick bool) {
	if len(r.entries) == 0 {
		return -1, false
	}
	start := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].hash >= keyHash })

	var fallback = -1
	n := len(r.entries)
	for i := 0; i < n; i++ {
		e := r.entries[(start+i)%n]
		if _, excluded := skip[e.nodeIdx]; excluded {
			continue
		}
		if fallback == -1 {
			fallback = e.nodeIdx
		}
		if isHealthy == nil || isHealthy(e.nodeIdx) {
			return e.nodeIdx, true
		}
	}
	return fallback, false
}

func xxhashKey(s string) uint64 { return xxhash.Sum64String(s) }

func fnv1aKey(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
