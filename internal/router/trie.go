package router

import "strings"

// segKind classifies how specific a matched path segment was, used for
// the specificity tie-break in spec.md §4.2 step 4: static beats
// named-param beats catch-all.
type segKind int

const (
	segStatic segKind = iota
	segNamed
	segCatchAll
)

// trieNode is one segment level of the URI trie for a single host bucket.
// Multiple routes can terminate on the same node (identical patterns).
type trieNode struct {
	static   map[string]*trieNode
	named    *trieNode
	namedKey string
	catchAll *trieNode
	catchKey string
	terminal []*routeEntry
}

type routeEntry struct {
	routeID string
}

func newTrieNode() *trieNode {
	return &trieNode{static: map[string]*trieNode{}}
}

// insert adds pattern → routeID into the trie, creating nodes as needed.
func (n *trieNode) insert(pattern, routeID string) {
	segs := splitSegments(pattern)
	cur := n
	for _, seg := range segs {
		switch {
		case strings.HasPrefix(seg, "{*"):
			key := seg[2 : len(seg)-1]
			if cur.catchAll == nil {
				cur.catchAll = newTrieNode()
				cur.catchKey = key
			}
			cur = cur.catchAll
			// Catch-all is terminal at the node it creates; stop descending.
			cur.terminal = append(cur.terminal, &routeEntry{routeID: routeID})
			return
		case strings.HasPrefix(seg, "{"):
			key := seg[1 : len(seg)-1]
			if cur.named == nil {
				cur.named = newTrieNode()
				cur.namedKey = key
			}
			cur = cur.named
		default:
			child, ok := cur.static[seg]
			if !ok {
				child = newTrieNode()
				cur.static[seg] = child
			}
			cur = child
		}
	}
	cur.terminal = append(cur.terminal, &routeEntry{routeID: routeID})
}

// found is one successful path through the trie: the matching route id,
// the bound path parameters, and the segment-kind sequence used to
// compute specificity.
type found struct {
	routeID string
	params  map[string]string
	kinds   []segKind
}

// match walks every branch of the trie that can consume path, returning
// every terminal reached. Static, named and catch-all branches are all
// explored (they are not mutually exclusive at the route level — which
// one "should" win is a priority/specificity decision made by the
// caller, not the trie).
func (n *trieNode) match(path string) []found {
	segs := splitSegments(path)
	var results []found
	n.walk(segs, 0, map[string]string{}, nil, &results)
	return results
}

func (n *trieNode) walk(segs []string, i int, params map[string]string, kinds []segKind, out *[]found) {
	if i == len(segs) {
		for _, t := range n.terminal {
			p := cloneParams(params)
			*out = append(*out, found{routeID: t.routeID, params: p, kinds: append([]segKind{}, kinds...)})
		}
		return
	}

	seg := segs[i]

	if child, ok := n.static[seg]; ok {
		child.walk(segs, i+1, params, append(kinds, segStatic), out)
	}

	if n.named != nil {
		p := cloneParams(params)
		p[n.namedKey] = seg
		n.named.walk(segs, i+1, p, append(kinds, segNamed), out)
	}

	if n.catchAll != nil {
		p := cloneParams(params)
		p[n.catchKey] = strings.Join(segs[i:], "/")
		for _, t := range n.catchAll.terminal {
			pp := cloneParams(p)
			*out = append(*out, found{routeID: t.routeID, params: pp, kinds: append(append([]segKind{}, kinds...), segCatchAll)})
		}
	}
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "/")
}

func cloneParams(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
