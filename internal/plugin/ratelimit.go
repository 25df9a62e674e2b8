package plugin

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zhu327/pingsix/internal/catalog"
)

// window is one key's fixed-window counter.
type window struct {
	mu       sync.Mutex
	count    int
	resetsAt time.Time
}

// maxTrackedKeys bounds rate-limit key cardinality: an LRU eviction is
// preferable to unbounded growth from e.g. an IP-based key under churn.
const maxTrackedKeys = 65536

// rateLimit implements a fixed-window counter per key, per spec.md
// §4.5: count allowed per time_window, rejecting with rejected_code
// once exhausted and optionally emitting quota headers.
type rateLimit struct {
	keySource    string // "var:remote_addr", "header:<name>", "cookie:<name>"
	count        int
	windowSecs   float64
	rejectedCode int
	rejectedMsg  string
	showHeaders  bool

	windows *lru.Cache[string, *window]
}

func newRateLimit(cfg catalog.PluginConfig) (Plugin, error) {
	cache, err := lru.New[string, *window](maxTrackedKeys)
	if err != nil {
		return nil, fmt.Errorf("rate-limit: %w", err)
	}
	rl := &rateLimit{
		keySource:    "var:remote_addr",
		rejectedCode: 429,
		rejectedMsg:  "Too Many Requests",
		windows:      cache,
	}
	if v, ok := cfg["key"].(string); ok && v != "" {
		rl.keySource = v
	}
	if v, ok := cfg["count"]; ok {
		rl.count = toInt(v)
	}
	if rl.count <= 0 {
		return nil, fmt.Errorf("rate-limit: count must be > 0")
	}
	if v, ok := cfg["time_window"]; ok {
		rl.windowSecs = toFloat(v)
	}
	if rl.windowSecs <= 0 {
		return nil, fmt.Errorf("rate-limit: time_window must be > 0")
	}
	if v, ok := cfg["rejected_code"]; ok {
		rl.rejectedCode = toInt(v)
	}
	if v, ok := cfg["rejected_msg"].(string); ok && v != "" {
		rl.rejectedMsg = v
	}
	if v, ok := cfg["show_limit_quota_header"].(bool); ok {
		rl.showHeaders = v
	}
	return rl, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func (r *rateLimit) Name() string { return "rate-limit" }

func (r *rateLimit) keyFor(s *Session) string {
	switch {
	case r.keySource == "var:remote_addr":
		return s.RemoteAddr
	case len(r.keySource) > 7 && r.keySource[:7] == "header:":
		return s.Headers.Get(r.keySource[7:])
	case len(r.keySource) > 7 && r.keySource[:7] == "cookie:":
		return cookieValue(s.Headers.Get("Cookie"), r.keySource[7:])
	default:
		return s.RemoteAddr
	}
}

func (r *rateLimit) AccessFilter(s *Session, c *Ctx) Result {
	key := r.keyFor(s)

	w, exists := r.windows.Get(key)
	if !exists {
		w = &window{}
		r.windows.Add(key, w)
	}

	w.mu.Lock()
	now := time.Now()
	if now.After(w.resetsAt) {
		w.count = 0
		w.resetsAt = now.Add(toDurationSeconds(r.windowSecs))
	}
	w.count++
	count := w.count
	resetsAt := w.resetsAt
	w.mu.Unlock()

	if r.showHeaders {
		remaining := r.count - count
		if remaining < 0 {
			remaining = 0
		}
		s.ResponseHeaders.Set("X-RateLimit-Limit", strconv.Itoa(r.count))
		s.ResponseHeaders.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		s.ResponseHeaders.Set("X-RateLimit-Reset", strconv.FormatInt(resetsAt.Unix(), 10))
	}

	if count > r.count {
		return stop(&StopResponse{
			Status: r.rejectedCode,
			Body:   []byte(r.rejectedMsg),
		})
	}
	return ok()
}

func toDurationSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
