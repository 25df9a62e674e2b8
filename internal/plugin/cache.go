package plugin

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zhu327/pingsix/internal/catalog"
)

// cacheEntry is one stored response.
type cacheEntry struct {
	status    int
	headers   map[string][]string
	body      []byte
	storedAt  time.Time
	sMaxAge   time.Duration
	staleTTL  time.Duration
}

func (e *cacheEntry) fresh() bool { return time.Since(e.storedAt) < e.sMaxAge }
func (e *cacheEntry) servable() bool {
	return time.Since(e.storedAt) < e.sMaxAge+e.staleTTL
}

// cache consults an LRU keyed by (method, uri, vary-headers) for
// cacheable methods/statuses, per spec.md §4.5. On a hit within
// s-maxage it short-circuits at access_filter; on a stale-but-
// servable hit it still short-circuits (stale-while-revalidate) and
// sets "cache_stale_served" in ctx.
type cache struct {
	store         *lru.Cache[string, *cacheEntry]
	methods       map[string]bool
	statuses      map[int]bool
	varyHeaders   []string
	defaultMaxAge time.Duration
	staleWindow   time.Duration
}

func newCache(cfg catalog.PluginConfig) (Plugin, error) {
	size := 1024
	if v, ok := cfg["cache_size"]; ok {
		size = toInt(v)
	}
	store, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c := &cache{
		store:         store,
		methods:       map[string]bool{"GET": true, "HEAD": true},
		statuses:      map[int]bool{200: true, 301: true, 404: true},
		defaultMaxAge: 10 * time.Second,
	}
	if rawMethods, ok := cfg["cacheable_methods"].([]any); ok {
		c.methods = map[string]bool{}
		for _, m := range rawMethods {
			c.methods[strings.ToUpper(fmt.Sprint(m))] = true
		}
	}
	if rawStatuses, ok := cfg["cacheable_statuses"].([]any); ok {
		c.statuses = map[int]bool{}
		for _, st := range rawStatuses {
			c.statuses[toInt(st)] = true
		}
	}
	if rawVary, ok := cfg["vary_headers"].([]any); ok {
		for _, h := range rawVary {
			c.varyHeaders = append(c.varyHeaders, fmt.Sprint(h))
		}
	}
	if v, ok := cfg["default_max_age"]; ok {
		c.defaultMaxAge = toDurationSeconds(toFloat(v))
	}
	if v, ok := cfg["stale_while_revalidate"]; ok {
		c.staleWindow = toDurationSeconds(toFloat(v))
	}
	return c, nil
}

func (c *cache) Name() string { return "cache" }

func (c *cache) key(s *Session) string {
	var b strings.Builder
	b.WriteString(s.Method)
	b.WriteByte('|')
	b.WriteString(s.URI)
	for _, h := range c.varyHeaders {
		b.WriteByte('|')
		b.WriteString(s.Headers.Get(h))
	}
	return b.String()
}

func (c *cache) AccessFilter(s *Session, ctx *Ctx) Result {
	if !c.methods[strings.ToUpper(s.Method)] {
		return ok()
	}
	key := c.key(s)
	entry, found := c.store.Get(key)
	if !found || !entry.servable() {
		ctx.Set("cache_key", key)
		return ok()
	}
	if !entry.fresh() {
		ctx.Set("cache_stale_served", true)
	}
	return stop(&StopResponse{Status: entry.status, Headers: entry.headers, Body: entry.body})
}

// UpstreamResponseFilter stores the response metadata; the body is
// accumulated via ResponseBodyFilter and committed on end-of-stream.
func (c *cache) UpstreamResponseFilter(s *Session, ctx *Ctx) Result {
	if _, tracked := ctx.Get("cache_key"); !tracked {
		return ok()
	}
	if !c.statuses[s.StatusCode] {
		return ok()
	}
	ctx.Set("cache_status", s.StatusCode)
	hcopy := map[string][]string{}
	for k, v := range s.ResponseHeaders {
		hcopy[k] = append([]string(nil), v...)
	}
	ctx.Set("cache_headers", hcopy)
	return ok()
}

func (c *cache) ResponseBodyFilter(s *Session, ctx *Ctx, chunk *BodyChunk) Result {
	_, tracked := ctx.Get("cache_key")
	_, hasStatus := ctx.Get("cache_status")
	if !tracked || !hasStatus {
		return ok()
	}
	bufAny, _ := ctx.Get("cache_buf")
	buf, _ := bufAny.([]byte)
	buf = append(buf, chunk.Data...)
	ctx.Set("cache_buf", buf)

	if chunk.EndOfStream {
		key, _ := ctx.Get("cache_key")
		status, _ := ctx.Get("cache_status")
		headers, _ := ctx.Get("cache_headers")
		maxAge := c.sMaxAge(s)
		c.store.Add(key.(string), &cacheEntry{
			status:   status.(int),
			headers:  headers.(map[string][]string),
			body:     buf,
			storedAt: time.Now(),
			sMaxAge:  maxAge,
			staleTTL: c.staleWindow,
		})
	}
	return ok()
}

func (c *cache) sMaxAge(s *Session) time.Duration {
	cc := s.ResponseHeaders.Get("Cache-Control")
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(directive)
		if strings.HasPrefix(directive, "s-maxage=") {
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "s-maxage="))
			if err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return c.defaultMaxAge
}
