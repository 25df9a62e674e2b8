package plugin

import (
	"regexp"
	"strings"

	"github.com/zhu327/pingsix/internal/catalog"
)

// cors implements preflight and simple-request CORS response headers
// per spec.md §4.5: preflight returns 204 with computed allow headers;
// actual requests get allow headers appended.
type cors struct {
	allowOrigins      []string // "*" or explicit list
	allowOriginRegex  []*regexp.Regexp
	allowMethods      string
	allowHeaders      string
	exposeHeaders     string
	allowCredentials  bool
	maxAge            string
}

func newCORS(cfg catalog.PluginConfig) (Plugin, error) {
	c := &cors{
		allowMethods: "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		allowHeaders: "*",
	}
	if v, ok := cfg["allow_origins"].(string); ok && v != "" {
		c.allowOrigins = strings.Split(v, ",")
	} else {
		c.allowOrigins = []string{"*"}
	}
	if rawRegex, ok := cfg["allow_origins_by_regex"].([]any); ok {
		for _, r := range rawRegex {
			pattern, _ := r.(string)
			re, err := regexp.Compile(pattern)
			if err == nil {
				c.allowOriginRegex = append(c.allowOriginRegex, re)
			}
		}
	}
	if v, ok := cfg["allow_methods"].(string); ok && v != "" {
		c.allowMethods = v
	}
	if v, ok := cfg["allow_headers"].(string); ok && v != "" {
		c.allowHeaders = v
	}
	if v, ok := cfg["expose_headers"].(string); ok {
		c.exposeHeaders = v
	}
	if v, ok := cfg["allow_credential"].(bool); ok {
		c.allowCredentials = v
	}
	if v, ok := cfg["max_age"].(string); ok {
		c.maxAge = v
	}
	return c, nil
}

func (c *cors) Name() string { return "cors" }

func (c *cors) originAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range c.allowOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	for _, re := range c.allowOriginRegex {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

func (c *cors) applyHeaders(h map[string][]string, origin string) {
	h["Access-Control-Allow-Origin"] = []string{origin}
	h["Vary"] = []string{"Origin"}
	if c.allowCredentials {
		h["Access-Control-Allow-Credentials"] = []string{"true"}
	}
	if c.exposeHeaders != "" {
		h["Access-Control-Expose-Headers"] = []string{c.exposeHeaders}
	}
}

func (c *cors) AccessFilter(s *Session, ctx *Ctx) Result {
	origin := s.Headers.Get("Origin")
	if !c.originAllowed(origin) {
		return ok()
	}

	if s.Method == "OPTIONS" && s.Headers.Get("Access-Control-Request-Method") != "" {
		headers := map[string][]string{}
		c.applyHeaders(headers, origin)
		headers["Access-Control-Allow-Methods"] = []string{c.allowMethods}
		headers["Access-Control-Allow-Headers"] = []string{c.allowHeaders}
		if c.maxAge != "" {
			headers["Access-Control-Max-Age"] = []string{c.maxAge}
		}
		return stop(&StopResponse{Status: 204, Headers: headers})
	}

	ctx.Set("cors_origin", origin)
	return ok()
}

func (c *cors) UpstreamResponseFilter(s *Session, ctx *Ctx) Result {
	origin, ok2 := ctx.Get("cors_origin")
	if !ok2 {
		return ok()
	}
	c.applyHeaders(s.ResponseHeaders, origin.(string))
	return ok()
}
