package plugin

import (
	"fmt"
	"regexp"

	"github.com/zhu327/pingsix/internal/catalog"
)

// headerOp is one {set,add,remove} header mutation.
type headerOp struct {
	kind  string // "set", "add", "remove"
	name  string
	value string
}

// proxyRewrite rewrites the outbound URI (static replacement or regex
// capture rewrite), method, host, and applies header operations, on
// UpstreamRequestFilter — the last hook before the request is sent.
type proxyRewrite struct {
	uri        string
	uriRegex   *regexp.Regexp
	uriReplace string
	method     string
	host       string
	headerOps  []headerOp
}

func newProxyRewrite(cfg catalog.PluginConfig) (Plugin, error) {
	pr := &proxyRewrite{}
	if v, ok := cfg["uri"].(string); ok {
		pr.uri = v
	}
	if rawRegex, ok := cfg["regex_uri"].([]any); ok && len(rawRegex) == 2 {
		pattern, _ := rawRegex[0].(string)
		replace, _ := rawRegex[1].(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("proxy-rewrite: invalid regex_uri pattern: %w", err)
		}
		pr.uriRegex = re
		pr.uriReplace = replace
	}
	if v, ok := cfg["method"].(string); ok {
		pr.method = v
	}
	if v, ok := cfg["host"].(string); ok {
		pr.host = v
	}
	if rawHeaders, ok := cfg["headers"].(map[string]any); ok {
		for kind, rawOps := range rawHeaders {
			switch kind {
			case "set", "add":
				m, _ := rawOps.(map[string]any)
				for name, v := range m {
					pr.headerOps = append(pr.headerOps, headerOp{kind: kind, name: name, value: fmt.Sprint(v)})
				}
			case "remove":
				list, _ := rawOps.([]any)
				for _, name := range list {
					pr.headerOps = append(pr.headerOps, headerOp{kind: "remove", name: fmt.Sprint(name)})
				}
			}
		}
	}
	return pr, nil
}

func (p *proxyRewrite) Name() string { return "proxy-rewrite" }

func (p *proxyRewrite) UpstreamRequestFilter(s *Session, c *Ctx) Result {
	switch {
	case p.uriRegex != nil:
		s.UpstreamURI = p.uriRegex.ReplaceAllString(s.UpstreamURI, p.uriReplace)
	case p.uri != "":
		s.UpstreamURI = p.uri
	}
	if p.method != "" {
		s.UpstreamMethod = p.method
	}
	if p.host != "" {
		s.UpstreamHeaders.Set("Host", p.host)
	}
	for _, op := range p.headerOps {
		switch op.kind {
		case "set":
			s.UpstreamHeaders.Set(op.name, op.value)
		case "add":
			s.UpstreamHeaders.Add(op.name, op.value)
		case "remove":
			s.UpstreamHeaders.Del(op.name)
		}
	}
	return ok()
}
