package plugin

import (
	"fmt"
	"strings"

	"github.com/zhu327/pingsix/internal/catalog"
)

// responseRewrite modifies the response status and headers on
// UpstreamResponseFilter, substituting $variables in header values per
// spec.md §4.5.
type responseRewrite struct {
	status    int
	setHeader map[string]string
	addHeader map[string]string
	removeHeader []string
}

func newResponseRewrite(cfg catalog.PluginConfig) (Plugin, error) {
	rr := &responseRewrite{setHeader: map[string]string{}, addHeader: map[string]string{}}
	if v, ok := cfg["status"]; ok {
		rr.status = toInt(v)
	}
	if rawHeaders, ok := cfg["headers"].(map[string]any); ok {
		if m, ok := rawHeaders["set"].(map[string]any); ok {
			for k, v := range m {
				rr.setHeader[k] = fmt.Sprint(v)
			}
		}
		if m, ok := rawHeaders["add"].(map[string]any); ok {
			for k, v := range m {
				rr.addHeader[k] = fmt.Sprint(v)
			}
		}
		if list, ok := rawHeaders["remove"].([]any); ok {
			for _, name := range list {
				rr.removeHeader = append(rr.removeHeader, fmt.Sprint(name))
			}
		}
	}
	return rr, nil
}

func (r *responseRewrite) Name() string { return "response-rewrite" }

func (r *responseRewrite) UpstreamResponseFilter(s *Session, c *Ctx) Result {
	if r.status != 0 {
		s.StatusCode = r.status
	}
	for k, v := range r.setHeader {
		s.ResponseHeaders.Set(k, substituteVars(v, s, c))
	}
	for k, v := range r.addHeader {
		s.ResponseHeaders.Add(k, substituteVars(v, s, c))
	}
	for _, k := range r.removeHeader {
		s.ResponseHeaders.Del(k)
	}
	return ok()
}

// substituteVars replaces $remote_addr, $upstream_addr, $request_id
// per spec.md §4.5's response-rewrite value substitution.
func substituteVars(v string, s *Session, c *Ctx) string {
	replacer := strings.NewReplacer(
		"$remote_addr", s.RemoteAddr,
		"$upstream_addr", c.UpstreamAddr,
		"$request_id", c.RequestID,
	)
	return replacer.Replace(v)
}
