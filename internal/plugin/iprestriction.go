package plugin

import (
	"fmt"
	"net"
	"strings"

	"github.com/zhu327/pingsix/internal/catalog"
)

// ipRestriction allows/denies by CIDR list, per spec.md §4.5: whitelist
// match is sufficient to allow, blacklist match rejects, client IP
// sourced from X-Forwarded-For when configured and the peer is trusted.
type ipRestriction struct {
	whitelist       []*net.IPNet
	blacklist       []*net.IPNet
	useForwarded    bool
	trustedProxies  []*net.IPNet
	rejectedCode    int
	rejectedMsg     string
}

func newIPRestriction(cfg catalog.PluginConfig) (Plugin, error) {
	ir := &ipRestriction{rejectedCode: 403, rejectedMsg: "IP restricted"}
	var err error
	if ir.whitelist, err = parseCIDRList(cfg["whitelist"]); err != nil {
		return nil, fmt.Errorf("ip-restriction: whitelist: %w", err)
	}
	if ir.blacklist, err = parseCIDRList(cfg["blacklist"]); err != nil {
		return nil, fmt.Errorf("ip-restriction: blacklist: %w", err)
	}
	if v, ok := cfg["use_forwarded_headers"].(bool); ok {
		ir.useForwarded = v
	}
	if ir.trustedProxies, err = parseCIDRList(cfg["trusted_proxies"]); err != nil {
		return nil, fmt.Errorf("ip-restriction: trusted_proxies: %w", err)
	}
	if v, ok := cfg["rejected_code"]; ok {
		ir.rejectedCode = toInt(v)
	}
	if v, ok := cfg["rejected_msg"].(string); ok && v != "" {
		ir.rejectedMsg = v
	}
	return ir, nil
}

func parseCIDRList(raw any) ([]*net.IPNet, error) {
	list, _ := raw.([]any)
	out := make([]*net.IPNet, 0, len(list))
	for _, item := range list {
		s := fmt.Sprint(item)
		if !strings.Contains(s, "/") {
			s += "/32"
			if strings.Contains(s, ":") {
				s = strings.TrimSuffix(s, "/32") + "/128"
			}
		}
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (ir *ipRestriction) Name() string { return "ip-restriction" }

func (ir *ipRestriction) clientIP(s *Session) net.IP {
	if ir.useForwarded && ir.peerTrusted(s.RemoteAddr) {
		xff := s.Headers.Get("X-Forwarded-For")
		if xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if ip := net.ParseIP(first); ip != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(s.RemoteAddr)
	if err != nil {
		host = s.RemoteAddr
	}
	return net.ParseIP(host)
}

func (ir *ipRestriction) peerTrusted(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range ir.trustedProxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (ir *ipRestriction) AccessFilter(s *Session, c *Ctx) Result {
	ip := ir.clientIP(s)
	if ip == nil {
		return ok()
	}
	for _, n := range ir.whitelist {
		if n.Contains(ip) {
			return ok()
		}
	}
	for _, n := range ir.blacklist {
		if n.Contains(ip) {
			return stop(&StopResponse{Status: ir.rejectedCode, Body: []byte(ir.rejectedMsg)})
		}
	}
	if len(ir.whitelist) > 0 {
		return stop(&StopResponse{Status: ir.rejectedCode, Body: []byte(ir.rejectedMsg)})
	}
	return ok()
}
