package healthcheck

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/zhu327/pingsix/internal/catalog"
)

// probe runs one health check attempt against addr per hc.Type and
// reports whether it counts as a success.
func probe(ctx context.Context, client *http.Client, hc *catalog.ActiveHealthCheck, scheme catalog.Scheme, addr string) bool {
	switch hc.Type {
	case "tcp":
		return probeTCP(ctx, client.Timeout, addr)
	case "https":
		return probeHTTP(ctx, client, "https", hc, addr)
	default:
		return probeHTTP(ctx, client, "http", hc, addr)
	}
}

func probeTCP(ctx context.Context, timeout time.Duration, addr string) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func probeHTTP(ctx context.Context, client *http.Client, scheme string, hc *catalog.ActiveHealthCheck, addr string) bool {
	path := hc.Path
	if path == "" {
		path = "/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scheme+"://"+addr+path, nil)
	if err != nil {
		return false
	}
	for k, v := range hc.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if len(hc.ExpectedStatuses) == 0 {
		return resp.StatusCode >= 200 && resp.StatusCode < 400
	}
	for _, want := range hc.ExpectedStatuses {
		if resp.StatusCode == want {
			return true
		}
	}
	return false
}
