package lifecycle

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"

	"github.com/zhu327/pingsix/internal/catalog"
	"github.com/zhu327/pingsix/internal/upstream"
)

// HTTPDialer is the production Dialer: it round-trips each attempt
// through an *http.Transport keyed by scheme, reusing connections
// across requests the way a reverse proxy's upstream pool normally
// would.
type HTTPDialer struct {
	transports map[catalog.Scheme]http.RoundTripper
}

// NewHTTPDialer builds an HTTPDialer. insecureSkipVerify controls the
// HTTPS transport only, for talking to upstreams with self-signed
// certificates (dev/staging pools); it must stay false in production.
func NewHTTPDialer(insecureSkipVerify bool) *HTTPDialer {
	return &HTTPDialer{
		transports: map[catalog.Scheme]http.RoundTripper{
			catalog.SchemeHTTP: &http.Transport{
				Proxy:               nil,
				MaxIdleConns:        512,
				MaxIdleConnsPerHost: 64,
				DialContext:         (&net.Dialer{}).DialContext,
			},
			catalog.SchemeHTTPS: &http.Transport{
				Proxy:               nil,
				MaxIdleConns:        512,
				MaxIdleConnsPerHost: 64,
				DialContext:         (&net.Dialer{}).DialContext,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: insecureSkipVerify},
			},
		},
	}
}

// Do implements Dialer by issuing one HTTP request to peer.Addr and
// returning the raw response for the lifecycle to filter and stream.
func (d *HTTPDialer) Do(ctx context.Context, peer upstream.Peer, req *OutboundRequest) (*InboundResponse, error) {
	scheme := peer.Scheme
	if scheme == "" {
		scheme = catalog.SchemeHTTP
	}
	url := string(scheme) + "://" + peer.Addr + req.URI

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, req.Body)
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Headers
	if host := req.Headers.Get("Host"); host != "" {
		httpReq.Host = host
	}

	rt := d.transports[scheme]
	if rt == nil {
		rt = d.transports[catalog.SchemeHTTP]
	}
	resp, err := rt.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}

	return &InboundResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       resp.Body,
	}, nil
}
