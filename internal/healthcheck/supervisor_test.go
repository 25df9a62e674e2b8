package healthcheck

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhu327/pingsix/internal/catalog"
)

func TestTable_DefaultsToHealthyForUnknownPeer(t *testing.T) {
	tbl := newTable()
	assert.True(t, tbl.Healthy("missing-upstream", "10.0.0.1:80"))
}

func TestSupervisor_MarksUnhealthyAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	logger := zap.NewNop().Sugar()
	registry := catalog.NewRegistry(logger)
	u := &catalog.Upstream{
		ID:     "u1",
		Nodes:  []catalog.Node{{Host: strings.Split(addr, ":")[0], Port: mustPort(addr)}},
		Scheme: catalog.SchemeHTTP,
		Type:   catalog.LBRoundRobin,
		HealthCheck: &catalog.ActiveHealthCheck{
			Type:             "http",
			Path:             "/",
			IntervalSeconds:  0.01,
			UnhealthyHTTP:    2,
			HealthySuccesses: 2,
			ExpectedStatuses: []int{200},
		},
	}
	require.NoError(t, registry.ReplaceAll(nil, []*catalog.Upstream{u}, nil, nil, nil))

	sup := NewSupervisor(logger, registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	assert.Eventually(t, func() bool {
		return !sup.Table().Healthy("u1", addr)
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSupervisor_TCPProbeUsesUnhealthyTCPThreshold guards against
// selecting the threshold by a blind null-coalesce instead of hc.Type:
// a tcp probe with UnhealthyTCP=1 but a much larger UnhealthyHTTP must
// flip unhealthy on the first failed dial, not wait for UnhealthyHTTP
// failures.
func TestSupervisor_TCPProbeUsesUnhealthyTCPThreshold(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close()) // nothing listens here anymore; every dial fails

	logger := zap.NewNop().Sugar()
	registry := catalog.NewRegistry(logger)
	u := &catalog.Upstream{
		ID:     "u1",
		Nodes:  []catalog.Node{{Host: strings.Split(addr, ":")[0], Port: mustPort(addr)}},
		Scheme: catalog.SchemeHTTP,
		Type:   catalog.LBRoundRobin,
		HealthCheck: &catalog.ActiveHealthCheck{
			Type:             "tcp",
			IntervalSeconds:  0.01,
			UnhealthyTCP:     1,
			UnhealthyHTTP:    5,
			HealthySuccesses: 2,
		},
	}
	require.NoError(t, registry.ReplaceAll(nil, []*catalog.Upstream{u}, nil, nil, nil))

	sup := NewSupervisor(logger, registry)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	assert.Eventually(t, func() bool {
		return !sup.Table().Healthy("u1", addr)
	}, 2*time.Second, 10*time.Millisecond)
}

func mustPort(addr string) int {
	parts := strings.Split(addr, ":")
	p := 0
	for _, c := range parts[len(parts)-1] {
		p = p*10 + int(c-'0')
	}
	return p
}
