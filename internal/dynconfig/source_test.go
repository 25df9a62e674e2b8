package dynconfig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/zhu327/pingsix/internal/catalog"
)

// startEtcd starts an etcd container and returns its client endpoint.
func startEtcd(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.5.17",
		ExposedPorts: []string{"2379/tcp"},
		Env: map[string]string{
			"ETCD_ADVERTISE_CLIENT_URLS": "http://0.0.0.0:2379",
			"ETCD_LISTEN_CLIENT_URLS":    "http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("2379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	return "http://" + endpoint, func() { container.Terminate(ctx) }
}

func newTestSource(t *testing.T, endpoint, prefix string) (*Source, *catalog.Registry, *clientv3.Client) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	sugar := logger.Sugar()

	client, err := clientv3.New(clientv3.Config{Endpoints: []string{endpoint}, DialTimeout: 5 * time.Second})
	require.NoError(t, err)

	registry := catalog.NewRegistry(sugar)
	return NewSource(sugar, client, prefix, registry), registry, client
}

func TestSource_InitialLoad(t *testing.T) {
	ctx := context.Background()
	endpoint, cleanup := startEtcd(t, ctx)
	defer cleanup()

	src, registry, client := newTestSource(t, endpoint, "/pingsix")
	defer client.Close()

	_, err := client.Put(ctx, "/pingsix/upstreams/u1", `{"id":"u1","nodes":[{"host":"10.0.0.1","port":8080,"weight":1}],"type":"roundrobin","scheme":"http","pass_host":"pass"}`)
	require.NoError(t, err)
	_, err = client.Put(ctx, "/pingsix/routes/r1", `{"id":"r1","uris":["/foo"],"upstream_id":"u1"}`)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- src.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return registry.Current().Routes["r1"] != nil
	}, 5*time.Second, 50*time.Millisecond)

	snap := registry.Current()
	assert.Equal(t, "u1", snap.Routes["r1"].UpstreamID)
	assert.NotNil(t, snap.Upstreams["u1"])

	cancel()
	require.NoError(t, <-done)
}

func TestSource_ReloadsOnWatchEvent(t *testing.T) {
	ctx := context.Background()
	endpoint, cleanup := startEtcd(t, ctx)
	defer cleanup()

	src, registry, client := newTestSource(t, endpoint, "/pingsix")
	defer client.Close()

	_, err := client.Put(ctx, "/pingsix/upstreams/u1", `{"id":"u1","nodes":[{"host":"10.0.0.1","port":8080,"weight":1}]}`)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go src.Run(runCtx)

	require.Eventually(t, func() bool {
		return registry.Current().Upstreams["u1"] != nil
	}, 5*time.Second, 50*time.Millisecond)

	_, err = client.Put(ctx, "/pingsix/routes/r1", `{"id":"r1","uris":["/bar"],"upstream_id":"u1"}`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return registry.Current().Routes["r1"] != nil
	}, 5*time.Second, 50*time.Millisecond)

	_, err = client.Delete(ctx, "/pingsix/routes/r1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return registry.Current().Routes["r1"] == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSource_SkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	endpoint, cleanup := startEtcd(t, ctx)
	defer cleanup()

	src, registry, client := newTestSource(t, endpoint, "/pingsix")
	defer client.Close()

	_, err := client.Put(ctx, "/pingsix/routes/bad", `not json`)
	require.NoError(t, err)
	_, err = client.Put(ctx, "/pingsix/upstreams/u1", `{"id":"u1","nodes":[{"host":"10.0.0.1","port":8080,"weight":1}]}`)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go src.Run(runCtx)

	require.Eventually(t, func() bool {
		return registry.Current().Upstreams["u1"] != nil
	}, 5*time.Second, 50*time.Millisecond)

	assert.Nil(t, registry.Current().Routes["bad"])
}

func TestSplitKey(t *testing.T) {
	s := &Source{prefix: "/pingsix"}

	kind, id, ok := s.splitKey("/pingsix/routes/r1")
	assert.True(t, ok)
	assert.Equal(t, "routes", kind)
	assert.Equal(t, "r1", id)

	_, _, ok = s.splitKey("/other/routes/r1")
	assert.False(t, ok)

	_, _, ok = s.splitKey("/pingsix/routes")
	assert.False(t, ok)
}
