package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("/tmp/pingsix_nonexistent_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, []Listener{{Address: "0.0.0.0:9080"}}, cfg.Listeners)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Nil(t, cfg.Etcd)
	assert.Nil(t, cfg.Admin)
}

func TestLoad_MissingPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9080", cfg.Listeners[0].Address)
}

func TestLoad_YAMLFile(t *testing.T) {
	yaml := `
server:
  workers: 4
  connect_timeout: 1.5
listeners:
  - address: "0.0.0.0:8080"
  - address: "0.0.0.0:8443"
    tls_cert: "/etc/pingsix/tls.crt"
    tls_key: "/etc/pingsix/tls.key"
etcd:
  endpoints:
    - "http://etcd1:2379"
    - "http://etcd2:2379"
  prefix: "/pingsix/prod"
admin:
  listen: "127.0.0.1:9180"
  api_key: "topsecret"
log:
  level: "debug"
  file: "/var/log/pingsix/access.log"
routes:
  - id: r1
    uris: ["/foo"]
    upstream_id: u1
upstreams:
  - id: u1
    nodes:
      - host: 10.0.0.1
        port: 8080
        weight: 1
`
	tmp := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmp, []byte(yaml), 0644))

	cfg, err := Load(tmp)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, 1.5, cfg.Server.ConnectTimeout)
	require.Len(t, cfg.Listeners, 2)
	assert.Equal(t, "0.0.0.0:8443", cfg.Listeners[1].Address)
	assert.Equal(t, "/etc/pingsix/tls.crt", cfg.Listeners[1].TLSCert)
	require.NotNil(t, cfg.Etcd)
	assert.Equal(t, []string{"http://etcd1:2379", "http://etcd2:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, "/pingsix/prod", cfg.Etcd.Prefix)
	require.NotNil(t, cfg.Admin)
	assert.Equal(t, "topsecret", cfg.Admin.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Routes, 1)
	assert.Equal(t, "r1", cfg.Routes[0].ID)
	require.Len(t, cfg.Upstreams, 1)
	assert.Equal(t, "u1", cfg.Upstreams[0].ID)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmp, []byte(":::not yaml"), 0644))

	_, err := Load(tmp)
	assert.Error(t, err)
}

func TestLoad_EtcdPrefixDefaultsWhenEnabled(t *testing.T) {
	yaml := `
etcd:
  endpoints: ["http://127.0.0.1:2379"]
`
	tmp := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmp, []byte(yaml), 0644))

	cfg, err := Load(tmp)
	require.NoError(t, err)
	require.NotNil(t, cfg.Etcd)
	assert.Equal(t, "/pingsix", cfg.Etcd.Prefix)
}

func TestLoad_EnvOverrides(t *testing.T) {
	envVars := map[string]string{
		"PINGSIX_LISTEN":         "0.0.0.0:7080",
		"PINGSIX_LOG_LEVEL":      "warn",
		"PINGSIX_LOG_FILE":       "/tmp/access.log",
		"PINGSIX_ADMIN_LISTEN":   "127.0.0.1:9190",
		"PINGSIX_ADMIN_KEY":      "env-key",
		"PINGSIX_ETCD_ENDPOINTS": "http://e1:2379,http://e2:2379",
		"PINGSIX_ETCD_PREFIX":    "/env/pingsix",
		"PINGSIX_ETCD_USERNAME":  "envuser",
		"PINGSIX_ETCD_PASSWORD":  "envpass",
		"PINGSIX_WORKERS":        "8",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load("/tmp/pingsix_nonexistent_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, []Listener{{Address: "0.0.0.0:7080"}}, cfg.Listeners)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/tmp/access.log", cfg.Log.File)
	require.NotNil(t, cfg.Admin)
	assert.Equal(t, "127.0.0.1:9190", cfg.Admin.Listen)
	assert.Equal(t, "env-key", cfg.Admin.APIKey)
	require.NotNil(t, cfg.Etcd)
	assert.Equal(t, []string{"http://e1:2379", "http://e2:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, "/env/pingsix", cfg.Etcd.Prefix)
	assert.Equal(t, "envuser", cfg.Etcd.Username)
	assert.Equal(t, "envpass", cfg.Etcd.Password)
	assert.Equal(t, 8, cfg.Server.Workers)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	yaml := `
server:
  workers: 2
`
	tmp := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmp, []byte(yaml), 0644))

	t.Setenv("PINGSIX_WORKERS", "16")

	cfg, err := Load(tmp)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Server.Workers)
}

func TestLoad_EnvOverrideInvalidWorkerCount(t *testing.T) {
	t.Setenv("PINGSIX_WORKERS", "not_a_number")
	cfg, err := Load("/tmp/pingsix_nonexistent_config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Server.Workers)
}
