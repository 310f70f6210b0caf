package quorumlock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quorumlock.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
backend: redis
retry_count: 5
retry_delay: 50ms
clock_drift_factor: 0.02
prefix: locks
nodes:
  - name: r1
    host: 10.0.0.1
    port: 6379
    timeout: 250ms
    password: secret
  - host: 10.0.0.2
    port: 6379
  - host: 10.0.0.3
    port: 6380
log:
  level: debug
  format: console
`)

	cfg, err := LoadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, 5, cfg.RetryCount)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryDelay)
	assert.InDelta(t, 0.02, cfg.ClockDriftFactor, 1e-9)
	assert.Equal(t, "locks", cfg.Prefix)
	assert.Equal(t, DefaultTable, cfg.Table)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	require.Len(t, cfg.Nodes, 3)
	assert.Equal(t, NodeConfig{
		Name:     "r1",
		Host:     "10.0.0.1",
		Port:     6379,
		Timeout:  250 * time.Millisecond,
		Password: "secret",
	}, cfg.Nodes[0])

	nodes := cfg.ManagerNodes()
	assert.Equal(t, "r1", nodes[0].String())
	assert.Equal(t, "10.0.0.3:6380", nodes[2].String())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
backend: mysql
nodes:
  - host: db1
    port: 3306
`)
	t.Setenv("QUORUMLOCK_RETRY_COUNT", "7")
	t.Setenv("QUORUMLOCK_RETRY_DELAY", "1s")
	t.Setenv("QUORUMLOCK_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, BackendMySQL, cfg.Backend)
	assert.Equal(t, 7, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Len(t, cfg.Nodes, 1, "file nodes win over addrs")
}

func TestLoadConfig_AddrsFromEnv(t *testing.T) {
	t.Setenv("LOCKTEST_BACKEND", "memory")
	t.Setenv("LOCKTEST_ADDRS", "a:1, b:2 ,c:3")

	cfg, err := LoadConfig("", "LOCKTEST")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, []NodeConfig{
		{Host: "a", Port: 1},
		{Host: "b", Port: 2},
		{Host: "c", Port: 3},
	}, cfg.Nodes)
	assert.Equal(t, DefaultRetryCount, cfg.RetryCount)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)

	t.Setenv("LOCKTEST_ADDRS", "no-port")
	_, err = LoadConfig("", "LOCKTEST")
	assert.ErrorContains(t, err, "invalid node address")

	t.Setenv("LOCKTEST_ADDRS", "")
	_, err = LoadConfig("", "LOCKTEST")
	assert.ErrorContains(t, err, "at least one node is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "zookeeper" }, "unknown backend"},
		{"no nodes", func(c *Config) { c.Nodes = nil }, "at least one node"},
		{"missing host", func(c *Config) { c.Nodes[0].Host = " " }, "host is required"},
		{"bad port", func(c *Config) { c.Nodes[0].Port = 70000 }, "out of range"},
		{"negative timeout", func(c *Config) { c.Nodes[0].Timeout = -time.Second }, "timeout must be >= 0"},
		{"zero retries", func(c *Config) { c.RetryCount = 0 }, "retry_count"},
		{"negative delay", func(c *Config) { c.RetryDelay = -1 }, "retry_delay"},
		{"drift too large", func(c *Config) { c.ClockDriftFactor = 1 }, "clock_drift_factor"},
		{"negative fan out", func(c *Config) { c.FanOut = -1 }, "fan_out"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Nodes = []NodeConfig{{Host: "localhost", Port: 6379}}
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMemory
	cfg.RetryCount = 2
	cfg.Nodes = []NodeConfig{
		{Host: "m1", Port: 1},
		{Host: "m2", Port: 1},
		{Host: "m3", Port: 1},
	}

	m, err := NewFromConfig(&cfg)
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, 2, m.Majority())
	assert.Equal(t, 2, m.opts.retry.Count)
	require.NoError(t, m.Connect(context.Background()))

	h, ok, err := m.Acquire(context.Background(), "orders", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.Release(context.Background(), h))
}

func TestNewFromConfig_Invalid(t *testing.T) {
	_, err := NewFromConfig(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	cfg := DefaultConfig()
	_, err = NewFromConfig(&cfg)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConfig_Dialer(t *testing.T) {
	for _, backend := range []string{BackendRedis, BackendMySQL, BackendPostgres, BackendMemcache, BackendEtcd, BackendMemory} {
		cfg := Config{Backend: backend}
		dial, err := cfg.Dialer(nil)
		require.NoError(t, err, backend)
		assert.NotNil(t, dial, backend)
	}

	_, err := (&Config{Backend: "consul"}).Dialer(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
