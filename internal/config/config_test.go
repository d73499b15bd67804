package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crawlforge/crawld/internal/crawl"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "breadth_first", cfg.Session.Strategy)
	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, time.Second, cfg.SchedulerTick())
	require.Equal(t, "memory", cfg.Blob.Backend)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crawld.yaml")
	content := `
server:
  port: 9090
session:
  strategy: depth_first
  max_pages: 25
proxy:
  static:
    - endpoint: http://10.0.0.1:8080
      region: us-east
    - id: eu-proxy
      endpoint: http://10.0.0.2:8080
      protocols: [socks5]
      region: eu-west
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 25, cfg.Session.MaxPages)

	session := cfg.SessionConfig()
	require.Equal(t, crawl.StrategyDepthFirst, session.Strategy)
	require.Equal(t, time.Second, session.MinDelayDefault)

	recs := cfg.ProxyRecords()
	require.Len(t, recs, 2)
	require.Equal(t, "proxy-1", recs[0].ID)
	require.Equal(t, []string{"http", "https"}, recs[0].Protocols)
	require.Equal(t, "eu-proxy", recs[1].ID)
	require.Equal(t, []string{"socks5"}, recs[1].Protocols)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown store backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = "postgres"; c.Store.DSN = "" }},
		{"unknown strategy", func(c *Config) { c.Session.Strategy = "wander" }},
		{"zero max pages", func(c *Config) { c.Session.MaxPages = 0 }},
		{"negative max depth", func(c *Config) { c.Session.MaxDepth = -1 }},
		{"pubsub without project", func(c *Config) { c.PubSub.Enabled = true; c.PubSub.ProjectID = "" }},
		{"gcs without bucket", func(c *Config) { c.Blob.Backend = "gcs"; c.Blob.Bucket = "" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
