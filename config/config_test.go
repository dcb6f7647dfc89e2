package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zk.share/internal/tier"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "7d", cfg.Secrets.DefaultExpiry)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  port: 9090
  base_url: https://share.example.com/
store:
  type: redis
  redis:
    addr: redis:6379
  tombstone_ttl: 2h
secrets:
  default_expiry: 1d
organizations:
  default: acme
  list:
    - id: acme
      name: Acme
      tier: business
      ip_allowlist: ["10.0.0.0/8"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://share.example.com", cfg.Server.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Store.TombstoneTTL)
	assert.Equal(t, 5*time.Minute, cfg.Store.CleanupInterval, "unset keys keep defaults")

	org, ok := cfg.Organizations.Lookup("acme")
	require.True(t, ok)
	assert.Equal(t, tier.Business, org.Tier)
	assert.Equal(t, []string{"10.0.0.0/8"}, org.IPAllowlist)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STORE_TYPE", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/zk?sslmode=disable")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("RATE_LIMIT_ENABLED", "false")
	t.Setenv("DEFAULT_EXPIRY", "never")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Type)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, "never", cfg.Secrets.DefaultExpiry)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"no base url", func(c *Config) { c.Server.BaseURL = "" }, "base_url is required"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"unknown store", func(c *Config) { c.Store.Type = "etcd" }, "invalid store type"},
		{"redis without addr", func(c *Config) {
			c.Store.Type = "redis"
			c.Store.Redis.Addr = ""
		}, "redis addr is required"},
		{"postgres without dsn", func(c *Config) { c.Store.Type = "postgres" }, "postgres dsn is required"},
		{"zero tombstone ttl", func(c *Config) { c.Store.TombstoneTTL = 0 }, "tombstone_ttl"},
		{"bad default expiry", func(c *Config) { c.Secrets.DefaultExpiry = "soon" }, "default_expiry"},
		{"zero ciphertext limit", func(c *Config) { c.Secrets.MaxCiphertextBytes = 0 }, "max_ciphertext_bytes"},
		{"zero rate", func(c *Config) { c.RateLimit.RevealPerMin = 0 }, "rate limits"},
		{"unknown tier", func(c *Config) { c.Organizations.List[0].Tier = "platinum" }, "organization default"},
		{"duplicate org", func(c *Config) {
			c.Organizations.List = append(c.Organizations.List, c.Organizations.List[0])
		}, "duplicate organization id"},
		{"missing default org", func(c *Config) { c.Organizations.Default = "ghost" }, "not in organizations.list"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesTier(t *testing.T) {
	cfg := Default()
	cfg.Organizations.List[0].Tier = " Business "
	require.NoError(t, cfg.Validate())
	assert.Equal(t, tier.Business, cfg.Organizations.List[0].Tier)
	assert.True(t, tier.IsEnabled(cfg.Organizations.List[0].Tier, tier.CapIPAllowlisting))
}
