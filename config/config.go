// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"zk.share/internal/access"
	"zk.share/internal/models"
	"zk.share/internal/tier"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Store         StoreConfig         `yaml:"store"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Organizations OrganizationsConfig `yaml:"organizations"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type StoreConfig struct {
	Type            string         `yaml:"type"`
	Redis           RedisConfig    `yaml:"redis"`
	Postgres        PostgresConfig `yaml:"postgres"`
	TombstoneTTL    time.Duration  `yaml:"tombstone_ttl"`
	CleanupInterval time.Duration  `yaml:"cleanup_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SecretsConfig struct {
	DefaultExpiry      string `yaml:"default_expiry"`
	MaxCiphertextBytes int    `yaml:"max_ciphertext_bytes"`
}

type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	RevealPerMin   int  `yaml:"reveal_per_min"`
}

// OrganizationsConfig seeds the organizations the server knows about.
// Requests without an X-Org-ID header belong to Default.
type OrganizationsConfig struct {
	Default string                `yaml:"default"`
	List    []models.Organization `yaml:"list"`
}

// Lookup returns the organization with the given id, or false.
func (o *OrganizationsConfig) Lookup(id string) (*models.Organization, bool) {
	for i := range o.List {
		if o.List[i].ID == id {
			return &o.List[i], true
		}
	}
	return nil, false
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
			TombstoneTTL:    24 * time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Secrets: SecretsConfig{
			DefaultExpiry:      "7d",
			MaxCiphertextBytes: 1 << 20,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 100,
			RevealPerMin:   20,
		},
		Organizations: OrganizationsConfig{
			Default: "default",
			List: []models.Organization{
				{ID: "default", Name: "Default", Tier: tier.Free},
			},
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return errors.Wrap(err, "reading config file")
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(err, "parsing config file")
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Store.Postgres.DSN = v
	}
	if v := os.Getenv("TOMBSTONE_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			c.Store.TombstoneTTL = ttl
		}
	}
	if v := os.Getenv("CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Store.CleanupInterval = d
		}
	}

	if v := os.Getenv("DEFAULT_EXPIRY"); v != "" {
		c.Secrets.DefaultExpiry = v
	}
	if v := os.Getenv("MAX_CIPHERTEXT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Secrets.MaxCiphertextBytes = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_REVEAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RevealPerMin = n
		}
	}

	if v := os.Getenv("DEFAULT_ORG"); v != "" {
		c.Organizations.Default = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Newf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return errors.New("base_url is required")
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")

	switch c.Log.Format {
	case "json", "console":
	default:
		return errors.Newf("invalid log format: %s (must be 'json' or 'console')", c.Log.Format)
	}

	switch c.Store.Type {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return errors.New("redis addr is required when store type is 'redis'")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("postgres dsn is required when store type is 'postgres'")
		}
	default:
		return errors.Newf("invalid store type: %s (must be 'memory', 'redis' or 'postgres')", c.Store.Type)
	}

	if c.Store.TombstoneTTL <= 0 {
		return errors.New("tombstone_ttl must be positive")
	}
	if c.Store.CleanupInterval <= 0 {
		return errors.New("cleanup_interval must be positive")
	}

	if _, _, err := access.ParseExpiration(c.Secrets.DefaultExpiry); err != nil {
		return errors.Wrap(err, "default_expiry")
	}
	if c.Secrets.MaxCiphertextBytes < 1 {
		return errors.New("max_ciphertext_bytes must be at least 1")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMin < 1 || c.RateLimit.RevealPerMin < 1) {
		return errors.New("rate limits must be at least 1 per minute when enabled")
	}

	if len(c.Organizations.List) == 0 {
		return errors.New("at least one organization is required")
	}
	seen := make(map[string]bool, len(c.Organizations.List))
	for i, org := range c.Organizations.List {
		if org.ID == "" {
			return errors.New("organization id is required")
		}
		if seen[org.ID] {
			return errors.Newf("duplicate organization id: %s", org.ID)
		}
		seen[org.ID] = true
		t, err := tier.ParseTier(string(org.Tier))
		if err != nil {
			return errors.Wrapf(err, "organization %s", org.ID)
		}
		c.Organizations.List[i].Tier = t
	}
	if !seen[c.Organizations.Default] {
		return errors.Newf("default organization %q is not in organizations.list", c.Organizations.Default)
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
