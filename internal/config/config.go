// Package config loads and validates the Yatagarasu configuration snapshot.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"
)

// ReplicaConfig is one endpoint+credential pair able to serve a bucket.
type ReplicaConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Priority  int    `mapstructure:"priority"`

	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
	SuccessThreshold int `mapstructure:"success_threshold"`
}

// CacheOverrides customizes cache behavior for a single bucket.
type CacheOverrides struct {
	Enabled     *bool `mapstructure:"enabled"`
	TTLSeconds  int   `mapstructure:"ttl_seconds"`
	MaxItemSize int64 `mapstructure:"max_item_size"`
}

// RateCaps holds per-bucket token-bucket limits; a zero rate means no per-bucket limit.
type RateCaps struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	Burst             int `mapstructure:"burst"`
}

// AuthorizerConfig names and parameterizes a bucket's Authorizer.
type AuthorizerConfig struct {
	Type      string `mapstructure:"type"` // "" (none) or "bearer_jwt"
	JWTSecret string `mapstructure:"jwt_secret"`
}

// BucketConfig binds a URL path prefix to a set of backend replicas.
type BucketConfig struct {
	Name           string           `mapstructure:"name"`
	PathPrefix     string           `mapstructure:"path_prefix"`
	Replicas       []ReplicaConfig  `mapstructure:"replicas"`
	Authorizer     AuthorizerConfig `mapstructure:"authorizer"`
	CacheOverrides CacheOverrides   `mapstructure:"cache_overrides"`
	Allowlist      []string         `mapstructure:"allowlist"`
	Blocklist      []string         `mapstructure:"blocklist"`
	RateCaps       RateCaps         `mapstructure:"rate_caps"`
	RequireAuth    bool             `mapstructure:"require_auth"`
}

// MemoryCacheConfig configures the in-process cache layer.
type MemoryCacheConfig struct {
	Enabled     bool  `mapstructure:"enabled"`
	MaxBytes    int64 `mapstructure:"max_bytes"`
	MaxItemSize int64 `mapstructure:"max_item_size"`
}

// DiskCacheConfig configures the on-disk cache layer.
type DiskCacheConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Root        string `mapstructure:"root"`
	MaxBytes    int64  `mapstructure:"max_bytes"`
	MaxItemSize int64  `mapstructure:"max_item_size"`
}

// RedisCacheConfig configures the shared redis-compatible cache layer.
type RedisCacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// CacheConfig is the global cache settings shared across buckets, before overrides.
type CacheConfig struct {
	DefaultTTLSeconds int               `mapstructure:"default_ttl_seconds"`
	Memory            MemoryCacheConfig `mapstructure:"memory"`
	Disk              DiskCacheConfig   `mapstructure:"disk"`
	Redis             RedisCacheConfig  `mapstructure:"redis"`
	SendfileThreshold int64             `mapstructure:"sendfile_threshold_bytes"`
}

// RateLimitConfig is the global rate-limit settings.
type RateLimitConfig struct {
	GlobalRequestsPerSecond int `mapstructure:"global_requests_per_second"`
	GlobalBurst             int `mapstructure:"global_burst"`
	PerIPRequestsPerSecond  int `mapstructure:"per_ip_requests_per_second"`
	PerIPBurst              int `mapstructure:"per_ip_burst"`
	PerUserRequestsPerSecond int `mapstructure:"per_user_requests_per_second"`
	PerUserBurst             int `mapstructure:"per_user_burst"`
}

// PrewarmConfig bounds the cache-warm worker pool.
type PrewarmConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	OpsPerSecondLimit int `mapstructure:"ops_per_second_limit"`
}

// UpstreamConfig bounds timeouts and retries for backend requests.
type UpstreamConfig struct {
	ConnectTimeoutMS int `mapstructure:"connect_timeout_ms"`
	ReadTimeoutMS    int `mapstructure:"read_timeout_ms"`
	TotalTimeoutMS   int `mapstructure:"total_timeout_ms"`
	MaxRetries       int `mapstructure:"max_retries"`
}

// Config is the immutable, atomically-published configuration snapshot.
type Config struct {
	BindAddress       string `mapstructure:"bind_address"`
	AdminBindAddress  string `mapstructure:"admin_bind_address"`
	LogLevel          string `mapstructure:"log_level"`
	LogFormat         string `mapstructure:"log_format"`
	LogHealthRequests bool   `mapstructure:"log_health_requests"`
	ShutdownTimeout   int    `mapstructure:"shutdown_timeout"`

	Buckets    []BucketConfig   `mapstructure:"buckets"`
	Cache      CacheConfig      `mapstructure:"cache"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Prewarm    PrewarmConfig    `mapstructure:"prewarm"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	AdminAuth  AuthorizerConfig `mapstructure:"admin_auth"`

	// Generation is stamped by the loader on every successful load/reload, not
	// read from the file itself.
	Generation uint64 `mapstructure:"-"`
}

// InitConfig wires viper's search paths and environment handling. Call once
// before Load, typically from cobra.OnInitialize.
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("yatagarasu")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/yatagarasu")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home + "/.yatagarasu")
		}
	}

	viper.SetEnvPrefix("YATA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
}

func setDefaults() {
	viper.SetDefault("bind_address", ":8080")
	viper.SetDefault("admin_bind_address", ":8081")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_health_requests", false)
	viper.SetDefault("shutdown_timeout", 30)

	viper.SetDefault("cache.default_ttl_seconds", 300)
	viper.SetDefault("cache.sendfile_threshold_bytes", 65536)
	viper.SetDefault("cache.memory.enabled", true)
	viper.SetDefault("cache.memory.max_bytes", 256*1024*1024)
	viper.SetDefault("cache.memory.max_item_size", 8*1024*1024)
	viper.SetDefault("cache.disk.enabled", false)
	viper.SetDefault("cache.disk.root", "/var/cache/yatagarasu")
	viper.SetDefault("cache.disk.max_bytes", 10*1024*1024*1024)
	viper.SetDefault("cache.disk.max_item_size", 64*1024*1024)
	viper.SetDefault("cache.redis.enabled", false)
	viper.SetDefault("cache.redis.key_prefix", "yatagarasu:")
	viper.SetDefault("cache.redis.pool_size", 10)

	viper.SetDefault("rate_limit.global_requests_per_second", 2000)
	viper.SetDefault("rate_limit.global_burst", 4000)
	viper.SetDefault("rate_limit.per_ip_requests_per_second", 50)
	viper.SetDefault("rate_limit.per_ip_burst", 100)
	viper.SetDefault("rate_limit.per_user_requests_per_second", 200)
	viper.SetDefault("rate_limit.per_user_burst", 400)

	viper.SetDefault("prewarm.concurrency", 10)
	viper.SetDefault("prewarm.ops_per_second_limit", 100)

	viper.SetDefault("upstream.connect_timeout_ms", 3000)
	viper.SetDefault("upstream.read_timeout_ms", 10000)
	viper.SetDefault("upstream.total_timeout_ms", 30000)
	viper.SetDefault("upstream.max_retries", 2)
}

var generationCounter atomic.Uint64

// Load reads the config file (already located by InitConfig), applies
// defaults, validates it, and stamps a fresh generation number.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Generation = generationCounter.Add(1)
	return &cfg, nil
}

// Reload re-reads the config file and validates that fields which cannot be
// hot-swapped (bind address) are unchanged relative to current.
func Reload(current *Config) (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var candidate Config
	if err := viper.Unmarshal(&candidate); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(&candidate); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if candidate.BindAddress != current.BindAddress {
		return nil, fmt.Errorf("bind_address cannot change across a reload (has %q, candidate has %q)", current.BindAddress, candidate.BindAddress)
	}
	if candidate.AdminBindAddress != current.AdminBindAddress {
		return nil, fmt.Errorf("admin_bind_address cannot change across a reload (has %q, candidate has %q)", current.AdminBindAddress, candidate.AdminBindAddress)
	}

	candidate.Generation = generationCounter.Add(1)
	return &candidate, nil
}

func validate(cfg *Config) error {
	if cfg.BindAddress == "" {
		return fmt.Errorf("bind_address must be set")
	}

	seenPrefix := make(map[string]string, len(cfg.Buckets))
	seenName := make(map[string]bool, len(cfg.Buckets))
	for i := range cfg.Buckets {
		b := &cfg.Buckets[i]
		if b.Name == "" {
			return fmt.Errorf("buckets[%d]: name must be set", i)
		}
		if seenName[b.Name] {
			return fmt.Errorf("buckets[%d]: duplicate bucket name %q", i, b.Name)
		}
		seenName[b.Name] = true

		if !strings.HasPrefix(b.PathPrefix, "/") {
			return fmt.Errorf("bucket %q: path_prefix must start with /", b.Name)
		}
		if owner, ok := seenPrefix[b.PathPrefix]; ok {
			return fmt.Errorf("bucket %q: path_prefix %q already used by bucket %q", b.Name, b.PathPrefix, owner)
		}
		seenPrefix[b.PathPrefix] = b.Name

		if len(b.Replicas) == 0 {
			return fmt.Errorf("bucket %q: at least one replica is required", b.Name)
		}
		for j, r := range b.Replicas {
			if r.Endpoint == "" {
				return fmt.Errorf("bucket %q replica[%d]: endpoint must be set", b.Name, j)
			}
			if r.AccessKey == "" || r.SecretKey == "" {
				return fmt.Errorf("bucket %q replica[%d]: access_key and secret_key are required", b.Name, j)
			}
			if r.Region == "" {
				return fmt.Errorf("bucket %q replica[%d]: region must be set", b.Name, j)
			}
		}

		for _, cidr := range append(append([]string{}, b.Allowlist...), b.Blocklist...) {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("bucket %q: invalid CIDR %q: %w", b.Name, cidr, err)
			}
		}

		if b.Authorizer.Type == "bearer_jwt" && b.Authorizer.JWTSecret == "" {
			return fmt.Errorf("bucket %q: authorizer type bearer_jwt requires jwt_secret", b.Name)
		}
	}

	if cfg.AdminAuth.Type == "bearer_jwt" && cfg.AdminAuth.JWTSecret == "" {
		return fmt.Errorf("admin_auth type bearer_jwt requires jwt_secret")
	}

	return nil
}

// BucketFor returns the bucket config with the given name, or nil.
func (c *Config) BucketFor(name string) *BucketConfig {
	for i := range c.Buckets {
		if c.Buckets[i].Name == name {
			return &c.Buckets[i]
		}
	}
	return nil
}
