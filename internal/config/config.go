package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"points_service/internal/domain"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	StrategySliding = "sliding"
	StrategyFixed   = "fixed"

	StrictnessBestEffort = "best_effort"
	StrictnessSerialized = "serialized"
)

type Config struct {
	AppPort    string `envconfig:"APP_PORT" default:"8080"`
	AppVersion string `envconfig:"APP_VERSION" default:"dev"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON    bool   `envconfig:"LOG_JSON" default:"false"`

	// Addresses or CIDRs allowed to set X-Forwarded-For / X-Real-IP.
	// Empty means the socket address is the client address.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	// Storage
	Store       string `envconfig:"STORE" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// Shared store for rate limiting. Only dialed on first use.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Rate limiting
	RateLimitBackend  string        `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	RateLimitStrategy string        `envconfig:"RATE_LIMIT_STRATEGY" default:"sliding"`
	RateLimit         int           `envconfig:"RATE_LIMIT" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	APIRateLimit      int           `envconfig:"API_RATE_LIMIT" default:"120"`

	// Policy
	PolicyStrictness string `envconfig:"POLICY_STRICTNESS" default:"serialized"`
	DailyCap         int64  `envconfig:"DAILY_CAP"`
	PolicyFile       string `envconfig:"POLICY_FILE"`

	// Scheduler
	TickSpec          string `envconfig:"TICK_SPEC" default:"@every 1m"`
	RollupSpec        string `envconfig:"ROLLUP_SPEC" default:"5 * * * *"`
	UptimePoints      int64  `envconfig:"UPTIME_POINTS" default:"1"`
	RollupConcurrency int    `envconfig:"ROLLUP_CONCURRENCY" default:"4"`
	SchedulerEnabled  bool   `envconfig:"SCHEDULER_ENABLED" default:"true"`

	NodeID int64 `envconfig:"NODE_ID" default:"1"`

	// Optional secrets. Endpoints depending on them answer 503 when unset.
	JWTSecret     string `envconfig:"JWT_SECRET"`
	AdminToken    string `envconfig:"ADMIN_TOKEN"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN"`

	// Policies is built from DailyCap and PolicyFile, not read from env.
	Policies domain.PolicyTable `ignored:"true"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	policies, err := LoadPolicies(cfg.PolicyFile, cfg.DailyCap)
	if err != nil {
		return nil, err
	}
	cfg.Policies = policies

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is not set")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if c.RateLimitBackend != BackendMemory && c.RateLimitBackend != BackendRedis {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", BackendMemory, BackendRedis)
	}
	if c.RateLimitStrategy != StrategySliding && c.RateLimitStrategy != StrategyFixed {
		return fmt.Errorf("RATE_LIMIT_STRATEGY must be %q or %q", StrategySliding, StrategyFixed)
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.PolicyStrictness != StrictnessBestEffort && c.PolicyStrictness != StrictnessSerialized {
		return fmt.Errorf("POLICY_STRICTNESS must be %q or %q", StrictnessBestEffort, StrictnessSerialized)
	}
	if c.Policies.DailyCap <= 0 {
		return fmt.Errorf("daily cap must be > 0")
	}
	for t, p := range c.Policies.Types {
		if p.MaxPerEvent < 0 || p.CooldownSec < 0 {
			return fmt.Errorf("policy %s: negative limits", t)
		}
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("TRUSTED_PROXIES: %q is not an IP or CIDR", p)
		}
	}
	if c.RollupConcurrency <= 0 {
		c.RollupConcurrency = 1
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
	}
	return nil
}

func validProxy(p string) bool {
	p = strings.TrimSpace(p)
	if strings.Contains(p, "/") {
		_, _, err := net.ParseCIDR(p)
		return err == nil
	}
	return net.ParseIP(p) != nil
}

// LoadPolicies starts from the built-in table, applies the optional YAML file
// and finally the daily cap from the environment.
func LoadPolicies(path string, dailyCap int64) (domain.PolicyTable, error) {
	table := domain.DefaultPolicyTable()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return table, fmt.Errorf("read policy file: %w", err)
		}
		var file domain.PolicyTable
		if err := yaml.Unmarshal(b, &file); err != nil {
			return table, fmt.Errorf("parse policy file: %w", err)
		}
		for t, p := range file.Types {
			table.Types[t] = p
		}
		if file.DailyCap > 0 {
			table.DailyCap = file.DailyCap
		}
	}
	if dailyCap > 0 {
		table.DailyCap = dailyCap
	}
	return table, nil
}
