// Package config loads runtime configuration. Values come from a
// YAML file, can be overridden per-key by environment variables,
// and a .env file in the working directory seeds the environment
// for local development. Command line flags override everything.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/iliyamo/course-seat-watch/internal/ratelimit"
)

// DBConfig holds MySQL connection parameters.
type DBConfig struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Name string `yaml:"name"`
}

// RedisConfig holds Redis connection parameters. Redis is optional;
// without it message rate limiting is disabled.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// DiscoveryConfig holds the Google Custom Search credentials used
// to autodiscover a school's Banner installation. Both empty
// disables autodiscovery; users are asked for the URL instead.
type DiscoveryConfig struct {
	APIKey string `yaml:"api_key"`
	CSEID  string `yaml:"cse_id"`
}

// WatchConfig tunes the background refresh loop and the freshness
// window for user-initiated lookups.
type WatchConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	SeatMaxAge  time.Duration `yaml:"seat_max_age"`
}

// AdminConfig holds the operator credentials for the HTTP admin
// surface. PasswordHash is a bcrypt hash, never the plain password.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	JWTSecret    string `yaml:"jwt_secret"`
}

// Config is the full runtime configuration.
type Config struct {
	Env       string           `yaml:"env"`
	Port      string           `yaml:"port"`
	LogLevel  string           `yaml:"log_level"`
	DB        DBConfig         `yaml:"db"`
	Redis     RedisConfig      `yaml:"redis"`
	AMQPURL   string           `yaml:"amqp_url"`
	Discovery DiscoveryConfig  `yaml:"discovery"`
	Watch     WatchConfig      `yaml:"watch"`
	Admin     AdminConfig      `yaml:"admin"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// Load builds the configuration: defaults, then the YAML file at
// path (optional, "" skips it), then environment overrides. A .env
// file is folded into the environment first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:      "dev",
		Port:     "8080",
		LogLevel: "info",
		DB:       DBConfig{Host: "localhost", Port: "3306"},
		Watch: WatchConfig{
			Interval:    time.Minute,
			Concurrency: 4,
			SeatMaxAge:  30 * time.Second,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.RateLimit.Normalize()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envStr("APP_ENV", &c.Env)
	envStr("APP_PORT", &c.Port)
	envStr("LOG_LEVEL", &c.LogLevel)

	envStr("DB_USER", &c.DB.User)
	envStr("DB_PASS", &c.DB.Pass)
	envStr("DB_HOST", &c.DB.Host)
	envStr("DB_PORT", &c.DB.Port)
	envStr("DB_NAME", &c.DB.Name)

	envStr("REDIS_ADDR", &c.Redis.Addr)
	envStr("REDIS_PASSWORD", &c.Redis.Password)
	envInt("REDIS_DB", &c.Redis.DB)
	envBool("REDIS_TLS", &c.Redis.TLS)

	envStr("AMQP_URL", &c.AMQPURL)

	envStr("GOOGLE_API_KEY", &c.Discovery.APIKey)
	envStr("GOOGLE_CSE_ID", &c.Discovery.CSEID)

	envDur("WATCH_INTERVAL", &c.Watch.Interval)
	envInt("WATCH_CONCURRENCY", &c.Watch.Concurrency)
	envDur("SEAT_MAX_AGE", &c.Watch.SeatMaxAge)

	envStr("ADMIN_USER", &c.Admin.Username)
	envStr("ADMIN_PASSWORD_HASH", &c.Admin.PasswordHash)
	envStr("JWT_SECRET", &c.Admin.JWTSecret)
}

func (c *Config) validate() error {
	var missing []string
	if c.DB.User == "" {
		missing = append(missing, "db.user (DB_USER)")
	}
	if c.DB.Name == "" {
		missing = append(missing, "db.name (DB_NAME)")
	}
	if c.AMQPURL == "" {
		missing = append(missing, "amqp_url (AMQP_URL)")
	}
	if c.Admin.Username == "" {
		missing = append(missing, "admin.username (ADMIN_USER)")
	}
	if c.Admin.PasswordHash == "" {
		missing = append(missing, "admin.password_hash (ADMIN_PASSWORD_HASH)")
	}
	if c.Admin.JWTSecret == "" {
		missing = append(missing, "admin.jwt_secret (JWT_SECRET)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be positive")
	}
	if c.Watch.Concurrency < 1 {
		return fmt.Errorf("watch.concurrency must be at least 1")
	}
	return nil
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

func envDur(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
