package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Auth      AuthConfig      `toml:"auth"`
	Policy    PolicyConfig    `toml:"policy"`
	Lock      LockConfig      `toml:"lock"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Compiler  CompilerConfig  `toml:"compiler"`
	Deployer  DeployerConfig  `toml:"deployer"`
	Check     CheckConfig     `toml:"check"`
	Logging   LoggingConfig   `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Security  SecurityConfig  `toml:"security"`
	Proxy     ProxyConfig     `toml:"proxy"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int    `toml:"port"`
	Host           string `toml:"host"`
	ReadTimeout    int    `toml:"read_timeout"`    // seconds
	WriteTimeout   int    `toml:"write_timeout"`   // seconds
	IdleTimeout    int    `toml:"idle_timeout"`    // seconds
	RequestTimeout int    `toml:"request_timeout"` // seconds
}

// StorageConfig holds audit storage configuration
type StorageConfig struct {
	Type     string         `toml:"type"` // "sqlite" or "postgres"
	Postgres PostgresConfig `toml:"postgres"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string `toml:"url"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	Type string `toml:"type"` // "none" or "api-key"
}

// PolicyConfig holds the security-gate thresholds. They are fixed at
// startup; there is no reload path.
type PolicyConfig struct {
	RiskScoreThreshold    int `toml:"risk_score_threshold"`
	CriticalVulnThreshold int `toml:"critical_vuln_threshold"`
	HighVulnThreshold     int `toml:"high_vuln_threshold"`
	FallbackRiskCeiling   int `toml:"fallback_risk_ceiling"`
	AdvisoryRiskCeiling   int `toml:"advisory_risk_ceiling"`
}

// LockConfig holds deduplication lock settings
type LockConfig struct {
	Type       string `toml:"type"` // "memory" or "redis"
	RedisAddr  string `toml:"redis_addr"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// ScannerConfig holds the security-analysis service settings
type ScannerConfig struct {
	URL string `toml:"url"`
}

// CompilerConfig holds the compile service settings
type CompilerConfig struct {
	URL     string `toml:"url"`
	Version string `toml:"version"` // expected solc version, e.g. "0.8.24"
}

// DeployerConfig holds the deployer service settings
type DeployerConfig struct {
	URL string `toml:"url"`
}

// CheckConfig holds check-only result cache settings
type CheckConfig struct {
	CacheSize       int `toml:"cache_size"` // 0 disables caching
	CacheTTLSeconds int `toml:"cache_ttl_seconds"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool `toml:"enabled"`
	RequestsPerMin int  `toml:"requests_per_min"`
	BurstSize      int  `toml:"burst_size"`
	CleanupMinutes int  `toml:"cleanup_minutes"`
}

// SecurityConfig holds security filter settings
type SecurityConfig struct {
	FilterEnabled bool `toml:"filter_enabled"`
	MaxBodySizeMB int  `toml:"max_body_size_mb"`
}

// ProxyConfig holds trusted proxy settings for X-Forwarded-For handling
type ProxyConfig struct {
	TrustProxy     bool     `toml:"trust_proxy"`
	TrustedProxies []string `toml:"trusted_proxies"` // CIDR notation
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Load loads configuration from environment variables. If
// DEPLOYGATE_CONFIG names a TOML file, that file is applied on top of
// the env-derived values.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 300),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 300),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/deploygate.db"),
			},
		},
		Auth: AuthConfig{
			Type: getEnv("AUTH_TYPE", "none"),
		},
		Policy: PolicyConfig{
			RiskScoreThreshold:    getEnvInt("POLICY_RISK_SCORE_THRESHOLD", 50),
			CriticalVulnThreshold: getEnvInt("POLICY_CRITICAL_VULN_THRESHOLD", 1),
			HighVulnThreshold:     getEnvInt("POLICY_HIGH_VULN_THRESHOLD", 5),
			FallbackRiskCeiling:   getEnvInt("POLICY_FALLBACK_RISK_CEILING", 30),
			AdvisoryRiskCeiling:   getEnvInt("POLICY_ADVISORY_RISK_CEILING", 25),
		},
		Lock: LockConfig{
			Type:       getEnv("LOCK_TYPE", "memory"),
			RedisAddr:  getEnv("LOCK_REDIS_ADDR", "localhost:6379"),
			TTLSeconds: getEnvInt("LOCK_TTL_SECONDS", 120),
		},
		Scanner: ScannerConfig{
			URL: getEnv("SCANNER_URL", "http://localhost:9001"),
		},
		Compiler: CompilerConfig{
			URL:     getEnv("COMPILER_URL", "http://localhost:9002"),
			Version: getEnv("COMPILER_VERSION", ""),
		},
		Deployer: DeployerConfig{
			URL: getEnv("DEPLOYER_URL", "http://localhost:9003"),
		},
		Check: CheckConfig{
			CacheSize:       getEnvInt("CHECK_CACHE_SIZE", 256),
			CacheTTLSeconds: getEnvInt("CHECK_CACHE_TTL_SECONDS", 30),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Security: SecurityConfig{
			FilterEnabled: getEnvBool("SECURITY_FILTER_ENABLED", true),
			MaxBodySizeMB: getEnvInt("SECURITY_MAX_BODY_SIZE_MB", 2),
		},
		Proxy: ProxyConfig{
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
			TrustedProxies: getEnvStringSlice("TRUSTED_PROXIES", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
	}

	if path := os.Getenv("DEPLOYGATE_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	switch c.Lock.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown lock type %q", c.Lock.Type)
	}
	switch c.Auth.Type {
	case "none", "api-key":
	default:
		return fmt.Errorf("unknown auth type %q", c.Auth.Type)
	}
	if c.Policy.CriticalVulnThreshold < 1 {
		return fmt.Errorf("critical vuln threshold must be >= 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
