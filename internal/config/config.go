package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the scanguard server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	AdminGate AdminGateConfig
	CORS      CORSConfig
	Scanner   ScannerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret              string
	JWTIssuer              string
	ValidationMaxRetries   int
	ValidationTimeout      time.Duration
	BurstRequestsPerMinute int
}

type AdminGateConfig struct {
	// PasswordHash is a bcrypt hash. The gate is disabled when empty.
	PasswordHash string
	MaxAttempts  int
	Window       time.Duration
	FailureDelay time.Duration
	// Limiter is "redis" or "memory". The memory limiter is only correct
	// for a single server instance.
	Limiter string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type ScannerConfig struct {
	BackendURL     string
	BackendTimeout time.Duration
	URLCacheTTL    time.Duration
	VirusTotal     VirusTotalConfig
}

type VirusTotalConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
}

const minJWTSecretLen = 32

func setDefaults(v *viper.Viper) {
	v.SetDefault("scanguard_port", 8080)
	v.SetDefault("scanguard_env", "development")

	v.SetDefault("database_max_open_conns", 25)
	v.SetDefault("database_max_idle_conns", 5)
	v.SetDefault("database_conn_max_lifetime", 5*time.Minute)

	v.SetDefault("jwt_issuer", "scanguard")
	v.SetDefault("validation_max_retries", 2)
	v.SetDefault("validation_timeout", 5*time.Second)
	v.SetDefault("burst_requests_per_minute", 120)

	v.SetDefault("admin_gate_max_attempts", 5)
	v.SetDefault("admin_gate_window", time.Minute)
	v.SetDefault("admin_gate_failure_delay", time.Second)
	v.SetDefault("admin_gate_limiter", "redis")

	v.SetDefault("cors_allowed_origins", "*")

	v.SetDefault("scan_backend_url", "http://localhost:8000")
	v.SetDefault("scan_backend_timeout_secs", 300)
	v.SetDefault("url_scan_cache_ttl", 15*time.Minute)
	v.SetDefault("virustotal_base_url", "https://www.virustotal.com/api/v3")
	v.SetDefault("virustotal_poll_interval", 10*time.Second)
	v.SetDefault("virustotal_max_polls", 6)
}

// Load reads configuration from the environment, optionally layered over a
// YAML file named by SCANGUARD_CONFIG, and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("SCANGUARD_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// Environment wins over the file: DATABASE_URL overrides database_url.
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("scanguard_port"),
			Env:  v.GetString("scanguard_env"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database_url"),
			MaxOpenConns:    v.GetInt("database_max_open_conns"),
			MaxIdleConns:    v.GetInt("database_max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database_conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL: v.GetString("redis_url"),
		},
		Auth: AuthConfig{
			JWTSecret:              v.GetString("jwt_secret"),
			JWTIssuer:              v.GetString("jwt_issuer"),
			ValidationMaxRetries:   v.GetInt("validation_max_retries"),
			ValidationTimeout:      v.GetDuration("validation_timeout"),
			BurstRequestsPerMinute: v.GetInt("burst_requests_per_minute"),
		},
		AdminGate: AdminGateConfig{
			PasswordHash: v.GetString("admin_gate_password_hash"),
			MaxAttempts:  v.GetInt("admin_gate_max_attempts"),
			Window:       v.GetDuration("admin_gate_window"),
			FailureDelay: v.GetDuration("admin_gate_failure_delay"),
			Limiter:      strings.ToLower(v.GetString("admin_gate_limiter")),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
		},
		Scanner: ScannerConfig{
			BackendURL:     strings.TrimRight(v.GetString("scan_backend_url"), "/"),
			BackendTimeout: time.Duration(v.GetInt("scan_backend_timeout_secs")) * time.Second,
			URLCacheTTL:    v.GetDuration("url_scan_cache_ttl"),
			VirusTotal: VirusTotalConfig{
				APIKey:       v.GetString("virustotal_api_key"),
				BaseURL:      strings.TrimRight(v.GetString("virustotal_base_url"), "/"),
				PollInterval: v.GetDuration("virustotal_poll_interval"),
				MaxPolls:     v.GetInt("virustotal_max_polls"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SCANGUARD_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return errors.New("REDIS_URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}
	if c.Auth.ValidationMaxRetries < 0 {
		return fmt.Errorf("VALIDATION_MAX_RETRIES must not be negative, got %d", c.Auth.ValidationMaxRetries)
	}
	if c.Auth.ValidationTimeout <= 0 {
		return errors.New("VALIDATION_TIMEOUT must be positive")
	}

	if c.AdminGate.Limiter != "redis" && c.AdminGate.Limiter != "memory" {
		return fmt.Errorf("ADMIN_GATE_LIMITER must be one of redis, memory; got %q", c.AdminGate.Limiter)
	}
	if c.AdminGate.MaxAttempts <= 0 {
		return fmt.Errorf("ADMIN_GATE_MAX_ATTEMPTS must be positive, got %d", c.AdminGate.MaxAttempts)
	}
	if c.AdminGate.Window <= 0 {
		return errors.New("ADMIN_GATE_WINDOW must be positive")
	}

	if !isHTTPURL(c.Scanner.BackendURL) {
		return fmt.Errorf("SCAN_BACKEND_URL must start with http:// or https://, got %q", c.Scanner.BackendURL)
	}
	if !isHTTPURL(c.Scanner.VirusTotal.BaseURL) {
		return fmt.Errorf("VIRUSTOTAL_BASE_URL must start with http:// or https://, got %q", c.Scanner.VirusTotal.BaseURL)
	}
	if c.Scanner.VirusTotal.MaxPolls <= 0 {
		return fmt.Errorf("VIRUSTOTAL_MAX_POLLS must be positive, got %d", c.Scanner.VirusTotal.MaxPolls)
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
