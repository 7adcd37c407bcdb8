package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Payment    PaymentConfig    `yaml:"payment"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// ReconcilerConfig controls the periodic booking sweep and the pool drift audit.
type ReconcilerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	Schedule            string `yaml:"schedule"`
	AuditSchedule       string `yaml:"audit_schedule"`
	Timezone            string `yaml:"timezone"`
	ReminderLeadMinutes int    `yaml:"reminder_lead_minutes"`

	Location     *time.Location `yaml:"-"`
	ReminderLead time.Duration  `yaml:"-"`
}

// PaymentConfig selects the payment gateway and holds its credentials.
// Driver is "stripe" (the default) or "memory", which auto-succeeds every
// intent and is meant for local development only.
type PaymentConfig struct {
	Driver    string `yaml:"driver"`
	SecretKey string `yaml:"secret_key"`
	Currency  string `yaml:"currency"`
}

// AuthConfig holds the bearer token verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Load reads the configuration from the given path. Values from a local .env file
// and the process environment override secrets found in the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PAYMENT_DRIVER"); v != "" {
		cfg.Payment.Driver = v
	}
	if v := os.Getenv("STRIPE_SECRET_KEY"); v != "" {
		cfg.Payment.SecretKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
}

func applyDefaults(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Reconciler.Schedule == "" {
		cfg.Reconciler.Schedule = "@every 1m"
	}
	if cfg.Reconciler.AuditSchedule == "" {
		cfg.Reconciler.AuditSchedule = "@every 15m"
	}
	if cfg.Reconciler.Timezone == "" {
		cfg.Reconciler.Timezone = "UTC"
	}
	loc, err := time.LoadLocation(cfg.Reconciler.Timezone)
	if err != nil {
		return fmt.Errorf("invalid reconciler.timezone %q: %w", cfg.Reconciler.Timezone, err)
	}
	cfg.Reconciler.Location = loc

	if cfg.Reconciler.ReminderLeadMinutes <= 0 {
		cfg.Reconciler.ReminderLeadMinutes = 10
	}
	cfg.Reconciler.ReminderLead = time.Duration(cfg.Reconciler.ReminderLeadMinutes) * time.Minute

	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "inr"
	}
	switch cfg.Payment.Driver {
	case "":
		cfg.Payment.Driver = "stripe"
	case "stripe", "memory":
	default:
		return fmt.Errorf("invalid payment.driver %q: want stripe or memory", cfg.Payment.Driver)
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}
	return nil
}
