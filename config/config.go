// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"fms-api/services"
	"fms-api/stores"
)

// Config is the service configuration. Values come from an optional YAML
// file, then .env, then the process environment, later sources winning.
type Config struct {
	Port           string   `yaml:"port"`
	LiveUpdateAddr string   `yaml:"live_update_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`

	StoreDriver string          `yaml:"store_driver"`
	DatabaseURL string          `yaml:"database_url"`
	BadgerDir   string          `yaml:"badger_dir"`
	R2          stores.R2Config `yaml:"r2"`

	Scheduler services.SchedulerConfig `yaml:"scheduler"`
}

// Default matches the ports the viewer UI expects.
func Default() Config {
	return Config{
		Port:           "3001",
		LiveUpdateAddr: ":3002",
		AllowedOrigins: []string{"http://localhost:3000"},
		LogLevel:       "info",
		StoreDriver:    stores.DriverMemory,
		BadgerDir:      "./data/badger",
		Scheduler:      services.DefaultSchedulerConfig(),
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		logrus.Info("⚠️  No .env file found, reading environment variables directly")
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("PORT", &c.Port)
	str("LIVE_UPDATE_ADDR", &c.LiveUpdateAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("STORE_DRIVER", &c.StoreDriver)
	str("DATABASE_URL", &c.DatabaseURL)
	str("BADGER_DIR", &c.BadgerDir)
	str("CLOUDFLARE_ACCOUNT_ID", &c.R2.AccountID)
	str("R2_ACCESS_KEY_ID", &c.R2.AccessKeyID)
	str("R2_ACCESS_KEY_SECRET", &c.R2.AccessKeySecret)
	str("R2_BUCKET_NAME", &c.R2.Bucket)
	str("R2_ENDPOINT", &c.R2.Endpoint)

	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		origins := strings.Split(v, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		c.AllowedOrigins = origins
	}

	durations := map[string]*time.Duration{
		"TICK_INTERVAL":    &c.Scheduler.TickInterval,
		"RESTART_COOLDOWN": &c.Scheduler.RestartCooldown,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := lookup("TICK_BUDGET"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TICK_BUDGET: %w", err)
		}
		c.Scheduler.TickBudget = n
	}
	return nil
}

// Validate checks the values that would otherwise fail late.
func (c *Config) Validate() error {
	driver, err := stores.ParseDriver(c.StoreDriver)
	if err != nil {
		return err
	}
	c.StoreDriver = driver

	if c.StoreDriver == stores.DriverPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if c.StoreDriver == stores.DriverR2 {
		if err := c.R2.Validate(); err != nil {
			return err
		}
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.Scheduler.TickInterval)
	}
	if c.Scheduler.TickBudget <= 0 {
		return fmt.Errorf("tick budget must be positive, got %d", c.Scheduler.TickBudget)
	}
	if c.Scheduler.RestartCooldown < 0 {
		return fmt.Errorf("restart cooldown must not be negative, got %s", c.Scheduler.RestartCooldown)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return nil
}

// ListenAddr is the address the HTTP API binds.
func (c Config) ListenAddr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
