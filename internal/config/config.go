package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	// Event publishing
	EventChannel string `mapstructure:"event_channel"`

	// SLA settings (minutes)
	DefaultSLAMinutes      int `mapstructure:"default_sla_minutes"`
	EmergencySLAMinutes    int `mapstructure:"emergency_sla_minutes"`
	EscalationGraceMinutes int `mapstructure:"escalation_grace_minutes"`
	ResponseTimeoutMinutes int `mapstructure:"response_timeout_minutes"`

	// Monitor cadence
	SweepIntervalSeconds   int `mapstructure:"sweep_interval_seconds"`
	RefreshIntervalMinutes int `mapstructure:"refresh_interval_minutes"`
	SweepLockTTLSeconds    int `mapstructure:"sweep_lock_ttl_seconds"`
}

// DefaultSLA returns the deadline window for requests without an explicit one.
func (c Config) DefaultSLA() time.Duration {
	return time.Duration(c.DefaultSLAMinutes) * time.Minute
}

// EmergencySLA returns the deadline window for emergency-type requests.
func (c Config) EmergencySLA() time.Duration {
	return time.Duration(c.EmergencySLAMinutes) * time.Minute
}

// EscalationGrace returns the deadline extension granted by an escalation.
func (c Config) EscalationGrace() time.Duration {
	return time.Duration(c.EscalationGraceMinutes) * time.Minute
}

// ResponseTimeout returns how long an assigned expert may stay silent.
func (c Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutMinutes) * time.Minute
}

// SweepInterval returns the cadence of the escalation monitor sweep.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// RefreshInterval returns the cadence of the availability refresh.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMinutes) * time.Minute
}

// SweepLockTTL returns the lease duration of the Redis sweep lock.
func (c Config) SweepLockTTL() time.Duration {
	return time.Duration(c.SweepLockTTLSeconds) * time.Second
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Auto-load .env file if present so 'go run' works without manually
	// exporting env vars. Missing .env is fine in Docker/production.
	if err := godotenv.Load(); err == nil {
		log.Println("✅ Loaded .env file")
	}

	v := viper.New()

	// Set default values
	v.SetDefault("port", "8080")
	v.SetDefault("event_channel", "intervention_events")
	v.SetDefault("default_sla_minutes", 240)
	v.SetDefault("emergency_sla_minutes", 30)
	v.SetDefault("escalation_grace_minutes", 30)
	v.SetDefault("response_timeout_minutes", 60)
	v.SetDefault("sweep_interval_seconds", 60)
	v.SetDefault("refresh_interval_minutes", 5)
	v.SetDefault("sweep_lock_ttl_seconds", 90)

	// Config file settings
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	// Bind standard environment variables (Docker/deploy compatibility)
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("event_channel", "EVENT_CHANNEL")
	_ = v.BindEnv("default_sla_minutes", "DEFAULT_SLA_MINUTES")
	_ = v.BindEnv("emergency_sla_minutes", "EMERGENCY_SLA_MINUTES")
	_ = v.BindEnv("escalation_grace_minutes", "ESCALATION_GRACE_MINUTES")
	_ = v.BindEnv("response_timeout_minutes", "RESPONSE_TIMEOUT_MINUTES")
	_ = v.BindEnv("sweep_interval_seconds", "SWEEP_INTERVAL_SECONDS")
	_ = v.BindEnv("refresh_interval_minutes", "REFRESH_INTERVAL_MINUTES")
	_ = v.BindEnv("sweep_lock_ttl_seconds", "SWEEP_LOCK_TTL_SECONDS")

	v.AutomaticEnv()

	// 1. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("ℹ️  No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("✅ Loaded config from: %s", v.ConfigFileUsed())
	}

	// 2. Unmarshal into struct
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	// 3. Backfill environment variables for anything still reading os.Getenv()
	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("REDIS_URL", App.RedisURL)
	setEnvIfEmpty("PORT", App.Port)

	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
