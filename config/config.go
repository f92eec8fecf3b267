package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of the disputeflow process.
type Config struct {
	HTTPAddr    string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	LogLevel    string
	LockTimeout time.Duration
	MaxConns    int32

	EscalationInterval     time.Duration
	BreachInterval         time.Duration
	ResyncInterval         time.Duration
	ItemTimeout            time.Duration
	DefaultResolutionHours int

	NotifyRatePerSecond float64
	NotifyBurst         int
}

type configFile struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Database struct {
		URL         string `yaml:"url"`
		LockTimeout string `yaml:"lock_timeout"`
		MaxConns    int32  `yaml:"max_conns"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	SLA struct {
		EscalationInterval     string `yaml:"escalation_interval"`
		BreachInterval         string `yaml:"breach_interval"`
		ResyncInterval         string `yaml:"resync_interval"`
		ItemTimeout            string `yaml:"item_timeout"`
		DefaultResolutionHours int    `yaml:"default_resolution_hours"`
	} `yaml:"sla"`
	Notify struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"notify"`
}

// Defaults returns the configuration used when neither a file nor the
// environment overrides a value.
func Defaults() Config {
	return Config{
		HTTPAddr:               ":8080",
		LogLevel:               "info",
		LockTimeout:            5 * time.Second,
		EscalationInterval:     5 * time.Minute,
		BreachInterval:         10 * time.Minute,
		ResyncInterval:         time.Minute,
		ItemTimeout:            10 * time.Second,
		DefaultResolutionHours: 720,
		NotifyRatePerSecond:    20,
		NotifyBurst:            5,
	}
}

// Load layers defaults, the optional YAML file at path and environment
// overrides, then validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("config: parse file: %w", err)
	}
	setString(&cfg.HTTPAddr, f.HTTP.Addr)
	setString(&cfg.DatabaseURL, f.Database.URL)
	setString(&cfg.RedisURL, f.Redis.URL)
	setString(&cfg.JWTSecret, f.Auth.JWTSecret)
	setString(&cfg.LogLevel, f.Log.Level)
	if f.Database.MaxConns > 0 {
		cfg.MaxConns = f.Database.MaxConns
	}
	if f.SLA.DefaultResolutionHours != 0 {
		cfg.DefaultResolutionHours = f.SLA.DefaultResolutionHours
	}
	if f.Notify.RatePerSecond != 0 {
		cfg.NotifyRatePerSecond = f.Notify.RatePerSecond
	}
	if f.Notify.Burst != 0 {
		cfg.NotifyBurst = f.Notify.Burst
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.lock_timeout", f.Database.LockTimeout, &cfg.LockTimeout},
		{"sla.escalation_interval", f.SLA.EscalationInterval, &cfg.EscalationInterval},
		{"sla.breach_interval", f.SLA.BreachInterval, &cfg.BreachInterval},
		{"sla.resync_interval", f.SLA.ResyncInterval, &cfg.ResyncInterval},
		{"sla.item_timeout", f.SLA.ItemTimeout, &cfg.ItemTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = envOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = envOrDefault("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.LockTimeout, err = envDuration("LOCK_TIMEOUT", cfg.LockTimeout); err != nil {
		return err
	}
	if cfg.EscalationInterval, err = envDuration("SLA_ESCALATION_INTERVAL", cfg.EscalationInterval); err != nil {
		return err
	}
	if cfg.BreachInterval, err = envDuration("SLA_BREACH_INTERVAL", cfg.BreachInterval); err != nil {
		return err
	}
	if cfg.ItemTimeout, err = envDuration("SLA_ITEM_TIMEOUT", cfg.ItemTimeout); err != nil {
		return err
	}
	if cfg.DefaultResolutionHours, err = envInt("SLA_DEFAULT_RESOLUTION_HOURS", cfg.DefaultResolutionHours); err != nil {
		return err
	}
	if raw := os.Getenv("NOTIFY_RATE_PER_SECOND"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("config: NOTIFY_RATE_PER_SECOND: %w", err)
		}
		cfg.NotifyRatePerSecond = v
	}
	return nil
}

// Validate rejects configurations the process cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: database url is required"))
	}
	if c.EscalationInterval <= 0 {
		errs = append(errs, errors.New("config: escalation interval must be positive"))
	}
	if c.BreachInterval <= 0 {
		errs = append(errs, errors.New("config: breach interval must be positive"))
	}
	if c.ResyncInterval <= 0 {
		errs = append(errs, errors.New("config: resync interval must be positive"))
	}
	if c.ItemTimeout <= 0 {
		errs = append(errs, errors.New("config: item timeout must be positive"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("config: lock timeout must be positive"))
	}
	if c.DefaultResolutionHours <= 0 {
		errs = append(errs, errors.New("config: default resolution hours must be positive"))
	}
	if c.NotifyRatePerSecond < 0 {
		errs = append(errs, errors.New("config: notify rate must not be negative"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envOrDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}
