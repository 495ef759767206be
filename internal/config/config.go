package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"API_PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSOriginsRaw string        `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`

	GridCellDeg      float64       `mapstructure:"GRID_CELL_DEG"`
	DispatchRadiusKm float64       `mapstructure:"DISPATCH_RADIUS_KM"`
	LocationMaxAge   time.Duration `mapstructure:"LOCATION_MAX_AGE"`
	RetryInterval    time.Duration `mapstructure:"DISPATCH_RETRY_INTERVAL"`
	RetryBase        time.Duration `mapstructure:"DISPATCH_RETRY_BASE"`
	RetryMax         time.Duration `mapstructure:"DISPATCH_RETRY_MAX"`

	SLACheckInterval time.Duration `mapstructure:"SLA_CHECK_INTERVAL"`
	SLAOverrides     string        `mapstructure:"SLA_OVERRIDES"`

	PriorityURL    string `mapstructure:"PRIORITY_URL"`
	GeocoderURL    string `mapstructure:"GEOCODER_URL"`
	GeocodeEnabled bool   `mapstructure:"GEOCODE_ENABLED"`
	GeocodeCountry string `mapstructure:"GEOCODE_COUNTRY"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisChannel  string `mapstructure:"REDIS_CHANNEL"`
	NATSURL       string `mapstructure:"NATS_URL"`
	NATSSubject   string `mapstructure:"NATS_SUBJECT"`
}

var defaults = map[string]any{
	"ENV":                     "dev",
	"API_PORT":                "8080",
	"CORS_ORIGINS":            "*",
	"REQUEST_TIMEOUT":         "30s",
	"LOG_LEVEL":               "info",
	"GRID_CELL_DEG":           0.05,
	"DISPATCH_RADIUS_KM":      10.0,
	"LOCATION_MAX_AGE":        "10m",
	"DISPATCH_RETRY_INTERVAL": "15s",
	"DISPATCH_RETRY_BASE":     "30s",
	"DISPATCH_RETRY_MAX":      "10m",
	"SLA_CHECK_INTERVAL":      "1m",
	"GEOCODE_ENABLED":         false,
	"GEOCODE_COUNTRY":         "",
	"REDIS_CHANNEL":           "dispatch.events",
	"NATS_SUBJECT":            "dispatch",
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	return load(".env")
}

func load(envFile string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{"DATABASE_URL", "ADMIN_KEY", "SLA_OVERRIDES", "PRIORITY_URL", "GEOCODER_URL",
		"REDIS_ADDR", "REDIS_PASSWORD", "NATS_URL"} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GridCellDeg <= 0 || c.GridCellDeg > 10 {
		return fmt.Errorf("GRID_CELL_DEG must be in (0, 10], got %v", c.GridCellDeg)
	}
	if c.DispatchRadiusKm <= 0 {
		return fmt.Errorf("DISPATCH_RADIUS_KM must be positive, got %v", c.DispatchRadiusKm)
	}
	if c.RetryInterval <= 0 || c.SLACheckInterval <= 0 {
		return fmt.Errorf("DISPATCH_RETRY_INTERVAL and SLA_CHECK_INTERVAL must be positive")
	}
	for _, o := range c.CORSOrigins() {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("CORS_ORIGINS entry %q must be * or start with http:// or https://", o)
		}
	}
	return nil
}

// CORSOrigins splits CORS_ORIGINS on commas. An empty value means "*".
func (c Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOriginsRaw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// AllowAllOrigins reports whether "*" is in the allow-list.
func (c Config) AllowAllOrigins() bool {
	for _, o := range c.CORSOrigins() {
		if o == "*" {
			return true
		}
	}
	return false
}
