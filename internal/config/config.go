package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"

	DefaultWeatherAPIURL = "https://api.open-meteo.com/v1/forecast"
	DefaultTimezone      = "Europe/Athens"
)

// ErrMissingRequired is returned when a required environment value is absent.
var ErrMissingRequired = errors.New("missing required configuration")

// Config holds service configuration loaded from env, an optional .env file and an optional YAML file.
type Config struct {
	DBDriver   string `validate:"oneof=pgx sqlite3"`
	DBUser     string `validate:"required_if=DBDriver pgx"`
	DBPass     string `validate:"required_if=DBDriver pgx"`
	DBHost     string `validate:"required_if=DBDriver pgx"`
	DBName     string `validate:"required_if=DBDriver pgx"`
	DBPort     string
	DBSSLMode  string
	SQLitePath string `validate:"required_if=DBDriver sqlite3"`

	ConnectBackoff     time.Duration `validate:"gt=0"`
	ConnectTimeout     time.Duration `validate:"gt=0"`
	ConnectMaxAttempts int           `validate:"gte=0"`

	// Latitude and Longitude are forwarded to upstream verbatim; empty means the parameter is omitted.
	Latitude  string
	Longitude string

	WeatherAPIURL     string        `validate:"required,url"`
	WeatherTimezone   string        `validate:"required"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`

	CycleInterval time.Duration `validate:"gt=0"`
	ScheduleCron  string

	// MetricsAddr enables the ops HTTP listener (/health, /metrics) when set.
	MetricsAddr      string
	MetricsRateLimit int `validate:"gte=0"`
	MetricsRateBurst int `validate:"gte=0"`
}

type fileConfig struct {
	Database struct {
		Driver             string `yaml:"driver"`
		Host               string `yaml:"host"`
		Port               string `yaml:"port"`
		Name               string `yaml:"name"`
		SSLMode            string `yaml:"sslmode"`
		SQLitePath         string `yaml:"sqlite_path"`
		ConnectBackoff     string `yaml:"connect_backoff"`
		ConnectTimeout     string `yaml:"connect_timeout"`
		ConnectMaxAttempts int    `yaml:"connect_max_attempts"`
	} `yaml:"database"`

	WeatherAPI struct {
		URL       string `yaml:"url"`
		Timezone  string `yaml:"timezone"`
		Timeout   string `yaml:"timeout"`
		Latitude  string `yaml:"latitude"`
		Longitude string `yaml:"longitude"`
	} `yaml:"weather_api"`

	Schedule struct {
		Interval string `yaml:"interval"`
		Cron     string `yaml:"cron"`
	} `yaml:"schedule"`

	Metrics struct {
		Addr           string `yaml:"addr"`
		RateLimitRPS   int    `yaml:"rate_limit_rps"`
		RateLimitBurst int    `yaml:"rate_limit_burst"`
	} `yaml:"metrics"`
}

// envNames maps Config fields to the variables that set them, for error messages.
var envNames = map[string]string{
	"DBDriver":           "DB_DRIVER",
	"DBUser":             "DB_USER",
	"DBPass":             "DB_PASS",
	"DBHost":             "DB_HOST",
	"DBName":             "DB_NAME",
	"SQLitePath":         "SQLITE_PATH",
	"ConnectBackoff":     "DB_CONNECT_BACKOFF",
	"ConnectTimeout":     "DB_CONNECT_TIMEOUT",
	"ConnectMaxAttempts": "DB_CONNECT_MAX_ATTEMPTS",
	"WeatherAPIURL":      "WEATHER_API_URL",
	"WeatherTimezone":    "WEATHER_TIMEZONE",
	"WeatherAPITimeout":  "WEATHER_API_TIMEOUT",
	"CycleInterval":      "CYCLE_INTERVAL",
	"MetricsRateLimit":   "METRICS_RATE_LIMIT_RPS",
	"MetricsRateBurst":   "METRICS_RATE_LIMIT_BURST",
}

var validate = validator.New()

// Load builds the Config. Precedence: process env, then .env in the working
// directory, then the YAML file named by CONFIG_FILE, then defaults.
func Load() (*Config, error) {
	// godotenv never overrides variables already set in the process.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var fc fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := &Config{}

	cfg.DBDriver = strings.ToLower(envOr("DB_DRIVER", fc.Database.Driver, DriverPostgres))
	cfg.DBUser = os.Getenv("DB_USER")
	cfg.DBPass = os.Getenv("DB_PASS")
	cfg.DBHost = envOr("DB_HOST", fc.Database.Host, "")
	cfg.DBName = envOr("DB_NAME", fc.Database.Name, "")
	cfg.DBPort = envOr("DB_PORT", fc.Database.Port, "5432")
	cfg.DBSSLMode = envOr("DB_SSLMODE", fc.Database.SSLMode, "")
	cfg.SQLitePath = envOr("SQLITE_PATH", fc.Database.SQLitePath, "")

	cfg.ConnectBackoff = parseDuration(envOr("DB_CONNECT_BACKOFF", fc.Database.ConnectBackoff, ""), 5*time.Second)
	cfg.ConnectTimeout = parseDuration(envOr("DB_CONNECT_TIMEOUT", fc.Database.ConnectTimeout, ""), 10*time.Second)
	var err error
	if cfg.ConnectMaxAttempts, err = envInt("DB_CONNECT_MAX_ATTEMPTS", fc.Database.ConnectMaxAttempts); err != nil {
		return nil, err
	}

	cfg.Latitude = envOr("LATITUDE", fc.WeatherAPI.Latitude, "")
	cfg.Longitude = envOr("LONGITUDE", fc.WeatherAPI.Longitude, "")
	cfg.WeatherAPIURL = envOr("WEATHER_API_URL", fc.WeatherAPI.URL, DefaultWeatherAPIURL)
	cfg.WeatherTimezone = envOr("WEATHER_TIMEZONE", fc.WeatherAPI.Timezone, DefaultTimezone)
	cfg.WeatherAPITimeout = parseDuration(envOr("WEATHER_API_TIMEOUT", fc.WeatherAPI.Timeout, ""), 10*time.Second)

	cfg.CycleInterval = parseDuration(envOr("CYCLE_INTERVAL", fc.Schedule.Interval, ""), 15*time.Minute)
	cfg.ScheduleCron = envOr("SCHEDULE_CRON", fc.Schedule.Cron, "")

	cfg.MetricsAddr = envOr("METRICS_ADDR", fc.Metrics.Addr, "")
	if cfg.MetricsRateLimit, err = envInt("METRICS_RATE_LIMIT_RPS", fc.Metrics.RateLimitRPS); err != nil {
		return nil, err
	}
	if cfg.MetricsRateBurst, err = envInt("METRICS_RATE_LIMIT_BURST", fc.Metrics.RateLimitBurst); err != nil {
		return nil, err
	}
	if cfg.MetricsRateLimit > 0 && cfg.MetricsRateBurst == 0 {
		cfg.MetricsRateBurst = cfg.MetricsRateLimit
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DatabaseURL returns the driver-specific data source name.
func (c *Config) DatabaseURL() string {
	if c.DBDriver == DriverSQLite {
		return c.SQLitePath
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPass),
		Host:   net.JoinHostPort(c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBSSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.DBSSLMode}}.Encode()
	}
	return u.String()
}

// validate reports missing required values by their environment names so the
// operator sees DB_USER rather than a struct field.
func (c *Config) validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		name := envNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		switch fe.Tag() {
		case "required", "required_if":
			missing = append(missing, name)
		default:
			invalid = append(invalid, fmt.Sprintf("%s (%s)", name, fe.Tag()))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
}

// envOr returns the trimmed env value, else the file value, else def.
func envOr(key, fileVal, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if v := strings.TrimSpace(fileVal); v != "" {
		return v
	}
	return def
}

// envInt returns the integer env value if set, else fileVal.
func envInt(key string, fileVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fileVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
