// Package config loads process configuration from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string         `yaml:"port"`
	DatabaseURL string         `yaml:"databaseUrl"`
	DBMigrate   bool           `yaml:"dbMigrate"`
	RedisURL    string         `yaml:"redisUrl"`
	Oracle      OracleConfig   `yaml:"oracle"`
	Routing     RoutingConfig  `yaml:"routing"`
	Schedule    ScheduleConfig `yaml:"schedule"`
}

type OracleConfig struct {
	APIKey       string        `yaml:"apiKey"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	RateRPS      float64       `yaml:"rateRps"`
	TrafficAware bool          `yaml:"trafficAware"`
	CacheTTL     time.Duration `yaml:"cacheTtl"`
}

type RoutingConfig struct {
	AverageSpeedMps        float64       `yaml:"averageSpeedMps"`
	MaxRouteDistanceMeters float64       `yaml:"maxRouteDistanceMeters"`
	SolverStrategy         string        `yaml:"solverStrategy"`
	SolverTimeBudget       time.Duration `yaml:"solverTimeBudget"`
	SolverLocalSearch      bool          `yaml:"solverLocalSearch"`
	CostMetric             string        `yaml:"costMetric"`
	AwaitingStatuses       []string      `yaml:"awaitingStatuses"`
	MaxUnreachableFraction float64       `yaml:"maxUnreachableFraction"`
}

type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hour     int    `yaml:"hour"`
	Minute   int    `yaml:"minute"`
	Timezone string `yaml:"timezone"`

	loc *time.Location
}

// Location is the configured timezone. It is valid after Validate.
func (s ScheduleConfig) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		Oracle: OracleConfig{
			Timeout:      5 * time.Second,
			MaxRetries:   2,
			TrafficAware: true,
			CacheTTL:     10 * time.Minute,
		},
		Routing: RoutingConfig{
			AverageSpeedMps:        8.33,
			MaxRouteDistanceMeters: 100000,
			SolverStrategy:         "constrained",
			SolverTimeBudget:       2 * time.Second,
			CostMetric:             "distance",
			AwaitingStatuses:       []string{"pending", "confirmed", "preparing"},
			MaxUnreachableFraction: 0.5,
		},
		Schedule: ScheduleConfig{
			Enabled:  true,
			Hour:     14,
			Timezone: "UTC",
		},
	}
}

// Load reads .env (if present), CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env ignored err=%v", err)
	}
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.str("PORT", &c.Port)
	e.str("DATABASE_URL", &c.DatabaseURL)
	e.boolean("DB_MIGRATE", &c.DBMigrate)
	e.str("REDIS_URL", &c.RedisURL)

	e.str("GOOGLE_MAPS_API_KEY", &c.Oracle.APIKey)
	e.duration("ORACLE_TIMEOUT", &c.Oracle.Timeout)
	e.integer("ORACLE_MAX_RETRIES", &c.Oracle.MaxRetries)
	e.float("ORACLE_RATE_RPS", &c.Oracle.RateRPS)
	e.boolean("ORACLE_TRAFFIC_AWARE", &c.Oracle.TrafficAware)
	e.duration("DISTANCE_CACHE_TTL", &c.Oracle.CacheTTL)

	e.float("AVERAGE_SPEED_MPS", &c.Routing.AverageSpeedMps)
	e.float("MAX_ROUTE_DISTANCE_METERS", &c.Routing.MaxRouteDistanceMeters)
	e.str("SOLVER_STRATEGY", &c.Routing.SolverStrategy)
	e.duration("SOLVER_TIME_BUDGET", &c.Routing.SolverTimeBudget)
	e.boolean("SOLVER_LOCAL_SEARCH", &c.Routing.SolverLocalSearch)
	e.str("COST_METRIC", &c.Routing.CostMetric)
	e.list("AWAITING_STATUSES", &c.Routing.AwaitingStatuses)
	e.float("MAX_UNREACHABLE_FRACTION", &c.Routing.MaxUnreachableFraction)

	e.boolean("SCHEDULE_ENABLED", &c.Schedule.Enabled)
	e.integer("SCHEDULE_HOUR", &c.Schedule.Hour)
	e.integer("SCHEDULE_MINUTE", &c.Schedule.Minute)
	e.str("TIMEZONE", &c.Schedule.Timezone)
	return errors.Join(e.errs...)
}

// Validate checks ranges and resolves the timezone.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.Oracle.Timeout <= 0 {
		errs = append(errs, errors.New("ORACLE_TIMEOUT must be positive"))
	}
	if c.Oracle.MaxRetries < 0 {
		errs = append(errs, errors.New("ORACLE_MAX_RETRIES must not be negative"))
	}
	if c.Routing.AverageSpeedMps <= 0 {
		errs = append(errs, errors.New("AVERAGE_SPEED_MPS must be positive"))
	}
	if c.Routing.MaxRouteDistanceMeters <= 0 {
		errs = append(errs, errors.New("MAX_ROUTE_DISTANCE_METERS must be positive"))
	}
	switch c.Routing.SolverStrategy {
	case "constrained", "greedy":
	default:
		errs = append(errs, fmt.Errorf("SOLVER_STRATEGY %q: want constrained or greedy", c.Routing.SolverStrategy))
	}
	if c.Routing.SolverTimeBudget <= 0 {
		errs = append(errs, errors.New("SOLVER_TIME_BUDGET must be positive"))
	}
	switch c.Routing.CostMetric {
	case "distance", "duration":
	default:
		errs = append(errs, fmt.Errorf("COST_METRIC %q: want distance or duration", c.Routing.CostMetric))
	}
	if len(c.Routing.AwaitingStatuses) == 0 {
		errs = append(errs, errors.New("AWAITING_STATUSES must not be empty"))
	}
	if f := c.Routing.MaxUnreachableFraction; f <= 0 || f > 1 {
		errs = append(errs, errors.New("MAX_UNREACHABLE_FRACTION must be in (0,1]"))
	}
	if c.Schedule.Hour < 0 || c.Schedule.Hour > 23 {
		errs = append(errs, errors.New("SCHEDULE_HOUR must be 0-23"))
	}
	if c.Schedule.Minute < 0 || c.Schedule.Minute > 59 {
		errs = append(errs, errors.New("SCHEDULE_MINUTE must be 0-59"))
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE %q: %w", c.Schedule.Timezone, err))
	} else {
		c.Schedule.loc = loc
	}
	return errors.Join(errs...)
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (e *envReader) list(key string, dst *[]string) {
	if v, ok := e.get(key); ok {
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}
