// Package config loads the service configuration.
//
// Values are layered: defaults, then a YAML file, then environment variables.
// Every field with an env tag can be overridden by PREFIX_SECTION_FIELD, for
// example AGENTS_REDIS_ADDR or AGENTS_RUNTIME_MODEL_RETRIES. Durations use
// time.ParseDuration syntax and string lists are comma separated.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("agents.yaml").
//	    Load()
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "AGENTS"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" env:"SERVER"`
	Log      LogConfig      `yaml:"log" env:"LOG"`
	Store    StoreConfig    `yaml:"store" env:"STORE"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Runtime  RuntimeConfig  `yaml:"runtime" env:"RUNTIME"`
	// Graphs lists graph definition files.
	Graphs []string     `yaml:"graphs" env:"GRAPHS"`
	Models ModelsConfig `yaml:"models" env:"MODELS"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// MetricsNamespace prefixes the Prometheus metrics served on /metrics.
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is memory, redis, postgres or sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig is used by the postgres and sqlite drivers.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// RuntimeConfig tunes turn execution.
type RuntimeConfig struct {
	ModelRetries             int                 `yaml:"model_retries" env:"MODEL_RETRIES"`
	ModelBackoff             time.Duration       `yaml:"model_backoff" env:"MODEL_BACKOFF"`
	DelegationTimeout        time.Duration       `yaml:"delegation_timeout" env:"DELEGATION_TIMEOUT"`
	MaxConcurrentDelegations int                 `yaml:"max_concurrent_delegations" env:"MAX_CONCURRENT_DELEGATIONS"`
	MaxDelegationDepth       int                 `yaml:"max_delegation_depth" env:"MAX_DELEGATION_DEPTH"`
	MaxParallelTools         int                 `yaml:"max_parallel_tools" env:"MAX_PARALLEL_TOOLS"`
	StatusUpdates            StatusUpdatesConfig `yaml:"status_updates" env:"STATUS_UPDATES"`
}

// StatusUpdatesConfig is the default for graphs without their own status
// update declaration. Zero disables a trigger.
type StatusUpdatesConfig struct {
	NumEvents     int `yaml:"num_events" env:"NUM_EVENTS"`
	TimeInSeconds int `yaml:"time_in_seconds" env:"TIME_IN_SECONDS"`
}

// ModelsConfig names the models agents refer to.
type ModelsConfig struct {
	// Default serves agents that name no model.
	Default   string        `yaml:"default" env:"DEFAULT"`
	Providers []ModelConfig `yaml:"providers"`
}

// ModelConfig declares one named model.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the credential.
	// Empty uses the provider's standard variable.
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// APIKey reads the credential named by APIKeyEnv.
func (m ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MetricsNamespace:  "agents",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{Driver: DriverMemory},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "agents:",
		},
		Runtime: RuntimeConfig{
			ModelRetries:             3,
			ModelBackoff:             500 * time.Millisecond,
			DelegationTimeout:        5 * time.Minute,
			MaxConcurrentDelegations: 8,
			MaxDelegationDepth:       3,
			MaxParallelTools:         8,
		},
	}
}

// Loader loads a Config.
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader creates a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the YAML file. A missing file is not an error.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix replaces DefaultEnvPrefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLookupEnv replaces os.LookupEnv.
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator adds a check run after Validate.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration: defaults, file, environment, validation.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.setFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}
	return nil
}

func (l *Loader) setFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}

		key := prefix + "_" + tag
		if field.Kind() == reflect.Struct {
			if err := l.setFromEnv(field, key); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setField(field, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var parts []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}

	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis store"))
		}
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for the %s store", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	if c.Runtime.ModelRetries < 0 {
		errs = append(errs, errors.New("runtime.model_retries must not be negative"))
	}
	if c.Runtime.DelegationTimeout <= 0 {
		errs = append(errs, errors.New("runtime.delegation_timeout must be positive"))
	}
	if c.Runtime.MaxConcurrentDelegations < 0 || c.Runtime.MaxParallelTools < 0 || c.Runtime.MaxDelegationDepth < 0 {
		errs = append(errs, errors.New("runtime limits must not be negative"))
	}
	if c.Runtime.StatusUpdates.NumEvents < 0 || c.Runtime.StatusUpdates.TimeInSeconds < 0 {
		errs = append(errs, errors.New("runtime.status_updates triggers must not be negative"))
	}

	names := make(map[string]bool, len(c.Models.Providers))
	for _, m := range c.Models.Providers {
		switch {
		case m.Name == "":
			errs = append(errs, errors.New("models.providers: name is required"))
		case names[m.Name]:
			errs = append(errs, fmt.Errorf("models.providers: duplicate name %q", m.Name))
		}
		names[m.Name] = true
		if m.Provider != ProviderOpenAI && m.Provider != ProviderAnthropic {
			errs = append(errs, fmt.Errorf("models.providers %q: unknown provider %q", m.Name, m.Provider))
		}
	}
	if c.Models.Default != "" && !names[c.Models.Default] {
		errs = append(errs, fmt.Errorf("models.default %q is not declared", c.Models.Default))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
