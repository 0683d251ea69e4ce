// =============================================================================
// Cueflow configuration loader
// =============================================================================
// Unified configuration loading: YAML file + environment overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("cueflow.yaml").
//	    WithEnvPrefix("CUEFLOW").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables.
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete cueflow configuration.
type Config struct {
	// Store selects and configures the rendezvous store backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Database configures the SQL backends.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis configures the Redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Files configures attachment storage.
	Files FilesConfig `yaml:"files" env:"FILES"`

	// Coordinator configures the agent-side wait loop.
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`

	// Console configures the operator-side loop.
	Console ConsoleConfig `yaml:"console" env:"CONSOLE"`

	// Server configures the serving process.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StoreConfig selects the store backend.
type StoreConfig struct {
	// Backend: sqlite, postgres, mysql, redis or memory.
	Backend string `yaml:"backend" env:"BACKEND"`
}

// DatabaseConfig configures the SQL store.
type DatabaseConfig struct {
	// Driver: sqlite, postgres or mysql.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host of the database server (postgres/mysql).
	Host string `yaml:"host" env:"HOST"`
	// Port of the database server.
	Port int `yaml:"port" env:"PORT"`
	// User name.
	User string `yaml:"user" env:"USER"`
	// Password.
	Password string `yaml:"password" env:"PASSWORD"`
	// Name: database name, or the file path for sqlite.
	Name string `yaml:"name" env:"NAME"`
	// SSLMode for postgres.
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// MaxOpenConns caps the pool.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// MaxIdleConns kept warm.
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// ConnMaxLifetime before recycling a connection.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Addr of the Redis server.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password.
	Password string `yaml:"password" env:"PASSWORD"`
	// DB number.
	DB int `yaml:"db" env:"DB"`
	// PoolSize of the client.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// KeyPrefix for all cueflow keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// FilesConfig configures attachment storage.
type FilesConfig struct {
	// Dir where content-addressed attachments live.
	Dir string `yaml:"dir" env:"DIR"`
}

// CoordinatorConfig configures the agent-side wait loop.
type CoordinatorConfig struct {
	// PollInterval between response lookups.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// DefaultTimeout for cue calls that do not pass one.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
}

// ConsoleConfig configures the operator-side loop.
type ConsoleConfig struct {
	// PollInterval between pending-request lookups while idle.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// Debug appends the raw payload document to renderings.
	Debug bool `yaml:"debug" env:"DEBUG"`
}

// ServerConfig configures the serving process.
type ServerConfig struct {
	// Name reported in the MCP handshake.
	Name string `yaml:"name" env:"NAME"`
	// MetricsPort for the Prometheus endpoint; 0 disables it.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// ShutdownTimeout for graceful stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths for log writes.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace on error entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Enabled turns OTLP export on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint of the collector.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName reported on spans.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate between 0 and 1.
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader builds a Config (builder pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CUEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the configuration.
// Precedence: defaults -> YAML file -> environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file falls back to defaults.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct recursively, mapping nested fields to
// PREFIX_SECTION_FIELD environment keys.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

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
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads the configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads the configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Backend {
	case "sqlite", "postgres", "mysql", "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	if c.Coordinator.PollInterval <= 0 {
		errs = append(errs, "coordinator poll_interval must be positive")
	}
	if c.Coordinator.DefaultTimeout < 0 {
		errs = append(errs, "coordinator default_timeout must not be negative")
	}
	if c.Console.PollInterval <= 0 {
		errs = append(errs, "console poll_interval must be positive")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
