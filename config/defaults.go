// =============================================================================
// Cueflow default configuration
// =============================================================================
// Sensible defaults for every configuration section.
// =============================================================================
package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store:       DefaultStoreConfig(),
		Database:    DefaultDatabaseConfig(),
		Redis:       DefaultRedisConfig(),
		Files:       DefaultFilesConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Console:     DefaultConsoleConfig(),
		Server:      DefaultServerConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultStoreConfig returns the default store selection.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: "sqlite",
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "cueflow",
		Password:        "",
		Name:            "cueflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "cueflow:",
	}
}

// DefaultFilesConfig returns the default attachment storage configuration.
func DefaultFilesConfig() FilesConfig {
	return FilesConfig{
		Dir: "files",
	}
}

// DefaultCoordinatorConfig returns the default wait-loop configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		PollInterval:   500 * time.Millisecond,
		DefaultTimeout: time.Hour,
	}
}

// DefaultConsoleConfig returns the default console configuration.
func DefaultConsoleConfig() ConsoleConfig {
	return ConsoleConfig{
		PollInterval: time.Second,
		Debug:        false,
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:            "cueflow",
		MetricsPort:     9091,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "cueflow",
		SampleRate:   0.1,
	}
}
