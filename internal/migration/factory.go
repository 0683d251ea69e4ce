package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/cueflow/config"
)

// NewMigratorFromConfig builds a migrator for the database the
// application configuration points at.
func NewMigratorFromConfig(cfg *appconfig.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig builds a migrator from the database
// section alone.
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	driver, err := ParseDriver(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database driver: %w", err)
	}

	var url string
	switch driver {
	case DriverPostgres:
		sslMode := dbCfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		url = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.Name, sslMode)
	case DriverMySQL:
		// multiStatements is required: each migration file holds several
		// statements.
		url = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.Name)
	case DriverSQLite:
		// Name holds the database file path for SQLite.
		url = fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", dbCfg.Name)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	return NewMigrator(&Config{Driver: driver, URL: url})
}

// NewMigratorFromURL builds a migrator from an explicit connection URL.
func NewMigratorFromURL(driver, url string) (*DefaultMigrator, error) {
	d, err := ParseDriver(driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{Driver: d, URL: url})
}
