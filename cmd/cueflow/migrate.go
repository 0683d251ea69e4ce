package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/cueflow/config"
	"github.com/BaSui01/cueflow/internal/migration"
)

func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateUp(subargs)
	case "down":
		runMigrateDown(subargs)
	case "status":
		runMigrateStatus(subargs)
	case "version":
		runMigrateVersion(subargs)
	case "force":
		runMigrateForce(subargs)
	case "reset":
		runMigrateReset(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  cueflow migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all for everything)
  status    Show migration status
  version   Show current migration version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  cueflow migrate up
  cueflow migrate up --config /etc/cueflow/config.yaml
  cueflow migrate down
  cueflow migrate status
  cueflow migrate force 3
  cueflow migrate reset`)
}

// migrateFlags are shared by every migrate subcommand.
type migrateFlags struct {
	configPath *string
	dbType     *string
	dbURL      *string
	all        *bool
}

func registerMigrateFlags(fs *flag.FlagSet) *migrateFlags {
	return &migrateFlags{
		configPath: fs.String("config", "", "Path to config file"),
		dbType:     fs.String("db-type", "", "Database type (postgres, mysql, sqlite)"),
		dbURL:      fs.String("db-url", "", "Database connection URL"),
		all:        fs.Bool("all", false, "Apply to all migrations where supported"),
	}
}

func (f *migrateFlags) newMigrator() (*migration.DefaultMigrator, error) {
	if *f.dbType != "" && *f.dbURL != "" {
		return migration.NewMigratorFromURL(*f.dbType, *f.dbURL)
	}

	loader := config.NewLoader()
	if *f.configPath != "" {
		loader = loader.WithConfigPath(*f.configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if *f.dbType != "" {
		cfg.Database.Driver = *f.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database)
}

// withCLI parses the flags, builds the migrator, and hands a CLI to fn.
func withCLI(name string, args []string, fn func(ctx context.Context, cli *migration.CLI, flags *migrateFlags) error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags := registerMigrateFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	migrator, err := flags.newMigrator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := fn(context.Background(), migration.NewCLI(migrator), flags); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runMigrateUp(args []string) {
	withCLI("migrate up", args, func(ctx context.Context, cli *migration.CLI, _ *migrateFlags) error {
		return cli.RunUp(ctx)
	})
}

func runMigrateDown(args []string) {
	withCLI("migrate down", args, func(ctx context.Context, cli *migration.CLI, flags *migrateFlags) error {
		if *flags.all {
			return cli.RunDownAll(ctx)
		}
		return cli.RunDown(ctx)
	})
}

func runMigrateStatus(args []string) {
	withCLI("migrate status", args, func(ctx context.Context, cli *migration.CLI, _ *migrateFlags) error {
		return cli.RunStatus(ctx)
	})
}

func runMigrateVersion(args []string) {
	withCLI("migrate version", args, func(ctx context.Context, cli *migration.CLI, _ *migrateFlags) error {
		return cli.RunVersion(ctx)
	})
}

func runMigrateForce(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: cueflow migrate force <version>")
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}

	withCLI("migrate force", args[1:], func(ctx context.Context, cli *migration.CLI, _ *migrateFlags) error {
		return cli.RunForce(ctx, int(version))
	})
}

func runMigrateReset(args []string) {
	withCLI("migrate reset", args, func(ctx context.Context, cli *migration.CLI, _ *migrateFlags) error {
		return cli.RunDownAll(ctx)
	})
}
