package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/cueflow/consumer"
	"github.com/BaSui01/cueflow/files"
	"github.com/BaSui01/cueflow/internal/metrics"
)

func runConsole(args []string) {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	debug := fs.Bool("debug", false, "Show raw payload documents alongside renderings")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *debug {
		cfg.Console.Debug = true
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	collector := metrics.NewCollector("cueflow_console", nil, logger)

	handle, err := openStore(cfg, collector, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer handle.Close()

	dir, err := files.NewDir(cfg.Files.Dir, logger)
	if err != nil {
		logger.Fatal("failed to open files directory", zap.Error(err))
	}
	dir.SetMetrics(collector)

	prompter := consumer.NewTerminalPrompter(os.Stdin, os.Stdout)
	cons := consumer.New(handle.Store, dir, prompter, consumer.Config{
		PollInterval: cfg.Console.PollInterval,
		Debug:        cfg.Console.Debug,
		Metrics:      collector,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("cueflow console: waiting for requests (Ctrl-C to exit)")

	if err := cons.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("console exited with error", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println("\nconsole stopped")
}
