// Command worker consumes analyze requests from Kafka.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/LexNER/internal/app"
	"github.com/turtacn/LexNER/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: LEXNER_* environment only)")
	concurrency := flag.Int("workers", 0, "concurrent handlers (overrides worker.concurrency)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Kafka.Enabled = true
	if *concurrency > 0 {
		cfg.Worker.Concurrency = *concurrency
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunService(ctx, cfg, "worker", (*app.App).RunWorker); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
