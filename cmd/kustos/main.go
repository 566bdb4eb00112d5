package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kustosproject/kustos/internal/app"
	"github.com/kustosproject/kustos/internal/config"
)

func main() {
	code, err := run()
	if err != nil {
		log.Fatalf("Error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	schedule := flag.String("schedule", "", "cron spec; when set, run as a daemon instead of once")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return 1, fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *schedule != "" {
		if err := application.RunScheduled(ctx, *schedule); err != nil {
			return 1, err
		}
		return 0, nil
	}

	report := application.RunOnce(ctx)
	if !report.Success() {
		return 1, nil
	}
	return 0, nil
}
