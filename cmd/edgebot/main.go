// Command edgebot runs one scan-and-settle cycle and prints the cycle
// report as JSON on stdout. Scheduling is left to cron or a systemd timer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atmx/weather-edge/internal/app"
	"github.com/atmx/weather-edge/internal/config"
	"github.com/atmx/weather-edge/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (defaults plus WEATHER_EDGE_* env when empty)")
	timeout := flag.Duration("timeout", 5*time.Minute, "upper bound for the whole cycle")
	flag.Parse()

	os.Exit(run(*configPath, *timeout))
}

func run(configPath string, timeout time.Duration) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edgebot: %v\n", err)
		return 2
	}

	// stdout carries the report; logs go to stderr.
	log := logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		return 1
	}
	defer a.Close()

	report, err := a.Engine.RunCycle(ctx)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(report); encErr != nil {
		log.Error("write report", "err", encErr)
	}

	if err != nil {
		log.Error("cycle failed", "cycle_id", report.ID, "err", err)
		return 1
	}
	return 0
}
