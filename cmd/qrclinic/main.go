// Command qrclinic serves the channel attribution stats API and runs the
// demo cleanup and GeoLite background jobs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrclinic/internal"
	"qrclinic/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("qrclinic stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.GetConfig()

	app, err := internal.NewAppWithConfig(cfg)
	if err != nil {
		return err
	}

	// event tables must exist before the first report or cleanup run
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return err
	}

	if err := app.StartAsync(); err != nil {
		return err
	}
	slog.Info("qrclinic listening",
		slog.String("port", cfg.GetPort()),
		slog.String("environment", cfg.Environment),
		slog.String("clinic_timezone", cfg.Location().String()),
		slog.Bool("report_cache", cfg.RedisURL != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("Shutting down stats server and background jobs")
	return app.Shutdown(shutdownCtx)
}
