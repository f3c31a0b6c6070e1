package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fms-api/config"
	"fms-api/handlers"
	"fms-api/livefeed"
	"fms-api/middleware"
	"fms-api/services"
	"fms-api/stores"
	"fms-api/workers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation API and live-update listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
		}
		logrus.SetLevel(level)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg config.Config) (services.SimulationStore, func(), error) {
	switch cfg.StoreDriver {
	case stores.DriverPostgres:
		store, err := stores.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if sqlDB, err := store.DB.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil
	case stores.DriverBadger:
		store, err := stores.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logrus.Errorf("failed to close badger db: %v", err)
			}
		}, nil
	case stores.DriverR2:
		store, err := stores.OpenR2(ctx, cfg.R2)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return stores.NewMemoryStore(), func() {}, nil
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	timers, err := services.NewTimerRegistry(nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := timers.Shutdown(); err != nil {
			logrus.Errorf("failed to stop scheduler: %v", err)
		}
	}()

	hub := livefeed.NewHub(livefeed.DefaultBuffer)
	defer hub.Close()

	simulationService := services.NewSimulationService(store, hub, timers, cfg.Scheduler)

	app := fiber.New(fiber.Config{
		AppName:               "fms-api",
		DisableStartupMessage: true,
	})
	app.Use(middleware.RequestLogMiddleware())
	app.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	handlers.SetupSimulationRoutes(app, simulationService, hub)

	errCh := make(chan error, 2)
	go func() {
		if err := workers.ServeLiveUpdates(ctx, cfg.LiveUpdateAddr, livefeed.NewWebSocketHandler(hub, cfg.AllowedOrigins)); err != nil {
			errCh <- fmt.Errorf("live update listener: %w", err)
		}
	}()
	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	logrus.Infof("✅ Server running on http://localhost%s", cfg.ListenAddr())
	logrus.Infof("✅ Live updates on ws://localhost%s and /api/simulations/stream", cfg.LiveUpdateAddr)
	logrus.Infof("✅ Store driver: %s", cfg.StoreDriver)
	logrus.Infof("✅ Simulation: %d ticks every %s, restart cooldown %s",
		cfg.Scheduler.TickBudget, cfg.Scheduler.TickInterval, cfg.Scheduler.RestartCooldown)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logrus.Errorf("❌ %v", err)
		return err
	}

	logrus.Info("Shutting down server...")
	return app.Shutdown()
}
