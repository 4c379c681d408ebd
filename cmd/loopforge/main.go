package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/loopforge/internal/config"
	"github.com/mantonx/loopforge/internal/database"
	"github.com/mantonx/loopforge/internal/events"
	"github.com/mantonx/loopforge/internal/logger"
	"github.com/mantonx/loopforge/internal/modules/rendermodule"
	"github.com/mantonx/loopforge/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("LOOPFORGE_CONFIG_PATH"), "path to loopforge.yaml")
	noHistory := flag.Bool("no-history", false, "run without the job history database")
	flag.Parse()

	if *configPath == "" {
		if _, err := os.Stat("./loopforge.yaml"); err == nil {
			*configPath = "./loopforge.yaml"
		}
	}

	if err := run(*configPath, !*noHistory); err != nil {
		fmt.Fprintf(os.Stderr, "loopforge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, withHistory bool) error {
	cm := config.GetConfigManager()
	if err := cm.LoadConfig(configPath); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := cm.GetConfig()

	log, err := logger.Init(cfg.Logging)
	if err != nil {
		return err
	}
	cm.SetLogger(log.Named("config"))
	if configPath != "" {
		log.Info("configuration loaded", "path", configPath)
	} else {
		log.Info("using default configuration")
	}

	var db *gorm.DB
	if withHistory {
		db, err = database.Open(cfg.Database, log.Named("database"))
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(db); err != nil {
				log.Warn("failed to close database", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus(events.DefaultEventBusConfig(), log.Named("events"))
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}

	module, err := rendermodule.NewModule(cfg, db, bus, log)
	if err != nil {
		return err
	}
	if err := module.Migrate(); err != nil {
		return err
	}
	if err := module.Start(ctx); err != nil {
		return err
	}

	cm.AddWatcher(module.Manager().ApplyConfig)
	cm.AddWatcher(func(_, updated *config.Config) {
		logger.SetLevel(updated.Logging.Level)
	})
	if configPath != "" {
		if err := cm.Watch(ctx, config.DefaultReloadDebounce); err != nil {
			log.Warn("configuration hot reload disabled", "error", err)
		}
	}

	router, err := server.SetupRouter(cfg.Server, log.Named("http"), module)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server, router)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting loopforge server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	return shutdown(log, cfg.Server.ShutdownTimeout, srv, module, bus)
}

// shutdown stops intake first, then the jobs, then the bus so the history
// receives every terminal event.
func shutdown(log hclog.Logger, timeout time.Duration, srv *http.Server, module *rendermodule.Module, bus events.EventBus) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
		firstErr = err
	}
	if err := module.Shutdown(ctx); err != nil {
		log.Error("render module shutdown error", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := bus.Stop(ctx); err != nil {
		log.Error("event bus shutdown error", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	log.Info("server shutdown complete")
	return firstErr
}
