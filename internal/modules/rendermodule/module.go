// Package rendermodule manages looping GIF renders for LoopForge.
//
// The module wires the render core together:
//
//	API → Manager → Scheduler → FFmpegRunner → ffmpeg
//	                    ↓
//	               AssetStore (persist + poster)
//
// Lifecycle events flow from the scheduler onto the event bus, where the
// run recorder stores them in the job history and the websocket stream
// forwards them to clients.
package rendermodule

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/loopforge/internal/config"
	"github.com/mantonx/loopforge/internal/database"
	"github.com/mantonx/loopforge/internal/events"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/api"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/ffmpeg"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/filtergraph"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/process"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/repository"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/storage"
)

const (
	// ModuleID is the unique identifier for the render module
	ModuleID = "system.render"

	// ModuleName is the display name for the render module
	ModuleName = "Render Manager"

	// ModuleVersion is the version of the render module
	ModuleVersion = "1.0.0"
)

// Module owns the render components and their lifecycle
type Module struct {
	logger   hclog.Logger
	db       *gorm.DB
	eventBus events.EventBus

	registry  *process.Registry
	assets    *storage.AssetStore
	runs      *repository.RunStore
	manager   *Manager
	retention time.Duration
}

// NewModule builds every render component from cfg. db and eventBus may be
// nil, which disables run history and event fan-out respectively.
func NewModule(cfg *config.Config, db *gorm.DB, eventBus events.EventBus, logger hclog.Logger) (*Module, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("render")
	rc := cfg.Render

	registry := process.NewRegistry(logger, process.RegistryConfig{
		CleanupInterval: rc.CleanupInterval,
		MaxProcessAge:   rc.MaxProcessAge,
		KillGrace:       rc.KillGrace,
	})

	runner := process.NewFFmpegRunner(logger, registry, process.RunnerConfig{
		FFmpegPath:    rc.FFmpegPath,
		KillGrace:     rc.KillGrace,
		CommandLogDir: rc.CommandLogDir,
	})

	builder := filtergraph.NewBuilder(filtergraph.HostFonts{Configured: rc.FontPath})
	assembler := ffmpeg.NewAssembler(logger.Named("assembler"), builder, ffmpeg.NewResourceManager(logger.Named("resources"), rc.Threads), ffmpeg.AssemblerConfig{
		WorkDir:                rc.WorkDir,
		DefaultBlendDurationMs: rc.DefaultBlendDuration.Milliseconds(),
		BlendMaxColors:         rc.BlendMaxColors,
	})
	prober := ffmpeg.NewMediaProber(logger.Named("prober"), rc.FFprobePath, nil)

	assets, err := storage.NewAssetStore(logger, storage.Config{
		AssetDir:      cfg.Assets.DataDir,
		StagingDir:    rc.WorkDir,
		EnablePosters: cfg.Assets.EnablePosters,
		PosterQuality: cfg.Assets.PosterQuality,
		Mirror:        mirrorConfig(cfg.Assets.Mirror),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create asset store: %w", err)
	}
	mirror, err := storage.NewMirror(context.Background(), mirrorConfig(cfg.Assets.Mirror))
	if err != nil {
		return nil, fmt.Errorf("failed to create asset mirror: %w", err)
	}
	assets.UseMirror(mirror)

	var runs *repository.RunStore
	if db != nil {
		runs = repository.NewRunStore(db, logger)
	}

	manager, err := NewManager(logger, SettingsFromConfig(rc), Dependencies{
		Runner:    runner,
		Prober:    prober,
		Assembler: assembler,
		Assets:    assets,
		Runs:      runs,
		Bus:       eventBus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create render manager: %w", err)
	}

	return &Module{
		logger:    logger,
		db:        db,
		eventBus:  eventBus,
		registry:  registry,
		assets:    assets,
		runs:      runs,
		manager:   manager,
		retention: cfg.Database.HistoryRetention,
	}, nil
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// GetVersion returns the module version
func (m *Module) GetVersion() string {
	return ModuleVersion
}

// Migrate performs any necessary database migrations
func (m *Module) Migrate() error {
	if m.db == nil {
		return nil
	}
	m.logger.Info("migrating render database schema")
	return database.Migrate(m.db)
}

// Start closes out runs a previous process left open and prunes history
// older than the configured retention.
func (m *Module) Start(ctx context.Context) error {
	if m.runs != nil {
		if _, err := m.runs.MarkInterrupted(ctx); err != nil {
			return fmt.Errorf("failed to close interrupted runs: %w", err)
		}
		if m.retention > 0 {
			pruned, err := m.runs.Prune(ctx, m.retention)
			if err != nil {
				m.logger.Warn("failed to prune render history", "error", err)
			} else if pruned > 0 {
				m.logger.Info("pruned render history", "runs", pruned, "retention", m.retention)
			}
		}
	}
	m.logger.Info("render module started", "history", m.runs != nil, "events", m.eventBus != nil)
	return nil
}

// Manager returns the render manager
func (m *Module) Manager() *Manager {
	return m.manager
}

// Registry returns the process registry
func (m *Module) Registry() *process.Registry {
	return m.registry
}

// RegisterRoutes registers all render module HTTP routes
func (m *Module) RegisterRoutes(router *gin.Engine) {
	m.logger.Info("registering render module routes")
	var history api.RunHistory
	if m.runs != nil {
		history = m.runs
	}
	handler := api.NewHandler(m.logger, m.manager, history, m.registry, m.eventBus)
	handler.RegisterRoutes(router.Group("/api/v1/render"))
}

// Shutdown cancels every job, then kills whatever ffmpeg processes remain.
func (m *Module) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down render module")

	var firstErr error
	if err := m.manager.Shutdown(ctx); err != nil {
		m.logger.Error("render manager shutdown failed", "error", err)
		firstErr = err
	}
	if err := m.registry.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.assets.Close(); err != nil {
		m.logger.Warn("failed to close asset mirror", "error", err)
	}
	return firstErr
}

func mirrorConfig(c config.MirrorConfig) storage.MirrorConfig {
	return storage.MirrorConfig{
		Backend:         c.Backend,
		Bucket:          c.Bucket,
		Prefix:          c.Prefix,
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		AccessKey:       c.AccessKey,
		SecretKey:       c.SecretKey,
		CredentialsFile: c.CredentialsFile,
		Timeout:         c.Timeout,
	}
}
