// Package rendermodule coordinates looping GIF renders and blends.
// This is the main manager that turns caller requests into scheduled jobs.
package rendermodule

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/config"
	"github.com/mantonx/loopforge/internal/events"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/ffmpeg"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/filtergraph"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/process"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/repository"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/scheduler"
	rerrors "github.com/mantonx/loopforge/internal/modules/rendermodule/errors"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// recordTimeout bounds the history insert done on submission.
const recordTimeout = 2 * time.Second

// Persister stores a produced output and returns its canonical path.
type Persister interface {
	Persist(ctx context.Context, slot types.SlotKey, jobID, produced string) (string, error)
}

// Settings holds the manager tunables that follow configuration reloads
type Settings struct {
	WorkDir      string
	ProbeTimeout time.Duration
	Policy       scheduler.Policy
}

// SettingsFromConfig extracts manager settings from the render section
func SettingsFromConfig(cfg config.RenderConfig) Settings {
	return Settings{
		WorkDir:      cfg.WorkDir,
		ProbeTimeout: cfg.ProbeTimeout,
		Policy: scheduler.Policy{
			Timeout:      cfg.Timeout,
			LogTailLines: cfg.LogTailLines,
			KillGrace:    cfg.KillGrace,
			EventBuffer:  cfg.EventBuffer,
		},
	}
}

// Dependencies are the collaborators a manager drives. Assets, Runs and Bus
// are optional.
type Dependencies struct {
	Runner    process.Runner
	Prober    ffmpeg.Prober
	Assembler *ffmpeg.Assembler
	Assets    Persister
	Runs      *repository.RunStore
	Bus       events.EventBus
}

// Manager coordinates all render operations within the module.
type Manager struct {
	logger    hclog.Logger
	scheduler *scheduler.Scheduler
	assembler *ffmpeg.Assembler
	prober    ffmpeg.Prober
	assets    Persister
	runs      *repository.RunStore
	bus       events.EventBus
	recorder  *recorder

	mu       sync.RWMutex
	settings Settings
}

// NewManager creates a new render manager
func NewManager(logger hclog.Logger, settings Settings, deps Dependencies) (*Manager, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if deps.Assembler == nil {
		return nil, fmt.Errorf("assembler is required")
	}
	if deps.Prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	if settings.WorkDir == "" {
		settings.WorkDir = os.TempDir()
	}
	if settings.ProbeTimeout <= 0 {
		settings.ProbeTimeout = 15 * time.Second
	}
	if err := os.MkdirAll(settings.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	m := &Manager{
		logger:    logger.Named("render-manager"),
		assembler: deps.Assembler,
		prober:    deps.Prober,
		assets:    deps.Assets,
		runs:      deps.Runs,
		bus:       deps.Bus,
		settings:  settings,
	}
	m.scheduler = scheduler.New(logger, deps.Runner, settings.Policy, m.observe)

	if m.runs != nil {
		m.recorder = newRecorder(m.runs, logger)
		if m.bus != nil {
			if err := m.recorder.subscribe(m.bus); err != nil {
				return nil, fmt.Errorf("failed to subscribe run recorder: %w", err)
			}
		}
	}

	return m, nil
}

// SubmitRender schedules a stream render. The returned channel delivers the
// job's lifecycle events and is closed after the terminal one.
func (m *Manager) SubmitRender(req types.RenderRequest) <-chan types.Event {
	slot, jobID := req.Slot(), req.JobID()
	if err := validateRender(req); err != nil {
		return m.reject(jobID, err)
	}

	build := func(ctx context.Context) (*types.Invocation, func(), error) {
		staged, cleanup, err := m.stage(ctx, jobID, req.SourcePath)
		if err != nil {
			return nil, cleanup, err
		}
		return m.assembler.Render(req, staged), cleanup, nil
	}
	return m.submit(slot, jobID, req, build)
}

// SubmitLayerBlend schedules a blend of two stream outputs of one layer.
func (m *Manager) SubmitLayerBlend(req types.BlendRequest) <-chan types.Event {
	req.Scope = types.BlendScopeLayer
	return m.submitBlend(req)
}

// SubmitMasterBlend schedules the blend of two layer outputs.
func (m *Manager) SubmitMasterBlend(req types.BlendRequest) <-chan types.Event {
	req.Scope = types.BlendScopeMaster
	req.Layer = 0
	return m.submitBlend(req)
}

func (m *Manager) submitBlend(req types.BlendRequest) <-chan types.Event {
	req.Mode = req.Mode.Normalize()
	slot, jobID := req.Slot(), req.JobID()
	if err := validateBlend(req); err != nil {
		return m.reject(jobID, err)
	}

	build := func(ctx context.Context) (*types.Invocation, func(), error) {
		if err := requireInputs(jobID, req.InputA, req.InputB); err != nil {
			return nil, nil, err
		}
		a, b := m.probePair(ctx, jobID, req.InputA, req.InputB)
		plan := filtergraph.Reconcile(a.Shape(), b.Shape())
		return m.assembler.Blend(req, req.InputA, req.InputB, plan), nil, nil
	}
	return m.submit(slot, jobID, req, build)
}

// Cancel cancels the active job of slot. It reports false when the slot is idle.
func (m *Manager) Cancel(slot types.SlotKey) bool {
	return m.scheduler.Cancel(slot)
}

// Active lists the jobs currently occupying slots
func (m *Manager) Active() []scheduler.ActiveJob {
	return m.scheduler.Active()
}

// Runs returns the run history store, or nil when history is disabled.
func (m *Manager) Runs() *repository.RunStore {
	return m.runs
}

// Settings returns the current settings
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// ApplyConfig is registered as a config watcher. Only jobs submitted after
// the reload see the new values. The work directory is fixed at startup.
func (m *Manager) ApplyConfig(_, updated *config.Config) {
	if updated == nil {
		return
	}
	next := SettingsFromConfig(updated.Render)

	m.mu.Lock()
	next.WorkDir = m.settings.WorkDir
	if next.ProbeTimeout <= 0 {
		next.ProbeTimeout = m.settings.ProbeTimeout
	}
	m.settings = next
	m.mu.Unlock()

	m.scheduler.SetPolicy(next.Policy)
	m.logger.Info("render settings reloaded", "timeout", next.Policy.Timeout, "probe_timeout", next.ProbeTimeout)
}

// Shutdown cancels every job and waits for their terminal events. The bus
// should be stopped afterwards so queued events still reach the history.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.scheduler.Shutdown(ctx)
}

func (m *Manager) submit(slot types.SlotKey, jobID string, request interface{}, build scheduler.BuildFunc) <-chan types.Event {
	ref := scheduler.JobRef{RunID: uuid.NewString(), JobID: jobID, Slot: slot}

	if m.runs != nil {
		payload, err := json.Marshal(request)
		if err != nil {
			payload = []byte("{}")
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if _, err := m.runs.Begin(ctx, ref.RunID, jobID, slot.String(), string(slot.Kind), string(payload)); err != nil {
			m.logger.Warn("failed to record render run", "job_id", jobID, "run_id", ref.RunID, "error", err)
		}
		cancel()
	}

	var complete scheduler.CompletionHook
	if m.assets != nil {
		complete = func(ctx context.Context, produced string) (string, error) {
			return m.assets.Persist(ctx, slot, jobID, produced)
		}
	}
	return m.scheduler.SubmitRun(ref, build, complete)
}

// reject resolves a request that never reaches the scheduler. The slot
// occupant, if any, keeps running.
func (m *Manager) reject(jobID string, err error) <-chan types.Event {
	m.logger.Warn("rejected render request", "job_id", jobID, "error", err)
	ch := make(chan types.Event, 1)
	ch <- types.NewFailed(jobID, err)
	close(ch)
	return ch
}

// observe mirrors scheduler events onto the bus. Terminal events that the bus
// refuses are written to history directly so no run stays open.
func (m *Manager) observe(ref scheduler.JobRef, ev types.Event) {
	busEvent := toBusEvent(ref, ev)

	if m.bus != nil {
		err := m.bus.Publish(context.Background(), busEvent)
		if err == nil {
			return
		}
		m.logger.Debug("failed to publish render event", "job_id", ref.JobID, "kind", ev.Kind(), "error", err)
	}

	if ev.Terminal() && m.recorder != nil {
		go m.recorder.apply(busEvent)
	}
}

func (m *Manager) probeTimeout() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.ProbeTimeout
}

func (m *Manager) workDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings.WorkDir
}

func requireInputs(jobID string, paths ...string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return rerrors.StagingError("open_input", err).WithJob(jobID)
		}
		if info.IsDir() {
			return rerrors.StagingError("open_input", fmt.Errorf("%s is a directory", p)).WithJob(jobID)
		}
	}
	return nil
}
