package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/loopforge/internal/modules/rendermodule/core/ffmpeg"
	"github.com/mantonx/loopforge/internal/modules/rendermodule/types"
)

// Listener receives the inbound channel of one ffmpeg run. Callbacks are
// invoked from the runner's goroutines, never concurrently with each other,
// and OnStart always precedes OnLog and OnStatistics. Nil callbacks are skipped.
type Listener struct {
	OnStart      func(pid int)
	OnLog        func(line string)
	OnStatistics func(stats ffmpeg.Statistics)
}

// Result is the single terminal outcome of a run
type Result struct {
	// Err is nil only when ffmpeg exited with status 0
	Err error
	// ExitCode is -1 when the process never started or was killed by a signal
	ExitCode int
	// Interrupted is set when the context ended before the process did
	Interrupted bool
	Duration    time.Duration
}

// Success reports a clean exit
func (r Result) Success() bool {
	return r.Err == nil
}

// Runner executes one invocation end to end
type Runner interface {
	Run(ctx context.Context, inv *types.Invocation, listener Listener) Result
}

// RunnerConfig contains ffmpeg execution settings
type RunnerConfig struct {
	// FFmpegPath is the binary to execute
	FFmpegPath string
	// KillGrace bounds SIGTERM to SIGKILL escalation and pipe draining
	KillGrace time.Duration
	// CommandLogDir, when set, receives a command log per job
	CommandLogDir string
}

// FFmpegRunner runs ffmpeg in its own process group
type FFmpegRunner struct {
	logger   hclog.Logger
	registry *Registry
	config   RunnerConfig
}

// NewFFmpegRunner creates a new runner. registry may be nil.
func NewFFmpegRunner(logger hclog.Logger, registry *Registry, config RunnerConfig) *FFmpegRunner {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.KillGrace <= 0 {
		config.KillGrace = 2 * time.Second
	}
	return &FFmpegRunner{
		logger:   logger.Named("runner"),
		registry: registry,
		config:   config,
	}
}

// Run starts ffmpeg and blocks until it exits. Cancelling ctx terminates the
// whole process group; Run still returns exactly one Result.
func (r *FFmpegRunner) Run(ctx context.Context, inv *types.Invocation, listener Listener) Result {
	start := time.Now()
	args := inv.ArgsCopy()

	if r.config.CommandLogDir != "" {
		if _, err := WriteCommandLog(r.config.CommandLogDir, inv.JobID, r.config.FFmpegPath, args); err != nil {
			r.logger.Warn("failed to write command log", "job_id", inv.JobID, "error", err)
		}
	}

	ready := make(chan struct{})
	stderr := newLineWriter(ready, func(line string) {
		if listener.OnLog != nil {
			listener.OnLog(line)
		}
		if listener.OnStatistics != nil {
			if stats, ok := ffmpeg.ParseStatistics(line); ok {
				listener.OnStatistics(stats)
			}
		}
	})

	cmd := exec.CommandContext(ctx, r.config.FFmpegPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return KillProcessGroup(cmd.Process.Pid, r.config.KillGrace)
	}
	// pipes held open by stray children cannot block Wait forever
	cmd.WaitDelay = r.config.KillGrace

	if err := cmd.Start(); err != nil {
		close(ready)
		r.logger.Error("failed to start ffmpeg", "job_id", inv.JobID, "error", err)
		return Result{
			Err:         fmt.Errorf("failed to start ffmpeg: %w", err),
			ExitCode:    -1,
			Interrupted: ctx.Err() != nil,
			Duration:    time.Since(start),
		}
	}

	pid := cmd.Process.Pid
	if r.registry != nil {
		if err := r.registry.Register(pid, inv.JobID); err != nil {
			r.logger.Warn("failed to register process", "pid", pid, "error", err)
		}
		defer r.registry.Unregister(pid)
	}

	r.logger.Info("started ffmpeg", "job_id", inv.JobID, "pid", pid)
	if listener.OnStart != nil {
		listener.OnStart(pid)
	}
	close(ready)

	err := cmd.Wait()
	stderr.Close()

	result := Result{
		ExitCode:    cmd.ProcessState.ExitCode(),
		Interrupted: ctx.Err() != nil,
		Duration:    time.Since(start),
	}

	switch {
	case result.Interrupted:
		result.Err = context.Cause(ctx)
		r.logger.Info("ffmpeg interrupted", "job_id", inv.JobID, "pid", pid, "cause", result.Err)
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Err = fmt.Errorf("ffmpeg exited with status %d", exitErr.ExitCode())
		} else {
			result.Err = err
		}
		r.logger.Warn("ffmpeg failed", "job_id", inv.JobID, "pid", pid, "exit_code", result.ExitCode, "error", err, "duration", result.Duration)
	default:
		r.logger.Info("ffmpeg completed", "job_id", inv.JobID, "pid", pid, "duration", result.Duration)
	}

	return result
}
